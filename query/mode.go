package query

import (
	"fmt"
)

// Mode controls how a session handles a new statement while another one is in flight.
type Mode int

const (
	// ModeParallel dispatches every statement immediately.
	ModeParallel Mode = iota

	// ModeFifo queues statements and runs them one at a time in submission order.
	ModeFifo

	// ModeLatestOnly runs one statement at a time and keeps only the most recent one queued.
	ModeLatestOnly
)

var modeNames = map[Mode]string{
	ModeParallel:   "parallel",
	ModeFifo:       "fifo",
	ModeLatestOnly: "latest-only",
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	name, ok := modeNames[m]
	if !ok {
		return fmt.Sprintf("mode(%d)", int(m))
	}

	return name
}

// ParseMode parses a mode name as returned by Mode.String.
func ParseMode(name string) (Mode, error) {
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}

	return ModeParallel, fmt.Errorf("Unknown execution mode %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	_, ok := modeNames[m]
	if !ok {
		return nil, fmt.Errorf("Unknown execution mode %d", int(m))
	}

	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = mode

	return nil
}
