package database

import (
	"fmt"
	"net"
	"strconv"
)

// PrecisionPolicy controls how numeric cells read through a connection are represented.
type PrecisionPolicy int

const (
	// PrecisionHigh keeps numeric values as the driver returns them.
	PrecisionHigh PrecisionPolicy = iota

	// PrecisionLowInt32 narrows integers and truncates floating point values to 32 bit integers.
	PrecisionLowInt32

	// PrecisionLowInt64 truncates floating point values to 64 bit integers.
	PrecisionLowInt64

	// PrecisionLowDouble converts integers to floating point values.
	PrecisionLowDouble
)

var precisionNames = map[PrecisionPolicy]string{
	PrecisionHigh:      "high",
	PrecisionLowInt32:  "low-int32",
	PrecisionLowInt64:  "low-int64",
	PrecisionLowDouble: "low-double",
}

// String implements fmt.Stringer.
func (p PrecisionPolicy) String() string {
	name, ok := precisionNames[p]
	if !ok {
		return fmt.Sprintf("precision(%d)", int(p))
	}

	return name
}

// ParsePrecisionPolicy parses the string form of a PrecisionPolicy. The empty string is PrecisionHigh.
func ParsePrecisionPolicy(s string) (PrecisionPolicy, error) {
	if s == "" {
		return PrecisionHigh, nil
	}

	for p, name := range precisionNames {
		if name == s {
			return p, nil
		}
	}

	return PrecisionHigh, fmt.Errorf("Unknown numeric precision policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p PrecisionPolicy) MarshalText() ([]byte, error) {
	_, ok := precisionNames[p]
	if !ok {
		return nil, fmt.Errorf("Unknown numeric precision policy %d", int(p))
	}

	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PrecisionPolicy) UnmarshalText(text []byte) error {
	policy, err := ParsePrecisionPolicy(string(text))
	if err != nil {
		return err
	}

	*p = policy

	return nil
}

// Config holds the settings used when opening a new connection.
type Config struct {
	Driver    string            `json:"driver" yaml:"driver"`
	Host      string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int               `json:"port,omitempty" yaml:"port,omitempty"`
	Name      string            `json:"name" yaml:"name"`
	User      string            `json:"user,omitempty" yaml:"user,omitempty"`
	Password  string            `json:"password,omitempty" yaml:"password,omitempty"`
	Precision PrecisionPolicy   `json:"precision" yaml:"precision"`
	Options   map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Address returns host:port, or just the host if no port is set.
func (c Config) Address() string {
	if c.Port == 0 {
		return c.Host
	}

	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redacted returns a copy of the config with the password hidden.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "********"
	}

	return c
}

func (c Config) clone() Config {
	if c.Options == nil {
		return c
	}

	options := make(map[string]string, len(c.Options))
	for k, v := range c.Options {
		options[k] = v
	}

	c.Options = options

	return c
}
