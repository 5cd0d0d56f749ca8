package types

import (
	"time"

	"github.com/canonical/asyncsql/query"
)

// SessionsPost represents the fields used to create a named session.
// Mode and Delay default to the daemon configuration when empty.
type SessionsPost struct {
	Name  string `json:"name" yaml:"name"`
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// SessionPut represents the mutable fields of a session. Empty fields are left unchanged.
type SessionPut struct {
	Mode  string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Session represents the state of a named session.
type Session struct {
	Name      string     `json:"name" yaml:"name"`
	Mode      query.Mode `json:"mode" yaml:"mode"`
	Delay     string     `json:"delay" yaml:"delay"`
	Running   bool       `json:"running" yaml:"running"`
	InFlight  int        `json:"in_flight" yaml:"in_flight"`
	Pending   int        `json:"pending" yaml:"pending"`
	Completed int64      `json:"completed" yaml:"completed"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	Result    *SQLResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// SessionWait represents the outcome of waiting for a session to become idle.
type SessionWait struct {
	Idle   bool       `json:"idle" yaml:"idle"`
	Result *SQLResult `json:"result,omitempty" yaml:"result,omitempty"`
}
