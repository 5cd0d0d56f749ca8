package types

import (
	"time"
)

// Connection represents a database connection owned by a pool worker.
type Connection struct {
	Worker   uint64    `json:"worker" yaml:"worker"`
	ThreadID int       `json:"thread_id" yaml:"thread_id"`
	Driver   string    `json:"driver" yaml:"driver"`
	Name     string    `json:"name" yaml:"name"`
	Address  string    `json:"address,omitempty" yaml:"address,omitempty"`
	Opened   time.Time `json:"opened" yaml:"opened"`
}
