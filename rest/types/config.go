package types

import (
	"time"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/query"
)

// DaemonConfig is the in memory version of the local daemon.yaml file.
type DaemonConfig struct {
	// Database holds the settings new worker connections are opened with.
	Database database.Config `json:"database" yaml:"database"`

	// SessionMode is the mode of sessions created without one.
	SessionMode query.Mode `json:"session_mode" yaml:"session_mode"`

	// SessionDelay is the delay of sessions created without one.
	SessionDelay time.Duration `json:"session_delay" yaml:"session_delay"`
}
