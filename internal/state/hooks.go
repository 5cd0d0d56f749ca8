package state

import (
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest/types"
)

// Hooks holds customizable functions that can be called at varying points by the daemon to
// integrate with other tools.
type Hooks struct {
	// OnStart is run after the daemon is started.
	OnStart func(s *State) error

	// OnConfigChange is run after the daemon configuration was reloaded or updated.
	OnConfigChange func(s *State, config types.DaemonConfig) error

	// OnResult is run on the daemon loop for every result of a named session.
	OnResult func(s *State, session string, result query.Result)
}
