// Package state exposes the daemon state to handlers of additional endpoints.
package state

import (
	"github.com/canonical/asyncsql/internal/state"
)

// State exposes the internal daemon state for use with extended API handlers.
type State = state.State

// Hooks exposes the Hooks struct to be set by the embedding application.
type Hooks = state.Hooks
