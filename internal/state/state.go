// Package state holds the stateful components of the daemon shared with API handlers.
package state

import (
	"context"
	"fmt"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/internal/config"
	"github.com/canonical/asyncsql/internal/endpoints"
	"github.com/canonical/asyncsql/internal/sessions"
	"github.com/canonical/asyncsql/internal/sys"
	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
)

// State is a gateway to the stateful components of the daemon.
type State struct {
	// Context is cancelled when the daemon shuts down.
	Context context.Context

	// ReadyCh is closed once the daemon serves requests.
	ReadyCh chan struct{}

	// File structure.
	OS *sys.OS

	// Server.
	Endpoints *endpoints.Endpoints

	// Config is the daemon configuration, kept in sync with daemon.yaml.
	Config *config.DaemonConfig

	// Engine runs statements on the worker pool.
	Engine *query.Engine

	// Loop is the execution context session results are delivered to.
	Loop *pool.Loop

	// Sessions are the named sessions created through the API.
	Sessions *sessions.Store

	// Hooks are the functions run at set points of the daemon's life.
	Hooks *Hooks

	// Version is the daemon version reported by the API.
	Version string
}

// Registry returns the connection registry.
func (s *State) Registry() *database.Registry {
	return s.Engine.Registry()
}

// Pool returns the worker pool.
func (s *State) Pool() *pool.Pool {
	return s.Engine.Pool()
}

// ApplyConfig points the registry at the configured database and runs the OnConfigChange hook.
// Existing connections keep their settings until they are closed.
func (s *State) ApplyConfig() error {
	s.Registry().Configure(s.Config.GetDatabase())

	if s.Hooks != nil && s.Hooks.OnConfigChange != nil {
		err := s.Hooks.OnConfigChange(s, s.Config.Get())
		if err != nil {
			return fmt.Errorf("Failed to run hook after config change: %w", err)
		}
	}

	return nil
}

// IsReady returns whether the daemon serves requests.
func (s *State) IsReady() bool {
	select {
	case <-s.ReadyCh:
		return true
	default:
		return false
	}
}
