package endpoints

import (
	"context"
	"sync"

	"github.com/canonical/lxd/shared"
	"github.com/canonical/lxd/shared/logger"
)

// Endpoints represents all listeners and servers for the asyncsql daemon REST API.
type Endpoints struct {
	mu          sync.RWMutex
	shutdownCtx context.Context // Parent context for shutting down cleanly.

	listeners map[string]Endpoint // Map of supported listeners.
}

// NewEndpoints aggregates the given endpoints so we can manage them from one source.
func NewEndpoints(shutdownCtx context.Context, endpoints map[string]Endpoint) *Endpoints {
	return &Endpoints{listeners: endpoints, shutdownCtx: shutdownCtx}
}

// Up calls Serve on each of the configured listeners.
func (e *Endpoints) Up() error {
	err := e.up()
	if err != nil {
		// Attempt to call Down() in case something actually got brought up.
		_ = e.Down()

		return err
	}

	return nil
}

func (e *Endpoints) up() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, listener := range e.listeners {
		err := listener.Listen()
		if err != nil {
			return err
		}

		go func(listener Endpoint) {
			select {
			case <-e.shutdownCtx.Done():
				logger.Info("Received shutdown signal, aborting endpoint startup", logger.Ctx{"endpoint": listener.Type().String()})
				return

			default:
				listener.Serve()
			}
		}(listener)
	}

	return nil
}

// Down closes all of the configured listeners, or any for the type specifically supplied.
func (e *Endpoints) Down(types ...EndpointType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, endpoint := range e.listeners {
		if types != nil && !shared.ValueInSlice(endpoint.Type(), types) {
			continue
		}

		err := endpoint.Close()
		if err != nil {
			return err
		}

		delete(e.listeners, name)
	}

	return nil
}

// List returns the endpoints of the given types.
func (e *Endpoints) List(types ...EndpointType) map[string]Endpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()

	endpoints := make(map[string]Endpoint, len(e.listeners))
	for name, endpoint := range e.listeners {
		if shared.ValueInSlice(endpoint.Type(), types) {
			endpoints[name] = endpoint
		}
	}

	return endpoints
}
