// Package rest describes the endpoints served by the daemon.
package rest

import (
	"net/http"

	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/state"
)

// EndpointAction represents an action on an API endpoint.
type EndpointAction struct {
	Handler func(state *state.State, r *http.Request) response.Response
}

// Endpoint represents a URL in our API.
type Endpoint struct {
	Name   string // Name for this endpoint.
	Path   string // Path pattern for this endpoint.
	Get    EndpointAction
	Put    EndpointAction
	Post   EndpointAction
	Delete EndpointAction
	Patch  EndpointAction

	AllowedDuringShutdown bool // Whether we should return Unavailable Error (503) if daemon is shutting down.
}

// Resources represents all the resources served over the same path.
type Resources struct {
	Path      string
	Endpoints []Endpoint
}
