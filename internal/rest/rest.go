package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/canonical/lxd/shared/logger"
	"github.com/gorilla/mux"

	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
)

func handleAPIRequest(action rest.EndpointAction, state *state.State, r *http.Request) response.Response {
	if action.Handler == nil {
		return response.NotImplemented(nil)
	}

	return action.Handler(state, r)
}

// HandleEndpoint adds the endpoint to the mux router. A function variable is used to implement common logic
// before calling the endpoint action handler associated with the request method, if it exists.
func HandleEndpoint(state *state.State, mux *mux.Router, version string, e rest.Endpoint) {
	url := "/" + version
	if e.Path != "" {
		url = filepath.Join(url, e.Path)
	}

	route := mux.HandleFunc(url, func(w http.ResponseWriter, r *http.Request) {
		var resp response.Response

		// Return Unavailable Error (503) if daemon is shutting down, except for endpoints with AllowedDuringShutdown.
		if errors.Is(state.Context.Err(), context.Canceled) && !e.AllowedDuringShutdown {
			err := response.Unavailable(fmt.Errorf("Daemon is shutting down")).Render(w)
			if err != nil {
				logger.Error("Failed to write HTTP response", logger.Ctx{"url": r.URL, "err": err})
			}

			return
		}

		switch r.Method {
		case http.MethodGet:
			resp = handleAPIRequest(e.Get, state, r)
		case http.MethodPut:
			resp = handleAPIRequest(e.Put, state, r)
		case http.MethodPost:
			resp = handleAPIRequest(e.Post, state, r)
		case http.MethodDelete:
			resp = handleAPIRequest(e.Delete, state, r)
		case http.MethodPatch:
			resp = handleAPIRequest(e.Patch, state, r)
		default:
			resp = response.NotFound(fmt.Errorf("Method %q not found", r.Method))
		}

		logger.Debug("Handled API request", logger.Ctx{"method": r.Method, "url": r.URL.String(), "response": resp.String()})

		err := resp.Render(w)
		if err != nil {
			logger.Error("Failed writing HTTP response", logger.Ctx{"url": url, "error": err})
		}
	})

	// If the endpoint has a canonical name then record it so it can be used to build URLS
	// and accessed in the context of the request by the handler function.
	if e.Name != "" {
		route.Name(e.Name)
	}
}
