package resources

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/rest/types"
)

var connectionsCmd = rest.Endpoint{
	Path: "connections",

	Get:    rest.EndpointAction{Handler: connectionsGet},
	Delete: rest.EndpointAction{Handler: connectionsDelete},
}

var connectionCmd = rest.Endpoint{
	Path: "connections/{id}",

	Delete: rest.EndpointAction{Handler: connectionDelete},
}

func connectionsGet(s *state.State, r *http.Request) response.Response {
	conns := s.Registry().List()

	result := make([]types.Connection, 0, len(conns))
	for _, c := range conns {
		info := types.Connection{
			Worker:  uint64(c.ID()),
			Driver:  c.Config().Driver,
			Name:    c.Config().Name,
			Address: c.Config().Address(),
			Opened:  c.Opened(),
		}

		w := s.Pool().Worker(c.ID())
		if w != nil {
			info.ThreadID = w.ThreadID()
		}

		result = append(result, info)
	}

	return response.SyncResponse(true, result)
}

func connectionsDelete(s *state.State, r *http.Request) response.Response {
	err := s.Registry().CloseAll()
	if err != nil {
		return response.SmartError(err)
	}

	return response.EmptySyncResponse
}

// connectionDelete closes the connection of one worker. The close runs on the worker itself when
// it is still alive, so it never races with a statement using the connection.
func connectionDelete(s *state.State, r *http.Request) response.Response {
	n, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return response.BadRequest(fmt.Errorf("Invalid worker id %q: %w", mux.Vars(r)["id"], err))
	}

	id := pool.ID(n)
	if !s.Registry().Exists(id) {
		return response.NotFound(fmt.Errorf("No connection for worker %d", id))
	}

	w := s.Pool().Worker(id)
	if w == nil {
		return response.SmartError(s.Registry().CloseOne(id))
	}

	done := make(chan error, 1)
	err = w.Post(func() { done <- s.Registry().CloseOne(id) })
	if err != nil {
		return response.SmartError(s.Registry().CloseOne(id))
	}

	select {
	case err = <-done:
	case <-r.Context().Done():
		err = r.Context().Err()
	}

	return response.SmartError(err)
}
