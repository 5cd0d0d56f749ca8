package resources

import (
	"net/http"

	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/rest/types"
)

var api10Cmd = rest.Endpoint{
	AllowedDuringShutdown: true,

	Get: rest.EndpointAction{Handler: api10Get},
}

func api10Get(s *state.State, r *http.Request) response.Response {
	return response.SyncResponse(true, types.Server{
		Version:     s.Version,
		Driver:      s.Registry().Config().Driver,
		Workers:     s.Pool().Size(),
		IdleWorkers: s.Pool().Idle(),
		Connections: s.Registry().Count(),
		Sessions:    s.Sessions.Len(),
		Ready:       s.IsReady(),
	})
}
