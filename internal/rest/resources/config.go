package resources

import (
	"encoding/json"
	"net/http"

	"github.com/canonical/lxd/shared/logger"

	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/rest/types"
)

var configCmd = rest.Endpoint{
	Path: "config",

	Get: rest.EndpointAction{Handler: configGet},
	Put: rest.EndpointAction{Handler: configPut},
}

func configGet(s *state.State, r *http.Request) response.Response {
	config := s.Config.Get()
	config.Database = config.Database.Redacted()

	return response.SyncResponse(true, config)
}

// configPut replaces the daemon configuration. An empty or redacted password keeps the current one.
func configPut(s *state.State, r *http.Request) response.Response {
	current := s.Config.Get()

	req := types.DaemonConfig{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return response.BadRequest(err)
	}

	if req.Database.Password == "" || req.Database.Password == current.Database.Redacted().Password {
		req.Database.Password = current.Database.Password
	}

	err = s.Config.Set(req)
	if err != nil {
		return response.BadRequest(err)
	}

	err = s.Config.Write()
	if err != nil {
		return response.SmartError(err)
	}

	err = s.ApplyConfig()
	if err != nil {
		return response.SmartError(err)
	}

	logger.Info("Updated daemon configuration", logger.Ctx{"driver": req.Database.Driver, "name": req.Database.Name, "address": req.Database.Address()})

	config := s.Config.Get()
	config.Database = config.Database.Redacted()

	return response.SyncResponse(true, config)
}
