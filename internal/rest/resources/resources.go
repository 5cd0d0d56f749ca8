// Package resources declares the handlers of the daemon API.
package resources

import (
	"fmt"
	"path/filepath"

	"github.com/canonical/asyncsql/rest"
)

// UnixEndpoints are the endpoints available over the unix socket.
var UnixEndpoints = &rest.Resources{
	Path: "1.0",
	Endpoints: []rest.Endpoint{
		api10Cmd,
		sqlCmd,
		sessionsCmd,
		sessionCmd,
		sessionExecCmd,
		sessionWaitCmd,
		connectionsCmd,
		connectionCmd,
		configCmd,
	},
}

// ValidateEndpoints checks that every endpoint of the given resources is served at a distinct path.
func ValidateEndpoints(resources ...*rest.Resources) error {
	if len(resources) == 0 {
		return fmt.Errorf("No resources to serve")
	}

	seen := map[string]bool{}
	for _, r := range resources {
		if r == nil || len(r.Endpoints) == 0 {
			return fmt.Errorf("Resources at %q have no endpoints", pathOf(r))
		}

		for _, e := range r.Endpoints {
			path := filepath.Join(r.Path, e.Path)
			if seen[path] {
				return fmt.Errorf("Duplicate endpoint at %q", path)
			}

			seen[path] = true
		}
	}

	return nil
}

func pathOf(r *rest.Resources) string {
	if r == nil {
		return ""
	}

	return r.Path
}
