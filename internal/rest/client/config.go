package client

import (
	"context"
	"net/http"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/rest/types"
)

// GetConfig returns the daemon configuration, with the database password redacted.
func (c *Client) GetConfig(ctx context.Context) (*types.DaemonConfig, error) {
	config := &types.DaemonConfig{}
	err := c.QueryStruct(ctx, http.MethodGet, api.NewURL().Path("config"), nil, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// UpdateConfig replaces the daemon configuration.
func (c *Client) UpdateConfig(ctx context.Context, config types.DaemonConfig) (*types.DaemonConfig, error) {
	updated := &types.DaemonConfig{}
	err := c.QueryStruct(ctx, http.MethodPut, api.NewURL().Path("config"), config, updated)
	if err != nil {
		return nil, err
	}

	return updated, nil
}
