package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/rest/types"
)

// GetConnections returns the open worker connections.
func (c *Client) GetConnections(ctx context.Context) ([]types.Connection, error) {
	conns := []types.Connection{}
	err := c.QueryStruct(ctx, http.MethodGet, api.NewURL().Path("connections"), nil, &conns)
	if err != nil {
		return nil, err
	}

	return conns, nil
}

// CloseConnections closes every worker connection.
func (c *Client) CloseConnections(ctx context.Context) error {
	return c.QueryStruct(ctx, http.MethodDelete, api.NewURL().Path("connections"), nil, nil)
}

// CloseConnection closes the connection of the given worker.
func (c *Client) CloseConnection(ctx context.Context, worker uint64) error {
	return c.QueryStruct(ctx, http.MethodDelete, api.NewURL().Path("connections", strconv.FormatUint(worker, 10)), nil, nil)
}
