package client

import (
	"context"
	"net/http"

	"github.com/canonical/asyncsql/rest/types"
)

// GetServer returns the daemon status.
func (c *Client) GetServer(ctx context.Context) (*types.Server, error) {
	server := &types.Server{}
	err := c.QueryStruct(ctx, http.MethodGet, nil, nil, server)
	if err != nil {
		return nil, err
	}

	return server, nil
}
