// Package client is a REST client for the asyncsql daemon.
package client

import (
	"context"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/internal/rest/client"
)

// Client is a rest client for the asyncsql daemon.
type Client struct {
	client.Client
}

// New returns a client for the control socket at the given path.
func New(socketPath string) (*Client, error) {
	c, err := client.New(*api.NewURL().Scheme("http").Host(socketPath))
	if err != nil {
		return nil, err
	}

	return &Client{Client: *c}, nil
}

// Query is a helper for initiating a request on endpoints not covered by the client methods.
// The path is relative to the API version prefix.
func (c *Client) Query(ctx context.Context, method string, path *api.URL, in any, out any) error {
	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	return c.QueryStruct(queryCtx, method, path, in, out)
}
