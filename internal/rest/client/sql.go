package client

import (
	"context"
	"net/http"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/rest/types"
)

// GetSQL gets a SQL dump of the database.
func (c *Client) GetSQL(ctx context.Context, schema bool) (*types.SQLDump, error) {
	dump := &types.SQLDump{}

	endpoint := api.NewURL().Path("sql")
	if schema {
		endpoint.WithQuery("schema", "1")
	}

	err := c.QueryStruct(ctx, http.MethodGet, endpoint, nil, dump)
	if err != nil {
		return nil, err
	}

	return dump, nil
}

// PostSQL executes a SQL query against the database.
func (c *Client) PostSQL(ctx context.Context, query types.SQLQuery) (*types.SQLBatch, error) {
	batch := &types.SQLBatch{}
	err := c.QueryStruct(ctx, http.MethodPost, api.NewURL().Path("sql"), query, batch)
	if err != nil {
		return nil, err
	}

	return batch, nil
}
