package client

import (
	"context"
	"net/http"
	"time"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/rest/types"
)

// GetSessions returns every named session.
func (c *Client) GetSessions(ctx context.Context) ([]types.Session, error) {
	sessions := []types.Session{}
	err := c.QueryStruct(ctx, http.MethodGet, api.NewURL().Path("sessions"), nil, &sessions)
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// GetSession returns the named session.
func (c *Client) GetSession(ctx context.Context, name string) (*types.Session, error) {
	session := &types.Session{}
	err := c.QueryStruct(ctx, http.MethodGet, api.NewURL().Path("sessions", name), nil, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// CreateSession creates a named session.
func (c *Client) CreateSession(ctx context.Context, args types.SessionsPost) (*types.Session, error) {
	session := &types.Session{}
	err := c.QueryStruct(ctx, http.MethodPost, api.NewURL().Path("sessions"), args, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// UpdateSession changes the mode or delay of the named session.
func (c *Client) UpdateSession(ctx context.Context, name string, args types.SessionPut) (*types.Session, error) {
	session := &types.Session{}
	err := c.QueryStruct(ctx, http.MethodPut, api.NewURL().Path("sessions", name), args, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// DeleteSession removes the named session.
func (c *Client) DeleteSession(ctx context.Context, name string) error {
	return c.QueryStruct(ctx, http.MethodDelete, api.NewURL().Path("sessions", name), nil, nil)
}

// ExecSession submits a statement to the named session without waiting for its result.
func (c *Client) ExecSession(ctx context.Context, name string, query types.SQLQuery) (*types.Session, error) {
	session := &types.Session{}
	err := c.QueryStruct(ctx, http.MethodPost, api.NewURL().Path("sessions", name, "exec"), query, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// WaitSession waits up to timeout for the named session to become idle.
func (c *Client) WaitSession(ctx context.Context, name string, timeout time.Duration) (*types.SessionWait, error) {
	// Leave the server time to answer once the timeout expires.
	reqCtx, cancel := context.WithTimeout(ctx, timeout+defaultTimeout)
	defer cancel()

	wait := &types.SessionWait{}
	endpoint := api.NewURL().Path("sessions", name, "wait").WithQuery("timeout", timeout.String())
	err := c.QueryStruct(reqCtx, http.MethodPost, endpoint, nil, wait)
	if err != nil {
		return nil, err
	}

	return wait, nil
}
