package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/canonical/asyncsql/internal/sessions"
	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/rest/types"
)

// defaultWaitTimeout applies to wait requests without a timeout.
const defaultWaitTimeout = 30 * time.Second

var sessionsCmd = rest.Endpoint{
	Path: "sessions",

	Get:  rest.EndpointAction{Handler: sessionsGet},
	Post: rest.EndpointAction{Handler: sessionsPost},
}

var sessionCmd = rest.Endpoint{
	Path: "sessions/{name}",

	Get:    rest.EndpointAction{Handler: sessionGet},
	Put:    rest.EndpointAction{Handler: sessionPut},
	Delete: rest.EndpointAction{Handler: sessionDelete},
}

var sessionExecCmd = rest.Endpoint{
	Path: "sessions/{name}/exec",

	Post: rest.EndpointAction{Handler: sessionExecPost},
}

var sessionWaitCmd = rest.Endpoint{
	Path: "sessions/{name}/wait",

	Post: rest.EndpointAction{Handler: sessionWaitPost},
}

func sessionInfo(e *sessions.Entry) types.Session {
	info := types.Session{
		Name:      e.Name,
		Mode:      e.Session.Mode(),
		Delay:     e.Session.Delay().String(),
		Running:   e.Session.IsRunning(),
		InFlight:  e.Session.InFlight(),
		Pending:   e.Session.Pending(),
		Completed: e.Completed(),
		CreatedAt: e.Created,
	}

	info.Result = lastResult(e)

	return info
}

// lastResult returns the latest result of the session, or nil if none has completed.
func lastResult(e *sessions.Entry) *types.SQLResult {
	res := e.Session.Result()
	if res.Statement() == "" {
		return nil
	}

	result := types.NewSQLResult(res)

	return &result
}

func parseMode(s string, fallback query.Mode) (query.Mode, error) {
	if s == "" {
		return fallback, nil
	}

	return query.ParseMode(s)
}

func parseDelay(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}

	delay, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}

	if delay < 0 {
		return 0, fmt.Errorf("Delay cannot be negative")
	}

	return delay, nil
}

func sessionEntry(s *state.State, r *http.Request) (*sessions.Entry, error) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		return nil, err
	}

	return s.Sessions.Get(name)
}

func sessionsGet(s *state.State, r *http.Request) response.Response {
	entries := s.Sessions.List()

	result := make([]types.Session, 0, len(entries))
	for _, e := range entries {
		result = append(result, sessionInfo(e))
	}

	return response.SyncResponse(true, result)
}

func sessionsPost(s *state.State, r *http.Request) response.Response {
	req := types.SessionsPost{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return response.BadRequest(err)
	}

	mode, err := parseMode(req.Mode, s.Config.GetSessionMode())
	if err != nil {
		return response.BadRequest(err)
	}

	delay, err := parseDelay(req.Delay, s.Config.GetSessionDelay())
	if err != nil {
		return response.BadRequest(err)
	}

	e, err := s.Sessions.Create(req.Name, mode, delay)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponse(true, sessionInfo(e))
}

func sessionGet(s *state.State, r *http.Request) response.Response {
	e, err := sessionEntry(s, r)
	if err != nil {
		return response.SmartError(err)
	}

	return response.SyncResponse(true, sessionInfo(e))
}

func sessionPut(s *state.State, r *http.Request) response.Response {
	e, err := sessionEntry(s, r)
	if err != nil {
		return response.SmartError(err)
	}

	req := types.SessionPut{}
	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return response.BadRequest(err)
	}

	mode, err := parseMode(req.Mode, e.Session.Mode())
	if err != nil {
		return response.BadRequest(err)
	}

	delay, err := parseDelay(req.Delay, e.Session.Delay())
	if err != nil {
		return response.BadRequest(err)
	}

	e.Session.SetMode(mode)
	e.Session.SetDelay(delay)

	return response.SyncResponse(true, sessionInfo(e))
}

func sessionDelete(s *state.State, r *http.Request) response.Response {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		return response.BadRequest(err)
	}

	err = s.Sessions.Delete(name)
	if err != nil {
		return response.SmartError(err)
	}

	return response.EmptySyncResponse
}

func sessionExecPost(s *state.State, r *http.Request) response.Response {
	e, err := sessionEntry(s, r)
	if err != nil {
		return response.SmartError(err)
	}

	req := types.SQLQuery{}
	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return response.BadRequest(err)
	}

	err = e.Exec(req.Query, req.Params, req.Batch)
	if err != nil {
		return response.SmartError(err)
	}

	return response.AcceptedResponse(sessionInfo(e))
}

func sessionWaitPost(s *state.State, r *http.Request) response.Response {
	e, err := sessionEntry(s, r)
	if err != nil {
		return response.SmartError(err)
	}

	timeout := defaultWaitTimeout
	if r.FormValue("timeout") != "" {
		timeout, err = time.ParseDuration(r.FormValue("timeout"))
		if err != nil {
			return response.BadRequest(fmt.Errorf("Invalid timeout %q: %w", r.FormValue("timeout"), err))
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	idle := e.Session.Wait(ctx) == nil

	return response.SyncResponse(true, types.SessionWait{Idle: idle, Result: lastResult(e)})
}
