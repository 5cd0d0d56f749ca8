package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/lxd/shared/api"

	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
	"github.com/canonical/asyncsql/rest/types"
)

// sqlTimeout bounds one-shot requests.
const sqlTimeout = 30 * time.Second

var sqlCmd = rest.Endpoint{
	Path: "sql",

	Get:  rest.EndpointAction{Handler: sqlGet},
	Post: rest.EndpointAction{Handler: sqlPost},
}

// Perform a database dump.
func sqlGet(s *state.State, r *http.Request) response.Response {
	ctx, cancel := context.WithTimeout(r.Context(), sqlTimeout)
	defer cancel()

	schemaOnly, err := strconv.Atoi(r.FormValue("schema"))
	if err != nil {
		schemaOnly = 0
	}

	dump, err := s.Engine.Dump(ctx, schemaOnly == 1)
	if err != nil {
		return response.SmartError(fmt.Errorf("Failed to dump database: %w", err))
	}

	return response.SyncResponse(true, types.SQLDump{Text: dump})
}

// Execute queries. A query without bindings may hold several statements separated by ";",
// which run in order until one fails.
func sqlPost(s *state.State, r *http.Request) response.Response {
	ctx, cancel := context.WithTimeout(r.Context(), sqlTimeout)
	defer cancel()

	req := types.SQLQuery{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		return response.BadRequest(err)
	}

	if strings.TrimSpace(req.Query) == "" {
		return response.BadRequest(fmt.Errorf("No query provided"))
	}

	statements := []query.Statement{}
	if len(req.Params) == 0 && len(req.Batch) == 0 {
		for _, text := range strings.Split(req.Query, ";") {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}

			statements = append(statements, query.Statement{Text: text})
		}
	} else {
		stmt, err := preparedStatement(req)
		if err != nil {
			return response.BadRequest(err)
		}

		statements = append(statements, stmt)
	}

	batch := types.SQLBatch{Results: []types.SQLResult{}}
	for _, stmt := range statements {
		result, err := s.Engine.ExecOnceStatement(stmt, nil, nil).Wait(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return response.SmartError(api.StatusErrorf(http.StatusGatewayTimeout, "Timed out waiting for %q", stmt.Text))
			}

			return response.SmartError(err)
		}

		batch.Results = append(batch.Results, types.NewSQLResult(result))
		if !result.IsValid() {
			break
		}
	}

	return response.SyncResponse(true, batch)
}

// preparedStatement returns the prepared statement described by req, binding params and batch in name order.
// Batch bindings are checked the same way a session checks them.
func preparedStatement(req types.SQLQuery) (query.Statement, error) {
	stmt := query.Statement{
		Text:     req.Query,
		Prepared: true,
		Batch:    len(req.Batch) > 0,
	}

	names := make([]string, 0, len(req.Params))
	for name := range req.Params {
		names = append(names, name)
	}

	sort.Strings(names)
	for _, name := range names {
		stmt.Params = append(stmt.Params, query.Param{Name: name, Value: req.Params[name]})
	}

	names = names[:0]
	for name := range req.Batch {
		names = append(names, name)
	}

	sort.Strings(names)
	for _, name := range names {
		values := req.Batch[name]
		err := query.CheckBatch(values)
		if err != nil {
			return query.Statement{}, fmt.Errorf("Failed to bind batch %q: %w", name, err)
		}

		stmt.Params = append(stmt.Params, query.Param{Name: name, Values: values})
	}

	return stmt, nil
}
