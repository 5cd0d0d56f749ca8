package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/canonical/lxd/shared/api"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/internal/config"
	internalREST "github.com/canonical/asyncsql/internal/rest"
	"github.com/canonical/asyncsql/internal/sessions"
	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/types"
)

type resourcesSuite struct {
	suite.Suite

	state  *state.State
	router *mux.Router
	cancel context.CancelFunc
}

func TestResourcesSuite(t *testing.T) {
	suite.Run(t, new(resourcesSuite))
}

func (s *resourcesSuite) SetupTest() {
	dir := s.T().TempDir()

	cfg := config.NewDaemonConfig(filepath.Join(dir, "daemon.yaml"), config.Default(filepath.Join(dir, "test.db")))

	registry := database.NewRegistry()
	registry.Configure(cfg.GetDatabase())

	engine := query.NewEngine(registry, pool.New())
	loop := pool.NewLoop()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.state = &state.State{
		Context:  ctx,
		ReadyCh:  make(chan struct{}),
		Config:   cfg,
		Engine:   engine,
		Loop:     loop,
		Sessions: sessions.NewStore(engine, loop, nil),
		Hooks:    &state.Hooks{},
		Version:  "test",
	}

	close(s.state.ReadyCh)

	s.router = mux.NewRouter()
	for _, e := range UnixEndpoints.Endpoints {
		internalREST.HandleEndpoint(s.state, s.router, UnixEndpoints.Path, e)
	}
}

func (s *resourcesSuite) TearDownTest() {
	s.cancel()
	s.state.Pool().Close()
	s.state.Loop.Close()
	s.NoError(s.state.Registry().Close())
}

// request performs a request against the router and returns the HTTP status and decoded envelope.
func (s *resourcesSuite) request(method string, path string, body any) (int, api.Response) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	resp := api.Response{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())

	return rec.Code, resp
}

func (s *resourcesSuite) sql(body types.SQLQuery) types.SQLBatch {
	code, resp := s.request(http.MethodPost, "/1.0/sql", body)
	s.Require().Equal(http.StatusOK, code, resp.Error)

	batch := types.SQLBatch{}
	s.Require().NoError(resp.MetadataAsStruct(&batch))

	return batch
}

// Ensures endpoint declarations are checked for duplicates.
func (s *resourcesSuite) Test_validateEndpoints() {
	s.NoError(ValidateEndpoints(UnixEndpoints))

	tests := []struct {
		name      string
		resources []*rest.Resources
	}{
		{
			name: "No resources",
		},
		{
			name:      "Empty endpoints",
			resources: []*rest.Resources{{Path: "1.0"}},
		},
		{
			name: "Duplicate",
			resources: []*rest.Resources{
				{Path: "1.0", Endpoints: []rest.Endpoint{{Path: "dup"}}},
				{Path: "1.0", Endpoints: []rest.Endpoint{{Path: "dup"}}},
			},
		},
	}

	for i, t := range tests {
		s.T().Logf("%s (case %d)", t.name, i)
		s.Error(ValidateEndpoints(t.resources...))
	}
}

// Ensures the server endpoint reports the daemon state.
func (s *resourcesSuite) Test_api10() {
	code, resp := s.request(http.MethodGet, "/1.0", nil)
	s.Equal(http.StatusOK, code)

	server := types.Server{}
	s.NoError(resp.MetadataAsStruct(&server))
	s.Equal("test", server.Version)
	s.Equal("sqlite3", server.Driver)
	s.True(server.Ready)

	code, resp = s.request(http.MethodPatch, "/1.0", nil)
	s.Equal(http.StatusNotImplemented, code)
	s.Equal(api.ErrorResponse, resp.Type)

	// Only the server endpoint remains during shutdown.
	s.cancel()
	code, _ = s.request(http.MethodGet, "/1.0", nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.request(http.MethodGet, "/1.0/sessions", nil)
	s.Equal(http.StatusServiceUnavailable, code)
}

// Ensures one-shot statements run and report their results.
func (s *resourcesSuite) Test_sql() {
	batch := s.sql(types.SQLQuery{Query: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT); INSERT INTO items (name) VALUES ('a'), ('b')"})
	s.Require().Len(batch.Results, 2)
	s.Equal("exec", batch.Results[0].Type)
	s.Equal(int64(2), batch.Results[1].RowsAffected)
	s.Require().NotNil(batch.Results[1].LastInsertID)
	s.Equal(int64(2), *batch.Results[1].LastInsertID)

	batch = s.sql(types.SQLQuery{Query: "SELECT id, name FROM items WHERE name = :name", Params: map[string]query.Value{":name": query.Text("b")}})
	s.Require().Len(batch.Results, 1)
	s.Equal("select", batch.Results[0].Type)
	s.Equal([]string{"id", "name"}, batch.Results[0].ColumnNames())
	s.Equal([][]query.Value{{query.Int(2), query.Text("b")}}, batch.Results[0].Rows)

	batch = s.sql(types.SQLQuery{Query: "INSERT INTO items (name) VALUES (?)", Batch: map[string][]query.Value{"1": {query.Text("c"), query.Null()}}})
	s.Require().Len(batch.Results, 1)
	s.Equal(int64(2), batch.Results[0].RowsAffected)

	// Batches that cannot be bound are refused before anything runs.
	badBatches := []struct {
		name   string
		values []query.Value
	}{
		{name: "Empty batch", values: []query.Value{}},
		{name: "Missing batch", values: nil},
		{name: "Mixed kinds", values: []query.Value{query.Int(1), query.Text("x")}},
	}

	for i, t := range badBatches {
		s.T().Logf("%s (case %d)", t.name, i)

		code, resp := s.request(http.MethodPost, "/1.0/sql", types.SQLQuery{Query: "INSERT INTO items (name) VALUES (?)", Batch: map[string][]query.Value{"1": t.values}})
		s.Equal(http.StatusBadRequest, code)
		s.Contains(resp.Error, "Invalid batch values")
	}

	batch = s.sql(types.SQLQuery{Query: "SELECT COUNT(*) FROM items"})
	s.Require().Len(batch.Results, 1)
	s.Equal([][]query.Value{{query.Int(4)}}, batch.Results[0].Rows)

	// Execution stops at the first failure.
	batch = s.sql(types.SQLQuery{Query: "SELECT * FROM missing; SELECT 1"})
	s.Require().Len(batch.Results, 1)
	s.Equal("error", batch.Results[0].Type)
	s.Contains(batch.Results[0].Error, "Execution error")

	code, _ := s.request(http.MethodPost, "/1.0/sql", types.SQLQuery{})
	s.Equal(http.StatusBadRequest, code)

	code, resp := s.request(http.MethodGet, "/1.0/sql?schema=1", nil)
	s.Equal(http.StatusOK, code)

	dump := types.SQLDump{}
	s.NoError(resp.MetadataAsStruct(&dump))
	s.Contains(dump.Text, "CREATE TABLE items")
	s.NotContains(dump.Text, "INSERT INTO")
}

// Ensures named sessions can be managed and run statements asynchronously.
func (s *resourcesSuite) Test_sessions() {
	s.sql(types.SQLQuery{Query: "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)"})

	code, resp := s.request(http.MethodPost, "/1.0/sessions", types.SessionsPost{Name: "main", Mode: "fifo"})
	s.Require().Equal(http.StatusOK, code, resp.Error)

	info := types.Session{}
	s.NoError(resp.MetadataAsStruct(&info))
	s.Equal("main", info.Name)
	s.Equal(query.ModeFifo, info.Mode)
	s.Nil(info.Result)

	code, _ = s.request(http.MethodPost, "/1.0/sessions", types.SessionsPost{Name: "main"})
	s.Equal(http.StatusConflict, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions", types.SessionsPost{Name: "bad name"})
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions", types.SessionsPost{Name: "other", Mode: "sometimes"})
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions/main/exec", types.SQLQuery{Query: "INSERT INTO items (name) VALUES ('a')"})
	s.Equal(http.StatusAccepted, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions/main/exec", types.SQLQuery{Query: "SELECT name FROM items WHERE id = ?", Params: map[string]query.Value{"1": query.Int(1)}})
	s.Equal(http.StatusAccepted, code)

	code, resp = s.request(http.MethodPost, "/1.0/sessions/main/wait?timeout=5s", nil)
	s.Require().Equal(http.StatusOK, code)

	wait := types.SessionWait{}
	s.NoError(resp.MetadataAsStruct(&wait))
	s.True(wait.Idle)
	s.Require().NotNil(wait.Result)
	s.Equal([][]query.Value{{query.Text("a")}}, wait.Result.Rows)

	code, _ = s.request(http.MethodPost, "/1.0/sessions/main/wait?timeout=soon", nil)
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions/main/exec", types.SQLQuery{Query: "INSERT INTO items (name) VALUES (?)", Batch: map[string][]query.Value{"1": {}}})
	s.Equal(http.StatusBadRequest, code)

	code, resp = s.request(http.MethodPut, "/1.0/sessions/main", types.SessionPut{Mode: "latest-only", Delay: "10ms"})
	s.Require().Equal(http.StatusOK, code)
	s.NoError(resp.MetadataAsStruct(&info))
	s.Equal(query.ModeLatestOnly, info.Mode)
	s.Equal("10ms", info.Delay)

	code, _ = s.request(http.MethodPut, "/1.0/sessions/main", types.SessionPut{Delay: "-1s"})
	s.Equal(http.StatusBadRequest, code)

	code, resp = s.request(http.MethodGet, "/1.0/sessions", nil)
	s.Equal(http.StatusOK, code)

	list := []types.Session{}
	s.NoError(resp.MetadataAsStruct(&list))
	s.Require().Len(list, 1)
	s.Equal("main", list[0].Name)
	s.False(list[0].Running)

	code, _ = s.request(http.MethodDelete, "/1.0/sessions/main", nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.request(http.MethodGet, "/1.0/sessions/main", nil)
	s.Equal(http.StatusNotFound, code)

	code, _ = s.request(http.MethodDelete, "/1.0/sessions/main", nil)
	s.Equal(http.StatusNotFound, code)
}

// Ensures a wait returns once the client goes away, without waiting for its timeout.
func (s *resourcesSuite) Test_sessionWaitCancelled() {
	code, _ := s.request(http.MethodPost, "/1.0/sessions", types.SessionsPost{Name: "slow", Delay: "1s"})
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.request(http.MethodPost, "/1.0/sessions/slow/exec", types.SQLQuery{Query: "SELECT 1"})
	s.Require().Equal(http.StatusAccepted, code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/1.0/sessions/slow/wait?timeout=30s", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	start := time.Now()
	s.router.ServeHTTP(rec, req)
	s.Less(time.Since(start), 500*time.Millisecond)
	s.Equal(http.StatusOK, rec.Code)

	resp := api.Response{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())

	wait := types.SessionWait{}
	s.NoError(resp.MetadataAsStruct(&wait))
	s.False(wait.Idle)
	s.Nil(wait.Result)
}

// Ensures worker connections can be listed and closed.
func (s *resourcesSuite) Test_connections() {
	s.sql(types.SQLQuery{Query: "SELECT 1"})

	code, resp := s.request(http.MethodGet, "/1.0/connections", nil)
	s.Require().Equal(http.StatusOK, code)

	conns := []types.Connection{}
	s.NoError(resp.MetadataAsStruct(&conns))
	s.Require().Len(conns, 1)
	s.Equal("sqlite3", conns[0].Driver)
	s.NotZero(conns[0].ThreadID)

	code, _ = s.request(http.MethodDelete, "/1.0/connections/nope", nil)
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.request(http.MethodDelete, "/1.0/connections/0", nil)
	s.Equal(http.StatusNotFound, code)

	code, resp = s.request(http.MethodDelete, "/1.0/connections/"+strconv.FormatUint(conns[0].Worker, 10), nil)
	s.Equal(http.StatusOK, code, resp.Error)
	s.Equal(0, s.state.Registry().Count())

	s.sql(types.SQLQuery{Query: "SELECT 1"})
	s.Equal(1, s.state.Registry().Count())

	code, _ = s.request(http.MethodDelete, "/1.0/connections", nil)
	s.Equal(http.StatusOK, code)
	s.Equal(0, s.state.Registry().Count())
}

// Ensures the configuration can be read and replaced.
func (s *resourcesSuite) Test_config() {
	changes := 0
	s.state.Hooks.OnConfigChange = func(st *state.State, cfg types.DaemonConfig) error {
		changes++
		return nil
	}

	code, resp := s.request(http.MethodGet, "/1.0/config", nil)
	s.Require().Equal(http.StatusOK, code)

	cfg := types.DaemonConfig{}
	s.NoError(resp.MetadataAsStruct(&cfg))
	s.Equal("sqlite3", cfg.Database.Driver)
	s.Equal(query.ModeParallel, cfg.SessionMode)

	invalid := cfg
	invalid.Database.Driver = ""
	code, _ = s.request(http.MethodPut, "/1.0/config", invalid)
	s.Equal(http.StatusBadRequest, code)
	s.Equal(0, changes)

	cfg.SessionMode = query.ModeFifo
	cfg.Database.Password = "secret"
	code, resp = s.request(http.MethodPut, "/1.0/config", cfg)
	s.Require().Equal(http.StatusOK, code, resp.Error)
	s.Equal(1, changes)
	s.Equal(query.ModeFifo, s.state.Config.GetSessionMode())
	s.Equal("secret", s.state.Registry().Config().Password)

	updated := types.DaemonConfig{}
	s.NoError(resp.MetadataAsStruct(&updated))
	s.Equal("********", updated.Database.Password)

	// The redacted password keeps the stored one.
	code, _ = s.request(http.MethodPut, "/1.0/config", updated)
	s.Equal(http.StatusOK, code)
	s.Equal("secret", s.state.Config.GetDatabase().Password)

	_, err := os.Stat(s.state.Config.Path())
	s.NoError(err)
}
