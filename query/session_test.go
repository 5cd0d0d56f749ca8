package query

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/pool"
)

type sessionSuite struct {
	suite.Suite

	registry *database.Registry
	pool     *pool.Pool
	engine   *Engine
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(sessionSuite))
}

func (s *sessionSuite) SetupTest() {
	s.registry = database.NewRegistry()
	s.registry.Configure(database.Config{
		Driver:  "sqlite3",
		Name:    filepath.Join(s.T().TempDir(), "test.db"),
		Options: map[string]string{"_busy_timeout": "5000", "_journal_mode": "WAL"},
	})

	s.pool = pool.New()
	s.engine = NewEngine(s.registry, s.pool)

	s.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
}

func (s *sessionSuite) TearDownTest() {
	s.pool.Close()
	s.NoError(s.registry.Close())
}

// exec runs a one-shot statement and waits for its result.
func (s *sessionSuite) exec(text string) Result {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.engine.ExecOnce(text, nil, nil).Wait(ctx)
	s.Require().NoError(err)

	return res
}

// names returns the item names in insertion order.
func (s *sessionSuite) names() []string {
	res := s.exec("SELECT name FROM items ORDER BY id")
	s.Require().True(res.IsValid(), "%v", res.Err())

	names := []string{}
	for i := 0; i < res.Count(); i++ {
		names = append(names, res.Value(i, 0).String())
	}

	return names
}

// recorder collects results delivered on any goroutine.
type recorder struct {
	mu       sync.Mutex
	results  []Result
	inFlight []int
	busy     []bool
}

func (r *recorder) watch(session *Session) {
	session.OnDone(func(res Result) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.results = append(r.results, res)
		r.inFlight = append(r.inFlight, session.InFlight())
	})

	session.OnBusyChanged(func(busy bool) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.busy = append(r.busy, busy)
	})
}

func (r *recorder) statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	statements := []string{}
	for _, res := range r.results {
		statements = append(statements, res.Statement())
	}

	return statements
}

// Ensures parallel statements all run and produce one result each.
func (s *sessionSuite) Test_parallel() {
	session := s.engine.NewSession(nil)
	r := &recorder{}
	r.watch(session)

	session.SetDelay(200 * time.Millisecond)
	for i := 0; i < 5; i++ {
		session.StartExecText("SELECT 1")
	}

	s.Equal(5, session.InFlight())
	s.True(session.IsRunning())
	s.True(session.WaitDone(5 * time.Second))
	s.False(session.IsRunning())

	s.Len(r.results, 5)
	for _, res := range r.results {
		s.True(res.IsValid(), "%v", res.Err())
		s.Equal(int64(1), res.Value(0, 0).Int())
	}

	s.Equal([]bool{true, false}, r.busy)
	s.GreaterOrEqual(s.pool.Size(), 5)
	s.Equal(s.pool.Size(), s.registry.Count())
}

// Ensures FIFO sessions run one statement at a time in submission order.
func (s *sessionSuite) Test_fifo() {
	session := s.engine.NewSession(nil)
	session.SetMode(ModeFifo)
	s.Equal(ModeFifo, session.Mode())

	r := &recorder{}
	r.watch(session)

	session.SetDelay(50 * time.Millisecond)
	for _, name := range []string{"A", "B", "C"} {
		session.StartExecText("INSERT INTO items (name) VALUES ('" + name + "')")
	}

	s.Equal(1, session.InFlight())
	s.Equal(2, session.Pending())
	s.True(session.WaitDone(5 * time.Second))

	s.Equal([]string{
		"INSERT INTO items (name) VALUES ('A')",
		"INSERT INTO items (name) VALUES ('B')",
		"INSERT INTO items (name) VALUES ('C')",
	}, r.statements())

	// The backlog drains without the session going idle in between.
	s.Equal([]int{1, 1, 0}, r.inFlight)
	s.Equal([]bool{true, false}, r.busy)
	s.Equal([]string{"A", "B", "C"}, s.names())
	s.Equal("INSERT INTO items (name) VALUES ('C')", session.Result().Statement())
}

// Ensures latest-only sessions drop superseded queued statements.
func (s *sessionSuite) Test_latestOnly() {
	session := s.engine.NewSession(nil)
	session.SetMode(ModeLatestOnly)

	r := &recorder{}
	r.watch(session)

	session.SetDelay(100 * time.Millisecond)
	session.StartExecText("INSERT INTO items (name) VALUES ('1')")
	session.StartExecText("INSERT INTO items (name) VALUES ('2')")
	session.StartExecText("INSERT INTO items (name) VALUES ('3')")
	s.Equal(1, session.Pending())

	s.True(session.WaitDone(5 * time.Second))
	s.Equal([]string{
		"INSERT INTO items (name) VALUES ('1')",
		"INSERT INTO items (name) VALUES ('3')",
	}, r.statements())
	s.Equal([]string{"1", "3"}, s.names())
}

// Ensures WaitDone reports whether the session became idle in time.
func (s *sessionSuite) Test_waitDone() {
	session := s.engine.NewSession(nil)
	s.True(session.WaitDone(0))

	session.SetDelay(300 * time.Millisecond)
	session.StartExecText("SELECT 1")
	s.False(session.WaitDone(10 * time.Millisecond))
	s.True(session.WaitDone(5 * time.Second))
	s.True(session.WaitDone(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.NoError(session.Wait(ctx))
}

// Ensures invalid batch bindings are refused without touching the staged statement.
func (s *sessionSuite) Test_bindBatchValue() {
	session := s.engine.NewSession(nil)
	session.Prepare("INSERT INTO items (id, name) VALUES (?, ?)")

	s.False(session.BindBatchValue("1", nil))
	s.False(session.BindBatchValue("1", []Value{}))
	s.False(session.BindBatchValue("1", []Value{Int(1), Text("x")}))
	s.False(session.BindBatchValue("1", []Value{Int(1), {}}))
	s.False(session.Statement().Batch)
	s.Empty(session.Statement().Params)

	s.True(session.BindValue("1", Int(1)))
	s.True(session.BindBatchValue("2", []Value{Text("x"), Null(), Text("y")}))
	s.True(session.Statement().Batch)

	// Scalar binds are locked once the statement is a batch.
	s.False(session.BindValue("1", Int(2)))
	s.Equal(int64(1), session.Statement().Params[0].Value.Int())

	session.ClearBindings()
	s.False(session.Statement().Batch)
	s.True(session.BindValue("1", Int(2)))

	// Preparing drops bindings.
	session.Prepare("SELECT ?")
	s.Empty(session.Statement().Params)
}

// Ensures batch statements run once per element.
func (s *sessionSuite) Test_batchInsert() {
	session := s.engine.NewSession(nil)
	session.Prepare("INSERT INTO items (id, name) VALUES (?, ?)")
	s.True(session.BindBatchValue("1", []Value{Int(10), Int(11), Int(12)}))
	s.True(session.BindBatchValue("2", []Value{Text("x"), Null(), Text("z")}))

	session.StartExec()
	s.True(session.WaitDone(5 * time.Second))

	res := session.Result()
	s.True(res.IsValid(), "%v", res.Err())
	s.Equal(int64(3), res.RowsAffected())
	s.Equal(int64(12), res.LastInsertID().Int())

	check := s.exec("SELECT id, name FROM items ORDER BY id")
	s.Equal(3, check.Count())
	s.True(check.Value(1, 1).IsNull())
	s.Equal("z", check.ValueByName(2, "name").String())

	// Mismatched batch lengths fail at execution.
	session.ClearBindings()
	s.True(session.BindBatchValue("1", []Value{Int(20), Int(21)}))
	s.True(session.BindBatchValue("2", []Value{Text("a")}))
	session.StartExec()
	s.True(session.WaitDone(5 * time.Second))
	s.ErrorIs(session.Result().Err(), ErrExecution)
}

// Ensures prepared statements bind positional and named placeholders.
func (s *sessionSuite) Test_prepared() {
	session := s.engine.NewSession(nil)
	session.Prepare("INSERT INTO items (id, name) VALUES (:id, :name)")
	s.True(session.BindValue(":id", Int(7)))
	s.True(session.BindValue(":name", Text("seven")))
	session.StartExec()
	s.True(session.WaitDone(5 * time.Second))
	s.True(session.Result().IsValid(), "%v", session.Result().Err())
	s.Equal(int64(1), session.Result().RowsAffected())

	session.Prepare("SELECT name FROM items WHERE id = ?")
	s.True(session.BindValue("1", Int(7)))
	session.StartExec()
	s.True(session.WaitDone(5 * time.Second))

	res := session.Result()
	s.True(res.IsValid(), "%v", res.Err())
	s.Equal(1, res.Count())
	s.Equal("seven", res.Value(0, 0).String())
	s.Equal("items", res.Columns()[0].Table)
}

// Ensures a dispatched statement is isolated from later binds.
func (s *sessionSuite) Test_snapshot() {
	session := s.engine.NewSession(nil)
	session.SetDelay(100 * time.Millisecond)
	session.Prepare("INSERT INTO items (name) VALUES (?)")
	s.True(session.BindValue("1", Text("before")))
	session.StartExec()
	s.True(session.BindValue("1", Text("after")))

	s.True(session.WaitDone(5 * time.Second))
	s.Equal([]string{"before"}, s.names())
}

// Ensures each failure is reported with its category.
func (s *sessionSuite) Test_errors() {
	session := s.engine.NewSession(nil)

	session.Prepare("SELEC nonsense")
	session.StartExec()
	s.True(session.WaitDone(5 * time.Second))
	s.False(session.Result().IsValid())
	s.ErrorIs(session.Result().Err(), ErrPrepare)

	session.StartExecText("INSERT INTO missing VALUES (1)")
	s.True(session.WaitDone(5 * time.Second))
	s.False(session.Result().IsValid())
	s.ErrorIs(session.Result().Err(), ErrExecution)
	s.Equal("INSERT INTO missing VALUES (1)", session.Result().Statement())
}

// Ensures a worker that cannot connect reports a connection error and registers nothing.
func (s *sessionSuite) Test_connectionFailure() {
	s.pool.Close()
	s.NoError(s.registry.Close())

	s.registry = database.NewRegistry()
	s.registry.Configure(database.Config{Driver: "sqlite3", Name: filepath.Join(s.T().TempDir(), "missing", "test.db")})
	s.pool = pool.New()
	s.engine = NewEngine(s.registry, s.pool)

	session := s.engine.NewSession(nil)
	session.StartExecText("SELECT 1")
	s.True(session.WaitDone(5 * time.Second))

	res := session.Result()
	s.False(res.IsValid())
	s.True(errors.Is(res.Err(), ErrConnection))
	s.Equal(0, res.Count())
	s.Equal(0, s.registry.Count())
}

// Ensures NULL and empty text cells are told apart.
func (s *sessionSuite) Test_nullAndEmpty() {
	res := s.exec("SELECT NULL AS a, '' AS b, x'0102' AS c")
	s.True(res.IsValid(), "%v", res.Err())
	s.Equal([]string{"a", "b", "c"}, res.ColumnNames())

	s.True(res.Value(0, 0).IsNull())
	s.Equal(KindText, res.Value(0, 1).Kind())
	s.Equal("", res.Value(0, 1).String())
	s.Equal([]byte{1, 2}, res.Value(0, 2).Bytes())

	s.False(res.Value(0, 3).IsValid())
	s.False(res.Value(1, 0).IsValid())
	s.False(res.ValueByName(0, "missing").IsValid())
	s.True(res.Row(0)["a"].IsNull())
	s.Nil(res.Row(1))
}

// Ensures the connection's precision policy is applied to numeric cells.
func (s *sessionSuite) Test_precision() {
	tests := []struct {
		name   string
		policy database.PrecisionPolicy
		query  string
		want   Value
	}{
		{
			name:   "High keeps integers",
			policy: database.PrecisionHigh,
			query:  "SELECT 4294967297",
			want:   Int(4294967297),
		},
		{
			name:   "Low int32 truncates",
			policy: database.PrecisionLowInt32,
			query:  "SELECT 4294967297",
			want:   Int(1),
		},
		{
			name:   "Low int64 drops fractions",
			policy: database.PrecisionLowInt64,
			query:  "SELECT 2.5",
			want:   Int(2),
		},
		{
			name:   "Low double converts integers",
			policy: database.PrecisionLowDouble,
			query:  "SELECT 42",
			want:   Float(42),
		},
	}

	for i, t := range tests {
		s.T().Logf("%s (case %d)", t.name, i)

		s.NoError(s.registry.CloseAll())
		config := s.registry.Config()
		config.Precision = t.policy
		s.registry.Configure(config)

		res := s.exec(t.query)
		s.True(res.IsValid(), "%v", res.Err())
		s.True(t.want.Equal(res.Value(0, 0)), "got %v (%s)", res.Value(0, 0), res.Value(0, 0).Kind())
	}
}

// Ensures callbacks run on the owner loop's thread when the owner is not the worker.
func (s *sessionSuite) Test_ownerLoop() {
	loop := pool.NewLoop()
	defer loop.Close()

	var loopTid int
	s.NoError(loop.Invoke(func() { loopTid = unix.Gettid() }))

	session := s.engine.NewSession(loop)

	var mu sync.Mutex
	tids := []int{}
	session.OnDone(func(Result) {
		mu.Lock()
		defer mu.Unlock()

		tids = append(tids, unix.Gettid())
	})

	session.OnBusyChanged(func(bool) {
		mu.Lock()
		defer mu.Unlock()

		tids = append(tids, unix.Gettid())
	})

	session.SetDelay(100 * time.Millisecond)
	session.StartExecText("SELECT 1")
	session.StartExecText("SELECT 2")
	s.True(session.WaitDone(5 * time.Second))

	// Everything delivered before idle was posted ahead of this.
	s.NoError(loop.Invoke(func() {}))

	mu.Lock()
	defer mu.Unlock()

	s.Len(tids, 4)
	for _, tid := range tids {
		s.Equal(loopTid, tid)
	}
}

// gatedExecutor forwards posts to a loop, holding back the post with sequence number hold until
// release is closed.
type gatedExecutor struct {
	loop    *pool.Loop
	posts   atomic.Int32
	hold    int32
	held    chan struct{}
	release chan struct{}
}

func (g *gatedExecutor) ID() pool.ID {
	return g.loop.ID()
}

func (g *gatedExecutor) Post(f func()) error {
	if g.posts.Add(1) == g.hold {
		close(g.held)
		<-g.release
	}

	return g.loop.Post(f)
}

// Ensures busy changes reach the owner in transition order when a statement is submitted while
// the previous idle notification is still being handed off.
func (s *sessionSuite) Test_busyOrder() {
	loop := pool.NewLoop()
	defer loop.Close()

	// Posts are: busy, result, idle. The idle one is held.
	owner := &gatedExecutor{loop: loop, hold: 3, held: make(chan struct{}), release: make(chan struct{})}
	session := s.engine.NewSession(owner)

	busy := []bool{}
	session.OnBusyChanged(func(b bool) { busy = append(busy, b) })

	session.StartExecText("SELECT 1")
	select {
	case <-owner.held:
	case <-time.After(5 * time.Second):
		s.FailNow("Idle notification was never posted")
	}

	session.StartExecText("SELECT 2")
	s.True(session.IsRunning())
	close(owner.release)

	s.True(session.WaitDone(5 * time.Second))
	s.False(session.IsRunning())

	var got []bool
	s.NoError(loop.Invoke(func() { got = append([]bool{}, busy...) }))
	s.Equal([]bool{true, false, true, false}, got)
}

// Ensures in-place callbacks for the final result have run once a wait returns.
func (s *sessionSuite) Test_waitAfterDelivery() {
	session := s.engine.NewSession(nil)

	var delivered atomic.Bool
	session.OnDone(func(Result) {
		time.Sleep(50 * time.Millisecond)
		delivered.Store(true)
	})

	var idle atomic.Bool
	session.OnBusyChanged(func(busy bool) { idle.Store(!busy) })

	session.StartExecText("SELECT 1")
	s.True(session.WaitDone(5 * time.Second))
	s.True(delivered.Load())
	s.True(idle.Load())
}

// Ensures numeric placeholder names bind by position whether numbering starts at 0 or 1.
func (s *sessionSuite) Test_positional() {
	tests := []struct {
		name  string
		names []string
	}{
		{name: "Zero based", names: []string{"0", "1"}},
		{name: "One based", names: []string{"1", "2"}},
		{name: "Bound out of order", names: []string{"1", "0"}},
	}

	for i, t := range tests {
		s.T().Logf("%s (case %d)", t.name, i)

		session := s.engine.NewSession(nil)
		session.Prepare("SELECT ?, ?")

		// The lower position always receives "a".
		first, second := t.names[0], t.names[1]
		if first > second {
			first, second = second, first
		}

		s.True(session.BindValue(second, Text("b")))
		s.True(session.BindValue(first, Text("a")))
		session.StartExec()
		s.True(session.WaitDone(5 * time.Second))

		res := session.Result()
		s.Require().True(res.IsValid(), "%v", res.Err())
		s.Equal("a", res.Value(0, 0).String())
		s.Equal("b", res.Value(0, 1).String())
	}
}

// fakeExecutor records posted functions.
type fakeExecutor struct {
	id     pool.ID
	posted int
}

func (f *fakeExecutor) ID() pool.ID {
	return f.id
}

func (f *fakeExecutor) Post(fn func()) error {
	f.posted++
	return nil
}

// Ensures delivery runs in place only when the owner is the current context.
func (s *sessionSuite) Test_deliver() {
	owner := &fakeExecutor{id: 7}
	session := s.engine.NewSession(owner)

	ran := 0
	session.deliver(7, func() { ran++ })
	s.Equal(1, ran)
	s.Equal(0, owner.posted)

	session.deliver(8, func() { ran++ })
	session.deliver(0, func() { ran++ })
	s.Equal(1, ran)
	s.Equal(2, owner.posted)
}

// Ensures one-shot executions settle their future and call their target.
func (s *sessionSuite) Test_execOnce() {
	done := make(chan Result, 1)
	f := s.engine.ExecOnce("INSERT INTO items (name) VALUES ('once')", nil, func(r Result) { done <- r })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := f.Wait(ctx)
	s.NoError(err)
	s.True(res.IsValid(), "%v", res.Err())
	s.Equal(int64(1), res.RowsAffected())
	s.Equal(int64(1), res.LastInsertID().Int())

	select {
	case r := <-done:
		s.Equal(res.Statement(), r.Statement())
	case <-ctx.Done():
		s.Fail("Target was not called")
	}

	<-f.Done()
	s.Equal(res.Statement(), f.Result().Statement())

	stmt := Statement{Text: "SELECT name FROM items WHERE name = ?", Prepared: true, Params: []Param{{Name: "1", Value: Text("once")}}}
	res, err = s.engine.ExecOnceStatement(stmt, nil, nil).Wait(ctx)
	s.NoError(err)
	s.Equal(1, res.Count())
}

// Ensures dumps are taken on a worker connection.
func (s *sessionSuite) Test_dump() {
	dump, err := s.engine.Dump(context.Background(), true)
	s.NoError(err)
	s.Contains(dump, "CREATE TABLE items")
}

// Ensures submitting on a closed pool fails the statement instead of hanging.
func (s *sessionSuite) Test_closedPool() {
	s.pool.Close()

	session := s.engine.NewSession(nil)
	session.StartExecText("SELECT 1")
	s.True(session.WaitDone(time.Second))
	s.ErrorIs(session.Result().Err(), ErrExecution)
	s.ErrorIs(session.Result().Err(), pool.ErrClosed)
}
