package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canonical/lxd/shared/logger"

	"github.com/canonical/asyncsql/pool"
)

// Session stages and dispatches statements for a single caller.
//
// Callbacks registered with OnDone and OnBusyChanged run in the owner's context: in place when
// the session has no owner or the owner is the completing worker, posted to the owner otherwise.
type Session struct {
	engine *Engine
	owner  pool.Executor

	mu       sync.Mutex
	mode     Mode
	delay    time.Duration
	staged   Statement
	inFlight int
	pending  []Statement
	last     Result

	// idle is closed once the session is idle and its last result has been handed off.
	idle chan struct{}

	// notices are busy changes in transition order, handed off by one goroutine at a time.
	notices   []*busyNotice
	notifying bool

	doneHooks []func(Result)
	busyHooks []func(busy bool)

	// settle runs on the worker before delivery.
	settle func(Result)
}

// busyNotice is a busy change waiting to be handed off. A notice that is not ready blocks the
// ones behind it. idle, if set, is closed once the notice has been handed off.
type busyNotice struct {
	busy  bool
	ready bool
	idle  chan struct{}
}

// NewSession returns an idle session delivering to owner. A nil owner means callbacks run on
// the completing worker.
func (e *Engine) NewSession(owner pool.Executor) *Session {
	idle := make(chan struct{})
	close(idle)

	return &Session{
		engine: e,
		owner:  owner,
		idle:   idle,
	}
}

// OnDone registers f to receive every result.
func (s *Session) OnDone(f func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doneHooks = append(s.doneHooks, f)
}

// OnBusyChanged registers f to be told when the session goes from idle to busy and back.
func (s *Session) OnBusyChanged(f func(busy bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busyHooks = append(s.busyHooks, f)
}

// SetMode sets how statements submitted from now on are handled while one is in flight.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = mode
}

// Mode returns the current execution mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// SetDelay sets a delay slept by the worker before running each statement dispatched from now on.
func (s *Session) SetDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delay = delay
}

// Delay returns the current delay.
func (s *Session) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.delay
}

// Prepare stages text as a prepared statement and drops all bindings.
func (s *Session) Prepare(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged = Statement{Text: text, Prepared: true}
}

// BindValue binds a single value to a placeholder of the staged statement. It fails once the
// statement has batch bindings.
func (s *Session) BindValue(name string, v Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged.Batch {
		return false
	}

	s.staged.bind(Param{Name: name, Value: v})

	return true
}

// BindBatchValue binds a list of values to a placeholder and turns the staged statement into a
// batch. The list must be non-empty and its non-null elements must share one kind.
func (s *Session) BindBatchValue(name string, values []Value) bool {
	if CheckBatch(values) != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged.bind(Param{Name: name, Values: append([]Value{}, values...)})
	s.staged.Batch = true

	return true
}

// ClearBindings drops all bindings of the staged statement.
func (s *Session) ClearBindings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged.Params = nil
	s.staged.Batch = false
}

// Statement returns a copy of the staged statement.
func (s *Session) Statement() Statement {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.staged.clone()
}

// StartExec submits a snapshot of the staged prepared statement and its bindings.
func (s *Session) StartExec() {
	s.mu.Lock()
	stmt := s.staged.clone()
	stmt.Prepared = true
	s.mu.Unlock()

	s.submit(stmt)
}

// StartExecText submits text as an unprepared statement.
func (s *Session) StartExecText(text string) {
	s.mu.Lock()
	s.staged.Text = text
	s.staged.Prepared = false
	s.mu.Unlock()

	s.submit(Statement{Text: text})
}

// IsRunning returns true while statements are in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight > 0
}

// InFlight returns the number of dispatched statements that have not completed.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inFlight
}

// Pending returns the number of queued statements.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Result returns the most recently completed result.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

// Wait blocks until the session is idle or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
	}

	select {
	case <-idle:
		return nil
	default:
		return ctx.Err()
	}
}

// WaitDone blocks until the session is idle or the timeout expires, and returns whether it is idle.
// The callbacks for the final result have run, or been posted to the owner, before it returns, so
// calling it from an in-place OnDone callback of the same session waits for the whole timeout.
func (s *Session) WaitDone(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.Wait(ctx) == nil
}

// submit dispatches stmt or queues it, depending on the mode.
func (s *Session) submit(stmt Statement) {
	s.mu.Lock()
	if s.mode != ModeParallel && s.inFlight > 0 {
		if s.mode == ModeLatestOnly {
			if len(s.pending) > 0 {
				logger.Debug("Replacing queued statement", logger.Ctx{"dropped": s.pending[0].Text, "statement": stmt.Text})
			}

			s.pending = []Statement{stmt}
		} else {
			s.pending = append(s.pending, stmt)
		}

		s.mu.Unlock()
		return
	}

	s.inFlight++
	if s.inFlight == 1 {
		s.idle = make(chan struct{})
		s.notices = append(s.notices, &busyNotice{busy: true, ready: true})
	}

	delay := s.delay
	s.mu.Unlock()

	s.notify(0)
	s.dispatch(stmt, delay)
}

// dispatch hands stmt to a pool worker.
func (s *Session) dispatch(stmt Statement, delay time.Duration) {
	stmt.Delay = delay
	err := s.engine.pool.Submit(func(w *pool.Worker) {
		s.complete(w.ID(), s.engine.run(context.Background(), w, stmt))
	})
	if err != nil {
		s.complete(0, failedResult(stmt.Text, fmt.Errorf("%w: %w", ErrExecution, err)))
	}
}

// complete records a result, hands it to the owner and then dispatches the next queued statement.
// current is the identity of the calling execution context.
func (s *Session) complete(current pool.ID, res Result) {
	s.mu.Lock()
	s.last = res

	var next *Statement
	if len(s.pending) > 0 {
		n := s.pending[0]
		s.pending = s.pending[1:]
		next = &n
	} else {
		s.inFlight--
	}

	// The idle notice takes its place among busy changes now, but is held back until the
	// result has been delivered.
	var notice *busyNotice
	if s.inFlight == 0 {
		notice = &busyNotice{busy: false, idle: s.idle}
		s.notices = append(s.notices, notice)
	}

	delay := s.delay
	settle := s.settle
	doneHooks := s.doneHooks
	s.mu.Unlock()

	if settle != nil {
		settle(res)
	}

	s.deliver(current, func() {
		for _, f := range doneHooks {
			f(res)
		}
	})

	if notice != nil {
		s.mu.Lock()
		notice.ready = true
		s.mu.Unlock()

		s.notify(current)
	}

	if next != nil {
		s.dispatch(*next, delay)
	}
}

// notify hands off the ready busy notices in order. If another goroutine is already handing
// them off, it picks up the new ones as well.
func (s *Session) notify(current pool.ID) {
	s.mu.Lock()
	if s.notifying {
		s.mu.Unlock()
		return
	}

	s.notifying = true
	for len(s.notices) > 0 && s.notices[0].ready {
		n := s.notices[0]
		s.notices = s.notices[1:]
		hooks := s.busyHooks
		s.mu.Unlock()

		s.deliver(current, func() {
			for _, f := range hooks {
				f(n.busy)
			}
		})

		if n.idle != nil {
			close(n.idle)
		}

		s.mu.Lock()
	}

	s.notifying = false
	s.mu.Unlock()
}

// deliver runs f in the owner's context.
func (s *Session) deliver(current pool.ID, f func()) {
	if s.owner == nil || (current != 0 && s.owner.ID() == current) {
		f()
		return
	}

	err := s.owner.Post(f)
	if err != nil {
		logger.Warn("Failed to deliver to session owner", logger.Ctx{"owner": s.owner.ID(), "err": err})
	}
}
