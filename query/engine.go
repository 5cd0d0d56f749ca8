// Package query runs SQL statements asynchronously on pool workers.
//
// A Session stages one statement at a time, dispatches it to a worker according to its Mode,
// and delivers each Result to its completion callbacks. Every worker runs statements on its own
// database connection, taken from the Engine's registry.
package query

import (
	"context"
	"fmt"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/pool"
)

// Engine ties a connection registry to a worker pool.
type Engine struct {
	registry *database.Registry
	pool     *pool.Pool
}

// NewEngine returns an engine running statements on p with connections from registry.
func NewEngine(registry *database.Registry, p *pool.Pool) *Engine {
	return &Engine{
		registry: registry,
		pool:     p,
	}
}

// Registry returns the connection registry.
func (e *Engine) Registry() *database.Registry {
	return e.registry
}

// Pool returns the worker pool.
func (e *Engine) Pool() *pool.Pool {
	return e.pool
}

// Future is the pending result of a one-shot execution.
type Future struct {
	done   chan struct{}
	result Result
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the result, or the zero Result if it is not available yet.
func (f *Future) Result() Result {
	select {
	case <-f.done:
		return f.result
	default:
		return Result{}
	}
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ExecOnce runs an unprepared statement on a throwaway session. The target, if not nil, is
// delivered the result in the owner's context. The returned Future settles on the worker, so
// it can be waited on from the owner itself.
func (e *Engine) ExecOnce(text string, owner pool.Executor, target func(Result)) *Future {
	return e.ExecOnceStatement(Statement{Text: text}, owner, target)
}

// ExecOnceStatement is like ExecOnce for a fully described statement, such as a prepared one
// with bindings.
func (e *Engine) ExecOnceStatement(stmt Statement, owner pool.Executor, target func(Result)) *Future {
	f := &Future{done: make(chan struct{})}

	s := e.NewSession(owner)
	s.settle = func(r Result) {
		f.result = r
		close(f.done)
	}

	if target != nil {
		s.OnDone(target)
	}

	s.submit(stmt.clone())

	return f
}

// Do runs f on a worker with the worker's connection and waits for it to return.
func (e *Engine) Do(ctx context.Context, f func(ctx context.Context, conn *database.Conn) error) error {
	done := make(chan error, 1)
	err := e.pool.Submit(func(w *pool.Worker) {
		conn, err := e.registry.Acquire(ctx, w.ID())
		if err != nil {
			done <- fmt.Errorf("%w: %w", ErrConnection, err)
			return
		}

		done <- f(ctx, conn)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dump returns a SQL text dump of the database, taken on a worker connection.
func (e *Engine) Dump(ctx context.Context, schemaOnly bool) (string, error) {
	var dump string
	err := e.Do(ctx, func(ctx context.Context, conn *database.Conn) error {
		var err error
		dump, err = database.Dump(ctx, conn, schemaOnly)
		return err
	})
	if err != nil {
		return "", err
	}

	return dump, nil
}
