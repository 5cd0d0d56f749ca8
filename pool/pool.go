// Package pool provides the execution contexts statements run on: an unbounded pool of
// thread-locked workers, and single-threaded loops that own the sessions submitting to it.
//
// Workers and loops share one identity space, so a completion running on a worker can decide
// whether it is already on its owner's context or has to post to it.
package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/canonical/lxd/shared/logger"
	"golang.org/x/sys/unix"
)

// ID identifies an execution context. The zero ID is never assigned.
type ID uint64

var lastID atomic.Uint64

func nextID() ID {
	return ID(lastID.Add(1))
}

// ErrClosed is returned when posting to or submitting on a closed context.
var ErrClosed = errors.New("Execution context is closed")

// Executor is an execution context that functions can be posted to.
type Executor interface {
	// ID returns the identity of the context.
	ID() ID

	// Post queues f to run on the context after anything already queued.
	Post(f func()) error
}

// Task is a unit of work run on a pooled worker.
type Task func(w *Worker)

// Worker is a pooled goroutine locked to its own OS thread.
type Worker struct {
	id   ID
	tid  int
	pool *Pool
	box  *inbox
}

// ID returns the worker identity.
func (w *Worker) ID() ID {
	return w.id
}

// ThreadID returns the OS thread id the worker is locked to.
func (w *Worker) ThreadID() int {
	return w.tid
}

// Post queues f on this worker. It runs after the current task.
func (w *Worker) Post(f func()) error {
	if !w.box.push(f) {
		return ErrClosed
	}

	return nil
}

func (w *Worker) run(ready chan<- struct{}) {
	defer w.pool.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.tid = unix.Gettid()
	close(ready)

	logger.Debug("Started pool worker", logger.Ctx{"worker": w.id, "tid": w.tid})

	for {
		f, ok := w.box.pop()
		if !ok {
			logger.Debug("Stopped pool worker", logger.Ctx{"worker": w.id, "tid": w.tid})
			return
		}

		f()
	}
}

// Pool is an unbounded set of workers. A submission runs on an idle worker if there is one,
// otherwise on a newly spawned worker, so submitted tasks never wait for each other.
// Workers are kept for the lifetime of the pool.
type Pool struct {
	mu      sync.Mutex
	idle    []*Worker
	workers map[ID]*Worker
	closed  bool

	wg sync.WaitGroup
}

// New returns an empty pool. Workers are spawned on demand.
func New() *Pool {
	return &Pool{
		workers: map[ID]*Worker{},
	}
}

// Submit runs task on a worker.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("Invalid nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	var w *Worker
	n := len(p.idle)
	if n > 0 {
		w = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		w = p.spawn()
	}

	p.mu.Unlock()

	ok := w.box.push(func() {
		defer p.release(w)

		task(w)
	})
	if !ok {
		return ErrClosed
	}

	return nil
}

// spawn must be called with the pool lock held.
func (p *Pool) spawn() *Worker {
	w := &Worker{
		id:   nextID(),
		pool: p,
		box:  newInbox(),
	}

	p.workers[w.id] = w
	p.wg.Add(1)

	ready := make(chan struct{})
	go w.run(ready)
	<-ready

	return w
}

func (p *Pool) release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.idle = append(p.idle, w)
}

// Size returns the number of spawned workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// Idle returns the number of workers not currently running a task.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.idle)
}

// Worker returns the worker with the given id, or nil.
func (p *Pool) Worker(id ID) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.workers[id]
}

// Close stops accepting submissions and waits for every worker to finish its queued work.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	p.idle = nil
	for _, w := range p.workers {
		w.box.close()
	}

	p.mu.Unlock()

	p.wg.Wait()
}
