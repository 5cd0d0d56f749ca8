package pool

import (
	"runtime"
	"sync"

	"github.com/canonical/lxd/shared/logger"
)

// Loop is a single-threaded event loop. Posted functions run one at a time, in posting order,
// on one goroutine locked to its OS thread.
type Loop struct {
	id   ID
	box  *inbox
	done chan struct{}

	closeOnce sync.Once
}

// NewLoop starts a new loop.
func NewLoop() *Loop {
	l := &Loop{
		id:   nextID(),
		box:  newInbox(),
		done: make(chan struct{}),
	}

	go l.run()

	return l
}

// ID returns the loop identity.
func (l *Loop) ID() ID {
	return l.id
}

// Post queues f on the loop.
func (l *Loop) Post(f func()) error {
	if !l.box.push(f) {
		return ErrClosed
	}

	return nil
}

// Invoke runs f on the loop and waits for it to return.
func (l *Loop) Invoke(f func()) error {
	ch := make(chan struct{})
	err := l.Post(func() {
		defer close(ch)
		f()
	})
	if err != nil {
		return err
	}

	<-ch

	return nil
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Close stops the loop after everything already posted has run, and waits for it.
func (l *Loop) Close() {
	l.closeOnce.Do(l.box.close)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		f, ok := l.box.pop()
		if !ok {
			logger.Debug("Stopped event loop", logger.Ctx{"loop": l.id})
			return
		}

		f()
	}
}
