package pool

import (
	"sync"
)

// inbox is an unbounded FIFO of functions consumed by a single goroutine.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// push appends f. It returns false if the inbox has been closed.
func (b *inbox) push(f func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.items = append(b.items, f)
	b.cond.Signal()

	return true
}

// pop blocks until an item is available. Once closed, remaining items are still handed out
// and false is returned when the inbox is empty.
func (b *inbox) pop() (func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}

	if len(b.items) == 0 {
		return nil, false
	}

	f := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]

	return f, true
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}
