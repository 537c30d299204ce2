// Package mailbox provides a single-slot channel where the newest value
// replaces any value the consumer has not received yet.
package mailbox

import "sync"

// Mailbox is a latest-wins handoff between one or more producers and a
// single consumer. Put never blocks.
type Mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	merge  func(old, new T) T
	closed bool
}

// New creates a mailbox. merge, when non-nil, combines an undelivered value
// with its replacement (for example to keep a sticky flag); otherwise the
// newer value wins outright.
func New[T any](merge func(old, new T) T) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1), merge: merge}
}

// Put stores v, replacing any undelivered value. It reports whether a value
// was replaced. Put on a closed mailbox is a no-op.
func (m *Mailbox[T]) Put(v T) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case old := <-m.ch:
		replaced = true
		if m.merge != nil {
			v = m.merge(old, v)
		}
	default:
	}
	m.ch <- v
	return replaced
}

// C returns the receive side
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Close closes the channel. An undelivered value can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
