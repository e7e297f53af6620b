package core

import (
	"sync"

	"github.com/najoast/raft/heap"
)

// Mailbox is an unbounded FIFO of messages owned by one actor. Messages are
// moved in and out; the mailbox owns the references of queued values.
type Mailbox struct {
	mu     sync.Mutex
	queue  []heap.Value
	head   int
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Push appends a message.
func (m *Mailbox) Push(v heap.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMailboxClosed
	}
	m.queue = append(m.queue, v)
	return nil
}

// Pop removes the oldest message.
func (m *Mailbox) Pop() (heap.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.head == len(m.queue) {
		return heap.Nil, false
	}
	v := m.queue[m.head]
	m.queue[m.head] = heap.Nil
	m.head++
	if m.head == len(m.queue) {
		m.queue = m.queue[:0]
		m.head = 0
	}
	return v, true
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) - m.head
}

// Close rejects further pushes and returns the undelivered messages, whose
// references pass to the caller.
func (m *Mailbox) Close() []heap.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := append([]heap.Value(nil), m.queue[m.head:]...)
	m.queue = nil
	m.head = 0
	return rest
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) roots(visit func(heap.Value)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.queue[m.head:] {
		visit(v)
	}
}
