package session

import (
	"errors"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the buffer has no free slot.
	ErrOutboxFull = errors.New("outbox full")
)

// Outbox is the bounded queue of encoded lines waiting to be written to one
// connection. Push never blocks; a single writer goroutine drains Lines.
type Outbox struct {
	lines  chan string
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding up to size lines.
//
// Postcondition: Returns an open Outbox; size <= 0 selects a buffer of 64.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{lines: make(chan string, size)}
}

// Push enqueues line.
//
// Postcondition: line is enqueued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Push(line string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.lines <- line:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Lines returns the receive side of the queue. It is closed by Close.
func (o *Outbox) Lines() <-chan string {
	return o.lines
}

// Len returns the number of lines waiting to be written.
func (o *Outbox) Len() int {
	return len(o.lines)
}

// Close rejects further pushes and closes the Lines channel. Lines already
// queued can still be drained. Close is idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.lines)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
