// Package session tracks connected participants and the game identity each
// one is attached to.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrSendFailed wraps every delivery failure returned by Send.
var ErrSendFailed = errors.New("send failed")

// Identity is the game state a broadcast filters on. A session carries a
// snapshot of it once a character has been selected.
type Identity struct {
	CharacterID  int64
	Name         string
	GroupID      int64
	EmoteBlocked bool
	HeroBlocked  bool
	X            int
	Y            int
}

// Handle is the view of a session the broadcast layer needs.
type Handle interface {
	// ID returns the session identifier. Zero is reserved for senders that
	// are not registered on this node.
	ID() int64
	// Identity returns the attached identity, or false while none is attached.
	Identity() (Identity, bool)
	// Send queues one encoded line for delivery.
	Send(line string) error
}

// Session is one connected participant.
// All methods are safe for concurrent use.
type Session struct {
	id       int64
	remote   string
	identity atomic.Pointer[Identity]
	outbox   *Outbox
}

// New creates a Session with no attached identity.
//
// Precondition: id must be > 0.
// Postcondition: Returns a Session whose outbox buffers outboxSize lines.
func New(id int64, remote string, outboxSize int) *Session {
	return &Session{
		id:     id,
		remote: remote,
		outbox: NewOutbox(outboxSize),
	}
}

// ID returns the session identifier.
func (s *Session) ID() int64 {
	return s.id
}

// RemoteAddr returns the peer address recorded at connection time.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// Attach binds the session to id. Gameplay broadcasts reach the session from then on.
//
// Postcondition: HasActiveIdentity reports true.
func (s *Session) Attach(id Identity) {
	s.identity.Store(&id)
}

// Detach drops the attached identity.
func (s *Session) Detach() {
	s.identity.Store(nil)
}

// Identity returns a copy of the attached identity.
func (s *Session) Identity() (Identity, bool) {
	p := s.identity.Load()
	if p == nil {
		return Identity{}, false
	}
	return *p, true
}

// HasActiveIdentity reports whether an identity is attached.
func (s *Session) HasActiveIdentity() bool {
	return s.identity.Load() != nil
}

// UpdateIdentity applies fn to a copy of the attached identity and publishes
// the copy. Concurrent readers observe either the old or the new snapshot.
//
// Postcondition: Returns false without calling fn when no identity is attached.
func (s *Session) UpdateIdentity(fn func(*Identity)) bool {
	for {
		old := s.identity.Load()
		if old == nil {
			return false
		}
		next := *old
		fn(&next)
		if s.identity.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// Send queues line on the session's outbox.
//
// Postcondition: Returns nil once queued, or an error wrapping ErrSendFailed.
func (s *Session) Send(line string) error {
	if err := s.outbox.Push(line); err != nil {
		return fmt.Errorf("%w: session %d: %w", ErrSendFailed, s.id, err)
	}
	return nil
}

// Outbox returns the queue drained by the connection writer.
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// Close stops accepting lines. Close is idempotent.
func (s *Session) Close() {
	s.outbox.Close()
}
