package session

import (
	"errors"
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

var (
	// ErrSessionExists is returned when registering an id already present.
	ErrSessionExists = errors.New("session already registered")
	// ErrSessionNotFound is returned when unregistering an unknown id.
	ErrSessionNotFound = errors.New("session not found")
)

// Registry maps session ids to live sessions. It is sharded so that
// registration on one shard never blocks iteration over another, and no lock
// is held while a caller works on a snapshot.
// All methods are safe for concurrent use.
type Registry struct {
	sessions cmap.ConcurrentMap[int64, *Session]
	// claims maps a character id to the session id holding it.
	claims cmap.ConcurrentMap[int64, int64]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: cmap.NewWithCustomShardingFunction[int64, *Session](shardOf),
		claims:   cmap.NewWithCustomShardingFunction[int64, int64](shardOf),
	}
}

// shardOf spreads sequential ids across shards (splitmix64 finalizer).
func shardOf(id int64) uint32 {
	x := uint64(id)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	return uint32(x)
}

// Register adds s.
//
// Precondition: s must be non-nil.
// Postcondition: Returns nil, or an error wrapping ErrSessionExists if s.ID() is taken.
func (r *Registry) Register(s *Session) error {
	if s == nil {
		return errors.New("registering nil session")
	}
	if !r.sessions.SetIfAbsent(s.ID(), s) {
		return fmt.Errorf("%w: id %d", ErrSessionExists, s.ID())
	}
	return nil
}

// Unregister removes and returns the session with the given id and releases
// the character it claimed.
//
// Postcondition: Returns the removed session, or an error wrapping ErrSessionNotFound.
func (r *Registry) Unregister(id int64) (*Session, error) {
	s, ok := r.sessions.Pop(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrSessionNotFound, id)
	}
	if ident, ok := s.Identity(); ok {
		r.ReleaseCharacter(ident.CharacterID, id)
	}
	return s, nil
}

// ClaimCharacter reserves characterID for sessionID. Claiming a character the
// same session already holds succeeds.
//
// Postcondition: Returns false if another session holds the claim.
func (r *Registry) ClaimCharacter(characterID, sessionID int64) bool {
	if r.claims.SetIfAbsent(characterID, sessionID) {
		return true
	}
	holder, ok := r.claims.Get(characterID)
	return ok && holder == sessionID
}

// ReleaseCharacter drops the claim on characterID if sessionID holds it.
func (r *Registry) ReleaseCharacter(characterID, sessionID int64) {
	r.claims.RemoveCb(characterID, func(_ int64, holder int64, exists bool) bool {
		return exists && holder == sessionID
	})
}

// Get returns the session with the given id.
func (r *Registry) Get(id int64) (*Session, bool) {
	return r.sessions.Get(id)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	return r.sessions.Count()
}

// Snapshot returns the sessions registered at the time of the call. Sessions
// registered or removed while the snapshot is taken may or may not appear.
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, r.sessions.Count())
	for t := range r.sessions.IterBuffered() {
		out = append(out, t.Val)
	}
	return out
}

// Handles returns Snapshot as broadcast handles.
func (r *Registry) Handles() []Handle {
	snap := r.Snapshot()
	out := make([]Handle, len(snap))
	for i, s := range snap {
		out[i] = s
	}
	return out
}

// Range calls fn for each session of a snapshot until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, s := range r.Snapshot() {
		if !fn(s) {
			return
		}
	}
}

// FindByName returns a session whose attached identity is named name.
func (r *Registry) FindByName(name string) (*Session, bool) {
	return r.find(func(id Identity) bool { return id.Name == name })
}

// FindByCharacter returns the session attached to characterID.
func (r *Registry) FindByCharacter(characterID int64) (*Session, bool) {
	return r.find(func(id Identity) bool { return id.CharacterID == characterID })
}

func (r *Registry) find(match func(Identity) bool) (*Session, bool) {
	var found *Session
	r.Range(func(s *Session) bool {
		if id, ok := s.Identity(); ok && match(id) {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// Sequence allocates session ids. The zero value yields 1 first.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next unused id.
func (q *Sequence) Next() int64 {
	return q.n.Add(1)
}
