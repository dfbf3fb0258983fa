package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cory-johannsen/mudwire/internal/session"
)

var errBroken = errors.New("broken pipe")

type fakeHandle struct {
	id       int64
	identity *session.Identity
	fail     bool
	panics   bool

	mu       sync.Mutex
	attempts int
	lines    []string
}

func active(id int64, ident session.Identity) *fakeHandle {
	return &fakeHandle{id: id, identity: &ident}
}

func (f *fakeHandle) ID() int64 { return f.id }

func (f *fakeHandle) Identity() (session.Identity, bool) {
	if f.identity == nil {
		return session.Identity{}, false
	}
	return *f.identity, true
}

func (f *fakeHandle) Send(line string) error {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	if f.panics {
		panic("send exploded")
	}
	if f.fail {
		return errBroken
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeHandle) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeHandle) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type fakeSource []session.Handle

func (s fakeSource) Handles() []session.Handle {
	return append([]session.Handle(nil), s...)
}

func sourceOf(hs ...*fakeHandle) fakeSource {
	out := make(fakeSource, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func ids(hs []session.Handle) []int64 {
	out := make([]int64, len(hs))
	for i, h := range hs {
		out[i] = h.ID()
	}
	return out
}

type countingRecorder struct {
	mu         sync.Mutex
	broadcasts map[string]int
	delivered  map[string]int
	failed     map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		broadcasts: map[string]int{},
		delivered:  map[string]int{},
		failed:     map[string]int{},
	}
}

func (r *countingRecorder) Broadcast(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts[p]++
}

func (r *countingRecorder) Delivered(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[p]++
}

func (r *countingRecorder) SendFailed(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[p]++
}

// lookupCounter counts Identity calls on the wrapped handle.
type lookupCounter struct {
	*fakeHandle
	lookups atomic.Int32
}

func (c *lookupCounter) Identity() (session.Identity, bool) {
	c.lookups.Add(1)
	return c.fakeHandle.Identity()
}
