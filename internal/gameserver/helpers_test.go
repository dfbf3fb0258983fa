package gameserver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/session"
	"github.com/cory-johannsen/mudwire/internal/storage/postgres"
)

var errDatabaseDown = errors.New("database down")

type fakeStore struct {
	mu     sync.Mutex
	chars  map[int64]session.Identity
	saved  map[int64][2]int
	groups map[int64]int64
	blocks map[int64][2]bool
	fail   bool
}

func newFakeStore(ids ...session.Identity) *fakeStore {
	s := &fakeStore{
		chars:  map[int64]session.Identity{},
		saved:  map[int64][2]int{},
		groups: map[int64]int64{},
		blocks: map[int64][2]bool{},
	}
	for _, id := range ids {
		s.chars[id.CharacterID] = id
	}
	return s
}

func (f *fakeStore) Load(_ context.Context, id int64) (session.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return session.Identity{}, errDatabaseDown
	}
	c, ok := f.chars[id]
	if !ok {
		return session.Identity{}, postgres.ErrCharacterNotFound
	}
	return c, nil
}

func (f *fakeStore) SavePosition(_ context.Context, id int64, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errDatabaseDown
	}
	f.saved[id] = [2]int{x, y}
	return nil
}

func (f *fakeStore) SetGroup(_ context.Context, id, groupID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errDatabaseDown
	}
	f.groups[id] = groupID
	return nil
}

func (f *fakeStore) SetBlocks(_ context.Context, id int64, emote, hero bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errDatabaseDown
	}
	f.blocks[id] = [2]bool{emote, hero}
	return nil
}

type world struct {
	reg    *session.Registry
	store  *fakeStore
	chat   *ChatHandler
	world  *WorldHandler
	social *SocialHandler
}

func newWorld(t *testing.T, store *fakeStore) *world {
	t.Helper()
	reg := session.NewRegistry()
	logger := zaptest.NewLogger(t)
	d := broadcast.New(reg, broadcast.WithLogger(logger), broadcast.WithRangeRadius(10))
	return &world{
		reg:    reg,
		store:  store,
		chat:   NewChatHandler(reg, d, logger),
		world:  NewWorldHandler(store, reg, d, logger),
		social: NewSocialHandler(store, d, logger),
	}
}

// connect registers a session, attached to ident when non-nil.
func (w *world) connect(t *testing.T, id int64, ident *session.Identity) *session.Session {
	t.Helper()
	s := session.New(id, "", 32)
	if ident != nil {
		s.Attach(*ident)
	}
	require.NoError(t, w.reg.Register(s))
	return s
}

// drain returns every line queued on s.
func drain(s *session.Session) []string {
	var out []string
	for {
		select {
		case line := <-s.Outbox().Lines():
			out = append(out, line)
		default:
			return out
		}
	}
}

// gatedStore blocks every Load until gate is closed.
type gatedStore struct {
	*fakeStore
	entered chan struct{}
	gate    chan struct{}
	loads   atomic.Int32
}

func (g *gatedStore) Load(ctx context.Context, id int64) (session.Identity, error) {
	g.loads.Add(1)
	g.entered <- struct{}{}
	<-g.gate
	return g.fakeStore.Load(ctx, id)
}
