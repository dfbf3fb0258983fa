package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/session"
)

func TestDispatcher_AllSkipsInactive(t *testing.T) {
	a := active(1, session.Identity{CharacterID: 10})
	b := active(2, session.Identity{CharacterID: 20})
	idle := &fakeHandle{id: 3}
	d := New(sourceOf(a, b, idle))

	d.Broadcast(Envelope{Payload: "info hi", Policy: All})

	assert.Equal(t, []string{"info hi"}, a.Lines())
	assert.Equal(t, []string{"info hi"}, b.Lines())
	assert.Zero(t, idle.Attempts())
}

func TestDispatcher_AllExceptSender(t *testing.T) {
	sender := active(1, session.Identity{CharacterID: 10})
	others := []*fakeHandle{
		active(2, session.Identity{CharacterID: 20}),
		active(3, session.Identity{CharacterID: 30}),
	}
	d := New(sourceOf(append(others, sender)...))

	d.Broadcast(Envelope{Sender: sender, Payload: "say 1 10 0 hi", Policy: AllExceptSender})

	assert.Zero(t, sender.Attempts())
	for _, o := range others {
		assert.Equal(t, 1, o.Attempts())
	}
}

func TestDispatcher_AllExceptSenderMatchesRemoteIdentity(t *testing.T) {
	local := active(1, session.Identity{CharacterID: 10})
	other := active(2, session.Identity{CharacterID: 20})
	remote := active(0, session.Identity{CharacterID: 10})
	d := New(sourceOf(local, other))

	got := d.Select(Envelope{Sender: remote, Payload: "x", Policy: AllExceptSender})
	assert.Equal(t, []int64{2}, ids(got))
}

func TestDispatcher_SenderRequiredIsNoop(t *testing.T) {
	a := active(1, session.Identity{CharacterID: 10})
	rec := newCountingRecorder()
	d := New(sourceOf(a), WithMetrics(rec))

	assert.NotPanics(t, func() {
		d.Broadcast(Envelope{Payload: "x", Policy: AllExceptSender})
	})
	assert.Zero(t, a.Attempts())
	assert.Zero(t, rec.broadcasts[AllExceptSender.String()])
}

func TestDispatcher_EmptyPayloadIsNoop(t *testing.T) {
	a := active(1, session.Identity{CharacterID: 10})
	d := New(sourceOf(a))
	d.Broadcast(Envelope{Policy: All})
	assert.Zero(t, a.Attempts())
}

func TestDispatcher_Range(t *testing.T) {
	near := active(1, session.Identity{CharacterID: 1, X: 10, Y: 10})
	edge := active(2, session.Identity{CharacterID: 2, X: 15, Y: 5})
	far := active(3, session.Identity{CharacterID: 3, X: 16, Y: 10})
	d := New(sourceOf(near, edge, far), WithRangeRadius(5))

	got := d.Select(Envelope{Payload: "x", Policy: AllInGeometricRange, Origin: &Point{X: 10, Y: 10}})
	assert.ElementsMatch(t, []int64{1, 2}, ids(got))
}

func TestDispatcher_BroadcastInRange(t *testing.T) {
	near := active(1, session.Identity{CharacterID: 1, X: 0, Y: 0})
	far := active(2, session.Identity{CharacterID: 2, X: 500, Y: 500})
	d := New(sourceOf(near, far))

	d.BroadcastInRange(packets.MovePacket{VisualType: packets.VisualNPC, VisualID: 7, X: 3, Y: 4}, 3, 4)

	assert.Equal(t, []string{"mv 2 7 3 4"}, near.Lines())
	assert.Zero(t, far.Attempts())
}

func TestDispatcher_Group(t *testing.T) {
	sender := active(1, session.Identity{CharacterID: 1, GroupID: 7})
	mate := active(2, session.Identity{CharacterID: 2, GroupID: 7})
	stranger := active(3, session.Identity{CharacterID: 3, GroupID: 8})
	solo := active(4, session.Identity{CharacterID: 4})
	d := New(sourceOf(sender, mate, stranger, solo))

	got := d.Select(Envelope{Sender: sender, Payload: "x", Policy: Group})
	assert.ElementsMatch(t, []int64{1, 2}, ids(got))

	got = d.Select(Envelope{Sender: sender, Payload: "x", Policy: AllExceptGroup})
	assert.ElementsMatch(t, []int64{3, 4}, ids(got))
}

func TestDispatcher_AllExceptGroupSoloSender(t *testing.T) {
	sender := active(1, session.Identity{CharacterID: 1})
	solo := active(2, session.Identity{CharacterID: 2})
	grouped := active(3, session.Identity{CharacterID: 3, GroupID: 5})
	d := New(sourceOf(sender, solo, grouped))

	got := d.Select(Envelope{Sender: sender, Payload: "x", Policy: AllExceptGroup})
	assert.ElementsMatch(t, []int64{2, 3}, ids(got))
}

func TestDispatcher_BlockFilters(t *testing.T) {
	open := active(1, session.Identity{CharacterID: 1})
	emote := active(2, session.Identity{CharacterID: 2, EmoteBlocked: true})
	hero := active(3, session.Identity{CharacterID: 3, HeroBlocked: true})
	d := New(sourceOf(open, emote, hero))

	got := d.Select(Envelope{Payload: "x", Policy: FilteredByEmoteBlock})
	assert.ElementsMatch(t, []int64{1, 3}, ids(got))

	got = d.Select(Envelope{Payload: "x", Policy: FilteredByHeroBlock})
	assert.ElementsMatch(t, []int64{1, 2}, ids(got))
}

func TestDispatcher_ExclusionsCombineWithPolicy(t *testing.T) {
	a := active(1, session.Identity{CharacterID: 1, Name: "Alice", X: 0, Y: 0})
	b := active(2, session.Identity{CharacterID: 2, Name: "Bob", X: 1, Y: 1, EmoteBlocked: true})
	c := active(3, session.Identity{CharacterID: 3, Name: "Carol", X: 2, Y: 2})
	far := active(4, session.Identity{CharacterID: 4, Name: "Dave", X: 900, Y: 900})
	d := New(sourceOf(a, b, c, far))

	got := d.Select(Envelope{
		Payload:           "x",
		Policy:            AllInGeometricRange,
		Origin:            &Point{},
		ExcludeIdentityID: 1,
		ExcludeName:       "Carol",
	})
	assert.Equal(t, []int64{2}, ids(got))
}

func TestDispatcher_FaultIsolation(t *testing.T) {
	good := active(1, session.Identity{CharacterID: 1})
	bad := active(2, session.Identity{CharacterID: 2})
	bad.fail = true
	boom := active(3, session.Identity{CharacterID: 3})
	boom.panics = true
	also := active(4, session.Identity{CharacterID: 4})

	core, logs := observer.New(zapcore.DebugLevel)
	rec := newCountingRecorder()
	d := New(sourceOf(good, bad, boom, also), WithLogger(zap.New(core)), WithMetrics(rec))

	assert.NotPanics(t, func() { d.Broadcast(Envelope{Payload: "info hi", Policy: All}) })

	for _, h := range []*fakeHandle{good, bad, boom, also} {
		assert.Equal(t, 1, h.Attempts(), "session %d", h.id)
	}
	assert.Equal(t, 1, rec.broadcasts["all"])
	assert.Equal(t, 2, rec.delivered["all"])
	assert.Equal(t, 2, rec.failed["all"])

	failures := logs.FilterMessage("send failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(2), failures[0].ContextMap()["session_id"])
	assert.NotEmpty(t, failures[0].ContextMap()["broadcast_id"])
	assert.Equal(t, 1, logs.FilterMessage("recipient send panicked").Len())
}

func TestDispatcher_BroadcastMessageEncodeFailure(t *testing.T) {
	a := active(1, session.Identity{CharacterID: 1})
	core, logs := observer.New(zapcore.ErrorLevel)
	d := New(sourceOf(a), WithLogger(zap.New(core)))

	d.BroadcastMessage(nil, packets.InfoPacket{}, All)

	assert.Zero(t, a.Attempts())
	assert.Equal(t, 1, logs.FilterMessage("encoding broadcast").Len())
}

func TestDispatcher_BroadcastMessage(t *testing.T) {
	sender := active(1, session.Identity{CharacterID: 10})
	other := active(2, session.Identity{CharacterID: 20})
	d := New(sourceOf(sender, other), WithWorkers(1))

	d.BroadcastMessage(sender, packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   10,
		Type:       packets.SayWhite,
		Message:    "hello there",
	}, AllExceptSender)

	assert.Equal(t, []string{"say 1 10 0 hello there"}, other.Lines())
	assert.Zero(t, sender.Attempts())
}

func TestDispatcher_OptionsIgnoreInvalid(t *testing.T) {
	d := New(fakeSource{}, WithWorkers(0), WithRangeRadius(-1))
	assert.Equal(t, DefaultWorkers, d.workers)
	assert.Equal(t, DefaultRangeRadius, d.radius)
}

func TestDispatcher_ConcurrentUnregisterDuringBroadcast(t *testing.T) {
	reg := session.NewRegistry()
	var sessions []*session.Session
	for i := int64(1); i <= 100; i++ {
		s := session.New(i, "", 16)
		s.Attach(session.Identity{CharacterID: i})
		require.NoError(t, reg.Register(s))
		sessions = append(sessions, s)
	}
	d := New(reg, WithWorkers(8))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			d.Broadcast(Envelope{Payload: "info tick", Policy: All})
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range sessions[:50] {
			if _, err := reg.Unregister(s.ID()); err == nil {
				s.Close()
			}
		}
	}()
	wg.Wait()

	for _, s := range sessions[50:] {
		assert.Equal(t, 10, s.Outbox().Len(), "session %d", s.ID())
	}
}

func TestPropertyFaultIsolation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "n")
		k := rapid.IntRange(0, n-1).Draw(t, "k")
		workers := rapid.IntRange(1, 8).Draw(t, "workers")

		hs := make([]*fakeHandle, n)
		for i := range hs {
			hs[i] = active(int64(i+1), session.Identity{CharacterID: int64(i + 1)})
		}
		hs[k].fail = true

		New(sourceOf(hs...), WithWorkers(workers)).Broadcast(Envelope{Payload: "info hi", Policy: All})

		for i, h := range hs {
			if h.Attempts() != 1 {
				t.Fatalf("session %d attempted %d sends", i+1, h.Attempts())
			}
		}
	})
}

func TestPropertyExceptSenderNeverReachesSender(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(t, "n")
		s := rapid.IntRange(0, n-1).Draw(t, "sender")

		hs := make([]*fakeHandle, n)
		for i := range hs {
			if rapid.Bool().Draw(t, "active") || i == s {
				hs[i] = active(int64(i+1), session.Identity{CharacterID: int64(i + 1)})
			} else {
				hs[i] = &fakeHandle{id: int64(i + 1)}
			}
		}

		New(sourceOf(hs...)).Broadcast(Envelope{Sender: hs[s], Payload: "x", Policy: AllExceptSender})

		for i, h := range hs {
			want := 1
			if i == s || h.identity == nil {
				want = 0
			}
			if h.Attempts() != want {
				t.Fatalf("session %d: %d attempts, want %d", i+1, h.Attempts(), want)
			}
		}
	})
}

func TestDispatcher_BroadcastValidatesOnce(t *testing.T) {
	mate := active(2, session.Identity{CharacterID: 20, GroupID: 4})
	sender := &lookupCounter{fakeHandle: active(1, session.Identity{CharacterID: 10, GroupID: 4})}
	d := New(sourceOf(mate))

	d.Broadcast(Envelope{Sender: sender, Payload: "say 1 10 3 regroup", Policy: Group})

	assert.Equal(t, []string{"say 1 10 3 regroup"}, mate.Lines())
	// One lookup to validate the group, one to build the predicate.
	assert.Equal(t, int32(2), sender.lookups.Load())
}
