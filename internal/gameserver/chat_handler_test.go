package gameserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/transport"
)

func TestSay_ReachesEveryoneButSender(t *testing.T) {
	w := newWorld(t, newFakeStore())
	a := w.connect(t, 1, &alice)
	b := w.connect(t, 2, &bob)
	c := w.connect(t, 3, &carol)
	idle := w.connect(t, 4, nil)

	w.chat.Say(context.Background(), a, &packets.ClientSayPacket{Message: "hello there"})

	assert.Empty(t, drain(a))
	assert.Equal(t, []string{"say 1 1 0 hello there"}, drain(b))
	assert.Equal(t, []string{"say 1 1 0 hello there"}, drain(c))
	assert.Empty(t, drain(idle))
}

func TestSay_IgnoredWithoutIdentity(t *testing.T) {
	w := newWorld(t, newFakeStore())
	s := w.connect(t, 1, nil)
	b := w.connect(t, 2, &bob)
	w.chat.Say(context.Background(), s, &packets.ClientSayPacket{Message: "hi"})
	assert.Empty(t, drain(b))
}

func TestWhisper(t *testing.T) {
	w := newWorld(t, newFakeStore())
	a := w.connect(t, 1, &alice)
	b := w.connect(t, 2, &bob)
	c := w.connect(t, 3, &carol)
	ctx := context.Background()

	w.chat.Whisper(ctx, a, &packets.WhisperPacket{Message: "Bob meet me at the gate"})
	assert.Equal(t, []string{"say 1 1 5 Alice: meet me at the gate"}, drain(b))
	assert.Empty(t, drain(c))
	assert.Empty(t, drain(a))

	w.chat.Whisper(ctx, a, &packets.WhisperPacket{Message: "Dave hi"})
	assert.Equal(t, []string{"info Dave is not online."}, drain(a))

	w.chat.Whisper(ctx, a, &packets.WhisperPacket{Message: "Alice talking to myself"})
	assert.Equal(t, []string{"info Alice is not online."}, drain(a))

	w.chat.Whisper(ctx, a, &packets.WhisperPacket{Message: "Bob"})
	assert.Equal(t, []string{"info Usage: / <name> <message>"}, drain(a))
	assert.Empty(t, drain(b))
}

func TestRegister_RoutesClientPackets(t *testing.T) {
	w := newWorld(t, newFakeStore())
	router := transport.NewRouter(zaptest.NewLogger(t))
	require.NoError(t, Register(router, w.chat, w.world, w.social))
	assert.Equal(t, []string{"/", "blk", "emote", "gjoin", "gsay", "hero", "say", "select", "walk"}, router.Headers())

	assert.Error(t, Register(router, w.chat, w.world, w.social), "routes cannot be registered twice")
}
