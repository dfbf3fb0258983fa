// Package gameserver binds the inbound client packets to session state and
// broadcasts.
package gameserver

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/session"
	"github.com/cory-johannsen/mudwire/internal/transport"
)

// IdentityStore loads and saves the identity a session attaches to.
type IdentityStore interface {
	Load(ctx context.Context, characterID int64) (session.Identity, error)
	SavePosition(ctx context.Context, characterID int64, x, y int) error
}

// Register routes every client packet on router.
//
// Postcondition: Returns an error if any header is already routed.
func Register(router *transport.Router, chat *ChatHandler, world *WorldHandler, social *SocialHandler) error {
	routes := []struct {
		header string
		fn     transport.HandlerFunc
	}{
		{packets.SelectPacket{}.Header(), world.Select},
		{packets.WalkPacket{}.Header(), world.Walk},
		{packets.ClientSayPacket{}.Header(), chat.Say},
		{packets.WhisperPacket{}.Header(), chat.Whisper},
		{packets.GroupJoinPacket{}.Header(), social.Join},
		{packets.GroupSayPacket{}.Header(), social.GroupSay},
		{packets.EmotePacket{}.Header(), social.Emote},
		{packets.HeroPacket{}.Header(), social.Hero},
		{packets.BlockPacket{}.Header(), social.Block},
	}
	for _, r := range routes {
		if err := router.Handle(r.header, r.fn); err != nil {
			return err
		}
	}
	router.OnDisconnect(world.Disconnected)
	return nil
}

// reply sends msg to s alone.
func reply(logger *zap.Logger, s session.Handle, msg packet.Message) {
	line, err := packet.Encode(msg)
	if err != nil {
		logger.Error("encoding reply", zap.String("header", msg.Header()), zap.Error(err))
		return
	}
	if err := s.Send(line); err != nil {
		logger.Debug("reply not delivered", zap.Int64("session_id", s.ID()), zap.Error(err))
	}
}

func notice(logger *zap.Logger, s session.Handle, text string) {
	reply(logger, s, packets.InfoPacket{Message: text})
}

// publish encodes msg and hands the envelope to b after apply fills in its filters.
func publish(logger *zap.Logger, b broadcast.Broadcaster, sender session.Handle, msg packet.Message, policy broadcast.Policy, apply func(*broadcast.Envelope)) {
	env, err := broadcast.NewEnvelope(sender, msg, policy)
	if err != nil {
		logger.Error("encoding broadcast", zap.String("header", msg.Header()), zap.Error(err))
		return
	}
	if apply != nil {
		apply(&env)
	}
	b.Broadcast(env)
}
