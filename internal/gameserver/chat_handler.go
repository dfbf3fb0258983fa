package gameserver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// ChatHandler handles say and whisper.
type ChatHandler struct {
	sessions    *session.Registry
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
}

// NewChatHandler creates a ChatHandler with the given dependencies.
//
// Precondition: all arguments must be non-nil.
func NewChatHandler(sessions *session.Registry, b broadcast.Broadcaster, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, broadcaster: b, logger: logger}
}

// Say relays the sender's chat line to every other player.
func (h *ChatHandler) Say(_ context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	say := packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   id.CharacterID,
		Type:       packets.SayWhite,
		Message:    msg.(*packets.ClientSayPacket).Message,
	}
	publish(h.logger, h.broadcaster, s, say, broadcast.AllExceptSender, nil)
}

// Whisper delivers a private line. The first word of the message names the recipient.
//
// Postcondition: The recipient receives a whisper, or the sender receives an info line.
func (h *ChatHandler) Whisper(_ context.Context, s *session.Session, msg packet.Message) {
	from, ok := s.Identity()
	if !ok {
		return
	}
	name, text, _ := strings.Cut(msg.(*packets.WhisperPacket).Message, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		notice(h.logger, s, "Usage: / <name> <message>")
		return
	}

	target, ok := h.sessions.FindByName(name)
	if !ok || target.ID() == s.ID() {
		notice(h.logger, s, fmt.Sprintf("%s is not online.", name))
		return
	}
	reply(h.logger, target, packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   from.CharacterID,
		Type:       packets.SayWhisper,
		Message:    from.Name + ": " + text,
	})
}
