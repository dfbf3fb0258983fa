package gameserver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// SocialStore persists group membership and broadcast blocks.
type SocialStore interface {
	SetGroup(ctx context.Context, characterID, groupID int64) error
	SetBlocks(ctx context.Context, characterID int64, emote, hero bool) error
}

// SocialHandler handles groups, group chat, emotes, hero lines and blocks.
type SocialHandler struct {
	store       SocialStore
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
}

// NewSocialHandler creates a SocialHandler with the given dependencies.
//
// Precondition: all arguments must be non-nil.
func NewSocialHandler(store SocialStore, b broadcast.Broadcaster, logger *zap.Logger) *SocialHandler {
	return &SocialHandler{store: store, broadcaster: b, logger: logger}
}

// Join moves the character into the requested group, or out of its group
// when the id is zero. Members of the old and new group are told.
//
// Postcondition: Membership is persisted before the session changes.
func (h *SocialHandler) Join(ctx context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	target := msg.(*packets.GroupJoinPacket).GroupID
	switch {
	case target < 0:
		notice(h.logger, s, "Usage: gjoin <group>, or gjoin 0 to leave.")
		return
	case target == id.GroupID && target == 0:
		notice(h.logger, s, "You are not in a group.")
		return
	case target == id.GroupID:
		notice(h.logger, s, "You are already in that group.")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := h.store.SetGroup(ctx, id.CharacterID, target); err != nil {
		h.logger.Error("saving group",
			zap.Int64("character_id", id.CharacterID),
			zap.Int64("group_id", target),
			zap.Error(err),
		)
		notice(h.logger, s, "Your group could not be changed.")
		return
	}

	if id.GroupID != 0 {
		h.tellGroup(s, id, id.Name+" left the group.")
	}
	s.UpdateIdentity(func(i *session.Identity) { i.GroupID = target })
	if target == 0 {
		notice(h.logger, s, "You left your group.")
		return
	}
	id.GroupID = target
	h.tellGroup(s, id, id.Name+" joined the group.")
	notice(h.logger, s, fmt.Sprintf("You joined group %d.", target))
}

func (h *SocialHandler) tellGroup(s *session.Session, id session.Identity, text string) {
	publish(h.logger, h.broadcaster, s, packets.InfoPacket{Message: text}, broadcast.Group, func(env *broadcast.Envelope) {
		env.ExcludeIdentityID = id.CharacterID
	})
}

// GroupSay relays a chat line to every member of the sender's group, the
// sender included.
func (h *SocialHandler) GroupSay(_ context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	if id.GroupID == 0 {
		notice(h.logger, s, "You are not in a group.")
		return
	}
	say := packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   id.CharacterID,
		Type:       packets.SayGroup,
		Message:    id.Name + ": " + msg.(*packets.GroupSayPacket).Message,
	}
	publish(h.logger, h.broadcaster, s, say, broadcast.Group, nil)
}

// Emote shows an action line to every player not blocking emotes.
func (h *SocialHandler) Emote(_ context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	say := packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   id.CharacterID,
		Type:       packets.SayWhite,
		Message:    "* " + id.Name + " " + msg.(*packets.EmotePacket).Message,
	}
	publish(h.logger, h.broadcaster, s, say, broadcast.FilteredByEmoteBlock, nil)
}

// Hero announces a line to every player not blocking hero messages.
func (h *SocialHandler) Hero(_ context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	say := packets.SayPacket{
		VisualType: packets.VisualCharacter,
		VisualID:   id.CharacterID,
		Type:       packets.SayHero,
		Message:    id.Name + ": " + msg.(*packets.HeroPacket).Message,
	}
	publish(h.logger, h.broadcaster, s, say, broadcast.FilteredByHeroBlock, nil)
}

// Block records which broadcast kinds the character hides.
//
// Postcondition: The blocks are persisted before the session changes.
func (h *SocialHandler) Block(ctx context.Context, s *session.Session, msg packet.Message) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	p := msg.(*packets.BlockPacket)

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := h.store.SetBlocks(ctx, id.CharacterID, p.Emote, p.Hero); err != nil {
		h.logger.Error("saving blocks",
			zap.Int64("character_id", id.CharacterID),
			zap.Error(err),
		)
		notice(h.logger, s, "Your blocks could not be changed.")
		return
	}
	s.UpdateIdentity(func(i *session.Identity) {
		i.EmoteBlocked, i.HeroBlocked = p.Emote, p.Hero
	})
	notice(h.logger, s, fmt.Sprintf("Emotes %s, hero messages %s.", shown(p.Emote), shown(p.Hero)))
}

func shown(blocked bool) string {
	if blocked {
		return "hidden"
	}
	return "shown"
}
