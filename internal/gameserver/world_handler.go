package gameserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/packet/packets"
	"github.com/cory-johannsen/mudwire/internal/session"
	"github.com/cory-johannsen/mudwire/internal/storage/postgres"
)

const saveTimeout = 5 * time.Second

// WorldHandler handles character selection and movement.
type WorldHandler struct {
	store       IdentityStore
	sessions    *session.Registry
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
}

// NewWorldHandler creates a WorldHandler with the given dependencies.
//
// Precondition: all arguments must be non-nil.
func NewWorldHandler(store IdentityStore, sessions *session.Registry, b broadcast.Broadcaster, logger *zap.Logger) *WorldHandler {
	return &WorldHandler{store: store, sessions: sessions, broadcaster: b, logger: logger}
}

// Select attaches the session to the requested character and announces its
// position to nearby players.
//
// Postcondition: The session is attached, or the client receives an info line
// explaining why not.
func (h *WorldHandler) Select(ctx context.Context, s *session.Session, msg packet.Message) {
	p := msg.(*packets.SelectPacket)
	if s.HasActiveIdentity() {
		notice(h.logger, s, "A character is already selected.")
		return
	}
	if other, ok := h.sessions.FindByCharacter(p.CharacterID); ok && other.ID() != s.ID() {
		notice(h.logger, s, "That character is already in play.")
		return
	}
	if !h.sessions.ClaimCharacter(p.CharacterID, s.ID()) {
		notice(h.logger, s, "That character is already in play.")
		return
	}

	id, err := h.store.Load(ctx, p.CharacterID)
	if err != nil {
		h.sessions.ReleaseCharacter(p.CharacterID, s.ID())
		if errors.Is(err, postgres.ErrCharacterNotFound) {
			notice(h.logger, s, "No such character.")
			return
		}
		h.logger.Error("loading character",
			zap.Int64("session_id", s.ID()),
			zap.Int64("character_id", p.CharacterID),
			zap.Error(err),
		)
		notice(h.logger, s, "The character could not be loaded.")
		return
	}

	s.Attach(id)
	h.logger.Info("character selected",
		zap.Int64("session_id", s.ID()),
		zap.Int64("character_id", id.CharacterID),
		zap.String("name", id.Name),
	)
	notice(h.logger, s, fmt.Sprintf("Welcome, %s.", id.Name))
	h.announce(s, id, 0)
}

// Walk moves the session's character and tells nearby players.
func (h *WorldHandler) Walk(_ context.Context, s *session.Session, msg packet.Message) {
	p := msg.(*packets.WalkPacket)
	if !s.UpdateIdentity(func(id *session.Identity) { id.X, id.Y = p.X, p.Y }) {
		return
	}
	id, _ := s.Identity()
	h.announce(s, id, p.Speed)
}

func (h *WorldHandler) announce(s *session.Session, id session.Identity, speed uint8) {
	mv := packets.MovePacket{
		VisualType: packets.VisualCharacter,
		VisualID:   id.CharacterID,
		X:          id.X,
		Y:          id.Y,
		Speed:      speed,
	}
	publish(h.logger, h.broadcaster, s, mv, broadcast.AllInGeometricRange, func(env *broadcast.Envelope) {
		env.Origin = &broadcast.Point{X: id.X, Y: id.Y}
		env.ExcludeIdentityID = id.CharacterID
	})
}

// Disconnected saves the position of the character the session was attached
// to and releases its claim.
func (h *WorldHandler) Disconnected(ctx context.Context, s *session.Session) {
	id, ok := s.Identity()
	if !ok {
		return
	}
	defer h.sessions.ReleaseCharacter(id.CharacterID, s.ID())
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := h.store.SavePosition(ctx, id.CharacterID, id.X, id.Y); err != nil {
		h.logger.Warn("saving position",
			zap.Int64("character_id", id.CharacterID),
			zap.Error(err),
		)
	}
}
