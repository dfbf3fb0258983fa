// Package broadcast fans encoded lines out to the sessions selected by a
// receiver policy.
package broadcast

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// Default dispatcher settings.
const (
	DefaultWorkers     = 32
	DefaultRangeRadius = 50
)

// Source yields the candidate recipients of a broadcast. Each call returns a
// fresh snapshot that the caller may retain.
type Source interface {
	Handles() []session.Handle
}

// Recorder counts broadcast outcomes by policy label.
type Recorder interface {
	Broadcast(policy string)
	Delivered(policy string)
	SendFailed(policy string)
}

// Broadcaster delivers envelopes.
type Broadcaster interface {
	Broadcast(env Envelope)
}

type nopRecorder struct{}

func (nopRecorder) Broadcast(string)  {}
func (nopRecorder) Delivered(string)  {}
func (nopRecorder) SendFailed(string) {}

// Dispatcher selects recipients from a Source and delivers to them in parallel.
// A failing recipient never affects delivery to the others.
// All methods are safe for concurrent use.
type Dispatcher struct {
	source   Source
	logger   *zap.Logger
	recorder Recorder
	workers  int
	radius   int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the recorder of broadcast outcomes.
func WithMetrics(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithWorkers bounds the number of concurrent sends within one broadcast.
// Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.workers = n
		}
	}
}

// WithRangeRadius sets the Chebyshev radius of AllInGeometricRange.
// Negative values are ignored.
func WithRangeRadius(r int) Option {
	return func(d *Dispatcher) {
		if r >= 0 {
			d.radius = r
		}
	}
}

// New creates a Dispatcher over source.
//
// Precondition: source must be non-nil.
func New(source Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:   source,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		workers:  DefaultWorkers,
		radius:   DefaultRangeRadius,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Select returns the sessions env would be delivered to. Sessions without an
// active identity are never selected.
//
// Postcondition: Returns nil when env fails Validate.
func (d *Dispatcher) Select(env Envelope) []session.Handle {
	if env.Validate() != nil {
		return nil
	}
	return d.selectValid(env)
}

// selectValid is Select for an envelope that already passed Validate.
func (d *Dispatcher) selectValid(env Envelope) []session.Handle {
	match := d.predicate(env)
	return lo.Filter(d.source.Handles(), func(h session.Handle, _ int) bool {
		if h == nil {
			return false
		}
		id, active := h.Identity()
		if !active {
			return false
		}
		if env.ExcludeIdentityID != 0 && id.CharacterID == env.ExcludeIdentityID {
			return false
		}
		if env.ExcludeName != "" && id.Name == env.ExcludeName {
			return false
		}
		return match(h, id)
	})
}

func (d *Dispatcher) predicate(env Envelope) func(session.Handle, session.Identity) bool {
	var sender session.Identity
	if env.Sender != nil {
		sender, _ = env.Sender.Identity()
	}
	isSender := func(h session.Handle, id session.Identity) bool {
		if env.Sender == nil {
			return false
		}
		if env.Sender.ID() != 0 && h.ID() == env.Sender.ID() {
			return true
		}
		return sender.CharacterID != 0 && id.CharacterID == sender.CharacterID
	}

	switch env.Policy {
	case AllExceptSender:
		return func(h session.Handle, id session.Identity) bool { return !isSender(h, id) }
	case AllInGeometricRange:
		o := *env.Origin
		return func(_ session.Handle, id session.Identity) bool {
			return chebyshev(id.X-o.X, id.Y-o.Y) <= d.radius
		}
	case Group:
		return func(_ session.Handle, id session.Identity) bool { return id.GroupID == sender.GroupID }
	case AllExceptGroup:
		return func(h session.Handle, id session.Identity) bool {
			if isSender(h, id) {
				return false
			}
			return sender.GroupID == 0 || id.GroupID != sender.GroupID
		}
	case FilteredByEmoteBlock:
		return func(_ session.Handle, id session.Identity) bool { return !id.EmoteBlocked }
	case FilteredByHeroBlock:
		return func(_ session.Handle, id session.Identity) bool { return !id.HeroBlocked }
	}
	return func(session.Handle, session.Identity) bool { return true }
}

func chebyshev(dx, dy int) int {
	return max(abs(dx), abs(dy))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Broadcast delivers env to every selected session and returns once each
// send has completed or failed. Failures are logged and counted, never returned.
func (d *Dispatcher) Broadcast(env Envelope) {
	policy := env.Policy.String()
	if err := env.Validate(); err != nil {
		d.logger.Debug("skipping broadcast", zap.String("policy", policy), zap.Error(err))
		return
	}

	recipients := d.selectValid(env)
	d.recorder.Broadcast(policy)
	if len(recipients) == 0 {
		return
	}

	id := uuid.NewString()
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, h := range recipients {
		g.Go(func() error {
			if !d.deliver(id, policy, env.Payload, h) {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Debug("broadcast delivered",
		zap.String("broadcast_id", id),
		zap.String("policy", policy),
		zap.Int("recipients", len(recipients)),
		zap.Int64("failed", failed.Load()),
	)
}

func (d *Dispatcher) deliver(id, policy, payload string, h session.Handle) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			d.recorder.SendFailed(policy)
			d.logger.Error("recipient send panicked",
				zap.String("broadcast_id", id),
				zap.Int64("session_id", h.ID()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := h.Send(payload); err != nil {
		d.recorder.SendFailed(policy)
		d.logger.Warn("send failed",
			zap.String("broadcast_id", id),
			zap.String("policy", policy),
			zap.Int64("session_id", h.ID()),
			zap.Error(err),
		)
		return false
	}
	d.recorder.Delivered(policy)
	return true
}

// BroadcastMessage encodes msg and broadcasts it under policy. An encode
// failure is a programming error; it is logged and nothing is sent.
func (d *Dispatcher) BroadcastMessage(sender session.Handle, msg packet.Message, policy Policy) {
	env, err := NewEnvelope(sender, msg, policy)
	if err != nil {
		d.logger.Error("encoding broadcast", zap.String("policy", policy.String()), zap.Error(err))
		return
	}
	d.Broadcast(env)
}

// BroadcastInRange encodes msg and sends it to every session within range of (x, y).
func (d *Dispatcher) BroadcastInRange(msg packet.Message, x, y int) {
	env, err := NewEnvelope(nil, msg, AllInGeometricRange)
	if err != nil {
		d.logger.Error("encoding broadcast", zap.String("policy", AllInGeometricRange.String()), zap.Error(err))
		return
	}
	env.Origin = &Point{X: x, Y: y}
	d.Broadcast(env)
}
