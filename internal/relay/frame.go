package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cory-johannsen/mudwire/internal/broadcast"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// ErrMalformedFrame is returned when a relay message cannot be decoded.
var ErrMalformedFrame = errors.New("malformed relay frame")

// Frame is the pub/sub representation of one broadcast envelope.
type Frame struct {
	ID                string           `json:"id"`
	Node              string           `json:"node"`
	Policy            string           `json:"policy"`
	Payload           string           `json:"payload"`
	ExcludeIdentityID int64            `json:"exclude_identity_id,omitempty"`
	ExcludeName       string           `json:"exclude_name,omitempty"`
	Origin            *broadcast.Point `json:"origin,omitempty"`
	// HasSender is set when the envelope had a sender; Sender is its
	// identity, nil if none was attached.
	HasSender bool              `json:"has_sender,omitempty"`
	Sender    *session.Identity `json:"sender,omitempty"`
}

// NewFrame captures env for publication by node.
func NewFrame(id, node string, env broadcast.Envelope) Frame {
	f := Frame{
		ID:                id,
		Node:              node,
		Policy:            env.Policy.String(),
		Payload:           env.Payload,
		ExcludeIdentityID: env.ExcludeIdentityID,
		ExcludeName:       env.ExcludeName,
		Origin:            env.Origin,
	}
	if env.Sender != nil {
		f.HasSender = true
		if ident, ok := env.Sender.Identity(); ok {
			f.Sender = &ident
		}
	}
	return f
}

// Envelope rebuilds the broadcast envelope. A sender is represented by a
// handle that is never registered on the receiving node.
//
// Postcondition: Returns the envelope, or an error wrapping broadcast.ErrUnknownPolicy.
func (f Frame) Envelope() (broadcast.Envelope, error) {
	policy, err := broadcast.ParsePolicy(f.Policy)
	if err != nil {
		return broadcast.Envelope{}, err
	}
	env := broadcast.Envelope{
		Payload:           f.Payload,
		Policy:            policy,
		ExcludeIdentityID: f.ExcludeIdentityID,
		ExcludeName:       f.ExcludeName,
		Origin:            f.Origin,
	}
	if f.HasSender {
		env.Sender = remoteSender{identity: f.Sender}
	}
	return env, nil
}

// EncodeFrame serialises f.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding relay frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a frame published by EncodeFrame.
//
// Postcondition: Returns the frame, or an error wrapping ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Node == "" || f.Payload == "" {
		return Frame{}, fmt.Errorf("%w: missing node or payload", ErrMalformedFrame)
	}
	return f, nil
}

// remoteSender stands in for a sender connected to another node. Its zero
// session id never matches a local session.
type remoteSender struct {
	identity *session.Identity
}

func (remoteSender) ID() int64 { return 0 }

func (s remoteSender) Identity() (session.Identity, bool) {
	if s.identity == nil {
		return session.Identity{}, false
	}
	return *s.identity, true
}

func (remoteSender) Send(string) error { return nil }
