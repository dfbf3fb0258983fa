package broadcast

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/mudwire/internal/packet"
	"github.com/cory-johannsen/mudwire/internal/session"
)

// Reasons a broadcast is skipped without delivering anything.
var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrSenderRequired = errors.New("policy requires a sender")
	ErrNoGroup        = errors.New("sender is not in a group")
	ErrOriginRequired = errors.New("range policy requires an origin")
)

// Point is a map position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Envelope pairs an encoded payload with its delivery rules for one broadcast.
type Envelope struct {
	// Sender is nil for server-originated broadcasts.
	Sender  session.Handle
	Payload string
	Policy  Policy
	// ExcludeIdentityID drops the session attached to this character. Zero excludes nobody.
	ExcludeIdentityID int64
	// ExcludeName drops the session whose identity carries this name.
	ExcludeName string
	// Origin is the centre of an AllInGeometricRange broadcast.
	Origin *Point
}

// NewEnvelope encodes msg into an envelope addressed by policy.
//
// Postcondition: Returns the envelope, or the *packet.SchemaError raised by encoding.
func NewEnvelope(sender session.Handle, msg packet.Message, policy Policy) (Envelope, error) {
	line, err := packet.Encode(msg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Sender: sender, Payload: line, Policy: policy}, nil
}

// Validate reports why the envelope cannot select any recipient.
//
// Postcondition: Returns nil when the envelope is deliverable.
func (e Envelope) Validate() error {
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if !e.Policy.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPolicy, uint8(e.Policy))
	}
	if e.Policy.NeedsSender() && e.Sender == nil {
		return fmt.Errorf("%w: %s", ErrSenderRequired, e.Policy)
	}
	switch e.Policy {
	case Group:
		id, ok := e.Sender.Identity()
		if !ok || id.GroupID == 0 {
			return ErrNoGroup
		}
	case AllInGeometricRange:
		if e.Origin == nil {
			return ErrOriginRequired
		}
	}
	return nil
}
