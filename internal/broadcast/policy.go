package broadcast

import (
	"errors"
	"fmt"
)

// Policy selects which sessions receive a broadcast.
type Policy uint8

const (
	// All reaches every session with an active identity.
	All Policy = iota
	// AllExceptSender reaches every session but the sender's.
	AllExceptSender
	// AllInGeometricRange reaches sessions whose position lies within the
	// dispatcher's radius of the envelope origin.
	AllInGeometricRange
	// Group reaches the members of the sender's group, the sender included.
	Group
	// AllExceptGroup reaches everyone outside the sender's group.
	AllExceptGroup
	// FilteredByEmoteBlock reaches sessions that have not blocked emotes.
	FilteredByEmoteBlock
	// FilteredByHeroBlock reaches sessions that have not blocked hero messages.
	FilteredByHeroBlock
)

// ErrUnknownPolicy is returned by ParsePolicy and Envelope.Validate.
var ErrUnknownPolicy = errors.New("unknown receiver policy")

var policyNames = [...]string{
	All:                  "all",
	AllExceptSender:      "all_except_sender",
	AllInGeometricRange:  "all_in_range",
	Group:                "group",
	AllExceptGroup:       "all_except_group",
	FilteredByEmoteBlock: "emote_block",
	FilteredByHeroBlock:  "hero_block",
}

// String returns the policy's metric and log label.
func (p Policy) String() string {
	if !p.Valid() {
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
	return policyNames[p]
}

// Valid reports whether p is one of the declared policies.
func (p Policy) Valid() bool {
	return int(p) < len(policyNames)
}

// NeedsSender reports whether the policy is defined relative to a sender.
func (p Policy) NeedsSender() bool {
	switch p {
	case AllExceptSender, Group, AllExceptGroup:
		return true
	}
	return false
}

// ParsePolicy returns the policy labelled s.
//
// Postcondition: Returns the policy, or an error wrapping ErrUnknownPolicy.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if name == s {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}
