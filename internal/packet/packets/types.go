// Package packets holds the message catalog of the game protocol.
package packets

// VisualType identifies the kind of entity a packet refers to.
type VisualType uint8

const (
	VisualCharacter VisualType = 1
	VisualNPC       VisualType = 2
	VisualMonster   VisualType = 3
	VisualObject    VisualType = 9
)

// SayColor selects how a client renders a chat line.
type SayColor uint8

const (
	SayWhite   SayColor = 0
	SayGroup   SayColor = 3
	SayWhisper SayColor = 5
	SayNotice  SayColor = 10
	SayHero    SayColor = 11
)
