package packets

// WhisperPacket is a private message. The first word of Message names the recipient.
type WhisperPacket struct {
	Message string `packet:"0,terminal"`
}

func (WhisperPacket) Header() string { return "/" }

// SelectPacket attaches the connection to one of the account's characters.
type SelectPacket struct {
	CharacterID int64 `packet:"0"`
}

func (SelectPacket) Header() string { return "select" }

// ClientSayPacket is a chat line typed by the player.
type ClientSayPacket struct {
	Message string `packet:"0,terminal"`
}

func (ClientSayPacket) Header() string { return "say" }

// WalkPacket moves the player's character to X, Y.
type WalkPacket struct {
	X     int   `packet:"0"`
	Y     int   `packet:"1"`
	Speed uint8 `packet:"2,omitempty"`
}

func (WalkPacket) Header() string { return "walk" }

// GroupJoinPacket moves the player into GroupID. Zero leaves the current group.
type GroupJoinPacket struct {
	GroupID int64 `packet:"0"`
}

func (GroupJoinPacket) Header() string { return "gjoin" }

// GroupSayPacket is a chat line for the player's group.
type GroupSayPacket struct {
	Message string `packet:"0,terminal"`
}

func (GroupSayPacket) Header() string { return "gsay" }

// BlockPacket sets which broadcast kinds the player hides.
type BlockPacket struct {
	Emote bool `packet:"0"`
	Hero  bool `packet:"1"`
}

func (BlockPacket) Header() string { return "blk" }

// EmotePacket is an action line, shown to players not blocking emotes.
type EmotePacket struct {
	Message string `packet:"0,terminal"`
}

func (EmotePacket) Header() string { return "emote" }

// HeroPacket is a world-wide hero announcement.
type HeroPacket struct {
	Message string `packet:"0,terminal"`
}

func (HeroPacket) Header() string { return "hero" }
