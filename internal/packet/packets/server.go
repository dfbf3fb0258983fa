package packets

// FinfoPacket reports the online state of friends.
type FinfoPacket struct {
	FriendList []FinfoSubPacket `packet:"0,list"`
}

func (FinfoPacket) Header() string { return "finfo" }

// FinfoSubPacket is one friend entry, encoded as "id.connected".
type FinfoSubPacket struct {
	CharacterID int64 `packet:"0"`
	IsConnected bool  `packet:"1"`
}

// SayPacket renders a chat line spoken by an entity.
type SayPacket struct {
	VisualType VisualType `packet:"0"`
	VisualID   int64      `packet:"1"`
	Type       SayColor   `packet:"2"`
	Message    string     `packet:"3,terminal"`
}

func (SayPacket) Header() string { return "say" }

// MovePacket announces an entity's new position.
type MovePacket struct {
	VisualType VisualType `packet:"0"`
	VisualID   int64      `packet:"1"`
	X          int        `packet:"2"`
	Y          int        `packet:"3"`
	Speed      uint8      `packet:"4,omitempty"`
}

func (MovePacket) Header() string { return "mv" }

// InfoPacket is a server notice shown in the client's message box.
type InfoPacket struct {
	Message string `packet:"0,terminal"`
}

func (InfoPacket) Header() string { return "info" }
