package packet

type whisper struct {
	Message string `packet:"0,terminal"`
}

func (whisper) Header() string { return "/" }

type friend struct {
	ID     int64 `packet:"0"`
	Online bool  `packet:"1"`
}

type friendList struct {
	Friends []friend `packet:"0,list"`
}

func (friendList) Header() string { return "finfo" }

type kind uint8

const (
	kindPlayer kind = 1
	kindNPC    kind = 2
)

type item struct {
	Slot   uint16 `packet:"0"`
	Amount int32  `packet:"1"`
	Rare   bool   `packet:"2,omitempty"`
}

type mixed struct {
	Kind   kind    `packet:"0"`
	ID     int64   `packet:"1"`
	Ratio  float64 `packet:"2"`
	Flag   bool    `packet:"3"`
	Name   string  `packet:"4"`
	Items  []item  `packet:"5,counted"`
	Note   string  `packet:"6,terminal"`
	cached int
}

func (mixed) Header() string { return "mx" }

type move struct {
	X     int   `packet:"0"`
	Y     int   `packet:"1"`
	Speed uint8 `packet:"2,omitempty"`
	Dir   int8  `packet:"3,omitempty"`
}

func (*move) Header() string { return "mv" }

func testRegistry() *Registry {
	r, err := NewRegistry(whisper{}, friendList{}, mixed{}, &move{})
	if err != nil {
		panic(err)
	}
	return r
}

type countingRecorder struct {
	reasons []string
}

func (c *countingRecorder) DecodeFailed(reason string) {
	c.reasons = append(c.reasons, reason)
}
