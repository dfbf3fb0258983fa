package packets

import (
	"fmt"

	"github.com/cory-johannsen/mudwire/internal/packet"
)

// ClientPackets returns one prototype of every packet a client may send.
func ClientPackets() []packet.Message {
	return []packet.Message{
		WhisperPacket{},
		SelectPacket{},
		ClientSayPacket{},
		WalkPacket{},
		GroupJoinPacket{},
		GroupSayPacket{},
		BlockPacket{},
		EmotePacket{},
		HeroPacket{},
	}
}

// ServerPackets returns one prototype of every packet the server sends.
func ServerPackets() []packet.Message {
	return []packet.Message{
		FinfoPacket{},
		SayPacket{},
		MovePacket{},
		InfoPacket{},
	}
}

// ClientRegistry returns the registry used to decode inbound lines.
//
// Postcondition: Returns a Registry holding every client packet.
func ClientRegistry() *packet.Registry {
	r, err := packet.NewRegistry(ClientPackets()...)
	if err != nil {
		panic(fmt.Sprintf("building client packet registry: %v", err))
	}
	return r
}

// ServerRegistry returns the registry of outbound packets. Clients and
// test tools decode server lines with it.
//
// Postcondition: Returns a Registry holding every server packet.
func ServerRegistry() *packet.Registry {
	r, err := packet.NewRegistry(ServerPackets()...)
	if err != nil {
		panic(fmt.Sprintf("building server packet registry: %v", err))
	}
	return r
}
