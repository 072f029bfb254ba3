// Package wire defines the transport boundary of the mesh chat core: the
// packet format shared by every transport, the Transport interface the chat
// repository and receipt service depend on, and an in-memory loopback
// implementation used by tests and the fake repository.
//
// Real link layers (UDP mesh, BLE) live outside this module; they only need
// to satisfy the Transport interface.
package wire

import (
	"errors"
	"fmt"

	"meshchat/crypto"
)

// PacketType identifies the type of a mesh chat packet.
type PacketType byte

const (
	// PacketChatMessage carries a broadcast chat payload.
	PacketChatMessage PacketType = iota + 1
	// PacketPrivateMessage carries a payload encrypted for one recipient.
	PacketPrivateMessage
	// PacketDeliveryReceipt acknowledges that a message reached a peer.
	PacketDeliveryReceipt
	// PacketReadReceipt acknowledges that a message was read by a peer.
	PacketReadReceipt
)

// Flag bits carried in the packet header.
const (
	// FlagCompressed marks a payload that must be decompressed before use.
	FlagCompressed byte = 1 << 0
)

// headerSize is type (1) + sender (PeerIDSize) + flags (1).
const headerSize = 2 + crypto.PeerIDSize

var (
	// ErrPacketTooShort indicates serialized data shorter than the header.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrInvalidPacketType indicates an unknown packet type byte.
	ErrInvalidPacketType = errors.New("invalid packet type")
)

// Packet is one frame exchanged over the mesh on behalf of the chat
// protocol. The payload is opaque to the transport: serialized message JSON,
// possibly compressed, possibly encrypted.
type Packet struct {
	Type       PacketType
	Sender     crypto.PeerID
	Compressed bool
	Payload    []byte
}

// Serialize converts the packet to its wire form:
// [type:1][sender:8][flags:1][payload].
func (p *Packet) Serialize() ([]byte, error) {
	if p.Type < PacketChatMessage || p.Type > PacketReadReceipt {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, p.Type)
	}

	result := make([]byte, headerSize+len(p.Payload))
	result[0] = byte(p.Type)
	copy(result[1:1+crypto.PeerIDSize], p.Sender[:])

	var flags byte
	if p.Compressed {
		flags |= FlagCompressed
	}
	result[1+crypto.PeerIDSize] = flags

	copy(result[headerSize:], p.Payload)
	return result, nil
}

// ParsePacket converts wire bytes back to a Packet. The payload is copied
// so callers may reuse the input buffer.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}

	packetType := PacketType(data[0])
	if packetType < PacketChatMessage || packetType > PacketReadReceipt {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPacketType, packetType)
	}

	packet := &Packet{
		Type:       packetType,
		Compressed: data[1+crypto.PeerIDSize]&FlagCompressed != 0,
		Payload:    make([]byte, len(data)-headerSize),
	}
	copy(packet.Sender[:], data[1:1+crypto.PeerIDSize])
	copy(packet.Payload, data[headerSize:])
	return packet, nil
}
