package wire

import (
	"bytes"
	"errors"
	"testing"

	"meshchat/crypto"
)

var testSender = crypto.PeerID{1, 2, 3, 4, 5, 6, 7, 8}

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		packet Packet
	}{
		{"chat message", Packet{Type: PacketChatMessage, Sender: testSender, Payload: []byte("hello")}},
		{"compressed", Packet{Type: PacketChatMessage, Sender: testSender, Compressed: true, Payload: []byte{0x1F, 0x8B}}},
		{"private", Packet{Type: PacketPrivateMessage, Sender: testSender, Payload: bytes.Repeat([]byte{0xAB}, 512)}},
		{"delivery receipt", Packet{Type: PacketDeliveryReceipt, Sender: testSender, Payload: []byte("msg-id-1")}},
		{"read receipt", Packet{Type: PacketReadReceipt, Sender: testSender, Payload: []byte("msg-id-2")}},
		{"empty payload", Packet{Type: PacketChatMessage, Sender: testSender}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.packet.Serialize()
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			parsed, err := ParsePacket(data)
			if err != nil {
				t.Fatalf("ParsePacket failed: %v", err)
			}
			if parsed.Type != tc.packet.Type {
				t.Errorf("type = %v, want %v", parsed.Type, tc.packet.Type)
			}
			if parsed.Sender != tc.packet.Sender {
				t.Errorf("sender = %v, want %v", parsed.Sender, tc.packet.Sender)
			}
			if parsed.Compressed != tc.packet.Compressed {
				t.Errorf("compressed = %v, want %v", parsed.Compressed, tc.packet.Compressed)
			}
			if !bytes.Equal(parsed.Payload, tc.packet.Payload) {
				t.Errorf("payload mismatch: %x vs %x", parsed.Payload, tc.packet.Payload)
			}
		})
	}
}

func TestParsePacketTooShort(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {byte(PacketChatMessage)}, make([]byte, headerSize-1)} {
		_, err := ParsePacket(data)
		if !errors.Is(err, ErrPacketTooShort) && !errors.Is(err, ErrInvalidPacketType) {
			t.Errorf("ParsePacket(%x) error = %v", data, err)
		}
	}
}

func TestParsePacketInvalidType(t *testing.T) {
	data := make([]byte, headerSize)
	data[0] = 0xF0

	_, err := ParsePacket(data)
	if !errors.Is(err, ErrInvalidPacketType) {
		t.Errorf("error = %v, want ErrInvalidPacketType", err)
	}
}

func TestSerializeInvalidType(t *testing.T) {
	packet := &Packet{Type: 0, Sender: testSender}
	if _, err := packet.Serialize(); !errors.Is(err, ErrInvalidPacketType) {
		t.Errorf("error = %v, want ErrInvalidPacketType", err)
	}
}

// TestParsePacketCopiesPayload verifies the parsed packet does not alias
// the input buffer.
func TestParsePacketCopiesPayload(t *testing.T) {
	packet := Packet{Type: PacketChatMessage, Sender: testSender, Payload: []byte("abc")}
	data, err := packet.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	data[headerSize] = 'X'
	if parsed.Payload[0] != 'a' {
		t.Error("parsed payload aliases the input buffer")
	}
}
