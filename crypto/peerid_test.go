package crypto

import (
	"bytes"
	"strings"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies decode is the inverse of encode and
// the encoded form is canonical lowercase hex.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xFF},
		{0xDE, 0xAD, 0xBE, 0xEF},
		bytes.Repeat([]byte{0xAB}, 64),
	}

	for _, input := range cases {
		encoded := EncodeID(input)
		if len(encoded) != 2*len(input) {
			t.Errorf("encoded length = %d, want %d", len(encoded), 2*len(input))
		}
		if encoded != strings.ToLower(encoded) {
			t.Errorf("encoded form is not lowercase: %q", encoded)
		}

		decoded, err := DecodeID(encoded)
		if err != nil {
			t.Fatalf("DecodeID(%q) failed: %v", encoded, err)
		}
		if !bytes.Equal(decoded, input) {
			t.Errorf("round trip mismatch for %x", input)
		}
	}
}

// TestDecodeCaseInsensitive verifies mixed-case input decodes.
func TestDecodeCaseInsensitive(t *testing.T) {
	decoded, err := DecodeID("DeAdBeEf")
	if err != nil {
		t.Fatalf("DecodeID failed: %v", err)
	}
	if !bytes.Equal(decoded, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("got %x", decoded)
	}
}

// TestDecodeRejectsInvalid verifies odd-length and non-hex input fail
// without a partial result.
func TestDecodeRejectsInvalid(t *testing.T) {
	for _, input := range []string{"a", "abc", "zz", "12g4", "0x12"} {
		if _, err := DecodeID(input); err == nil {
			t.Errorf("DecodeID(%q) should fail", input)
		}
	}
}

func TestPeerIDString(t *testing.T) {
	id := PeerID{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	if got := id.String(); got != "0123456789abcdef" {
		t.Errorf("String() = %q, want %q", got, "0123456789abcdef")
	}

	parsed, err := PeerIDFromString("0123456789ABCDEF")
	if err != nil {
		t.Fatalf("PeerIDFromString failed: %v", err)
	}
	if parsed != id {
		t.Error("parsed peer ID does not match original")
	}
}

func TestPeerIDFromStringRejectsWrongLength(t *testing.T) {
	for _, input := range []string{"", "0123", "0123456789abcdef00", "0123456789abcde"} {
		if _, err := PeerIDFromString(input); err == nil {
			t.Errorf("PeerIDFromString(%q) should fail", input)
		}
	}
}

// TestPeerIDFromPublicKey verifies derivation is deterministic and spreads
// across distinct keys.
func TestPeerIDFromPublicKey(t *testing.T) {
	var a, b [32]byte
	b[0] = 1

	idA := PeerIDFromPublicKey(a)
	if idA != PeerIDFromPublicKey(a) {
		t.Error("derivation is not deterministic")
	}
	if idA == PeerIDFromPublicKey(b) {
		t.Error("distinct keys produced the same peer ID")
	}
	if idA.IsZero() {
		t.Error("derived peer ID should not be zero")
	}
}
