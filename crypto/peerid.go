package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// PeerIDSize is the length in bytes of a mesh peer identifier.
const PeerIDSize = 8

var (
	// ErrInvalidPeerID indicates a peer ID string of the wrong length or
	// containing non-hexadecimal characters.
	ErrInvalidPeerID = errors.New("invalid peer ID")

	// ErrInvalidHex indicates input that is not valid hexadecimal.
	ErrInvalidHex = errors.New("invalid hex input")
)

// PeerID is the fixed-length identifier of a mesh participant. Its canonical
// textual form is lowercase hexadecimal. PeerID is comparable and is used
// directly as a map key.
type PeerID [PeerIDSize]byte

// String returns the canonical lowercase hex form of the peer ID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// IsZero reports whether the peer ID is the all-zero value.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// PeerIDFromString parses a peer ID from its hexadecimal representation.
// Input case is ignored; the parsed length must be exactly PeerIDSize bytes.
func PeerIDFromString(s string) (PeerID, error) {
	data, err := DecodeID(s)
	if err != nil {
		return PeerID{}, fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	if len(data) != PeerIDSize {
		return PeerID{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPeerID, len(data), PeerIDSize)
	}

	var id PeerID
	copy(id[:], data)
	return id, nil
}

// PeerIDFromPublicKey derives a peer ID from a static public key by
// truncating its SHA-256 digest. The same key always maps to the same ID.
func PeerIDFromPublicKey(publicKey [32]byte) PeerID {
	digest := sha256.Sum256(publicKey[:])

	var id PeerID
	copy(id[:], digest[:PeerIDSize])
	return id
}

// EncodeID encodes arbitrary bytes as a lowercase hexadecimal string.
// The output length is exactly twice the input length; empty input yields
// the empty string.
func EncodeID(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeID decodes a hexadecimal string produced by EncodeID. Input case is
// ignored. Odd-length input or non-hex characters yield an error, never a
// partial buffer.
func DecodeID(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(s))
	}

	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return data, nil
}
