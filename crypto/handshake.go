package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
)

var (
	// ErrHandshakeNotComplete indicates the handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates the handshake already finished.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we initiate or respond to a handshake.
type HandshakeRole uint8

const (
	// Initiator starts the handshake and must know the peer's static key.
	Initiator HandshakeRole = iota
	// Responder answers a handshake started by a remote peer.
	Responder
)

// IKHandshake runs the Noise IK pattern between two mesh peers. IK provides
// mutual authentication and forward secrecy for the case where the initiator
// already knows the responder's static public key (learned out of band or
// from a previous announce).
type IKHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewIKHandshake creates an IK handshake. staticPriv is our long-term
// private key; peerPub is the remote static public key, required for the
// initiator and ignored for the responder.
func NewIKHandshake(staticPriv [32]byte, peerPub []byte, role HandshakeRole) (*IKHandshake, error) {
	if role == Initiator && len(peerPub) != 32 {
		return nil, fmt.Errorf("initiator requires a 32-byte peer public key, got %d", len(peerPub))
	}

	keyPair, err := FromSecretKey(staticPriv)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keypair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])
	ZeroBytes(keyPair.Private[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, peerPub)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &IKHandshake{role: role, state: state}, nil
}

// WriteMessage produces the next outbound handshake message.
// The initiator calls it first with no received message; the responder calls
// it after reading the initiator's message. The second message of the IK
// pattern completes the handshake on the responder side.
func (ik *IKHandshake) WriteMessage(received []byte) ([]byte, error) {
	if ik.complete {
		return nil, ErrHandshakeComplete
	}

	if ik.role == Initiator {
		msg, _, _, err := ik.state.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("initiator write failed: %w", err)
		}
		return msg, nil
	}

	if received == nil {
		return nil, errors.New("responder requires the initiator's message")
	}
	if _, _, _, err := ik.state.ReadMessage(nil, received); err != nil {
		return nil, fmt.Errorf("responder read failed: %w", err)
	}

	msg, cs0, cs1, err := ik.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("responder write failed: %w", err)
	}

	// cs0 carries initiator-to-responder traffic, cs1 the reverse.
	ik.recvCipher = cs0
	ik.sendCipher = cs1
	ik.complete = true
	return msg, nil
}

// ReadMessage consumes the responder's reply and completes the handshake on
// the initiator side.
func (ik *IKHandshake) ReadMessage(message []byte) error {
	if ik.complete {
		return ErrHandshakeComplete
	}
	if ik.role != Initiator {
		return errors.New("only the initiator reads a handshake response")
	}

	_, cs0, cs1, err := ik.state.ReadMessage(nil, message)
	if err != nil {
		return fmt.Errorf("initiator read response failed: %w", err)
	}

	ik.sendCipher = cs0
	ik.recvCipher = cs1
	ik.complete = true
	return nil
}

// IsComplete reports whether cipher states are available.
func (ik *IKHandshake) IsComplete() bool {
	return ik.complete
}

// Session returns the established session once the handshake is complete.
func (ik *IKHandshake) Session() (*Session, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}
	if ik.sendCipher == nil || ik.recvCipher == nil {
		return nil, errors.New("cipher states not available")
	}
	return &Session{send: ik.sendCipher, recv: ik.recvCipher}, nil
}
