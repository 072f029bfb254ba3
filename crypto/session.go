package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSession indicates no established secure session exists for the
	// requested peer. Callers must surface this rather than fall back to an
	// unencrypted path.
	ErrNoSession = errors.New("no established session for peer")

	// ErrDecryptFailed indicates ciphertext that could not be authenticated
	// or decrypted under the peer's session.
	ErrDecryptFailed = errors.New("decryption failed")
)

// Session is an established end-to-end encrypted channel with one peer,
// backed by the transport cipher states of a completed Noise handshake.
type Session struct {
	send *noise.CipherState
	recv *noise.CipherState

	mu sync.Mutex
}

// Encrypt encrypts plaintext under the session's send key.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("session encrypt failed: %w", err)
	}
	return ciphertext, nil
}

// Decrypt decrypts ciphertext produced by the peer's matching session.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// SessionManager holds the established secure sessions, keyed by peer ID.
// It implements the secure-session lookup the chat repository depends on:
// HasSession, EncryptFor and DecryptFrom. Establishment itself happens
// elsewhere; completed sessions are registered with AddSession.
type SessionManager struct {
	sessions map[PeerID]*Session
	mu       sync.RWMutex
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[PeerID]*Session),
	}
}

// AddSession registers an established session for a peer, replacing any
// previous one.
func (sm *SessionManager) AddSession(peer PeerID, session *Session) {
	sm.mu.Lock()
	sm.sessions[peer] = session
	sm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "AddSession",
		"peer":     peer.String(),
	}).Info("Secure session established")
}

// RemoveSession drops the session for a peer, if any.
func (sm *SessionManager) RemoveSession(peer PeerID) {
	sm.mu.Lock()
	delete(sm.sessions, peer)
	sm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "RemoveSession",
		"peer":     peer.String(),
	}).Debug("Secure session removed")
}

// HasSession reports whether an established session exists for the peer.
func (sm *SessionManager) HasSession(peer PeerID) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	_, ok := sm.sessions[peer]
	return ok
}

// EncryptFor encrypts plaintext for a peer under its established session.
// Returns ErrNoSession if none exists.
func (sm *SessionManager) EncryptFor(peer PeerID, plaintext []byte) ([]byte, error) {
	sm.mu.RLock()
	session, ok := sm.sessions[peer]
	sm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peer.String())
	}
	return session.Encrypt(plaintext)
}

// DecryptFrom decrypts ciphertext received from a peer under its established
// session. Returns ErrNoSession if none exists, ErrDecryptFailed if the
// ciphertext does not authenticate.
func (sm *SessionManager) DecryptFrom(peer PeerID, ciphertext []byte) ([]byte, error) {
	sm.mu.RLock()
	session, ok := sm.sessions[peer]
	sm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peer.String())
	}
	return session.Decrypt(ciphertext)
}
