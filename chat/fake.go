package chat

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"meshchat/crypto"
	"meshchat/message"
)

// FakeRepository is the in-memory Repository test double. Sends are
// recorded instead of transmitted; Inject feeds the inbound stream.
type FakeRepository struct {
	// Self identifies the fake device.
	Self crypto.PeerID

	// SessionsWith lists peers for which a secure session is pretended to
	// exist; private sends to anyone else fail with crypto.ErrNoSession.
	SessionsWith map[crypto.PeerID]bool

	Broadcasts []message.ChatMessage
	Privates   []message.ChatMessage

	messages chan message.ChatMessage
	disposed bool
	mu       sync.Mutex
}

// NewFakeRepository creates a fake repository for the given identity.
func NewFakeRepository(self crypto.PeerID) *FakeRepository {
	return &FakeRepository{
		Self:         self,
		SessionsWith: make(map[crypto.PeerID]bool),
		messages:     make(chan message.ChatMessage, 64),
	}
}

// Messages returns the injectable inbound stream.
func (f *FakeRepository) Messages() <-chan message.ChatMessage {
	return f.messages
}

// Inject delivers a message on the inbound stream as if it arrived from the
// mesh. Returns false after Dispose.
func (f *FakeRepository) Inject(msg message.ChatMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disposed {
		return false
	}
	f.messages <- msg
	return true
}

// SendMessage records a broadcast send.
func (f *FakeRepository) SendMessage(text, senderName string) (message.ChatMessage, error) {
	if text == "" {
		return message.ChatMessage{}, ErrEmptyMessage
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return message.ChatMessage{}, ErrDisposed
	}

	msg := message.New(uuid.NewString(), f.Self, senderName, text, true)
	f.Broadcasts = append(f.Broadcasts, msg)
	return msg, nil
}

// SendPrivateMessage records a private send, honoring the session contract.
func (f *FakeRepository) SendPrivateMessage(text string, to crypto.PeerID) (message.ChatMessage, error) {
	if text == "" {
		return message.ChatMessage{}, ErrEmptyMessage
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return message.ChatMessage{}, ErrDisposed
	}
	if !f.SessionsWith[to] {
		return message.ChatMessage{}, fmt.Errorf("cannot send private message: %w", crypto.ErrNoSession)
	}

	msg := message.New(uuid.NewString(), f.Self, "", text, true)
	f.Privates = append(f.Privates, msg)
	return msg, nil
}

// Dispose terminates the stream. Idempotent.
func (f *FakeRepository) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disposed {
		return nil
	}
	f.disposed = true
	close(f.messages)
	return nil
}
