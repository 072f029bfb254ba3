package chat

import (
	"errors"

	"meshchat/crypto"
	"meshchat/message"
)

var (
	// ErrDisposed indicates use of a repository after Dispose.
	ErrDisposed = errors.New("chat repository disposed")

	// ErrEmptyMessage indicates an attempt to send an empty message.
	ErrEmptyMessage = errors.New("message text cannot be empty")
)

// Repository is the contract between the chat core and its callers. The
// mesh-backed implementation is MeshRepository; FakeRepository serves tests.
// Callers depend only on this interface.
type Repository interface {
	// Messages is the live stream of fully decoded inbound messages,
	// multi-consumer unsafe (one owner drains it), representing "from now
	// on". The channel is closed by Dispose and never restarted.
	Messages() <-chan message.ChatMessage

	// SendMessage broadcasts a message to all reachable peers and returns
	// the constructed local message immediately. Completion does not imply
	// any remote receipt. The sender name travels in the payload so peers
	// without a roster entry can still display it.
	SendMessage(text, senderName string) (message.ChatMessage, error)

	// SendPrivateMessage encrypts a message for exactly one recipient under
	// a previously established secure session and sends it point-to-point.
	// Without a session it fails with crypto.ErrNoSession and transmits
	// nothing; it never degrades to a broadcast.
	SendPrivateMessage(text string, to crypto.PeerID) (message.ChatMessage, error)

	// Dispose cancels the transport subscriptions and terminates the
	// inbound stream. Idempotent. No send succeeds afterwards.
	Dispose() error
}
