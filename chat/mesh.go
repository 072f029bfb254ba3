package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meshchat/compress"
	"meshchat/crypto"
	"meshchat/message"
	"meshchat/receipt"
	"meshchat/wire"
)

// DefaultCompressionThreshold is the payload size above which outbound
// payloads are compressed. Short messages usually grow under gzip.
const DefaultCompressionThreshold = 256

// MeshConfig carries the collaborators a MeshRepository composes.
type MeshConfig struct {
	// Transport is the link-layer boundary.
	Transport wire.Transport

	// Sessions is the secure-session lookup for private messages.
	Sessions *crypto.SessionManager

	// Self identifies this device on the mesh.
	Self crypto.PeerID

	// Receipts, when set, is used to acknowledge inbound private messages.
	Receipts *receipt.Service

	// CompressionThreshold overrides DefaultCompressionThreshold when > 0.
	CompressionThreshold int

	// MaxPayloadSize bounds decompressed inbound payloads. Defaults to
	// compress.DefaultMaxOutputSize.
	MaxPayloadSize int
}

// MeshRepository is the mesh-network-backed Repository. Inbound packets are
// decompressed and, for private packets, decrypted before they reach the
// stream; packets that fail either step are dropped and logged, never
// surfaced to the stream.
type MeshRepository struct {
	cfg MeshConfig

	messages chan message.ChatMessage
	done     chan struct{}

	disposed bool
	inflight sync.WaitGroup
	mu       sync.Mutex
}

// wirePayload is the serialized chat payload. The sender peer ID travels in
// the packet header, the display name here, so legacy or unnamed senders
// still render.
type wirePayload struct {
	ID         string `json:"id"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// NewMeshRepository creates a mesh repository and subscribes it to the chat
// packet types. The inbound stream is live from this point on.
func NewMeshRepository(cfg MeshConfig) *MeshRepository {
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = compress.DefaultMaxOutputSize
	}

	r := &MeshRepository{
		cfg:      cfg,
		messages: make(chan message.ChatMessage, 64),
		done:     make(chan struct{}),
	}

	cfg.Transport.RegisterHandler(wire.PacketChatMessage, r.handleBroadcast)
	cfg.Transport.RegisterHandler(wire.PacketPrivateMessage, r.handlePrivate)

	logrus.WithFields(logrus.Fields{
		"function": "NewMeshRepository",
		"self":     cfg.Self.String(),
	}).Debug("Mesh chat repository listening")
	return r
}

// Messages returns the inbound stream.
func (r *MeshRepository) Messages() <-chan message.ChatMessage {
	return r.messages
}

// SendMessage broadcasts a plaintext chat payload to all reachable peers.
func (r *MeshRepository) SendMessage(text, senderName string) (message.ChatMessage, error) {
	if text == "" {
		return message.ChatMessage{}, ErrEmptyMessage
	}
	if r.isDisposed() {
		return message.ChatMessage{}, ErrDisposed
	}

	msg := message.New(r.cfg.Transport.NextPacketID(), r.cfg.Self, senderName, text, true)

	payload, compressed, err := r.encodePayload(msg, senderName)
	if err != nil {
		return message.ChatMessage{}, err
	}

	packet := &wire.Packet{
		Type:       wire.PacketChatMessage,
		Sender:     r.cfg.Self,
		Compressed: compressed,
		Payload:    payload,
	}
	if err := r.cfg.Transport.Broadcast(packet); err != nil {
		return message.ChatMessage{}, fmt.Errorf("broadcast failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SendMessage",
		"message_id": msg.ID,
		"compressed": compressed,
	}).Debug("Broadcast chat message sent")
	return msg, nil
}

// SendPrivateMessage encrypts the payload under the recipient's established
// session and sends it point-to-point. The session check precedes any
// transmit: without a session nothing reaches the transport.
func (r *MeshRepository) SendPrivateMessage(text string, to crypto.PeerID) (message.ChatMessage, error) {
	if text == "" {
		return message.ChatMessage{}, ErrEmptyMessage
	}
	if r.isDisposed() {
		return message.ChatMessage{}, ErrDisposed
	}
	if !r.cfg.Sessions.HasSession(to) {
		return message.ChatMessage{}, fmt.Errorf("cannot send private message: %w", crypto.ErrNoSession)
	}

	msg := message.New(r.cfg.Transport.NextPacketID(), r.cfg.Self, "", text, true)

	payload, compressed, err := r.encodePayload(msg, "")
	if err != nil {
		return message.ChatMessage{}, err
	}

	ciphertext, err := r.cfg.Sessions.EncryptFor(to, payload)
	if err != nil {
		return message.ChatMessage{}, fmt.Errorf("private message encryption failed: %w", err)
	}

	packet := &wire.Packet{
		Type:       wire.PacketPrivateMessage,
		Sender:     r.cfg.Self,
		Compressed: compressed,
		Payload:    ciphertext,
	}
	if err := r.cfg.Transport.SendTo(to, packet); err != nil {
		return message.ChatMessage{}, fmt.Errorf("private send failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SendPrivateMessage",
		"message_id": msg.ID,
		"recipient":  to.String(),
	}).Debug("Private chat message sent")
	return msg, nil
}

// Dispose cancels the transport subscriptions, waits out in-flight inbound
// handlers, and closes the stream. Idempotent.
func (r *MeshRepository) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	r.mu.Unlock()

	// Subscription teardown first: nothing new may start while we drain.
	r.cfg.Transport.RegisterHandler(wire.PacketChatMessage, nil)
	r.cfg.Transport.RegisterHandler(wire.PacketPrivateMessage, nil)
	close(r.done)
	r.inflight.Wait()
	close(r.messages)

	logrus.WithFields(logrus.Fields{
		"function": "Dispose",
		"self":     r.cfg.Self.String(),
	}).Debug("Mesh chat repository disposed")
	return nil
}

func (r *MeshRepository) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// encodePayload serializes the wire payload and compresses it when that
// pays off. Returns the bytes and whether they are compressed.
func (r *MeshRepository) encodePayload(msg message.ChatMessage, senderName string) ([]byte, bool, error) {
	payload, err := json.Marshal(wirePayload{
		ID:         msg.ID,
		SenderName: senderName,
		Text:       msg.Text,
		Timestamp:  msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode payload: %w", err)
	}

	if len(payload) < r.cfg.CompressionThreshold {
		return payload, false, nil
	}

	packed, err := compress.Compress(payload)
	if err != nil {
		return nil, false, fmt.Errorf("payload compression failed: %w", err)
	}
	if len(packed) >= len(payload) {
		// Incompressible payload, send as-is.
		return payload, false, nil
	}
	return packed, true, nil
}

func (r *MeshRepository) handleBroadcast(packet *wire.Packet) error {
	return r.handleInbound(packet, false)
}

func (r *MeshRepository) handlePrivate(packet *wire.Packet) error {
	return r.handleInbound(packet, true)
}

// handleInbound decodes one chat packet and emits it on the stream. Every
// failure drops the packet locally; handler errors are never returned so
// the transport keeps dispatching.
func (r *MeshRepository) handleInbound(packet *wire.Packet, private bool) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	fields := logrus.Fields{
		"function": "handleInbound",
		"from":     packet.Sender.String(),
		"private":  private,
	}

	payload := packet.Payload
	if private {
		plaintext, err := r.cfg.Sessions.DecryptFrom(packet.Sender, payload)
		if err != nil {
			fields["error"] = err
			logrus.WithFields(fields).Warn("Dropping undecryptable private message")
			return nil
		}
		payload = plaintext
	}

	if packet.Compressed {
		expanded, err := compress.Decompress(payload, r.cfg.MaxPayloadSize)
		if err != nil {
			fields["error"] = err
			logrus.WithFields(fields).Warn("Dropping undecompressable message payload")
			return nil
		}
		payload = expanded
	}

	var wp wirePayload
	if err := json.Unmarshal(payload, &wp); err != nil {
		fields["error"] = err
		logrus.WithFields(fields).Warn("Dropping malformed message payload")
		return nil
	}
	if wp.ID == "" {
		logrus.WithFields(fields).Warn("Dropping message payload without id")
		return nil
	}

	timestamp, err := time.Parse(time.RFC3339Nano, wp.Timestamp)
	if err != nil {
		timestamp = time.Now()
	}

	msg := message.ChatMessage{
		ID:         wp.ID,
		Sender:     packet.Sender,
		SenderName: wp.SenderName,
		Text:       wp.Text,
		Timestamp:  timestamp,
		IsLocal:    false,
		Status:     message.StatusSent,
	}

	// Private messages are acknowledged as soon as they decode; broadcast
	// traffic is not, to keep receipt chatter off the shared channel.
	if private && r.cfg.Receipts != nil {
		if err := r.cfg.Receipts.SendDeliveryReceipt(packet.Sender, msg.ID); err != nil {
			fields["error"] = err
			logrus.WithFields(fields).Debug("Failed to send delivery receipt")
		}
	}

	select {
	case r.messages <- msg:
	case <-r.done:
	}
	return nil
}
