// Package receipt implements the acknowledgement protocol: emitting
// delivery/read receipts for messages this device received, and turning
// inbound receipt packets into status updates for messages this device sent.
package receipt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"meshchat/crypto"
	"meshchat/message"
	"meshchat/wire"
)

// maxMessageIDLen bounds the id carried in a receipt payload.
const maxMessageIDLen = 64

var (
	// ErrServiceDisposed indicates use of a service after Dispose.
	ErrServiceDisposed = errors.New("receipt service disposed")

	// ErrInvalidReceipt indicates a receipt payload that cannot be parsed.
	ErrInvalidReceipt = errors.New("invalid receipt payload")
)

// Receipt is one acknowledgement: a peer reporting that a message was
// delivered to it or read by it. Receipts are folded into the matching
// message's member sets by the consumer; they are not persisted on their own.
type Receipt struct {
	MessageID string
	From      crypto.PeerID
	Kind      message.ReceiptKind
}

// Config carries the collaborators a Service needs.
type Config struct {
	// Transport is the subscription and emission boundary.
	Transport wire.Transport

	// Self identifies this device; receipts we emit carry it as sender.
	Self crypto.PeerID

	// Roster optionally supplies the current group membership. When set,
	// InRoster lets callers policy-filter receipts from outside peers.
	// Receipts from non-members are still forwarded: membership can change
	// after a message was sent.
	Roster func() []crypto.PeerID
}

// Service observes the transport for receipt packets and exposes them in
// arrival order on a channel. Start begins listening; Dispose stops it and
// closes the channel. Dispose before Start, or twice, is a no-op.
type Service struct {
	cfg Config

	receipts chan Receipt
	done     chan struct{}

	started  bool
	disposed bool
	inflight sync.WaitGroup
	mu       sync.Mutex
}

// NewService creates a receipt service. It does not listen until Start.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		receipts: make(chan Receipt, 64),
		done:     make(chan struct{}),
	}
}

// Start registers the transport handlers for both receipt packet types.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrServiceDisposed
	}
	if s.started {
		return nil
	}
	s.started = true

	s.cfg.Transport.RegisterHandler(wire.PacketDeliveryReceipt, func(p *wire.Packet) error {
		return s.handlePacket(p, message.ReceiptDelivered)
	})
	s.cfg.Transport.RegisterHandler(wire.PacketReadReceipt, func(p *wire.Packet) error {
		return s.handlePacket(p, message.ReceiptRead)
	})

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"self":     s.cfg.Self.String(),
	}).Debug("Receipt service listening")
	return nil
}

// Receipts returns the inbound acknowledgement stream. The channel is
// closed by Dispose.
func (s *Service) Receipts() <-chan Receipt {
	return s.receipts
}

// Dispose cancels the transport subscription, waits out any in-flight
// handler, and closes the receipt channel. After Dispose returns no further
// receipt is delivered. Idempotent, and safe before Start.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	started := s.started
	s.mu.Unlock()

	// Unsubscribe first so no new handler invocation begins, then unblock
	// and drain the ones already running before closing the channel.
	if started {
		s.cfg.Transport.RegisterHandler(wire.PacketDeliveryReceipt, nil)
		s.cfg.Transport.RegisterHandler(wire.PacketReadReceipt, nil)
	}
	close(s.done)
	s.inflight.Wait()
	close(s.receipts)

	logrus.WithFields(logrus.Fields{
		"function": "Dispose",
		"self":     s.cfg.Self.String(),
	}).Debug("Receipt service stopped")
}

// InRoster reports whether a peer is in the current group roster. Without a
// roster every peer is considered a member.
func (s *Service) InRoster(peer crypto.PeerID) bool {
	if s.cfg.Roster == nil {
		return true
	}
	for _, member := range s.cfg.Roster() {
		if member == peer {
			return true
		}
	}
	return false
}

// SendDeliveryReceipt acknowledges to the original sender that one of its
// messages reached this device.
func (s *Service) SendDeliveryReceipt(to crypto.PeerID, messageID string) error {
	return s.send(wire.PacketDeliveryReceipt, to, messageID)
}

// SendReadReceipt acknowledges to the original sender that this device's
// user read one of its messages.
func (s *Service) SendReadReceipt(to crypto.PeerID, messageID string) error {
	return s.send(wire.PacketReadReceipt, to, messageID)
}

func (s *Service) send(packetType wire.PacketType, to crypto.PeerID, messageID string) error {
	if messageID == "" || len(messageID) > maxMessageIDLen {
		return fmt.Errorf("%w: id length %d", ErrInvalidReceipt, len(messageID))
	}

	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrServiceDisposed
	}

	packet := &wire.Packet{
		Type:    packetType,
		Sender:  s.cfg.Self,
		Payload: []byte(messageID),
	}
	if err := s.cfg.Transport.SendTo(to, packet); err != nil {
		return fmt.Errorf("failed to send receipt: %w", err)
	}
	return nil
}

func (s *Service) handlePacket(packet *wire.Packet, kind message.ReceiptKind) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	receipt, err := parseReceipt(packet, kind)
	if err != nil {
		// Drop, log, keep listening.
		logrus.WithFields(logrus.Fields{
			"function": "handlePacket",
			"from":     packet.Sender.String(),
			"error":    err,
		}).Warn("Dropping malformed receipt")
		return nil
	}

	select {
	case s.receipts <- receipt:
	case <-s.done:
	}
	return nil
}

// parseReceipt extracts the acknowledgement from a receipt packet. The
// payload is the message id; the acknowledging peer is the packet sender.
func parseReceipt(packet *wire.Packet, kind message.ReceiptKind) (Receipt, error) {
	if len(packet.Payload) == 0 || len(packet.Payload) > maxMessageIDLen {
		return Receipt{}, fmt.Errorf("%w: payload length %d", ErrInvalidReceipt, len(packet.Payload))
	}
	if packet.Sender.IsZero() {
		return Receipt{}, fmt.Errorf("%w: zero sender", ErrInvalidReceipt)
	}

	return Receipt{
		MessageID: string(packet.Payload),
		From:      packet.Sender,
		Kind:      kind,
	}, nil
}
