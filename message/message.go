// Package message implements the chat message entity and its delivery
// status state machine.
//
// A message moves through Sent, Delivered and Read, never backwards. The
// per-peer acknowledgement sets that drive the transitions are session
// state: they are never serialized and start empty after a reload.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"meshchat/crypto"
)

// Status is the delivery status of a chat message.
type Status uint8

const (
	// StatusSent means the message left this device with no acknowledgement yet.
	StatusSent Status = iota
	// StatusDelivered means at least one peer acknowledged receipt.
	StatusDelivered
	// StatusRead means at least one peer acknowledged reading it.
	StatusRead
)

// ErrInvalidStatus indicates an unknown status name.
var ErrInvalidStatus = errors.New("invalid message status")

// String returns the status name used in the persisted form.
func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus parses a status name produced by String.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	default:
		return StatusSent, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
	}
}

// ReceiptKind distinguishes delivery acknowledgements from read
// acknowledgements.
type ReceiptKind uint8

const (
	// ReceiptDelivered acknowledges that a message reached a peer.
	ReceiptDelivered ReceiptKind = iota
	// ReceiptRead acknowledges that a peer read the message.
	ReceiptRead
)

// PeerSet is the set of peers that acknowledged a message.
type PeerSet map[crypto.PeerID]struct{}

// Contains reports set membership.
func (ps PeerSet) Contains(peer crypto.PeerID) bool {
	_, ok := ps[peer]
	return ok
}

func (ps PeerSet) cloneWith(peer crypto.PeerID) PeerSet {
	out := make(PeerSet, len(ps)+1)
	for p := range ps {
		out[p] = struct{}{}
	}
	out[peer] = struct{}{}
	return out
}

// ChatMessage is one chat utterance. Values are treated as immutable:
// ApplyReceipt returns an updated copy rather than mutating in place, so a
// reader holding a message never observes a partial update.
type ChatMessage struct {
	ID         string
	Sender     crypto.PeerID
	SenderName string
	Text       string
	Timestamp  time.Time
	IsLocal    bool
	Status     Status

	// DeliveredTo and ReadBy are session-scoped and never persisted.
	DeliveredTo PeerSet
	ReadBy      PeerSet
}

// New creates a message in the Sent state. The id comes from the transport
// layer's packet-id generation and is not regenerated on retry.
func New(id string, sender crypto.PeerID, senderName, text string, isLocal bool) ChatMessage {
	return ChatMessage{
		ID:         id,
		Sender:     sender,
		SenderName: senderName,
		Text:       text,
		Timestamp:  time.Now(),
		IsLocal:    isLocal,
		Status:     StatusSent,
	}
}

// ApplyReceipt folds one acknowledgement into the message and returns the
// updated copy. A read receipt inserts the peer into both sets: reading
// implies the message was delivered to that peer, even when no delivery
// receipt was ever observed. Applying the same receipt twice is a no-op.
// Status never regresses.
func (m ChatMessage) ApplyReceipt(peer crypto.PeerID, kind ReceiptKind) ChatMessage {
	switch kind {
	case ReceiptDelivered:
		if m.DeliveredTo.Contains(peer) {
			return m
		}
		m.DeliveredTo = m.DeliveredTo.cloneWith(peer)
	case ReceiptRead:
		if m.ReadBy.Contains(peer) {
			return m
		}
		m.ReadBy = m.ReadBy.cloneWith(peer)
		if !m.DeliveredTo.Contains(peer) {
			m.DeliveredTo = m.DeliveredTo.cloneWith(peer)
		}
	default:
		return m
	}

	m.Status = m.recomputeStatus()
	return m
}

// recomputeStatus returns the highest tier supported by the member sets,
// never lower than the current status.
func (m ChatMessage) recomputeStatus() Status {
	status := m.Status
	if len(m.DeliveredTo) > 0 && status < StatusDelivered {
		status = StatusDelivered
	}
	if len(m.ReadBy) > 0 && status < StatusRead {
		status = StatusRead
	}
	return status
}

// IsDelivered reports whether the message reached at least one peer. Read
// implies delivered.
func (m ChatMessage) IsDelivered() bool {
	return m.Status >= StatusDelivered
}

// persistedMessage is the stored form: member sets are deliberately absent.
type persistedMessage struct {
	ID         string `json:"id"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	IsLocal    bool   `json:"isLocal"`
	Status     string `json:"status"`
}

// ToJSON serializes the message to its persisted form. DeliveredTo and
// ReadBy are never included.
func (m ChatMessage) ToJSON() ([]byte, error) {
	record := persistedMessage{
		ID:         m.ID,
		Sender:     m.Sender.String(),
		SenderName: m.SenderName,
		Text:       m.Text,
		Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
		IsLocal:    m.IsLocal,
		Status:     m.Status.String(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message %s: %w", m.ID, err)
	}
	return data, nil
}

// FromJSON deserializes a persisted message. The member sets reload empty;
// the persisted status is kept as-is. Any structural fault (missing field,
// bad hex, unknown status, malformed timestamp) is an error.
func FromJSON(data []byte) (ChatMessage, error) {
	var record persistedMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return ChatMessage{}, fmt.Errorf("failed to parse message record: %w", err)
	}
	if record.ID == "" {
		return ChatMessage{}, errors.New("message record missing id")
	}

	sender, err := crypto.PeerIDFromString(record.Sender)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("message %s has invalid sender: %w", record.ID, err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("message %s has invalid timestamp: %w", record.ID, err)
	}

	status, err := ParseStatus(record.Status)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("message %s: %w", record.ID, err)
	}

	return ChatMessage{
		ID:         record.ID,
		Sender:     sender,
		SenderName: record.SenderName,
		Text:       record.Text,
		Timestamp:  timestamp,
		IsLocal:    record.IsLocal,
		Status:     status,
	}, nil
}

// DecodeAll leniently decodes a batch of persisted records, skipping corrupt
// ones so that k bad records out of N still yield the N-k good messages.
// Each skip is logged, never propagated.
func DecodeAll(records [][]byte) []ChatMessage {
	messages := make([]ChatMessage, 0, len(records))
	for i, record := range records {
		msg, err := FromJSON(record)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "DecodeAll",
				"index":    i,
				"error":    err,
			}).Warn("Skipping corrupt message record")
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}
