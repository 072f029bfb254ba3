// Package store persists chat messages with bbolt, one bucket per group,
// keyed by message id. It stores the serialized form defined by package
// message: status survives a reload, the per-peer acknowledgement sets do
// not. Loading is lenient; corrupt records are skipped, not fatal.
package store

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"meshchat/message"
)

// ErrStoreClosed indicates use of a store after Close.
var ErrStoreClosed = errors.New("message store closed")

// MessageStore is a bbolt-backed message archive.
type MessageStore struct {
	db *bolt.DB
}

// Open opens (or creates) the message store at path.
func Open(path string) (*MessageStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open message store: %w", err)
	}
	return &MessageStore{db: db}, nil
}

// SaveMessage writes one message into its group's bucket, overwriting any
// previous record with the same id.
func (s *MessageStore) SaveMessage(groupID string, msg message.ChatMessage) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	data, err := msg.ToJSON()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(groupID))
		if err != nil {
			return fmt.Errorf("failed to create group bucket: %w", err)
		}
		return bucket.Put([]byte(msg.ID), data)
	})
}

// LoadMessages reads every message of a group, skipping records that no
// longer decode. A missing group yields an empty slice.
func (s *MessageStore) LoadMessages(groupID string) ([]message.ChatMessage, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}

	var records [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(groupID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			record := make([]byte, len(v))
			copy(record, v)
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read group %s: %w", groupID, err)
	}

	messages := message.DecodeAll(records)
	if skipped := len(records) - len(messages); skipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "LoadMessages",
			"group":    groupID,
			"skipped":  skipped,
		}).Warn("Skipped corrupt message records during load")
	}
	return messages, nil
}

// ClearGroup removes a group's entire history.
func (s *MessageStore) ClearGroup(groupID string) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(groupID)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(groupID))
	})
}

// Close closes the underlying database. Idempotent.
func (s *MessageStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
