// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package chat persists counselor-student conversations and routes live
// chat traffic between their connections.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Key prefixes for BadgerDB storage
const (
	msgKeyPrefix  = "chat_message:"
	convKeyPrefix = "chat_conv:"
)

// Store errors.
var (
	ErrMessageNotFound = errors.New("chat message not found")
	ErrNotRecipient    = errors.New("only the recipient can mark a message read")
)

// Message is one persisted chat message between two users.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is a BadgerDB-backed chat store. Messages are written under
// their id plus a per-conversation index key in chronological order;
// the conversation key is direction-independent, so both participants
// scan the same prefix.
type Store struct {
	db *badger.DB
}

// NewStore creates a chat store over an open BadgerDB.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Append persists a message, assigning its id and creation time.
func (s *Store) Append(ctx context.Context, m *Message) error {
	if m.SenderID == "" || m.RecipientID == "" {
		return errors.New("chat message requires sender and recipient")
	}
	if m.SenderID == m.RecipientID {
		return errors.New("chat message cannot be self-addressed")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("chat message requires content")
	}
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(msgKeyPrefix+m.ID), data); err != nil {
			return fmt.Errorf("set chat message: %w", err)
		}
		if err := txn.Set(convIndexKey(m.SenderID, m.RecipientID, m.CreatedAt, m.ID), []byte(m.ID)); err != nil {
			return fmt.Errorf("set conversation index: %w", err)
		}
		return nil
	})
}

// Get retrieves a message by id, scoped to its participants.
func (s *Store) Get(ctx context.Context, userID, id string) (*Message, error) {
	var m Message

	err := s.db.View(func(txn *badger.Txn) error {
		return readMessage(txn, id, &m)
	})
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID && m.RecipientID != userID {
		return nil, ErrMessageNotFound
	}
	return &m, nil
}

// Conversation returns the messages between two users in chronological
// order. A positive limit keeps only the most recent messages.
func (s *Store) Conversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error) {
	var list []*Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(convKeyPrefix + conversationKey(userA, userB) + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var m Message
			if err := readMessage(txn, id, &m); err != nil {
				if errors.Is(err, ErrMessageNotFound) {
					continue
				}
				return err
			}
			list = append(list, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

// UnreadCount returns the number of messages addressed to userID from
// peerID that have not been read.
func (s *Store) UnreadCount(ctx context.Context, userID, peerID string) (int, error) {
	list, err := s.Conversation(ctx, userID, peerID, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range list {
		if m.RecipientID == userID && !m.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks a message read on behalf of its recipient and returns
// the message. The read flag never flips back; marking twice succeeds.
func (s *Store) MarkRead(ctx context.Context, readerID, id string) (*Message, error) {
	var m Message

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := readMessage(txn, id, &m); err != nil {
			return err
		}
		if m.RecipientID != readerID {
			return ErrNotRecipient
		}
		if m.Read {
			return nil
		}

		m.Read = true
		data, err := json.Marshal(&m)
		if err != nil {
			return fmt.Errorf("marshal chat message: %w", err)
		}
		return txn.Set([]byte(msgKeyPrefix+id), data)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// readMessage loads one record inside a transaction.
func readMessage(txn *badger.Txn, id string, m *Message) error {
	item, err := txn.Get([]byte(msgKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("get chat message: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, m)
	})
}

// conversationKey folds the two participant ids into one
// direction-independent key component.
func conversationKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// convIndexKey orders a conversation's messages chronologically.
func convIndexKey(senderID, recipientID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", convKeyPrefix, conversationKey(senderID, recipientID), createdAt.UnixNano(), id))
}
