// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package notifications persists per-user notifications and pushes them
// to live connections.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Key prefixes for BadgerDB storage
const (
	notifKeyPrefix     = "notification:"
	notifUserKeyPrefix = "notification_user:"
)

// ErrNotificationNotFound is returned for unknown ids and for ids owned
// by a different user.
var ErrNotificationNotFound = errors.New("notification not found")

// Notification is one persisted event addressed to a user.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Store is a BadgerDB-backed notification store. Each notification is
// written under its id plus a per-user index key ordered newest-first,
// so listing a user's feed is a single prefix scan.
type Store struct {
	db *badger.DB
}

// NewStore creates a notification store over an open BadgerDB.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Create persists a notification, assigning its id and creation time.
func (s *Store) Create(ctx context.Context, n *Notification) error {
	if n.UserID == "" {
		return errors.New("notification requires a user id")
	}
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(notifKeyPrefix+n.ID), data); err != nil {
			return fmt.Errorf("set notification: %w", err)
		}
		if err := txn.Set(userIndexKey(n.UserID, n.CreatedAt, n.ID), []byte(n.ID)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
		return nil
	})
}

// Get retrieves a notification by id, scoped to its owner.
func (s *Store) Get(ctx context.Context, userID, id string) (*Notification, error) {
	var n Notification

	err := s.db.View(func(txn *badger.Txn) error {
		return readNotification(txn, id, &n)
	})
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrNotificationNotFound
	}
	return &n, nil
}

// ListByUser returns up to limit notifications for a user, newest first.
// A non-positive limit returns everything.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	var list []*Notification

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(notifUserKeyPrefix + userID + ":")
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(list) >= limit {
				break
			}
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var n Notification
			if err := readNotification(txn, id, &n); err != nil {
				if errors.Is(err, ErrNotificationNotFound) {
					continue // index entry outlived the record
				}
				return err
			}
			list = append(list, &n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := s.ListByUser(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks a notification read. Marking an already-read
// notification is a no-op; the read flag never flips back.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var n Notification
		if err := readNotification(txn, id, &n); err != nil {
			return err
		}
		if n.UserID != userID {
			return ErrNotificationNotFound
		}
		if n.Read {
			return nil
		}

		n.Read = true
		data, err := json.Marshal(&n)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		return txn.Set([]byte(notifKeyPrefix+id), data)
	})
}

// Delete removes a notification and its index entry. Deleting an unknown
// id reports ErrNotificationNotFound.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var n Notification
		if err := readNotification(txn, id, &n); err != nil {
			return err
		}
		if n.UserID != userID {
			return ErrNotificationNotFound
		}

		if err := txn.Delete([]byte(notifKeyPrefix + id)); err != nil {
			return fmt.Errorf("delete notification: %w", err)
		}
		if err := txn.Delete(userIndexKey(n.UserID, n.CreatedAt, n.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user index: %w", err)
		}
		return nil
	})
}

// readNotification loads one record inside a transaction.
func readNotification(txn *badger.Txn, id string, n *Notification) error {
	item, err := txn.Get([]byte(notifKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("get notification: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, n)
	})
}

// userIndexKey orders a user's notifications newest-first under a single
// prefix: the sort component is the creation time inverted so forward
// iteration walks backwards through time.
func userIndexKey(userID string, createdAt time.Time, id string) []byte {
	inverted := uint64(math.MaxInt64 - createdAt.UnixNano())
	return []byte(fmt.Sprintf("%s%s:%020d:%s", notifUserKeyPrefix, userID, inverted, id))
}
