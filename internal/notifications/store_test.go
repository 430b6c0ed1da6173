// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package notifications

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/studypath/relay/internal/config"
	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/storage"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// openTestStore opens an in-memory store closed on test cleanup.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.Open(config.StoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return NewStore(db)
}

func TestStore_CreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n := &Notification{
		UserID: "user-1",
		Kind:   "chat_message",
		Title:  "New message from your counselor",
		Data:   map[string]string{"conversationId": "conv-1"},
	}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if n.ID == "" {
		t.Fatal("Create should assign an id")
	}
	if n.CreatedAt.IsZero() {
		t.Fatal("Create should assign a creation time")
	}

	got, err := store.Get(ctx, "user-1", n.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != n.Title || got.Kind != n.Kind || got.Read {
		t.Errorf("Get returned %+v", got)
	}
	if got.Data["conversationId"] != "conv-1" {
		t.Errorf("Data not round-tripped: %+v", got.Data)
	}
}

func TestStore_CreateRequiresUser(t *testing.T) {
	store := openTestStore(t)
	if err := store.Create(context.Background(), &Notification{Title: "orphan"}); err == nil {
		t.Error("Create without a user id should fail")
	}
}

func TestStore_GetScopedToOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n := &Notification{UserID: "user-1", Kind: "system", Title: "Welcome"}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Get(ctx, "user-2", n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("cross-user Get should report not found, got %v", err)
	}
	if _, err := store.Get(ctx, "user-1", "missing"); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("unknown id should report not found, got %v", err)
	}
}

func TestStore_ListByUserNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		if err := store.Create(ctx, &Notification{UserID: "user-1", Kind: "system", Title: title}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond) // distinct creation times
	}
	if err := store.Create(ctx, &Notification{UserID: "user-2", Kind: "system", Title: "other user"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := store.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 notifications, got %d", len(list))
	}
	for i, want := range []string{"third", "second", "first"} {
		if list[i].Title != want {
			t.Errorf("list[%d].Title = %q, want %q", i, list[i].Title, want)
		}
	}

	limited, err := store.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Title != "third" {
		t.Errorf("limited list wrong: %d items", len(limited))
	}

	empty, err := store.ListByUser(ctx, "nobody", 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty list, got %d", len(empty))
	}
}

func TestStore_MarkReadMonotonic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n := &Notification{UserID: "user-1", Kind: "system", Title: "Welcome"}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	count, err := store.UnreadCount(ctx, "user-1")
	if err != nil || count != 1 {
		t.Fatalf("UnreadCount = %d, err = %v, want 1", count, err)
	}

	if err := store.MarkRead(ctx, "user-1", n.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	// Marking again stays read and succeeds.
	if err := store.MarkRead(ctx, "user-1", n.ID); err != nil {
		t.Fatalf("repeated MarkRead failed: %v", err)
	}

	got, err := store.Get(ctx, "user-1", n.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Read {
		t.Error("notification should be read")
	}

	count, err = store.UnreadCount(ctx, "user-1")
	if err != nil || count != 0 {
		t.Errorf("UnreadCount = %d, err = %v, want 0", count, err)
	}

	if err := store.MarkRead(ctx, "user-2", n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("cross-user MarkRead should report not found, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n := &Notification{UserID: "user-1", Kind: "system", Title: "Welcome"}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete(ctx, "user-2", n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("cross-user Delete should report not found, got %v", err)
	}
	if err := store.Delete(ctx, "user-1", n.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "user-1", n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Errorf("second Delete should report not found, got %v", err)
	}

	list, err := store.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("deleted notification still listed: %d items", len(list))
	}
}
