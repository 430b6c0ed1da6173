// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package notifications

import (
	"context"
	"fmt"

	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/realtime"
)

// Pusher delivers envelopes to a user's live connections. Satisfied by
// the realtime hub.
type Pusher interface {
	PushToUser(userID string, env realtime.Envelope)
}

// ApplicationUpdate describes a status change on a university application.
type ApplicationUpdate struct {
	ApplicationID string `json:"applicationId"`
	University    string `json:"university"`
	Status        string `json:"status"`
}

// Service persists notifications and pushes them to whoever is online.
// Users with no open connection see the notification in their feed on
// next load; there is no offline delivery queue.
type Service struct {
	store  *Store
	pusher Pusher
}

// NewService creates a notification service.
func NewService(store *Store, pusher Pusher) *Service {
	return &Service{store: store, pusher: pusher}
}

// Store exposes the underlying store for the REST handlers.
func (s *Service) Store() *Store {
	return s.store
}

// Notify persists the notification and pushes it to the user's live
// connections.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	s.pusher.PushToUser(n.UserID, realtime.NewEnvelope(realtime.KindNotification, n))
	logging.Debug().
		Str("user_id", n.UserID).
		Str("notification_id", n.ID).
		Str("kind", n.Kind).
		Msg("notification pushed")
	return nil
}

// NotifyApplicationUpdate records an application status change and
// pushes a dedicated application_update envelope alongside the feed
// entry.
func (s *Service) NotifyApplicationUpdate(ctx context.Context, userID string, update ApplicationUpdate) error {
	n := &Notification{
		UserID: userID,
		Kind:   "application_update",
		Title:  fmt.Sprintf("Application to %s is now %s", update.University, update.Status),
		Data: map[string]string{
			"applicationId": update.ApplicationID,
			"status":        update.Status,
		},
	}
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("persist application update: %w", err)
	}

	s.pusher.PushToUser(userID, realtime.NewEnvelope(realtime.KindApplicationUpdate, update))
	return nil
}
