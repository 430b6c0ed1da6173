// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package chat

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/realtime"
)

// Pusher delivers envelopes to a user's live connections. Satisfied by
// the realtime hub.
type Pusher interface {
	PushToUser(userID string, env realtime.Envelope)
}

// sendPayload is the client payload of an inbound chat_message envelope.
type sendPayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// readPayload is the client payload of an inbound message_read envelope.
type readPayload struct {
	MessageID string `json:"messageId"`
}

// ReadReceipt is pushed to the original sender when their message is read.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId"`
}

// Service persists chat traffic and routes it between the two
// participants' live connections. It is wired into the hub as its chat
// delegate; all methods run on read-pump goroutines, so everything here
// must be safe for concurrent use.
type Service struct {
	store  *Store
	pusher Pusher
}

// NewService creates a chat service.
func NewService(store *Store, pusher Pusher) *Service {
	return &Service{store: store, pusher: pusher}
}

// Store exposes the underlying store for the REST handlers.
func (s *Service) Store() *Store {
	return s.store
}

// Send persists a message and pushes it to the recipient's connections.
// The recipient being offline is not an error; they see the message in
// the conversation history.
func (s *Service) Send(ctx context.Context, sender auth.Identity, recipientID, content string) (*Message, error) {
	m := &Message{
		SenderID:    sender.UserID,
		RecipientID: recipientID,
		Content:     content,
	}
	if err := s.store.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("persist chat message: %w", err)
	}

	s.pusher.PushToUser(m.RecipientID, realtime.NewEnvelope(realtime.KindChatMessage, m))
	logging.Debug().
		Str("message_id", m.ID).
		Str("sender_id", m.SenderID).
		Str("recipient_id", m.RecipientID).
		Msg("chat message routed")
	return m, nil
}

// MarkRead marks a message read on behalf of the reader and pushes a
// read receipt to the original sender's connections.
func (s *Service) MarkRead(ctx context.Context, reader auth.Identity, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message_read requires a message id")
	}

	m, err := s.store.MarkRead(ctx, reader.UserID, messageID)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}

	s.pusher.PushToUser(m.SenderID, realtime.NewEnvelope(realtime.KindMessageRead, ReadReceipt{
		MessageID: m.ID,
		ReaderID:  reader.UserID,
	}))
	return m, nil
}

// HandleChatMessage routes an inbound chat_message envelope.
func (s *Service) HandleChatMessage(ctx context.Context, sender auth.Identity, data json.RawMessage) error {
	var payload sendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse chat payload: %w", err)
	}
	_, err := s.Send(ctx, sender, payload.RecipientID, payload.Content)
	return err
}

// HandleMessageRead routes an inbound message_read envelope.
func (s *Service) HandleMessageRead(ctx context.Context, sender auth.Identity, data json.RawMessage) error {
	var payload readPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse read payload: %w", err)
	}
	_, err := s.MarkRead(ctx, sender, payload.MessageID)
	return err
}
