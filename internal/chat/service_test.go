// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package chat

import (
	"context"
	"testing"

	"github.com/goccy/go-json"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/realtime"
)

// recordingPusher captures pushed envelopes per user.
type recordingPusher struct {
	pushes []struct {
		userID string
		env    realtime.Envelope
	}
}

func (p *recordingPusher) PushToUser(userID string, env realtime.Envelope) {
	p.pushes = append(p.pushes, struct {
		userID string
		env    realtime.Envelope
	}{userID, env})
}

func setupService(t *testing.T) (*Service, *recordingPusher) {
	t.Helper()
	pusher := &recordingPusher{}
	return NewService(openTestStore(t), pusher), pusher
}

func TestService_HandleChatMessage(t *testing.T) {
	svc, pusher := setupService(t)
	ctx := context.Background()
	sender := auth.Identity{UserID: "student-1", Role: auth.RoleStudent}

	payload := json.RawMessage(`{"recipientId":"counselor-1","content":"Hi, quick question"}`)
	if err := svc.HandleChatMessage(ctx, sender, payload); err != nil {
		t.Fatalf("HandleChatMessage failed: %v", err)
	}

	// Persisted into the conversation.
	list, err := svc.Store().Conversation(ctx, "student-1", "counselor-1", 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 persisted message, got %d (err %v)", len(list), err)
	}
	if list[0].Content != "Hi, quick question" || list[0].SenderID != "student-1" {
		t.Errorf("persisted message wrong: %+v", list[0])
	}

	// Pushed to the recipient only.
	if len(pusher.pushes) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.pushes))
	}
	push := pusher.pushes[0]
	if push.userID != "counselor-1" {
		t.Errorf("pushed to %q, want counselor-1", push.userID)
	}
	if push.env.Type != realtime.KindChatMessage {
		t.Errorf("envelope kind = %q, want %q", push.env.Type, realtime.KindChatMessage)
	}
	m, ok := push.env.Data.(*Message)
	if !ok || m.ID != list[0].ID {
		t.Errorf("envelope payload = %+v", push.env.Data)
	}
}

func TestService_HandleChatMessageInvalid(t *testing.T) {
	svc, pusher := setupService(t)
	ctx := context.Background()
	sender := auth.Identity{UserID: "student-1", Role: auth.RoleStudent}

	for _, raw := range []string{
		`not json`,
		`{"recipientId":"","content":"hi"}`,
		`{"recipientId":"counselor-1","content":""}`,
		`{"recipientId":"student-1","content":"talking to myself"}`,
	} {
		if err := svc.HandleChatMessage(ctx, sender, json.RawMessage(raw)); err == nil {
			t.Errorf("payload %q should be rejected", raw)
		}
	}
	if len(pusher.pushes) != 0 {
		t.Errorf("rejected messages must not push, got %d pushes", len(pusher.pushes))
	}
}

func TestService_HandleMessageRead(t *testing.T) {
	svc, pusher := setupService(t)
	ctx := context.Background()

	student := auth.Identity{UserID: "student-1", Role: auth.RoleStudent}
	counselor := auth.Identity{UserID: "counselor-1", Role: auth.RoleCounselor}

	if err := svc.HandleChatMessage(ctx, student, json.RawMessage(`{"recipientId":"counselor-1","content":"hello"}`)); err != nil {
		t.Fatalf("HandleChatMessage failed: %v", err)
	}
	messageID := pusher.pushes[0].env.Data.(*Message).ID
	pusher.pushes = nil

	raw, _ := json.Marshal(map[string]string{"messageId": messageID})
	if err := svc.HandleMessageRead(ctx, counselor, raw); err != nil {
		t.Fatalf("HandleMessageRead failed: %v", err)
	}

	// The read receipt goes back to the original sender.
	if len(pusher.pushes) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.pushes))
	}
	push := pusher.pushes[0]
	if push.userID != "student-1" || push.env.Type != realtime.KindMessageRead {
		t.Errorf("receipt pushed to %q as %q", push.userID, push.env.Type)
	}
	receipt, ok := push.env.Data.(ReadReceipt)
	if !ok || receipt.MessageID != messageID || receipt.ReaderID != "counselor-1" {
		t.Errorf("receipt payload = %+v", push.env.Data)
	}

	// Only the recipient may mark it read.
	if err := svc.HandleMessageRead(ctx, student, raw); err == nil {
		t.Error("sender marking own message read should fail")
	}
	if err := svc.HandleMessageRead(ctx, counselor, json.RawMessage(`{"messageId":""}`)); err == nil {
		t.Error("empty message id should fail")
	}
}
