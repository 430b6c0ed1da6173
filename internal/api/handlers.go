// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/chat"
	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/middleware"
	"github.com/studypath/relay/internal/notifications"
)

// Handler carries the collaborators behind the REST endpoints.
type Handler struct {
	jwt           *auth.JWTManager
	notifications *notifications.Service
	chat          *chat.Service
	startedAt     time.Time
}

// NewHandler creates the REST handler set.
func NewHandler(jwt *auth.JWTManager, n *notifications.Service, c *chat.Service) *Handler {
	return &Handler{
		jwt:           jwt,
		notifications: n,
		chat:          c,
		startedAt:     time.Now(),
	}
}

// loginRequest is the body of POST /api/v1/auth/login. Credential
// checking happens upstream at the platform's identity provider; this
// endpoint exchanges a vouched-for identity for a gateway token.
type loginRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// loginResponse carries the issued bearer token.
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Login issues a signed bearer token for the given identity.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if req.UserID == "" {
		rw.BadRequest("userId is required")
		return
	}
	if !auth.ValidRole(req.Role) {
		rw.BadRequest("role must be student, counselor or admin")
		return
	}

	token, err := h.jwt.GenerateToken(req.UserID, req.Role)
	if err != nil {
		logging.Error().Err(err).Str("user_id", req.UserID).Msg("token generation failed")
		rw.InternalError("failed to issue token")
		return
	}

	rw.Success(loginResponse{
		Token:     token,
		ExpiresIn: int64(h.jwt.Timeout().Seconds()),
	})
}

// Health reports liveness and uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// ListNotifications returns the caller's feed, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	limit := queryInt(r, "limit", 50)
	list, err := h.notifications.Store().ListByUser(r.Context(), identity.UserID, limit)
	if err != nil {
		logging.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to list notifications")
		rw.InternalError("failed to list notifications")
		return
	}
	if list == nil {
		list = []*notifications.Notification{}
	}
	rw.SuccessWithCount(list, len(list))
}

// UnreadNotificationCount returns the caller's unread badge count.
func (h *Handler) UnreadNotificationCount(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	count, err := h.notifications.Store().UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		rw.InternalError("failed to count notifications")
		return
	}
	rw.Success(map[string]int{"unread": count})
}

// MarkNotificationRead marks one of the caller's notifications read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.notifications.Store().MarkRead(r.Context(), identity.UserID, id); err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			rw.NotFound("notification not found")
			return
		}
		rw.InternalError("failed to mark notification read")
		return
	}
	rw.NoContent()
}

// DeleteNotification removes one of the caller's notifications.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.notifications.Store().Delete(r.Context(), identity.UserID, id); err != nil {
		if errors.Is(err, notifications.ErrNotificationNotFound) {
			rw.NotFound("notification not found")
			return
		}
		rw.InternalError("failed to delete notification")
		return
	}
	rw.NoContent()
}

// publishNotificationRequest is the body of POST /api/v1/notifications.
type publishNotificationRequest struct {
	UserID string            `json:"userId"`
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Body   string            `json:"body,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

// PublishNotification lets counselors and admins push a notification to
// a user. Students cannot publish.
func (h *Handler) PublishNotification(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}
	if identity.Role != auth.RoleCounselor && identity.Role != auth.RoleAdmin {
		rw.Forbidden("publishing requires counselor or admin role")
		return
	}

	var req publishNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if req.UserID == "" || req.Title == "" {
		rw.BadRequest("userId and title are required")
		return
	}
	if req.Kind == "" {
		req.Kind = "system"
	}

	n := &notifications.Notification{
		UserID: req.UserID,
		Kind:   req.Kind,
		Title:  req.Title,
		Body:   req.Body,
		Data:   req.Data,
	}
	if err := h.notifications.Notify(r.Context(), n); err != nil {
		logging.Error().Err(err).Str("user_id", req.UserID).Msg("failed to publish notification")
		rw.InternalError("failed to publish notification")
		return
	}
	rw.Created(n)
}

// applicationUpdateRequest is the body of POST /api/v1/applications/updates.
type applicationUpdateRequest struct {
	UserID        string `json:"userId"`
	ApplicationID string `json:"applicationId"`
	University    string `json:"university"`
	Status        string `json:"status"`
}

// PublishApplicationUpdate pushes an application status change to the
// applicant. Counselor or admin only.
func (h *Handler) PublishApplicationUpdate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}
	if identity.Role != auth.RoleCounselor && identity.Role != auth.RoleAdmin {
		rw.Forbidden("publishing requires counselor or admin role")
		return
	}

	var req applicationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}
	if req.UserID == "" || req.ApplicationID == "" || req.Status == "" {
		rw.BadRequest("userId, applicationId and status are required")
		return
	}

	update := notifications.ApplicationUpdate{
		ApplicationID: req.ApplicationID,
		University:    req.University,
		Status:        req.Status,
	}
	if err := h.notifications.NotifyApplicationUpdate(r.Context(), req.UserID, update); err != nil {
		rw.InternalError("failed to publish application update")
		return
	}
	rw.Created(update)
}

// Conversation returns the message history between the caller and a peer.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	peerID := chi.URLParam(r, "peerID")
	limit := queryInt(r, "limit", 100)
	list, err := h.chat.Store().Conversation(r.Context(), identity.UserID, peerID, limit)
	if err != nil {
		rw.InternalError("failed to load conversation")
		return
	}
	if list == nil {
		list = []*chat.Message{}
	}
	rw.SuccessWithCount(list, len(list))
}

// sendMessageRequest is the body of POST /api/v1/chat/{peerID}/messages.
type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage sends a chat message over the REST fallback. The live
// connections of the recipient receive it exactly as if it had arrived
// over a websocket.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid request body")
		return
	}

	m, err := h.chat.Send(r.Context(), identity, chi.URLParam(r, "peerID"), req.Content)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	rw.Created(m)
}

// MarkMessageRead marks a chat message read on behalf of the caller.
func (h *Handler) MarkMessageRead(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	m, err := h.chat.MarkRead(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			rw.NotFound("message not found")
		case errors.Is(err, chat.ErrNotRecipient):
			rw.Forbidden("only the recipient can mark a message read")
		default:
			rw.InternalError("failed to mark message read")
		}
		return
	}
	rw.Success(m)
}

// UnreadMessageCount returns the caller's unread count for one peer.
func (h *Handler) UnreadMessageCount(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		rw.Unauthorized("authentication required")
		return
	}

	count, err := h.chat.Store().UnreadCount(r.Context(), identity.UserID, chi.URLParam(r, "peerID"))
	if err != nil {
		rw.InternalError("failed to count messages")
		return
	}
	rw.Success(map[string]int{"unread": count})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
