// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/studypath/relay/internal/auth"
	"github.com/studypath/relay/internal/config"
	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/metrics"
)

// ChatDelegate receives inbound chat envelopes for persistence and
// counterpart fan-out. Implemented by the chat service; the hub only
// transports.
type ChatDelegate interface {
	HandleChatMessage(ctx context.Context, sender auth.Identity, data json.RawMessage) error
	HandleMessageRead(ctx context.Context, sender auth.Identity, data json.RawMessage) error
}

// userPush pairs a target user with the envelope to fan out.
type userPush struct {
	userID string
	env    Envelope
}

// Hub is the single dispatch point for all inbound and outbound
// envelopes. Connection lifecycle flows through its channels; inbound
// frames are dispatched directly from each connection's read pump, so
// per-connection ordering is preserved and slow handlers never stall
// other connections.
type Hub struct {
	cfg      config.RealtimeConfig
	registry *Registry
	verifier auth.TokenVerifier
	load     *LoadMonitor
	chat     ChatDelegate

	broadcast chan Envelope
	push      chan userPush
}

// NewHub creates a hub around an injected registry, token verifier and
// load monitor.
func NewHub(cfg config.RealtimeConfig, registry *Registry, verifier auth.TokenVerifier, load *LoadMonitor) *Hub {
	return &Hub{
		cfg:       cfg,
		registry:  registry,
		verifier:  verifier,
		load:      load,
		broadcast: make(chan Envelope, 256),
		push:      make(chan userPush, 256),
	}
}

// SetChatDelegate wires the chat collaborator. Must be called before the
// hub starts serving connections.
func (h *Hub) SetChatDelegate(chat ChatDelegate) {
	h.chat = chat
}

// Registry exposes the connection registry for collaborators and tests.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// RunWithContext drains outbound traffic until the context is canceled,
// then closes all clients and returns ctx.Err(). Designed for suture
// supervision: a restart gets a loop over the same registry.
//
// Selection is priority-based so behavior stays predictable when several
// channels are ready: shutdown always preempts traffic.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case env := <-h.broadcast:
			h.broadcastToConns(env)

		case p := <-h.push:
			h.fanoutToUser(p.userID, p.env)
		}
	}
}

// Attach registers an upgraded websocket with the hub and starts its
// pumps. Registration is synchronous (the registry carries its own
// lock), so the connected envelope with the assigned id is queued
// before the pumps start and is always the first frame the client sees.
//
// Pumps run on a background context: the upgrade request's context is
// canceled as soon as the HTTP handler returns, and connection teardown
// is driven by the hub's shutdown closing the sockets instead.
func (h *Hub) Attach(c *Conn) {
	h.handleRegister(c)
	c.start(context.Background())
}

// detach is called by a connection's read pump on exit.
func (h *Hub) detach(c *Conn) {
	h.handleUnregister(c)
}

// handleRegister assigns an id, sends the connected envelope, and checks
// load thresholds.
func (h *Hub) handleRegister(c *Conn) {
	id := h.registry.Register(c)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(h.registry.Count()))

	c.enqueue(newConnectedEnvelope(id))

	count := h.registry.Count()
	logging.Info().Str("connection_id", id).Int("total_connections", count).Msg("websocket client connected")

	for _, alert := range h.load.OnCountChange(count) {
		h.broadcastToConns(newSystemAlertEnvelope(alert, alert.Message()))
	}
}

// handleUnregister removes the connection. Repeated unregisters for the
// same connection are no-ops.
func (h *Hub) handleUnregister(c *Conn) {
	if !h.registry.Unregister(c.id) {
		return
	}
	c.closeSend()

	count := h.registry.Count()
	metrics.ConnectionsActive.Set(float64(count))
	logging.Info().Str("connection_id", c.id).Int("total_connections", count).Msg("websocket client disconnected")

	// Re-arms thresholds on the way down; crossing downward never alerts.
	h.load.OnCountChange(count)
}

// shutdown closes all clients when the hub loop stops.
func (h *Hub) shutdown(ctx context.Context) {
	conns := h.registry.Snapshot()
	for _, c := range conns {
		h.registry.Unregister(c.id)
		c.closeSend()
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}
	metrics.ConnectionsActive.Set(0)

	logging.Info().
		Str("component", "realtime-hub").
		Int("clients_closed", len(conns)).
		AnErr("reason", ctx.Err()).
		Msg("realtime hub stopped")
}

// handleInbound parses and dispatches one client frame. Malformed frames
// are logged and dropped; they never close the connection.
func (h *Hub) handleInbound(ctx context.Context, c *Conn, raw []byte) {
	env, err := parseInbound(raw)
	if err != nil {
		metrics.MessagesMalformed.Inc()
		logging.Warn().Err(err).Str("connection_id", c.id).Msg("malformed envelope dropped")
		return
	}
	metrics.MessagesInbound.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case KindPing:
		c.enqueue(newPongEnvelope(env.Timestamp))

	case KindAuthenticate:
		h.handleAuthenticate(ctx, c, env.Token)

	case KindSubscribe:
		var data SubscribeData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.Topic == "" {
			logging.Warn().Str("connection_id", c.id).Msg("subscribe envelope missing topic")
			return
		}
		h.registry.Subscribe(c.id, data.Topic)

	case KindChatMessage:
		h.delegateChat(ctx, c, env.Data, false)

	case KindMessageRead:
		h.delegateChat(ctx, c, env.Data, true)

	default:
		logging.Debug().Str("kind", env.Type).Str("connection_id", c.id).Msg("unhandled envelope kind")
	}
}

// handleAuthenticate validates the bearer token and binds the resulting
// identity to the connection. Failure leaves the connection anonymous;
// repeated attempts are accepted and the last successful one wins.
func (h *Hub) handleAuthenticate(ctx context.Context, c *Conn, token string) {
	if token == "" {
		h.onAuthFailure(c, nil)
		return
	}

	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.onAuthFailure(c, err)
		return
	}

	c.authFailures = 0
	if h.registry.Bind(c.id, identity.UserID) == nil {
		// Connection closed between receive and bind.
		return
	}
	c.setRole(identity.Role)
	metrics.ConnectionsBound.Inc()

	logging.Info().Str("connection_id", c.id).Str("user_id", identity.UserID).Msg("connection authenticated")
	c.enqueue(newAuthenticatedEnvelope(identity.UserID))
}

// onAuthFailure logs a failed handshake and closes the connection after
// too many consecutive failures.
func (h *Hub) onAuthFailure(c *Conn, err error) {
	metrics.HandshakeFailures.Inc()
	c.authFailures++
	logging.Warn().Err(err).
		Str("connection_id", c.id).
		Int("consecutive_failures", c.authFailures).
		Msg("authentication failed, connection stays anonymous")

	if h.cfg.MaxAuthFailures > 0 && c.authFailures >= h.cfg.MaxAuthFailures {
		logging.Warn().Str("connection_id", c.id).Msg("closing connection after repeated authentication failures")
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}
}

// delegateChat forwards a chat envelope to the chat collaborator.
// Anonymous connections cannot send chat traffic.
func (h *Hub) delegateChat(ctx context.Context, c *Conn, data json.RawMessage, read bool) {
	if h.chat == nil {
		logging.Warn().Str("connection_id", c.id).Msg("chat envelope received but no chat delegate wired")
		return
	}

	userID := c.UserID()
	if userID == "" {
		logging.Warn().Str("connection_id", c.id).Msg("chat envelope from anonymous connection dropped")
		return
	}
	sender := auth.Identity{UserID: userID, Role: c.Role()}

	var err error
	if read {
		err = h.chat.HandleMessageRead(ctx, sender, data)
	} else {
		err = h.chat.HandleChatMessage(ctx, sender, data)
	}
	if err != nil {
		logging.Error().Err(err).Str("connection_id", c.id).Msg("chat delegate failed")
	}
}

// PushToUser fans one envelope out to every open connection bound to the
// given user. With no open connections the event is dropped; there is no
// offline queue.
func (h *Hub) PushToUser(userID string, env Envelope) {
	select {
	case h.push <- userPush{userID: userID, env: env}:
	default:
		logging.Warn().Str("kind", env.Type).Str("user_id", userID).Msg("push channel full, dropping envelope")
	}
}

// Broadcast queues an envelope for delivery to every open connection,
// authenticated or not.
func (h *Hub) Broadcast(env Envelope) {
	select {
	case h.broadcast <- env:
	default:
		logging.Warn().Str("kind", env.Type).Msg("broadcast channel full, dropping envelope")
	}
}

// fanoutToUser delivers to each of the user's connections; a connection
// failing its send is dropped without failing the rest of the fan-out.
func (h *Hub) fanoutToUser(userID string, env Envelope) {
	conns := h.registry.FindByUser(userID)
	metrics.FanoutTargets.Observe(float64(len(conns)))

	for _, c := range conns {
		if !c.enqueue(env) {
			h.dropConn(c)
		}
	}
}

// broadcastToConns delivers to a snapshot of all connections in
// deterministic id order.
func (h *Hub) broadcastToConns(env Envelope) {
	for _, c := range h.registry.Snapshot() {
		if !c.enqueue(env) {
			h.dropConn(c)
		}
	}
}

// dropConn removes a connection whose send queue is full or closed.
func (h *Hub) dropConn(c *Conn) {
	if h.registry.Unregister(c.id) {
		c.closeSend()
		metrics.ConnectionsActive.Set(float64(h.registry.Count()))
		logging.Warn().Str("connection_id", c.id).Msg("connection dropped, send queue stalled")
	}
}
