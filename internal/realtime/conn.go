// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024 // 64 KB
)

// Conn is one live transport session: created on upgrade, identity bound
// on successful authenticate, destroyed on close or idle timeout. Owned
// exclusively by the registry; other components reach it through the hub.
type Conn struct {
	id        string
	createdAt time.Time

	// mu guards userID, role and topics. The registry's own lock orders
	// map updates; this one makes field reads safe from any goroutine.
	mu     sync.RWMutex
	userID string
	role   string
	topics map[string]struct{}

	hub  *Hub
	ws   *websocket.Conn
	send chan Envelope

	// limiter bounds inbound message rate. Exceeding it is advisory:
	// the client gets a rate_limit_exceeded envelope but the message
	// is still routed.
	limiter *rate.Limiter

	// idleTimeout reaps the connection when no inbound traffic arrives.
	idleTimeout time.Duration

	// authFailures counts consecutive failed handshakes. Only the read
	// pump goroutine touches it.
	authFailures int

	closeSendOnce sync.Once
}

// newConn creates a connection around an upgraded websocket. The id is
// assigned by the registry on Register.
func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:         hub,
		ws:          ws,
		send:        make(chan Envelope, hub.cfg.SendBuffer),
		limiter:     hub.load.NewLimiter(),
		idleTimeout: hub.cfg.IdleTimeout,
	}
}

// ID returns the registry-assigned connection id.
func (c *Conn) ID() string {
	return c.id
}

// UserID returns the bound user identity, or empty while anonymous.
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// Role returns the bound identity's role, or empty while anonymous.
func (c *Conn) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Conn) setRole(role string) {
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
}

// subscribe records topic interest.
func (c *Conn) subscribe(topic string) {
	c.mu.Lock()
	if c.topics == nil {
		c.topics = make(map[string]struct{})
	}
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

// Subscribed reports whether the connection registered interest in topic.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// enqueue queues an envelope for delivery without blocking. A full or
// closed queue drops the envelope and reports false; the hub reacts by
// unregistering the connection.
func (c *Conn) enqueue(env Envelope) (ok bool) {
	defer func() {
		// send may be closed concurrently by the hub; a failed send on
		// a closing connection is a drop, not a crash.
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- env:
		return true
	default:
		metrics.SendsDropped.Inc()
		return false
	}
}

// closeSend closes the outbound queue exactly once.
func (c *Conn) closeSend() {
	c.closeSendOnce.Do(func() {
		close(c.send)
	})
}

// readPump pumps frames from the websocket into the hub. It refreshes
// the read deadline on every inbound frame, so a connection with no
// traffic for idleTimeout is reaped by the deadline expiring.
func (c *Conn) readPump(ctx context.Context) {
	defer func() {
		c.hub.detach(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			break
		}

		if err := c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			logging.Error().Err(err).Msg("failed to refresh read deadline")
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.RateLimitSignals.Inc()
			c.enqueue(newRateLimitEnvelope())
		}

		c.hub.handleInbound(ctx, c, raw)
	}
}

// writePump pumps envelopes from the send queue to the websocket, and
// keeps intermediary infrastructure from timing out the connection with
// protocol-level pings between application heartbeats.
func (c *Conn) writePump() {
	pingPeriod := c.idleTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// Hub closed the queue.
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := MarshalEnvelope(env)
			if err != nil {
				logging.Error().Err(err).Str("kind", env.Type).Msg("failed to marshal envelope")
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Warn().Err(err).Str("connection_id", c.id).Msg("websocket write failed")
				return
			}
			metrics.MessagesOutbound.WithLabelValues(env.Type).Inc()

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// start begins the read and write pumps.
func (c *Conn) start(ctx context.Context) {
	go c.writePump()
	go c.readPump(ctx)
}
