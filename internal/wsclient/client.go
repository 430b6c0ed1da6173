// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package wsclient implements the reconnecting client for the gateway.
// Frontends embed the same logic in their own stack; this client backs
// Go-side consumers and the end-to-end tests.
package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/studypath/relay/internal/logging"
	"github.com/studypath/relay/internal/realtime"
)

// State is the client connection state.
type State int32

// Connection states, in the order a healthy session moves through them.
const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateAuthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 32 * time.Second
	dialTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
)

// Message is one received envelope with its payload left raw for the
// consumer to decode.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// TokenSource supplies the bearer token for the authenticate handshake.
// A nil source leaves the connection anonymous.
type TokenSource func(ctx context.Context) (string, error)

// Config holds client configuration.
type Config struct {
	// BaseURL is the gateway's HTTP endpoint; the websocket URL is
	// derived from it (http becomes ws, https becomes wss, path /ws)
	// unless WSURL overrides it.
	BaseURL string
	WSURL   string

	// Origin is sent on the upgrade request. Defaults to BaseURL; the
	// server rejects upgrades without one.
	Origin string

	TokenSource TokenSource

	// HeartbeatInterval paces application-level pings. Default: 20s.
	HeartbeatInterval time.Duration

	// IdleTimeout forces a reconnect when nothing arrives. Must exceed
	// the heartbeat interval. Default: 60s.
	IdleTimeout time.Duration
}

// Client maintains one connection to the gateway, transparently
// reconnecting with exponential backoff and re-running the authenticate
// handshake after every reconnect.
type Client struct {
	cfg Config

	connMu sync.RWMutex
	conn   *websocket.Conn

	state    atomic.Int32
	connID   atomic.Value // string
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Callbacks (thread-safe registration)
	callbackMu    sync.RWMutex
	onMessage     func(Message)
	onStateChange func(State)
	onAlert       func(level, message string)
}

// New creates a client. Call Run to connect.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" && cfg.WSURL == "" {
		return nil, fmt.Errorf("wsclient: BaseURL or WSURL is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Origin == "" {
		cfg.Origin = cfg.BaseURL
	}

	return &Client{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}, nil
}

// SetCallbacks registers event callbacks. Any nil callback is ignored
// for that event. Safe to call before or after Run.
func (c *Client) SetCallbacks(onMessage func(Message), onStateChange func(State), onAlert func(level, message string)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onMessage = onMessage
	c.onStateChange = onStateChange
	c.onAlert = onAlert
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ConnectionID returns the server-assigned id of the current session,
// or empty before the first connected envelope.
func (c *Client) ConnectionID() string {
	if id, ok := c.connID.Load().(string); ok {
		return id
	}
	return ""
}

// Run connects and keeps the session alive until the context is
// canceled or Close is called. Each connection failure waits with
// exponential backoff (1s doubling to 32s); the delay resets after a
// successful connect.
func (c *Client) Run(ctx context.Context) error {
	reconnectDelay := initialReconnectDelay

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-c.stopChan:
			c.setState(StateDisconnected)
			return nil
		default:
		}

		if err := c.connect(ctx); err != nil {
			logging.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("gateway connection failed")
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-c.stopChan:
				c.setState(StateDisconnected)
				return nil
			}
			reconnectDelay *= 2
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			continue
		}
		reconnectDelay = initialReconnectDelay

		heartbeatDone := make(chan struct{})
		c.wg.Add(1)
		go c.heartbeatLoop(c.currentConn(), heartbeatDone)

		// Blocks until the connection drops or the client stops.
		c.readLoop(ctx)
		close(heartbeatDone)
		c.closeConnection()

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-c.stopChan:
			c.setState(StateDisconnected)
			return nil
		default:
			c.setState(StateDisconnected)
		}
	}
}

// Close stops the client deliberately; no reconnect follows.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.closeConnection()
	c.wg.Wait()
	return nil
}

// connect dials the gateway and starts the heartbeat for this session.
func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	wsURL, err := c.websocketURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(StateOpen)
	logging.Info().Str("url", wsURL).Msg("gateway connected")
	return nil
}

// websocketURL derives the ws(s) endpoint from the configuration.
func (c *Client) websocketURL() (string, error) {
	if c.cfg.WSURL != "" {
		return c.cfg.WSURL, nil
	}

	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = "/ws"
	return parsed.String(), nil
}

// readLoop consumes frames until the connection drops. The read
// deadline enforces the idle timeout: with the server heartbeating
// every ping we sent, silence longer than IdleTimeout means the
// connection is dead.
func (c *Client) readLoop(ctx context.Context) {
	conn := c.currentConn()
	if conn == nil {
		return
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-c.stopChan:
			default:
				logging.Warn().Err(err).Msg("gateway connection lost")
			}
			return
		}
		c.handleMessage(ctx, raw)
	}
}

// handleMessage dispatches one received envelope.
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		logging.Warn().Err(err).Msg("malformed envelope from gateway")
		return
	}

	switch msg.Type {
	case realtime.KindConnected:
		var data realtime.ConnectedData
		if err := json.Unmarshal(msg.Data, &data); err == nil {
			c.connID.Store(data.ConnectionID)
		}
		c.authenticate(ctx)

	case realtime.KindAuthenticated:
		c.setState(StateAuthenticated)
		logging.Info().Msg("gateway session authenticated")

	case realtime.KindPong:
		// Liveness confirmed; the read deadline was already refreshed.

	case realtime.KindSystemAlert:
		var data realtime.SystemAlertData
		level := "unknown"
		if err := json.Unmarshal(msg.Data, &data); err == nil {
			level = data.Level
		}
		c.callbackMu.RLock()
		onAlert := c.onAlert
		c.callbackMu.RUnlock()
		if onAlert != nil {
			onAlert(level, msg.Message)
		}

	default:
		c.callbackMu.RLock()
		onMessage := c.onMessage
		c.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

// authenticate runs the token handshake. A missing token source keeps
// the session anonymous; a failed fetch is retried on the next connect.
func (c *Client) authenticate(ctx context.Context) {
	if c.cfg.TokenSource == nil {
		return
	}

	token, err := c.cfg.TokenSource(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("token source failed, staying anonymous")
		return
	}

	c.setState(StateAuthenticating)
	if err := c.send(map[string]string{"type": realtime.KindAuthenticate, "token": token}); err != nil {
		logging.Warn().Err(err).Msg("authenticate send failed")
	}
}

// heartbeatLoop sends application-level pings carrying the send time
// until the connection or client stops.
func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.currentConn() != conn {
				return
			}
			err := c.send(map[string]string{
				"type":      realtime.KindPing,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
		case <-done:
			return
		case <-c.stopChan:
			return
		}
	}
}

// send writes one JSON envelope with a write deadline.
func (c *Client) send(payload interface{}) error {
	conn := c.currentConn()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn {
		return fmt.Errorf("connection replaced")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) closeConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.callbackMu.RLock()
	onStateChange := c.onStateChange
	c.callbackMu.RUnlock()
	if onStateChange != nil {
		onStateChange(s)
	}
}
