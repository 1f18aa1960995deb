// Package relay provides a reconnecting WebSocket client for the chat
// endpoint. It maintains the connection across drops with capped exponential
// backoff, queues outbound messages while offline, and reassembles streamed
// responses per message ID.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/model/envelope"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ErrClosed is returned from sends after Close.
var ErrClosed = errors.New("relay: client closed")

// Config holds client configuration. Zero values take the defaults noted on
// each field.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:3003/ws".
	URL string

	// SessionID resumes an existing session when non-empty.
	SessionID string

	// BackoffBase is the first reconnect delay. Default 1s.
	BackoffBase time.Duration

	// BackoffCap limits the exponential backoff. Default 30s.
	BackoffCap time.Duration

	// MaxAttempts bounds consecutive failed reconnects before giving up.
	// Default 10.
	MaxAttempts int

	// QueueLimit caps messages held while offline; the oldest is dropped
	// beyond it. Default 100.
	QueueLimit int

	// PingInterval is the application-level ping cadence. Default 30s.
	PingInterval time.Duration

	// PongTimeout forces a reconnect when no pong arrives. Default 60s.
	PongTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 100
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
}

// Backoff returns the delay before reconnect attempt n (1-based), doubling
// from base up to limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Handlers are the event callbacks. All are optional and invoked from the
// client's read goroutine, so they must not block.
type Handlers struct {
	OnStateChange func(State)
	OnEstablished func(sessionID, connectionID string)
	OnRestored    func(messages []chat.Message, context chat.Context)
	OnStreamStart func(messageID string, mode chat.Mode)
	// OnDelta receives each increment plus the text reassembled so far.
	OnDelta       func(messageID, delta, cumulative string)
	OnStreamEnd   func(messageID, fullText string)
	OnToolEvent   func(out envelope.Outbound)
	OnModeChanged func(mode chat.Mode)
	OnError       func(message string)
}

// Client is the reconnecting chat client. Safe for concurrent use.
type Client struct {
	cfg      Config
	handlers Handlers

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	state     State
	queue     [][]byte
	closed    bool
	lastPong  time.Time
	assembly  map[string]*strings.Builder
	sessionID string
}

// NewClient builds a client; call Run to start it.
func NewClient(cfg Config, handlers Handlers) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		handlers:  handlers,
		state:     StateDisconnected,
		assembly:  make(map[string]*strings.Builder),
		sessionID: cfg.SessionID,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the server-assigned session, once established.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}

// Run connects and keeps the connection alive until ctx is cancelled, Close
// is called, or MaxAttempts consecutive reconnects fail.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	everConnected := false
	for {
		if c.isClosed() || ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		if everConnected || attempt > 0 {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				c.setState(StateFailed)
				return err
			}
			delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffCap, attempt)
			log.Printf("[relay] connect failed (attempt %d), retrying in %s: %v", attempt, delay, err)
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		everConnected = true
		c.mu.Lock()
		c.conn = conn
		c.lastPong = time.Now()
		c.mu.Unlock()
		c.setState(StateConnected)
		c.flushQueue()

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx)
		c.readLoop(conn)
		stopPing()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.isClosed() {
			c.setState(StateDisconnected)
			return nil
		}

		// the first reconnect after a drop waits the base delay;
		// consecutive dial failures double it from there
		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(c.cfg.BackoffBase):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.cfg.URL
	c.mu.Lock()
	if c.sessionID != "" {
		url += "?sessionId=" + c.sessionID
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Printf("[relay] connection lost: %v", err)
			}
			conn.Close()
			return
		}

		var out envelope.Outbound
		if err := json.Unmarshal(raw, &out); err != nil {
			log.Printf("[relay] bad frame: %v", err)
			continue
		}
		c.handleEnvelope(out)
	}
}

func (c *Client) handleEnvelope(out envelope.Outbound) {
	switch out.Type {
	case envelope.TypeConnectionEstablished:
		c.mu.Lock()
		c.sessionID = out.SessionID
		c.mu.Unlock()
		if c.handlers.OnEstablished != nil {
			c.handlers.OnEstablished(out.SessionID, out.ConnectionID)
		}
	case envelope.TypeSessionRestored:
		if c.handlers.OnRestored != nil {
			var restored chat.Context
			if out.Context != nil {
				restored = *out.Context
			}
			c.handlers.OnRestored(out.Messages, restored)
		}
	case envelope.TypeStreamStart:
		c.mu.Lock()
		c.assembly[out.MessageID] = &strings.Builder{}
		c.mu.Unlock()
		if c.handlers.OnStreamStart != nil {
			c.handlers.OnStreamStart(out.MessageID, out.Mode)
		}
	case envelope.TypeStreamChunk:
		c.mu.Lock()
		b, ok := c.assembly[out.MessageID]
		if !ok {
			b = &strings.Builder{}
			c.assembly[out.MessageID] = b
		}
		b.WriteString(out.Content)
		cumulative := b.String()
		c.mu.Unlock()
		if c.handlers.OnDelta != nil {
			c.handlers.OnDelta(out.MessageID, out.Content, cumulative)
		}
	case envelope.TypeStreamEnd:
		c.mu.Lock()
		var full string
		if b, ok := c.assembly[out.MessageID]; ok {
			full = b.String()
			delete(c.assembly, out.MessageID)
		}
		c.mu.Unlock()
		if full == "" {
			full = finalText(out.Message)
		}
		if c.handlers.OnStreamEnd != nil {
			c.handlers.OnStreamEnd(out.MessageID, full)
		}
	case envelope.TypeStreamError:
		c.mu.Lock()
		delete(c.assembly, out.MessageID)
		c.mu.Unlock()
		if c.handlers.OnError != nil {
			c.handlers.OnError(out.Error)
		}
	case envelope.TypeToolUse, envelope.TypeToolResult, envelope.TypeToolError:
		if c.handlers.OnToolEvent != nil {
			c.handlers.OnToolEvent(out)
		}
	case envelope.TypeModeChanged:
		if c.handlers.OnModeChanged != nil {
			c.handlers.OnModeChanged(out.Mode)
		}
	case envelope.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case envelope.TypeError:
		if c.handlers.OnError != nil {
			c.handlers.OnError(out.Error)
		}
	}
}

// finalText digs the content out of a stream.end message payload when no
// chunks were seen on this connection.
func finalText(message any) string {
	m, ok := message.(map[string]any)
	if !ok {
		return ""
	}
	content, _ := m["content"].(string)
	return content
}

// SendChat submits a user message, queueing it while offline.
func (c *Client) SendChat(content string) error {
	return c.send(envelope.Inbound{Type: envelope.TypeChat, Content: content})
}

// SendTool requests a tool invocation.
func (c *Client) SendTool(tool string, params json.RawMessage) error {
	return c.send(envelope.Inbound{Type: envelope.TypeTool, Tool: tool, Params: params})
}

// SetMode requests a mode switch.
func (c *Client) SetMode(mode chat.Mode) error {
	return c.send(envelope.Inbound{Type: envelope.TypeMode, Mode: string(mode)})
}

func (c *Client) send(in envelope.Inbound) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil || c.state != StateConnected {
		c.enqueueLocked(raw)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.writeRaw(conn, raw); err != nil {
		c.mu.Lock()
		c.enqueueLocked(raw)
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) writeRaw(conn *websocket.Conn, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) enqueueLocked(raw []byte) {
	if len(c.queue) >= c.cfg.QueueLimit {
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, raw)
}

func (c *Client) flushQueue() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	for _, raw := range pending {
		if err := c.writeRaw(conn, raw); err != nil {
			log.Printf("[relay] flush failed: %v", err)
			return
		}
	}
	if len(pending) > 0 {
		log.Printf("[relay] flushed %d queued messages", len(pending))
	}
}

// pingLoop sends application-level pings and forces a reconnect when the
// server stops answering.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			stale := time.Since(c.lastPong) > c.cfg.PongTimeout
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if stale {
				log.Printf("[relay] pong timeout, forcing reconnect")
				conn.Close()
				return
			}
			raw, _ := json.Marshal(envelope.Inbound{Type: envelope.TypePing})
			if err := c.writeRaw(conn, raw); err != nil {
				return
			}
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts the client down; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}
