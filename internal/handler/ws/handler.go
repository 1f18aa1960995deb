// Package ws serves the chat WebSocket endpoint used by the Mini-App and the
// relay client. One goroutine reads frames per connection; chat turns run on a
// separate goroutine so pings and mode switches stay responsive mid-stream.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
	"github.com/digitaldavinci/cbo-bro/internal/model/envelope"
	"github.com/digitaldavinci/cbo-bro/internal/service/ai"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
)

const (
	readTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
	restoredHistory = 10
)

// Streamer produces assistant replies. Satisfied by *ai.Client.
type Streamer interface {
	StreamingEnabled() bool
	Complete(ctx context.Context, history []chat.Message, query string, mode chat.Mode) (string, error)
	Stream(ctx context.Context, history []chat.Message, query string, mode chat.Mode, onChunk func(ai.Chunk)) (string, error)
}

// ToolInvoker runs permission-gated tools. Satisfied by *tools.Registry.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, params json.RawMessage, permissions map[string]bool) (any, error)
}

// Handler upgrades chat connections and dispatches their envelopes.
type Handler struct {
	sessions *session.Store
	aiClient Streamer
	tools    ToolInvoker
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*connection
}

// NewHandler builds the WebSocket handler. aiClient may be nil when no
// provider is configured; chat envelopes then get an error envelope back.
func NewHandler(sessions *session.Store, aiClient Streamer, tools ToolInvoker) *Handler {
	return &Handler{
		sessions: sessions,
		aiClient: aiClient,
		tools:    tools,
		conns:    make(map[string]*connection),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// ConnectionCount reports the number of live connections.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// connection is the per-socket state. Writes go through send so concurrent
// writers never interleave frames.
type connection struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	alive     atomic.Bool
	streaming atomic.Bool
}

func (c *connection) send(out envelope.Outbound) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(out); err != nil {
		log.Printf("[ws] write failed conn=%s: %v", c.id, err)
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	sess, created := h.sessions.GetOrCreate(sessionID)

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer wsConn.Close()

	c := &connection{
		id:        uuid.NewString(),
		sessionID: sess.ID,
		conn:      wsConn,
	}
	c.alive.Store(true)

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, c.id)
		h.mu.Unlock()
		log.Printf("[ws] connection closed conn=%s session=%s", c.id, c.sessionID)
	}()

	log.Printf("[ws] connection open conn=%s session=%s new=%t", c.id, c.sessionID, created)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn.SetReadDeadline(time.Now().Add(readTimeout))
	wsConn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		wsConn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, c)

	c.send(envelope.ConnectionEstablished(c.sessionID, c.id))
	if !created && len(sess.Messages) > 0 {
		c.send(envelope.SessionRestored(h.sessions.History(c.sessionID, restoredHistory), sess.Context))
	}

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error conn=%s: %v", c.id, err)
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(readTimeout))

		in, err := envelope.ParseInbound(raw)
		if err != nil {
			c.send(envelope.Error("invalid message format"))
			continue
		}

		h.dispatch(ctx, c, in)
	}
}

// dispatch isolates failures to the triggering message; the connection
// survives a panicking handler.
func (h *Handler) dispatch(ctx context.Context, c *connection, in envelope.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ws] handler panic conn=%s type=%s: %v", c.id, in.Type, r)
			c.send(envelope.Error("internal error"))
		}
	}()

	switch in.Type {
	case envelope.TypeChat:
		h.handleChat(ctx, c, in)
	case envelope.TypeTool:
		h.handleTool(ctx, c, in)
	case envelope.TypeMode:
		h.handleMode(c, in)
	case envelope.TypePing:
		c.send(envelope.Pong())
	default:
		c.send(envelope.Error("unsupported message type: " + in.Type))
	}
}

// handleChat runs the turn on its own goroutine. Only one turn may be in
// flight per connection; extra chat envelopes are rejected without closing.
func (h *Handler) handleChat(ctx context.Context, c *connection, in envelope.Inbound) {
	if in.Content == "" {
		c.send(envelope.Error("chat message requires content"))
		return
	}
	if h.aiClient == nil {
		c.send(envelope.Error("ai service unavailable"))
		return
	}
	if !c.streaming.CompareAndSwap(false, true) {
		c.send(envelope.Error("a response is already in progress"))
		return
	}

	go func() {
		defer c.streaming.Store(false)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[ws] chat turn panic conn=%s: %v", c.id, r)
				c.send(envelope.Error("internal error"))
			}
		}()
		h.runChatTurn(ctx, c, in.Content)
	}()
}

func (h *Handler) runChatTurn(ctx context.Context, c *connection, content string) {
	sess, ok := h.sessions.Get(c.sessionID)
	if !ok {
		c.send(envelope.Error("session expired"))
		return
	}
	mode := sess.Context.Mode
	history := sess.Messages

	h.sessions.AppendMessage(c.sessionID, chat.Message{
		Role:    chat.RoleUser,
		Content: content,
		Mode:    mode,
	})

	messageID := uuid.NewString()
	c.send(envelope.StreamStart(messageID, mode))

	var finalText string
	var err error
	if h.aiClient.StreamingEnabled() {
		finalText, err = h.aiClient.Stream(ctx, history, content, mode, func(chunk ai.Chunk) {
			if chunk.Type == ai.ChunkTextDelta && chunk.Content != "" {
				c.send(envelope.StreamChunk(messageID, chunk.Content))
			}
		})
	} else {
		finalText, err = h.aiClient.Complete(ctx, history, content, mode)
	}
	if err != nil {
		log.Printf("[ws] chat turn failed conn=%s: %v", c.id, err)
		c.send(envelope.StreamError(messageID, "failed to generate response"))
		return
	}

	assistantMsg := chat.Message{
		ID:        messageID,
		Role:      chat.RoleAssistant,
		Content:   finalText,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}
	h.sessions.AppendMessage(c.sessionID, assistantMsg)
	c.send(envelope.StreamEnd(messageID, assistantMsg))
}

func (h *Handler) handleTool(ctx context.Context, c *connection, in envelope.Inbound) {
	if in.Tool == "" {
		c.send(envelope.Error("tool message requires a tool name"))
		return
	}
	if h.tools == nil {
		c.send(envelope.ToolError(in.Tool, "tools unavailable"))
		return
	}

	sess, ok := h.sessions.Get(c.sessionID)
	if !ok {
		c.send(envelope.Error("session expired"))
		return
	}

	c.send(envelope.ToolUse(in.Tool, "running"))

	result, err := h.tools.Invoke(ctx, in.Tool, in.Params, sess.Context.Permissions)
	if err != nil {
		c.send(envelope.ToolError(in.Tool, err.Error()))
		return
	}
	c.send(envelope.ToolResult(in.Tool, result, "completed"))
}

func (h *Handler) handleMode(c *connection, in envelope.Inbound) {
	mode := chat.Mode(in.Mode)
	if !mode.Valid() {
		c.send(envelope.Error("invalid mode: " + in.Mode))
		return
	}

	if !h.sessions.SetMode(c.sessionID, mode) {
		c.send(envelope.Error("session expired"))
		return
	}
	log.Printf("[ws] mode changed conn=%s mode=%s", c.id, mode)
	c.send(envelope.ModeChanged(mode, "Switched to "+string(mode)+" mode"))
}

// pingLoop sends protocol pings. A connection that missed the previous pong
// is closed so the read loop unblocks.
func (h *Handler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.alive.Load() {
				log.Printf("[ws] pong timeout conn=%s", c.id)
				c.conn.Close()
				return
			}
			c.alive.Store(false)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
