// Package envelope defines the discriminated JSON messages exchanged over the
// chat WebSocket. Every envelope carries a "type" tag; the remaining fields
// depend on the direction and type.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
)

// Inbound envelope types (client → server).
const (
	TypeChat = "chat"
	TypeTool = "tool"
	TypeMode = "mode"
	TypePing = "ping"
)

// Outbound envelope types (server → client).
const (
	TypeConnectionEstablished = "connection.established"
	TypeSessionRestored       = "session.restored"
	TypeStreamStart           = "stream.start"
	TypeStreamChunk           = "stream.chunk"
	TypeStreamEnd             = "stream.end"
	TypeStreamError           = "stream.error"
	TypeToolUse               = "tool.use"
	TypeToolResult            = "tool.result"
	TypeToolError             = "tool.error"
	TypeModeChanged           = "mode.changed"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// Inbound is a client request envelope. Which fields are meaningful depends
// on Type.
type Inbound struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Mode    string          `json:"mode,omitempty"`
}

// ParseInbound decodes a raw frame into an Inbound envelope.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	err := json.Unmarshal(data, &in)
	return in, err
}

// Outbound is a server response envelope. Constructed through the helpers
// below so each type carries exactly the fields its clients expect.
type Outbound struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"sessionId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`
	Messages     []chat.Message `json:"messages,omitempty"`
	Context      *chat.Context  `json:"context,omitempty"`
	MessageID    string         `json:"messageId,omitempty"`
	Content      string         `json:"content,omitempty"`
	Message      any            `json:"message,omitempty"`
	Mode         chat.Mode      `json:"mode,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Status       string         `json:"status,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ConnectionEstablished announces the assigned session and connection IDs.
func ConnectionEstablished(sessionID, connectionID string) Outbound {
	return Outbound{
		Type:         TypeConnectionEstablished,
		SessionID:    sessionID,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// SessionRestored replays recent history to a reconnecting client.
func SessionRestored(messages []chat.Message, ctx chat.Context) Outbound {
	return Outbound{
		Type:     TypeSessionRestored,
		Messages: messages,
		Context:  &ctx,
	}
}

// StreamStart opens an assistant response stream.
func StreamStart(messageID string, mode chat.Mode) Outbound {
	return Outbound{Type: TypeStreamStart, MessageID: messageID, Mode: mode}
}

// StreamChunk carries one incremental text delta.
func StreamChunk(messageID, content string) Outbound {
	return Outbound{Type: TypeStreamChunk, MessageID: messageID, Content: content}
}

// StreamEnd closes a stream with the finalized assistant message.
func StreamEnd(messageID string, message chat.Message) Outbound {
	return Outbound{Type: TypeStreamEnd, MessageID: messageID, Message: message}
}

// StreamError aborts a stream; no assistant message was stored.
func StreamError(messageID, errMsg string) Outbound {
	return Outbound{Type: TypeStreamError, MessageID: messageID, Error: errMsg}
}

// ToolUse signals that a tool invocation has started.
func ToolUse(tool, status string) Outbound {
	return Outbound{Type: TypeToolUse, Tool: tool, Status: status}
}

// ToolResult delivers a successful tool invocation result.
func ToolResult(tool string, result any, status string) Outbound {
	return Outbound{Type: TypeToolResult, Tool: tool, Result: result, Status: status}
}

// ToolError reports a denied or failed tool invocation.
func ToolError(tool, errMsg string) Outbound {
	return Outbound{Type: TypeToolError, Tool: tool, Error: errMsg}
}

// ModeChanged confirms a mode switch.
func ModeChanged(mode chat.Mode, message string) Outbound {
	return Outbound{Type: TypeModeChanged, Mode: mode, Message: message}
}

// Error is the generic failure envelope; the connection stays open.
func Error(errMsg string) Outbound {
	return Outbound{Type: TypeError, Error: errMsg}
}

// Pong answers an application-level ping.
func Pong() Outbound {
	return Outbound{Type: TypePong}
}
