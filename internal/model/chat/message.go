package chat

import "time"

// Message roles within a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Mode      Mode      `json:"mode,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
