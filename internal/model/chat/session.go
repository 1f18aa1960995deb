package chat

import "time"

// Session holds one conversation's state, independent of any transport
// connection. Many connections may reference the same session ID.
type Session struct {
	ID           string    `json:"id"`
	Messages     []Message `json:"messages"`
	Context      Context   `json:"context"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Context carries per-session settings: the active analysis mode, tool
// permissions and free-form client preferences.
type Context struct {
	Mode        Mode            `json:"mode"`
	ActiveTools []string        `json:"activeTools"`
	Permissions map[string]bool `json:"permissions"`
	Preferences map[string]any  `json:"preferences"`
}

// DefaultContext seeds a fresh session: analyze mode, read-only tool access.
func DefaultContext() Context {
	return Context{
		Mode:        ModeAnalyze,
		ActiveTools: []string{},
		Permissions: map[string]bool{
			"notion.read":    true,
			"notion.write":   false,
			"supabase.read":  true,
			"supabase.write": false,
		},
		Preferences: map[string]any{},
	}
}
