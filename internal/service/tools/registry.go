// Package tools implements the permission-gated tool registry reachable from
// chat connections. Handlers currently return pending-status placeholders
// until the Notion and Supabase integrations land.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownTool      = errors.New("unknown tool")
)

const invokeTimeout = 30 * time.Second

// Handler executes one named tool.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

type entry struct {
	permission string
	handler    Handler
}

// Registry maps tool names to handlers, each gated by a session permission.
type Registry struct {
	entries map[string]entry
}

// NewRegistry returns the registry preloaded with the built-in tools.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	r.register("notion.search", "notion.read", pendingHandler("notion.search", "Notion search integration pending"))
	r.register("notion.create", "notion.write", pendingHandler("notion.create", "Notion create integration pending"))
	r.register("supabase.query", "supabase.read", pendingHandler("supabase.query", "Supabase query integration pending"))
	r.register("supabase.insert", "supabase.write", pendingHandler("supabase.insert", "Supabase insert integration pending"))
	return r
}

func (r *Registry) register(name, permission string, h Handler) {
	r.entries[name] = entry{permission: permission, handler: h}
}

// Invoke runs the named tool if the permission map grants its gate. Execution
// is bounded by a fixed deadline so a stuck handler cannot hang the
// connection.
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage, permissions map[string]bool) (any, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if !permissions[e.permission] {
		return nil, fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, name, e.permission)
	}

	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	return e.handler(ctx, params)
}

func pendingHandler(name, message string) Handler {
	return func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]string{
			"type":    name,
			"status":  "pending",
			"message": message,
		}, nil
	}
}
