package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/digitaldavinci/cbo-bro/internal/service/tools"
)

func TestInvokeGrantedTool(t *testing.T) {
	registry := tools.NewRegistry()
	perms := map[string]bool{"notion.read": true}

	result, err := registry.Invoke(context.Background(), "notion.search", nil, perms)
	if err != nil {
		t.Fatalf("Invoke err: %v", err)
	}

	payload, ok := result.(map[string]string)
	if !ok || payload["status"] != "pending" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestInvokeDeniedTool(t *testing.T) {
	registry := tools.NewRegistry()
	perms := map[string]bool{"notion.read": true, "notion.write": false}

	_, err := registry.Invoke(context.Background(), "notion.create", nil, perms)
	if !errors.Is(err, tools.ErrPermissionDenied) {
		t.Fatalf("expected permission denial, got %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	registry := tools.NewRegistry()
	perms := map[string]bool{"notion.read": true}

	_, err := registry.Invoke(context.Background(), "notion.delete", nil, perms)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}
