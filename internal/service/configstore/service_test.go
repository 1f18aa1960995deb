package configstore_test

import (
	"strings"
	"testing"

	"github.com/digitaldavinci/cbo-bro/internal/service/configstore"
)

func newService(t *testing.T) (*configstore.Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := configstore.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, dir
}

func TestSeedsDefaultConfig(t *testing.T) {
	svc, _ := newService(t)

	active := svc.Active()
	if active.Version != "1.0.0" {
		t.Fatalf("expected default version, got %q", active.Version)
	}
	if !strings.Contains(active.SystemPrompt, "Four Flows") {
		t.Fatal("expected default system prompt")
	}
}

func TestUpdatePushesHistory(t *testing.T) {
	svc, _ := newService(t)
	original := svc.Active()

	updated, err := svc.Update(configstore.BotConfig{
		Version:      "1.1.0",
		SystemPrompt: "You are a test assistant.",
		UpdatedBy:    "admin",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != "1.1.0" {
		t.Fatalf("expected new version, got %q", updated.Version)
	}

	history := svc.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].SystemPrompt != original.SystemPrompt {
		t.Fatal("expected history to hold the previous config")
	}
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	svc, _ := newService(t)
	original := svc.Active()

	updated, err := svc.Update(configstore.BotConfig{Version: "1.0.1"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.SystemPrompt != original.SystemPrompt {
		t.Fatal("expected empty prompt to keep previous value")
	}
	if updated.Temperature != original.Temperature {
		t.Fatal("expected zero temperature to keep previous value")
	}
}

func TestStateSurvivesReload(t *testing.T) {
	svc, dir := newService(t)
	if _, err := svc.Update(configstore.BotConfig{Version: "2.0.0", SystemPrompt: "reloaded"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.RecordDeployment("admin"); err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}

	reloaded, err := configstore.NewService(dir)
	if err != nil {
		t.Fatalf("NewService reload: %v", err)
	}
	if reloaded.Active().Version != "2.0.0" {
		t.Fatalf("expected active config to persist, got %q", reloaded.Active().Version)
	}
	if len(reloaded.History()) != 1 {
		t.Fatalf("expected history to persist, got %d entries", len(reloaded.History()))
	}

	deployments := reloaded.Deployments()
	if len(deployments) != 1 {
		t.Fatalf("expected deployment log to persist, got %d entries", len(deployments))
	}
	if deployments[0].Version != "2.0.0" {
		t.Fatalf("expected deployment of version 2.0.0, got %q", deployments[0].Version)
	}
}
