package whitelist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/digitaldavinci/cbo-bro/internal/service/whitelist"
)

func TestMissingFileDeniesEveryone(t *testing.T) {
	svc := whitelist.NewService(filepath.Join(t.TempDir(), "whitelist.json"))

	if svc.IsWhitelisted(123) {
		t.Fatal("expected empty whitelist to deny")
	}
	if svc.IsAdmin(123) {
		t.Fatal("expected empty whitelist to have no admins")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	raw := `{"users":[{"id":111,"username":"alice","added_date":"2025-01-01T00:00:00Z"}],"admins":[999]}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	svc := whitelist.NewService(path)

	if !svc.IsWhitelisted(111) {
		t.Fatal("expected user 111 whitelisted")
	}
	if !svc.IsWhitelisted(999) {
		t.Fatal("expected admin 999 implicitly whitelisted")
	}
	if !svc.IsAdmin(999) {
		t.Fatal("expected 999 to be admin")
	}
	if svc.IsAdmin(111) {
		t.Fatal("expected 111 not to be admin")
	}
	if svc.IsWhitelisted(222) {
		t.Fatal("expected unknown user denied")
	}
}

func TestAddAndRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	svc := whitelist.NewService(path)

	if err := svc.AddUser(whitelist.User{ID: 42, Username: "bob"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if !svc.IsWhitelisted(42) {
		t.Fatal("expected 42 whitelisted after add")
	}

	reloaded := whitelist.NewService(path)
	if !reloaded.IsWhitelisted(42) {
		t.Fatal("expected add to persist across reload")
	}

	if err := svc.RemoveUser(42); err != nil {
		t.Fatalf("RemoveUser: %v", err)
	}
	if svc.IsWhitelisted(42) {
		t.Fatal("expected 42 denied after remove")
	}

	reloaded = whitelist.NewService(path)
	if reloaded.IsWhitelisted(42) {
		t.Fatal("expected remove to persist across reload")
	}
}

func TestAddExistingUserKeepsAddedDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	svc := whitelist.NewService(path)

	if err := svc.AddUser(whitelist.User{ID: 7, Username: "old", AddedDate: "2024-06-01T00:00:00Z"}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := svc.AddUser(whitelist.User{ID: 7, Username: "new"}); err != nil {
		t.Fatalf("AddUser update: %v", err)
	}

	users := svc.Users()
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Username != "new" {
		t.Fatalf("expected updated username, got %q", users[0].Username)
	}
	if users[0].AddedDate != "2024-06-01T00:00:00Z" {
		t.Fatalf("expected original added_date kept, got %q", users[0].AddedDate)
	}
}
