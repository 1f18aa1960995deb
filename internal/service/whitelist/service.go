// Package whitelist gates Telegram access by user ID, backed by a JSON file
// that survives restarts. A missing or unreadable file denies everyone.
package whitelist

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// User is one whitelisted Telegram account.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	AddedDate string `json:"added_date"`
	Notes     string `json:"notes,omitempty"`
}

type fileData struct {
	Users  []User  `json:"users"`
	Admins []int64 `json:"admins"`
}

// Service holds the whitelist in memory and mirrors changes to disk.
type Service struct {
	mu   sync.RWMutex
	path string
	data fileData
}

// NewService loads the whitelist from path. A missing file is not an error;
// it just leaves the list empty.
func NewService(path string) *Service {
	s := &Service{path: path}
	if err := s.load(); err != nil {
		log.Printf("[whitelist] load failed, starting empty: %v", err)
	}
	return s
}

func (s *Service) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to parse whitelist file: %w", err)
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	log.Printf("[whitelist] loaded %d users, %d admins", len(data.Users), len(data.Admins))
	return nil
}

func (s *Service) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode whitelist: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create whitelist dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write whitelist file: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether the user may talk to the bot. Admins are
// implicitly whitelisted.
func (s *Service) IsWhitelisted(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, adminID := range s.data.Admins {
		if adminID == userID {
			return true
		}
	}
	for _, u := range s.data.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user may run admin commands.
func (s *Service) IsAdmin(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, adminID := range s.data.Admins {
		if adminID == userID {
			return true
		}
	}
	return false
}

// AddUser whitelists a user and persists the change. Adding an existing user
// updates the stored username and notes.
func (s *Service) AddUser(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.AddedDate == "" {
		user.AddedDate = time.Now().UTC().Format(time.RFC3339)
	}

	for i, existing := range s.data.Users {
		if existing.ID == user.ID {
			user.AddedDate = existing.AddedDate
			s.data.Users[i] = user
			return s.save()
		}
	}

	s.data.Users = append(s.data.Users, user)
	log.Printf("[whitelist] added user %d (%s)", user.ID, user.Username)
	return s.save()
}

// RemoveUser drops a user from the whitelist. Removing an unknown user is a
// no-op.
func (s *Service) RemoveUser(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range s.data.Users {
		if u.ID == userID {
			s.data.Users = append(s.data.Users[:i], s.data.Users[i+1:]...)
			log.Printf("[whitelist] removed user %d", userID)
			return s.save()
		}
	}
	return nil
}

// Users returns a snapshot of the whitelisted users.
func (s *Service) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, len(s.data.Users))
	copy(out, s.data.Users)
	return out
}
