// Package configstore persists the runtime bot configuration (system prompt,
// generation settings) plus its edit history and deployment log as flat JSON
// files under a single directory.
package configstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitaldavinci/cbo-bro/internal/service/ai"
)

const historyCap = 50

// BotConfig is the deployable configuration for the assistant.
type BotConfig struct {
	Version      string  `json:"version"`
	SystemPrompt string  `json:"systemPrompt"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	UpdatedAt    string  `json:"updatedAt"`
	UpdatedBy    string  `json:"updatedBy,omitempty"`
}

// Deployment records one push of the active config to the bot.
type Deployment struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	DeployedAt string `json:"deployedAt"`
	DeployedBy string `json:"deployedBy,omitempty"`
	Status     string `json:"status"`
}

// Service owns the three config files. All mutations go through the lock and
// are written back immediately.
type Service struct {
	mu  sync.RWMutex
	dir string

	active      BotConfig
	history     []BotConfig
	deployments []Deployment
}

// NewService loads state from dir, seeding a default config when the
// directory is empty.
func NewService(dir string) (*Service, error) {
	s := &Service{dir: dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	if err := s.loadFile("active.json", &s.active); err != nil {
		return nil, err
	}
	if err := s.loadFile("history.json", &s.history); err != nil {
		return nil, err
	}
	if err := s.loadFile("deployments.json", &s.deployments); err != nil {
		return nil, err
	}

	if s.active.SystemPrompt == "" {
		s.active = defaultConfig()
		if err := s.saveFile("active.json", s.active); err != nil {
			return nil, err
		}
		log.Printf("[configstore] seeded default config version %s", s.active.Version)
	}

	return s, nil
}

func defaultConfig() BotConfig {
	return BotConfig{
		Version:      "1.0.0",
		SystemPrompt: ai.DefaultSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    1024,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		UpdatedBy:    "system",
	}
}

func (s *Service) loadFile(name string, out any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (s *Service) saveFile(name string, data any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Active returns the current configuration.
func (s *Service) Active() BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Update replaces the active config, pushing the previous one onto the
// history. Empty fields fall back to the current values.
func (s *Service) Update(next BotConfig) (BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.active
	s.history = append(s.history, prev)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}

	if next.SystemPrompt == "" {
		next.SystemPrompt = prev.SystemPrompt
	}
	if next.Version == "" {
		next.Version = prev.Version
	}
	if next.Temperature == 0 {
		next.Temperature = prev.Temperature
	}
	if next.MaxTokens == 0 {
		next.MaxTokens = prev.MaxTokens
	}
	next.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.active = next

	if err := s.saveFile("active.json", s.active); err != nil {
		return BotConfig{}, err
	}
	if err := s.saveFile("history.json", s.history); err != nil {
		return BotConfig{}, err
	}

	log.Printf("[configstore] config updated to version %s by %s", next.Version, next.UpdatedBy)
	return s.active, nil
}

// History returns past configurations, most recent last.
func (s *Service) History() []BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BotConfig, len(s.history))
	copy(out, s.history)
	return out
}

// RecordDeployment logs a deployment of the active config.
func (s *Service) RecordDeployment(deployedBy string) (Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := Deployment{
		ID:         uuid.New().String(),
		Version:    s.active.Version,
		DeployedAt: time.Now().UTC().Format(time.RFC3339),
		DeployedBy: deployedBy,
		Status:     "deployed",
	}
	s.deployments = append(s.deployments, dep)

	if err := s.saveFile("deployments.json", s.deployments); err != nil {
		return Deployment{}, err
	}

	log.Printf("[configstore] deployment %s of version %s", dep.ID, dep.Version)
	return dep, nil
}

// Deployments returns the deployment log, oldest first.
func (s *Service) Deployments() []Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Deployment, len(s.deployments))
	copy(out, s.deployments)
	return out
}
