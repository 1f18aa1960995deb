// Package session implements the in-memory conversation store with TTL
// eviction. Sessions are keyed by an opaque string ID and outlive any single
// transport connection.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitaldavinci/cbo-bro/internal/model/chat"
)

const activeWindow = 5 * time.Minute

// Options bound the store's memory and eviction behavior.
type Options struct {
	Timeout       time.Duration // idle time before the sweep evicts a session
	SweepInterval time.Duration
	MessageCap    int // oldest messages dropped beyond this
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.MessageCap <= 0 {
		o.MessageCap = 100
	}
}

// Stats summarizes the live session population for the admin surface.
type Stats struct {
	Total       int               `json:"total"`
	Active      int               `json:"active"`
	Idle        int               `json:"idle"`
	AvgMessages float64           `json:"avgMessages"`
	Modes       map[chat.Mode]int `json:"modes"`
}

// Store is a mutex-guarded session map. All methods are safe for concurrent
// use; returned sessions are copies, mutations go through store methods.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	opts     Options
}

// NewStore builds an empty store. Call Run to start the eviction sweep.
func NewStore(opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		sessions: make(map[string]*chat.Session),
		opts:     opts,
	}
}

// GetOrCreate returns the session for id, creating it when id is empty or
// unknown. The second return reports whether a new session was created.
func (s *Store) GetOrCreate(id string) (chat.Session, bool) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = time.Now().UTC()
		return cloneSession(sess), false
	}

	now := time.Now().UTC()
	sess := &chat.Session{
		ID:           id,
		Messages:     []chat.Message{},
		Context:      chat.DefaultContext(),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[id] = sess
	return cloneSession(sess), true
}

// Get looks up a session, refreshing its last-activity stamp on success.
func (s *Store) Get(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	sess.LastActivity = time.Now().UTC()
	return cloneSession(sess), true
}

// Update replaces the stored state for id. Returns false for unknown IDs;
// callers treat that as non-fatal.
func (s *Store) Update(id string, sess chat.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	sess.ID = id
	sess.LastActivity = time.Now().UTC()
	stored := cloneSession(&sess)
	s.sessions[id] = &stored
	return true
}

// Delete removes a session outright.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// AppendMessage stamps and appends msg to the session's history, trimming the
// oldest entries above the message cap.
func (s *Store) AppendMessage(id string, msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	sess.Messages = append(sess.Messages, msg)
	if over := len(sess.Messages) - s.opts.MessageCap; over > 0 {
		sess.Messages = append([]chat.Message(nil), sess.Messages[over:]...)
	}
	sess.LastActivity = time.Now().UTC()
	return true
}

// History returns the session's last limit messages in order.
func (s *Store) History(id string, limit int) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}

	msgs := sess.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...)
}

// SetMode updates the session's context mode.
func (s *Store) SetMode(id string, mode chat.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Context.Mode = mode
	sess.LastActivity = time.Now().UTC()
	return true
}

// UpdateContext replaces the session's context wholesale.
func (s *Store) UpdateContext(id string, ctx chat.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Context = cloneContext(ctx)
	sess.LastActivity = time.Now().UTC()
	return true
}

// Clear empties the session's history and active tools but keeps it alive.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.Messages = []chat.Message{}
	sess.Context.ActiveTools = []string{}
	sess.LastActivity = time.Now().UTC()
	return true
}

// Export snapshots a session for the admin surface.
func (s *Store) Export(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	return cloneSession(sess), true
}

// Import splices an externally supplied session into the store.
func (s *Store) Import(sess chat.Session) bool {
	if sess.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess.LastActivity = time.Now().UTC()
	stored := cloneSession(&sess)
	s.sessions[sess.ID] = &stored
	return true
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats aggregates the session population.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Modes: make(map[chat.Mode]int)}
	now := time.Now().UTC()
	totalMessages := 0

	for _, sess := range s.sessions {
		stats.Total++
		if now.Sub(sess.LastActivity) < activeWindow {
			stats.Active++
		} else {
			stats.Idle++
		}
		totalMessages += len(sess.Messages)
		stats.Modes[sess.Context.Mode]++
	}

	if stats.Total > 0 {
		stats.AvgMessages = float64(totalMessages) / float64(stats.Total)
	}
	return stats
}

// Run drives the eviction sweep until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass, deleting sessions idle beyond the timeout.
// Keys are snapshotted before deletion so the iteration never observes its
// own removals.
func (s *Store) Sweep() {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.opts.Timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		log.Printf("[sweep] evicting idle session %s", id)
		delete(s.sessions, id)
	}
}

func cloneSession(sess *chat.Session) chat.Session {
	out := *sess
	out.Messages = append([]chat.Message(nil), sess.Messages...)
	out.Context = cloneContext(sess.Context)
	return out
}

func cloneContext(ctx chat.Context) chat.Context {
	out := ctx
	out.ActiveTools = append([]string(nil), ctx.ActiveTools...)
	out.Permissions = make(map[string]bool, len(ctx.Permissions))
	for k, v := range ctx.Permissions {
		out.Permissions[k] = v
	}
	out.Preferences = make(map[string]any, len(ctx.Preferences))
	for k, v := range ctx.Preferences {
		out.Preferences[k] = v
	}
	return out
}
