package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session describes one upgraded websocket connection.
type Session struct {
	ID          string    `json:"conn_id"`
	RemoteAddr  string    `json:"remote_addr"`
	Subprotocol string    `json:"subprotocol,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewID returns a fresh connection identifier.
func NewID() string {
	return uuid.NewString()
}

// Registry is a thread-safe set of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session // keyed by connection ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Add registers s and returns a function that removes it again. The remove
// function is safe to call more than once.
func (r *Registry) Add(s Session) (remove func()) {
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = time.Now()
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions, s.ID)
			r.mu.Unlock()
		})
	}
}

// Get returns the session with the given connection ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of live sessions, oldest first.
func (r *Registry) List() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
