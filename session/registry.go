package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry maps session ids to live sessions. The registry lock guards
// only the map; each session carries its own lock, so no global lock ever
// spans the mutation of two sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a new session. An empty id is replaced with a
// generated UUIDv7; agent-assigned ids are passed through unchanged.
// Returns ErrSessionExists if the id is already registered.
func (r *Registry) Create(id, projectDir string) (*Session, error) {
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s := newSession(id, projectDir)
	r.sessions[id] = s
	return s, nil
}

// Restore registers a session rebuilt from stored entries. The sequence
// counter resumes past the highest stored id so future appends keep the
// ordering invariant.
func (r *Registry) Restore(id, projectDir string, entries []Entry) (*Session, error) {
	s, err := r.Create(id, projectDir)
	if err != nil {
		return nil, err
	}
	s.restore(entries)
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete removes the session with the given id. Watchers of the deleted
// session are closed.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	s.mu.Unlock()
	return nil
}

// List returns all registered sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
