package authctx

import (
	"net/http"
	"sync"
)

// SessionStore is the explicit capability for request-scoped keyed state.
// Components receive it instead of reaching for ambient session access,
// which keeps the flow's state machine testable without a live session.
//
// Implementations must be safe for concurrent use across requests.
type SessionStore interface {
	// Get returns the value stored under key for this request, and
	// whether one was present.
	Get(r *http.Request, key string) (string, bool)

	// Set stores value under key, typically by writing to the response.
	Set(w http.ResponseWriter, r *http.Request, key, value string)

	// Clear discards any value stored under key.
	Clear(w http.ResponseWriter, r *http.Request, key string)
}

// MemStore is an in-memory SessionStore. It backs hosts that keep
// attempt state server-side, and makes flow tests trivial. Values are
// global rather than per-session, so it suits a single logical session
// only.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get implements SessionStore.
func (s *MemStore) Get(_ *http.Request, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set implements SessionStore.
func (s *MemStore) Set(_ http.ResponseWriter, _ *http.Request, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Clear implements SessionStore.
func (s *MemStore) Clear(_ http.ResponseWriter, _ *http.Request, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
