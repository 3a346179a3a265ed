package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrSessionNotFound is returned for unknown or evicted session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds the selection of every open controller. The least
// recently used session is evicted once the store is full.
type SessionStore struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, Selection]
}

// NewSessionStore creates a store holding at most size sessions.
func NewSessionStore(size int) (*SessionStore, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, Selection](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	return &SessionStore{sessions: c}, nil
}

// Create registers a new session starting from sel.
func (s *SessionStore) Create(sel Selection) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.sessions.Add(id, sel)
	s.mu.Unlock()
	return id
}

// Get returns the selection of a session.
func (s *SessionStore) Get(id string) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.sessions.Get(id)
	if !ok {
		return Selection{}, ErrSessionNotFound
	}
	return sel, nil
}

// Update applies fn to a session's selection. The stored value is replaced
// only when fn succeeds.
func (s *SessionStore) Update(id string, fn func(Selection) (Selection, error)) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.sessions.Get(id)
	if !ok {
		return Selection{}, ErrSessionNotFound
	}
	next, err := fn(sel)
	if err != nil {
		return sel, err
	}
	s.sessions.Add(id, next)
	return next, nil
}

// Delete closes a session.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Remove(id)
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}
