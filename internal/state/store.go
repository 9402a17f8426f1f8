package state

import (
	"context"
	"sync"

	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

// Store persists the previous applied commands of each session
type Store interface {
	// Load returns nil, nil when the session has no previous decision.
	Load(ctx context.Context, sessionID string) (*safety.Commands, error)
	Save(ctx context.Context, sessionID string, c safety.Commands) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps decision state in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]safety.Commands
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]safety.Commands)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*safety.Commands, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[sessionID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, c safety.Commands) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}
