package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

// UpdateFunc receives the previous commands (nil for a new session) and returns the
// commands to store. Returning nil stores nothing.
type UpdateFunc func(prev *safety.Commands) (*safety.Commands, error)

// Manager serializes decisions per session. Different sessions never wait on each other.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewManager creates a manager over store
func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: make(map[string]*sessionLock)}
}

// Update runs load, fn and save for sessionID while holding that session's lock.
// Waiting for the lock is abandoned when ctx is done.
func (m *Manager) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	l := m.acquire(sessionID)
	defer m.release(sessionID, l)

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	prev, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	next, err := fn(prev)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	if err := m.store.Save(ctx, sessionID, *next); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	return nil
}

// Forget drops the stored state of a finished session
func (m *Manager) Forget(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

func (m *Manager) acquire(sessionID string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	return l
}

func (m *Manager) release(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, sessionID)
	}
}
