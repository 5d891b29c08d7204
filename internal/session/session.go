// Package session stores the access and refresh tokens of the signed-in user.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// ErrNoSession is returned by Get when nobody is signed in.
var ErrNoSession = errors.New("no session")

// Store persists the current AccessSession. Implementations are goroutine-safe.
type Store interface {
	Get(ctx context.Context) (model.AccessSession, error)
	Set(ctx context.Context, s model.AccessSession) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	cur *model.AccessSession
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Get(_ context.Context) (model.AccessSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return model.AccessSession{}, ErrNoSession
	}
	return *m.cur, nil
}

func (m *MemoryStore) Set(_ context.Context, s model.AccessSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = &s
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = nil
	return nil
}
