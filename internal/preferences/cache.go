package preferences

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/practice-sem-2/group-chat-service/internal/models"
)

const DefaultTTL = 5 * time.Minute

var ErrMiss = errors.New("settings are not cached")

// Backend caches settings per user. Implementations must be safe for
// concurrent use and must never hand out a value the caller could mutate
// in place.
type Backend interface {
	Get(ctx context.Context, userID string) (*models.Settings, error)
	Put(ctx context.Context, userID string, s *models.Settings) error
	Invalidate(ctx context.Context, userID string) error
}

type entry struct {
	settings *models.Settings
	expires  time.Time
}

// MemoryBackend is the in-process cache.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{
		entries: map[string]entry{},
		ttl:     ttl,
		clock:   time.Now,
	}
}

// WithClock replaces the time source used for expiry.
func (m *MemoryBackend) WithClock(clock func() time.Time) *MemoryBackend {
	m.clock = clock
	return m
}

func (m *MemoryBackend) Get(_ context.Context, userID string) (*models.Settings, error) {
	m.mu.RLock()
	e, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !m.clock().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[userID]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, userID)
		}
		m.mu.Unlock()
		return nil, ErrMiss
	}
	return e.settings.Clone(), nil
}

func (m *MemoryBackend) Put(_ context.Context, userID string, s *models.Settings) error {
	m.mu.Lock()
	m.entries[userID] = entry{settings: s.Clone(), expires: m.clock().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
