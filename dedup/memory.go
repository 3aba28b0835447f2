package dedup

import (
	"sync"
	"time"
)

// Memory provides an in-memory implementation of Deduper.
//
// This implementation is suitable for single-instance deployments where
// the processed set doesn't need to be shared across processes. For
// distributed deployments, implement Deduper with a shared backend.
//
// Features:
//   - Thread-safe with mutex protection
//   - Configurable TTL for processed ids
//   - Lazy cleanup of expired entries
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// MemoryOption configures a Memory deduper
type MemoryOption func(*Memory)

// WithTTL sets how long processed ids stay suppressed
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a new in-memory deduper
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		seen: make(map[string]time.Time),
		ttl:  DefaultTTL,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Mark records the id, returning false if it is already present and
// unexpired
func (m *Memory) Mark(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, exists := m.seen[id]; exists && now.Before(expiry) {
		return false
	}

	m.seen[id] = now.Add(m.ttl)
	m.cleanupExpiredLocked(now)
	return true
}

// Release removes the id so a redelivery can be processed
func (m *Memory) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.seen, id)
}

// Len returns the number of unexpired ids
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, expiry := range m.seen {
		if now.Before(expiry) {
			count++
		}
	}
	return count
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (m *Memory) cleanupExpiredLocked(now time.Time) {
	for id, expiry := range m.seen {
		if !now.Before(expiry) {
			delete(m.seen, id)
		}
	}
}

// Ensure Memory implements Deduper
var _ Deduper = (*Memory)(nil)
