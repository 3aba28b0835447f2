package dedup

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultLRUSize bounds the processed set when using the LRU backend
const DefaultLRUSize = 4096

// LRU implements Deduper on an expirable LRU cache. Entries age out
// after the TTL, and the size bound caps memory even under an id flood.
// The oldest ids are evicted first once the bound is hit, which narrows
// the suppression window under sustained overload; size the cache for
// the expected message volume within one TTL.
type LRU struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewLRU creates an LRU-backed deduper. A size of 0 or less falls back
// to DefaultLRUSize; a ttl of 0 falls back to DefaultTTL.
func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultLRUSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{
		cache: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// Mark records the id, returning false for a duplicate
func (l *LRU) Mark(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cache.Contains(id) {
		return false
	}
	l.cache.Add(id, struct{}{})
	return true
}

// Release removes the id so a redelivery can be processed
func (l *LRU) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Remove(id)
}

// Len returns the number of ids currently suppressed
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cache.Len()
}

// Ensure LRU implements Deduper
var _ Deduper = (*LRU)(nil)
