package cache

import (
	"sync"
	"time"
)

// Microcache is a process-local string-to-value map with a single fixed
// TTL set at construction. Unlike a typical LRU cache it carries no size
// bound and no background sweeper: stale entries are only ever reclaimed
// lazily, on the next access to that exact key. A TTL of zero disables the
// cache outright — both Get and Set become no-ops — which is how the
// handler's diff-map memoization layer is turned off in configurations
// that don't want it.
type Microcache struct {
	mu      sync.RWMutex
	entries map[string]microcacheEntry
	ttl     time.Duration
}

type microcacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewMicrocache constructs a Microcache with the given fixed TTL.
func NewMicrocache(ttl time.Duration) *Microcache {
	return &Microcache{
		entries: make(map[string]microcacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached value for key if present and not expired. An
// expired entry found on access is removed before reporting the miss.
func (m *Microcache) Get(key string) (any, bool) {
	if m.ttl <= 0 {
		return nil, false
	}

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		if e, stillThere := m.entries[key]; stillThere && !e.expiresAt.After(time.Now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Set stores value under key with this cache's fixed TTL.
func (m *Microcache) Set(key string, value any) {
	if m.ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = microcacheEntry{value: value, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}
