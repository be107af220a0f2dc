package cache

import (
	"sync"
	"time"
)

// Timer is the handle of a scheduled eviction.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d. The default wraps time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type ttlEntry[V any] struct {
	value    V
	cachedAt time.Time
	timer    Timer
}

// TTLMap is an in-memory map whose entries expire ttl after they were put.
//
// Expiry is enforced twice: Get checks lazily, and Put schedules a sweep at the
// expiration boundary so expired entries are dropped even if nobody reads them.
type TTLMap[K comparable, V any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[K]*ttlEntry[V]
	now       func() time.Time
	afterFunc AfterFunc
}

// NewTTLMap creates an empty map with the given ttl.
func NewTTLMap[K comparable, V any](ttl time.Duration) *TTLMap[K, V] {
	return &TTLMap[K, V]{
		ttl:       ttl,
		entries:   make(map[K]*ttlEntry[V]),
		now:       time.Now,
		afterFunc: realAfterFunc,
	}
}

// TTL returns the entry lifetime.
func (m *TTLMap[K, V]) TTL() time.Duration {
	return m.ttl
}

func (m *TTLMap[K, V]) expired(e *ttlEntry[V], now time.Time) bool {
	return now.Sub(e.cachedAt) >= m.ttl
}

// Get returns the value for key if it has not expired. Expired entries found
// along the way are evicted.
func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry and its timer.
func (m *TTLMap[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &ttlEntry[V]{value: value, cachedAt: m.now()}
	e.timer = m.afterFunc(m.ttl, func() { m.Sweep() })
	m.entries[key] = e
}

// Delete removes key.
func (m *TTLMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
}

// Clear removes every entry.
func (m *TTLMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		m.deleteLocked(key)
	}
}

// Sweep evicts every expired entry and returns how many were removed.
func (m *TTLMap[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Len returns the number of stored entries without evicting anything.
func (m *TTLMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Keys returns the stored keys without evicting anything.
func (m *TTLMap[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

func (m *TTLMap[K, V]) sweepLocked() int {
	now := m.now()
	n := 0
	for key, e := range m.entries {
		if m.expired(e, now) {
			m.deleteLocked(key)
			n++
		}
	}
	return n
}

func (m *TTLMap[K, V]) deleteLocked(key K) {
	if e, ok := m.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.entries, key)
	}
}
