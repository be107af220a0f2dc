package cache

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryBackend is an in-memory cache backend for testing.
type MemoryBackend struct {
	entries map[string]*Entry
	mu      sync.RWMutex

	// FailWrites, when set, is returned by every Write.
	FailWrites error
}

// NewMemoryBackend creates a new in-memory cache backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*Entry),
	}
}

// Path returns a dummy path for key.
func (b *MemoryBackend) Path(key string) string {
	return "memory://" + key
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.Payload = bytes.Clone(e.Payload)
	if e.Meta.Extra != nil {
		c.Meta.Extra = make(map[string]string, len(e.Meta.Extra))
		for k, v := range e.Meta.Extra {
			c.Meta.Extra[k] = v
		}
	}
	return &c
}

// Read returns the entry for key or nil if absent or corrupt.
func (b *MemoryBackend) Read(key string) *Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil
	}
	if !json.Valid(entry.Payload) {
		delete(b.entries, key)
		return nil
	}
	return copyEntry(entry)
}

// Stat returns the metadata for key or nil.
func (b *MemoryBackend) Stat(key string) *Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.entries[key]
	if !ok {
		return nil
	}
	meta := copyEntry(entry).Meta
	return &meta
}

// Write persists the entry.
func (b *MemoryBackend) Write(key string, payload []byte, meta Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailWrites != nil {
		delete(b.entries, key)
		return b.FailWrites
	}
	b.entries[key] = copyEntry(&Entry{Key: key, Payload: payload, Meta: meta})
	return nil
}

// Delete removes the entry.
func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// Keys lists stored keys in sorted order.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every entry.
func (b *MemoryBackend) Clear() error {
	b.Reset()
	return nil
}

// Reset clears all entries (for testing).
func (b *MemoryBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*Entry)
}

// Seed adds entries directly (for testing).
func (b *MemoryBackend) Seed(entries ...*Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range entries {
		b.entries[entry.Key] = copyEntry(entry)
	}
}

// Len returns the number of stored entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
