package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// Store is the generic local cache: key -> (payload, metadata) with a
// per-entry expiration.
//
// Concurrent Sets to the same key race; the last write wins.
type Store struct {
	backend Backend
	verbose bool
	now     func() time.Time
}

// NewStore creates a cache store over backend.
// If backend is nil, uses the default FilesystemBackend.
func NewStore(backend Backend, verbose bool) *Store {
	if backend == nil {
		backend = NewFilesystemBackend("")
	}
	return &Store{backend: backend, verbose: verbose, now: time.Now}
}

func (s *Store) log(msg string) {
	core.Eprint(fmt.Sprintf("[Cache] %s", msg), s.verbose)
}

// Backend returns the underlying storage backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get returns the entry for key regardless of freshness, or nil on a miss.
func (s *Store) Get(key string) *Entry {
	return s.backend.Read(key)
}

// GetJSON decodes the cached payload for key into v. A payload that does not
// decode into v is treated as corrupt: it is deleted and the call reports a miss.
func (s *Store) GetJSON(key string, v any) (Metadata, bool) {
	entry := s.backend.Read(key)
	if entry == nil {
		return Metadata{}, false
	}
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		s.log(fmt.Sprintf("Discarding undecodable entry %s: %v", key, err))
		s.backend.Delete(key)
		return Metadata{}, false
	}
	return entry.Meta, true
}

// GetFresh decodes the payload for key into v only if the entry is still valid.
func (s *Store) GetFresh(key string, v any) bool {
	if !s.IsValid(key) {
		return false
	}
	_, ok := s.GetJSON(key, v)
	return ok
}

// Set caches v under key for ttl.
func (s *Store) Set(key string, v any, ttl time.Duration) error {
	return s.Put(key, v, Metadata{ExpirationSeconds: ttl.Seconds()})
}

// Put caches v under key with caller-supplied metadata. LastUpdated defaults
// to now and RecordCount to the length of v when v is a slice.
func (s *Store) Put(key string, v any, meta Metadata) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if meta.LastUpdated.IsZero() {
		meta.LastUpdated = s.now()
	}
	if meta.RecordCount == 0 {
		meta.RecordCount = recordCount(payload)
	}

	if err := s.backend.Write(key, payload, meta); err != nil {
		s.log(fmt.Sprintf("Failed to write %s: %v", key, err))
		return err
	}
	s.log(fmt.Sprintf("Cached %s (%d records, expires in %s)", key, meta.RecordCount, meta.Expiration()))
	return nil
}

// IsValid reports whether key exists and now - LastUpdated < expiration.
func (s *Store) IsValid(key string) bool {
	meta := s.backend.Stat(key)
	if meta == nil {
		return false
	}
	return meta.ValidAt(s.now())
}

// Metadata returns the metadata for key, or nil.
func (s *Store) Metadata(key string) *Metadata {
	return s.backend.Stat(key)
}

// Invalidate removes key.
func (s *Store) Invalidate(key string) error {
	s.log(fmt.Sprintf("Invalidating %s", key))
	return s.backend.Delete(key)
}

// InvalidatePrefix removes every key starting with prefix and returns how many
// were removed.
func (s *Store) InvalidatePrefix(prefix string) int {
	n := 0
	for _, key := range s.backend.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.backend.Delete(key); err == nil {
			n++
		}
	}
	if n > 0 {
		s.log(fmt.Sprintf("Invalidated %d entries with prefix %s", n, prefix))
	}
	return n
}

// Keys lists cached keys.
func (s *Store) Keys() []string {
	return s.backend.Keys()
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.log("Clearing cache")
	return s.backend.Clear()
}

func recordCount(payload []byte) int {
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err == nil {
		return len(items)
	}
	return 0
}
