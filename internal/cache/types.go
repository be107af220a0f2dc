// Package cache provides the client's local caches.
//
// # Overview
//
// Three caches share one freshness rule: an entry is valid iff
// now - cached_at < expiration. The rule is purely time based; payloads are
// never hashed or versioned.
//
//   - Store: generic key -> (payload, metadata) persistence for any
//     JSON-serializable backend response, with a per-entry expiration.
//   - EventCache: calendar events with a fixed 15-minute window.
//   - SummaryCache: in-memory, per-day AI summaries that expire after one hour.
//
// # Cache File Structure
//
// FilesystemBackend stores each key as a pair of files under the cache root:
//
//	data/<key>.json   the serialized payload
//	meta/<key>.json   {"last_updated": ..., "expiration_seconds": ..., "record_count": ..., "extra": {...}}
//
// Metadata is the sole source of truth for freshness. A write removes the old
// metadata, writes the payload, then writes the new metadata, so metadata never
// describes a payload other than the one on disk. A payload without metadata is
// a cache miss.
//
// # Corruption
//
// A payload or metadata file that cannot be decoded is deleted when it is read
// and the read reports a miss. Callers treat a miss exactly like "never fetched".
package cache

import (
	"encoding/json"
	"time"
)

// Metadata describes one cached payload.
type Metadata struct {
	LastUpdated       time.Time         `json:"last_updated"`
	ExpirationSeconds float64           `json:"expiration_seconds"`
	RecordCount       int               `json:"record_count"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Expiration returns the entry's lifetime.
func (m Metadata) Expiration() time.Duration {
	return time.Duration(m.ExpirationSeconds * float64(time.Second))
}

// ValidAt reports whether the entry is still fresh at now.
// An entry is stale from exactly LastUpdated + Expiration onwards.
func (m Metadata) ValidAt(now time.Time) bool {
	return now.Sub(m.LastUpdated) < m.Expiration()
}

// Entry is a cached payload with its metadata.
type Entry struct {
	Key     string
	Payload json.RawMessage
	Meta    Metadata
}

// Backend is the interface for cache storage backends.
// The default implementation is FilesystemBackend which stores JSON files on disk.
type Backend interface {
	// Read returns the entry for key or nil if it is absent, incomplete, or
	// corrupt. Corrupt files are removed as a side effect.
	Read(key string) *Entry

	// Stat returns only the metadata for key, or nil. Used by freshness checks.
	Stat(key string) *Metadata

	// Write persists payload and metadata as a pair.
	Write(key string, payload []byte, meta Metadata) error

	// Delete removes the entry. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys lists every key that currently has metadata.
	Keys() []string

	// Clear removes every entry.
	Clear() error

	// Path returns the payload path for key (for debugging).
	Path(key string) string
}
