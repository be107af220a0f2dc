package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

const (
	dataDir = "data"
	metaDir = "meta"
)

// FilesystemBackend stores JSON files on disk.
// Directory layout: <root>/data/<key>.json and <root>/meta/<key>.json.
type FilesystemBackend struct {
	root      string
	writeLock sync.Mutex
}

// NewFilesystemBackend creates a new filesystem-based cache backend.
func NewFilesystemBackend(root string) *FilesystemBackend {
	if root == "" {
		root = core.CacheRoot()
	}
	return &FilesystemBackend{root: root}
}

// Root returns the cache directory.
func (b *FilesystemBackend) Root() string {
	return b.root
}

func fileName(key string) string {
	return url.PathEscape(key) + ".json"
}

// Path returns the payload path for key.
func (b *FilesystemBackend) Path(key string) string {
	return filepath.Join(b.root, dataDir, fileName(key))
}

func (b *FilesystemBackend) metaPath(key string) string {
	return filepath.Join(b.root, metaDir, fileName(key))
}

// Stat returns the metadata for key or nil if absent or corrupt.
func (b *FilesystemBackend) Stat(key string) *Metadata {
	data, err := os.ReadFile(b.metaPath(key))
	if err != nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Corrupt metadata, drop the pair
		b.Delete(key)
		return nil
	}
	return &meta
}

// Read returns the entry for key or nil if absent, incomplete, or corrupt.
func (b *FilesystemBackend) Read(key string) *Entry {
	meta := b.Stat(key)
	if meta == nil {
		return nil
	}

	payload, err := os.ReadFile(b.Path(key))
	if err != nil {
		return nil
	}
	if !json.Valid(payload) {
		// Corrupt payload, remove it
		b.Delete(key)
		return nil
	}

	return &Entry{Key: key, Payload: payload, Meta: *meta}
}

// Write persists the pair. Old metadata is removed before the payload is
// replaced so a failed write leaves a miss rather than a mismatched pair.
func (b *FilesystemBackend) Write(key string, payload []byte, meta Metadata) error {
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	if err := os.Remove(b.metaPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale metadata: %w", err)
	}
	if err := writeAtomic(b.Path(key), payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := writeAtomic(b.metaPath(key), metaData); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Delete removes both files for key.
func (b *FilesystemBackend) Delete(key string) error {
	var errs []error
	for _, path := range []string{b.metaPath(key), b.Path(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys lists every key with a metadata file.
func (b *FilesystemBackend) Keys() []string {
	files, err := os.ReadDir(filepath.Join(b.root, metaDir))
	if err != nil {
		return nil
	}

	var keys []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Clear removes every cached file.
func (b *FilesystemBackend) Clear() error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	var errs []error
	for _, dir := range []string{metaDir, dataDir} {
		if err := os.RemoveAll(filepath.Join(b.root, dir)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeAtomic writes to a temp file in the target directory, then renames it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
