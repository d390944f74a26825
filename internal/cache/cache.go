// Package cache provides the content-addressed result store used by the
// tool executor. Entries are keyed by (tenant, capability, keyHash) and
// live one file each under a tenant-scoped directory, fronted by an
// in-process LRU.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached execution result. Artifacts are paths on disk;
// the entry is only trustworthy while all of them still exist (the
// executor re-verifies on every read).
type Entry struct {
	Capability string                 `json:"capability"`
	Artifacts  []string               `json:"artifacts"`
	Outputs    map[string]interface{} `json:"outputs"`
}

// Store is the cache abstraction injected into the executor.
type Store interface {
	Get(tenant, capability, keyHash string) (*Entry, bool, error)
	Put(tenant, capability, keyHash string, e *Entry) error
}

// FileStore keeps one JSON file per entry with whole-entry overwrites.
// No locking: two concurrent identical requests may both miss and both
// recompute, which is at-least-once by contract.
type FileStore struct {
	root string
	lru  *lru.Cache[string, *Entry]
}

// NewFileStore creates a file-backed store rooted at dir. lruSize
// bounds the in-process front; <= 0 picks a sensible default.
func NewFileStore(dir string, lruSize int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	if lruSize <= 0 {
		lruSize = 256
	}
	l, err := lru.New[string, *Entry](lruSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache lru: %w", err)
	}
	return &FileStore{root: dir, lru: l}, nil
}

// NormalizeTenant collapses a tenant identifier into a safe path
// segment: lowercase, with anything outside [a-z0-9._-] replaced by '-'.
func NormalizeTenant(tenant string) string {
	if tenant == "" {
		return "default"
	}
	lower := strings.ToLower(tenant)
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func (s *FileStore) path(tenant, capability, keyHash string) string {
	return filepath.Join(s.root, NormalizeTenant(tenant), capability, keyHash+".json")
}

func cacheKey(tenant, capability, keyHash string) string {
	return NormalizeTenant(tenant) + "/" + capability + "/" + keyHash
}

// Get looks an entry up, LRU first, then disk. A missing or unreadable
// file is a plain miss, never an error.
func (s *FileStore) Get(tenant, capability, keyHash string) (*Entry, bool, error) {
	key := cacheKey(tenant, capability, keyHash)
	if e, ok := s.lru.Get(key); ok {
		return e, true, nil
	}

	data, err := os.ReadFile(s.path(tenant, capability, keyHash))
	if err != nil {
		return nil, false, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt entry: treat as a miss so the caller recomputes and
		// overwrites it.
		return nil, false, nil
	}
	s.lru.Add(key, &e)
	return &e, true, nil
}

// Put writes an entry atomically (temp file, then rename). The caller
// must have materialized every artifact the entry lists before calling.
func (s *FileStore) Put(tenant, capability, keyHash string, e *Entry) error {
	path := s.path(tenant, capability, keyHash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing cache entry: %w", err)
	}

	s.lru.Add(cacheKey(tenant, capability, keyHash), e)
	return nil
}
