// Package disk persists cache payloads on disk with a JSON index that drives
// TTL expiry and LRU eviction. The index is rewritten atomically (tmp+rename)
// so a crashed process never leaves a truncated index behind.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Root       string
	IndexFile  string
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

type indexEntry struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

type indexDoc struct {
	Entries map[string]indexEntry `json:"entries"`
}

// Stats summarizes what the store currently holds.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// Store is a durable key/value cache for model responses. Payloads live in
// Root/data as one file per key; the index carries TTL and recency.
type Store struct {
	mu sync.Mutex

	root      string
	dataDir   string
	indexPath string

	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	totalBytes int64
	entries    map[string]indexEntry
}

func New(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("disk cache: root is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 512
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	indexFile := strings.TrimSpace(cfg.IndexFile)
	if indexFile == "" {
		indexFile = "index.json"
	}

	s := &Store{
		root:       root,
		dataDir:    filepath.Join(root, "data"),
		indexPath:  filepath.Join(root, indexFile),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.TTL,
		entries:    map[string]indexEntry{},
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	if err := s.sweepLocked(time.Now()); err != nil {
		return nil, err
	}
	if err := s.writeIndexLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("disk cache: key is required")
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if now.After(ent.ExpiresAt) {
		s.dropLocked(key, ent)
		_ = s.writeIndexLocked()
		return nil, false, nil
	}
	raw, err := os.ReadFile(filepath.Join(s.dataDir, ent.File))
	if err != nil {
		if os.IsNotExist(err) {
			// Payload vanished out from under the index. Self-heal.
			s.dropLocked(key, ent)
			_ = s.writeIndexLocked()
			return nil, false, nil
		}
		return nil, false, err
	}
	ent.AccessedAt = now
	s.entries[key] = ent
	if err := s.writeIndexLocked(); err != nil {
		return nil, false, err
	}
	return append([]byte(nil), raw...), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("disk cache: key is required")
	}

	now := time.Now()
	file := hashedName(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.totalBytes -= old.Size
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, file), value, 0o644); err != nil {
		return err
	}
	s.entries[key] = indexEntry{
		File:       file,
		Size:       int64(len(value)),
		ExpiresAt:  now.Add(s.ttl),
		AccessedAt: now,
	}
	s.totalBytes += int64(len(value))

	if err := s.sweepLocked(now); err != nil {
		return err
	}
	return s.writeIndexLocked()
}

func (s *Store) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.entries[key]; ok {
		s.dropLocked(key, ent)
		return s.writeIndexLocked()
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ent := range s.entries {
		_ = os.Remove(filepath.Join(s.dataDir, ent.File))
	}
	s.entries = map[string]indexEntry{}
	s.totalBytes = 0
	return s.writeIndexLocked()
}

func (s *Store) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entries: len(s.entries), TotalBytes: s.totalBytes}, nil
}

// Keys returns the live keys, most recently used first.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai := s.entries[keys[i]].AccessedAt
		aj := s.entries[keys[j]].AccessedAt
		if ai.Equal(aj) {
			return keys[i] < keys[j]
		}
		return ai.After(aj)
	})
	return keys, nil
}

func (s *Store) loadIndex() error {
	raw, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx indexDoc
	if err := json.Unmarshal(raw, &idx); err != nil {
		// A corrupt index means we cannot trust any entry. Start empty;
		// orphaned payload files are reclaimed as keys get rewritten.
		s.entries = map[string]indexEntry{}
		s.totalBytes = 0
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = map[string]indexEntry{}
	}
	s.entries = idx.Entries
	s.totalBytes = 0
	for _, ent := range s.entries {
		s.totalBytes += ent.Size
	}
	return nil
}

func (s *Store) sweepLocked(now time.Time) error {
	for key, ent := range s.entries {
		if now.After(ent.ExpiresAt) {
			s.dropLocked(key, ent)
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dataDir, ent.File)); err != nil {
			if os.IsNotExist(err) {
				s.dropLocked(key, ent)
				continue
			}
			return err
		}
	}

	for s.overBudgetLocked() {
		key, ent, ok := s.coldestLocked()
		if !ok {
			break
		}
		s.dropLocked(key, ent)
	}
	return nil
}

func (s *Store) overBudgetLocked() bool {
	if len(s.entries) == 0 {
		return false
	}
	if len(s.entries) > s.maxEntries {
		return true
	}
	if s.maxBytes > 0 && s.totalBytes > s.maxBytes {
		return true
	}
	return false
}

func (s *Store) coldestLocked() (string, indexEntry, bool) {
	if len(s.entries) == 0 {
		return "", indexEntry{}, false
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai := s.entries[keys[i]].AccessedAt
		aj := s.entries[keys[j]].AccessedAt
		if ai.Equal(aj) {
			return keys[i] < keys[j]
		}
		return ai.Before(aj)
	})
	k := keys[0]
	return k, s.entries[k], true
}

func (s *Store) dropLocked(key string, ent indexEntry) {
	delete(s.entries, key)
	s.totalBytes -= ent.Size
	if s.totalBytes < 0 {
		s.totalBytes = 0
	}
	_ = os.Remove(filepath.Join(s.dataDir, ent.File))
}

func (s *Store) writeIndexLocked() error {
	raw, err := json.MarshalIndent(indexDoc{Entries: s.entries}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func hashedName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".bin"
}
