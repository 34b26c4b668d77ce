// Package respcache caches validated model responses keyed by fingerprint.
// A small in-process LRU answers hot lookups; an optional disk tier carries
// entries across runs so reruns of an unchanged pipeline never call the
// provider.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"megaprompt/internal/cache/disk"
	"megaprompt/internal/provider"
	"megaprompt/internal/util/jsonutil"
)

// Entry is one cached response together with enough metadata to explain it.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	Model       string          `json:"model"`
	CreatedAt   time.Time       `json:"created_at"`
	HitCount    int             `json:"hit_count"`
}

// Stats aggregates both tiers for the cache CLI.
type Stats struct {
	MemoryEntries int   `json:"memory_entries"`
	DiskEntries   int   `json:"disk_entries"`
	DiskBytes     int64 `json:"disk_bytes"`
}

// Fingerprint derives the cache key for one stage invocation. The input is
// canonicalized first, so key order inside the input never splits the cache.
// Any change to stage identity, provider, model, temperature, seed or input
// yields a different fingerprint.
func Fingerprint(stage, providerName string, params provider.Params, input any) (string, error) {
	canon, err := jsonutil.CanonicalValue(input)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", stage, err)
	}
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{'|'})
	h.Write([]byte(providerName))
	h.Write([]byte{'|'})
	h.Write([]byte(params.Model))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(params.Temperature, 'g', -1, 64)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(params.Seed, 10)))
	h.Write([]byte{'|'})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Cache is the two-tier response cache. The disk tier is optional; with a nil
// store the cache is purely in-memory.
type Cache struct {
	mem  *expirable.LRU[string, Entry]
	disk *disk.Store
}

type Config struct {
	MaxEntries int
	TTL        time.Duration
	Disk       *disk.Store
}

func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Cache{
		mem:  expirable.NewLRU[string, Entry](cfg.MaxEntries, nil, cfg.TTL),
		disk: cfg.Disk,
	}
}

// Get returns the cached entry for fingerprint, consulting memory first and
// falling back to disk. Hits bump the entry's HitCount.
func (c *Cache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	if ent, ok := c.mem.Get(fingerprint); ok {
		ent.HitCount++
		c.mem.Add(fingerprint, ent)
		return ent, true, nil
	}
	if c.disk == nil {
		return Entry{}, false, nil
	}
	raw, ok, err := c.disk.Get(ctx, fingerprint)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var ent Entry
	if err := json.Unmarshal(raw, &ent); err != nil {
		// A corrupt disk entry is treated as a miss; the caller will
		// regenerate and overwrite it.
		_ = c.disk.Delete(ctx, fingerprint)
		return Entry{}, false, nil
	}
	ent.HitCount++
	c.mem.Add(fingerprint, ent)
	if raw, err := json.Marshal(ent); err == nil {
		_ = c.disk.Set(ctx, fingerprint, raw)
	}
	return ent, true, nil
}

// Put stores the entry in both tiers.
func (c *Cache) Put(ctx context.Context, ent Entry) error {
	if ent.Fingerprint == "" {
		return fmt.Errorf("respcache: fingerprint is required")
	}
	if ent.CreatedAt.IsZero() {
		ent.CreatedAt = time.Now().UTC()
	}
	c.mem.Add(ent.Fingerprint, ent)
	if c.disk == nil {
		return nil
	}
	raw, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	return c.disk.Set(ctx, ent.Fingerprint, raw)
}

// Invalidate drops one fingerprint from both tiers.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	c.mem.Remove(fingerprint)
	if c.disk == nil {
		return nil
	}
	return c.disk.Delete(ctx, fingerprint)
}

// Clear empties both tiers.
func (c *Cache) Clear(ctx context.Context) error {
	c.mem.Purge()
	if c.disk == nil {
		return nil
	}
	return c.disk.Clear(ctx)
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{MemoryEntries: c.mem.Len()}
	if c.disk == nil {
		return st, nil
	}
	ds, err := c.disk.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.DiskEntries = ds.Entries
	st.DiskBytes = ds.TotalBytes
	return st, nil
}
