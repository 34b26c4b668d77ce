package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	t "megaprompt/internal/types"
)

// fileCache memoizes per-file extraction results keyed by absolute path and
// validated by (size, mtime) with a content-hash fallback, so repeated scans
// of a mostly-unchanged tree only pay for changed files. The absolute key
// keeps same-named files under different roots apart when one Scanner is
// reused across trees.
type fileCache struct {
	entries *lru.Cache[string, fileCacheEntry]
}

type fileCacheEntry struct {
	size    int64
	modTime time.Time
	hash    string
	record  t.ModuleRecord
}

func newFileCache(capacity int) *fileCache {
	entries, err := lru.New[string, fileCacheEntry](capacity)
	if err != nil {
		// Only reachable with a non-positive capacity, which New guards.
		panic(err)
	}
	return &fileCache{entries: entries}
}

// lookupStat hits when the file's size and mtime are unchanged, without
// reading the file at all.
func (c *fileCache) lookupStat(path string, size int64, modTime time.Time) (t.ModuleRecord, bool) {
	ent, ok := c.entries.Get(path)
	if !ok || ent.size != size || !ent.modTime.Equal(modTime) {
		return t.ModuleRecord{}, false
	}
	return ent.record, true
}

// lookupHash hits when the content hash matches, covering files whose mtime
// changed without a content change.
func (c *fileCache) lookupHash(path, hash string) (t.ModuleRecord, bool) {
	ent, ok := c.entries.Get(path)
	if !ok || ent.hash != hash {
		return t.ModuleRecord{}, false
	}
	return ent.record, true
}

func (c *fileCache) store(path string, size int64, modTime time.Time, hash string, rec t.ModuleRecord) {
	c.entries.Add(path, fileCacheEntry{size: size, modTime: modTime, hash: hash, record: rec})
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
