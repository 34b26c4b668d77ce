package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FSStore keeps checkpoints under root/<run>/NNN_<stage>.json with a
// run.json metadata file per run. All writes go through tmp+rename so a
// crash never leaves a half-written checkpoint.
type FSStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFSStore(root string) (*FSStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("checkpoint: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root, locks: map[string]*sync.Mutex{}}, nil
}

func (s *FSStore) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

func (s *FSStore) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func recordFile(rec Record) string {
	return fmt.Sprintf("%03d_%s.json", rec.Seq, rec.Stage)
}

func (s *FSStore) Put(_ context.Context, rec Record) error {
	if rec.RunID == "" || rec.Stage == "" {
		return fmt.Errorf("checkpoint: run id and stage are required")
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	l := s.runLock(rec.RunID)
	l.Lock()
	defer l.Unlock()

	dir := s.runDir(rec.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, recordFile(rec))
	if _, err := os.Stat(path); err == nil {
		// Already checkpointed; resumed runs land here.
		return nil
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

func (s *FSStore) Get(_ context.Context, runID, stage string) (Record, bool, error) {
	recs, err := s.readRun(runID)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range recs {
		if rec.Stage == stage {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (s *FSStore) Latest(_ context.Context, runID string) (Record, bool, error) {
	recs, err := s.readRun(runID)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (s *FSStore) List(_ context.Context, runID string) ([]Record, error) {
	return s.readRun(runID)
}

func (s *FSStore) Delete(_ context.Context, runID string) error {
	if runID == "" {
		return nil
	}
	l := s.runLock(runID)
	l.Lock()
	defer l.Unlock()
	return os.RemoveAll(s.runDir(runID))
}

func (s *FSStore) BeginRun(_ context.Context, meta RunMeta) error {
	if meta.RunID == "" {
		return fmt.Errorf("checkpoint: run id is required")
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	if meta.Status == "" {
		meta.Status = StatusRunning
	}

	l := s.runLock(meta.RunID)
	l.Lock()
	defer l.Unlock()

	dir := s.runDir(meta.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	metaPath := filepath.Join(dir, "run.json")
	if existing, err := readMeta(metaPath); err == nil {
		// Resume of a known run: keep the original creation time.
		meta.CreatedAt = existing.CreatedAt
		if meta.Pipeline == "" {
			meta.Pipeline = existing.Pipeline
		}
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(metaPath, raw)
}

func (s *FSStore) SetStatus(_ context.Context, runID, status string) error {
	l := s.runLock(runID)
	l.Lock()
	defer l.Unlock()

	metaPath := filepath.Join(s.runDir(runID), "run.json")
	meta, err := readMeta(metaPath)
	if err != nil {
		return err
	}
	meta.Status = status
	meta.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(metaPath, raw)
}

func (s *FSStore) GetRun(_ context.Context, runID string) (RunMeta, error) {
	return readMeta(filepath.Join(s.runDir(runID), "run.json"))
}

func (s *FSStore) ListRuns(_ context.Context) ([]RunMeta, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var metas []RunMeta
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(s.root, d.Name(), "run.json"))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

func (s *FSStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	metas, err := s.ListRuns(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, meta := range metas {
		if meta.Status != StatusCompleted || meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.Delete(ctx, meta.RunID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FSStore) readRun(runID string) ([]Record, error) {
	if runID == "" {
		return nil, fmt.Errorf("checkpoint: run id is required")
	}
	l := s.runLock(runID)
	l.Lock()
	defer l.Unlock()

	dir := s.runDir(runID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []Record
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || name == "run.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		if rec.SchemaVersion != SchemaVersion {
			return nil, fmt.Errorf("%w: %s: schema version %d, want %d",
				ErrCorrupt, name, rec.SchemaVersion, SchemaVersion)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	return recs, nil
}

func readMeta(path string) (RunMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunMeta{}, ErrUnknownRun
		}
		return RunMeta{}, err
	}
	var meta RunMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return RunMeta{}, fmt.Errorf("%w: run.json: %v", ErrCorrupt, err)
	}
	return meta, nil
}

func writeAtomic(path string, raw []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
