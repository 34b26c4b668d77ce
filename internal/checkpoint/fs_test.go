package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newFS(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return s
}

func TestFSPutIsAtMostOncePerStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	first := Record{RunID: "r1", Stage: "intent", Seq: 1, Payload: json.RawMessage(`{"v":1}`)}
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A second write for the same (run, stage) must not clobber the first.
	second := first
	second.Payload = json.RawMessage(`{"v":2}`)
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("second put: %v", err)
	}

	rec, ok, err := s.Get(ctx, "r1", "intent")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != `{"v":1}` {
		t.Fatalf("first write must win, got %s", rec.Payload)
	}
}

func TestFSLatestOrdersBySeq(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	for i, stage := range []string{"intent", "decomposition", "expansion"} {
		rec := Record{RunID: "r1", Stage: stage, Seq: i + 1, Payload: json.RawMessage(`{}`)}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("put %s: %v", stage, err)
		}
	}

	rec, ok, err := s.Latest(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if rec.Stage != "expansion" || rec.Seq != 3 {
		t.Fatalf("unexpected latest: %+v", rec)
	}

	recs, err := s.List(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 || recs[0].Stage != "intent" || recs[2].Stage != "expansion" {
		t.Fatalf("unexpected list order: %+v", recs)
	}
}

func TestFSRejectsCorruptRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	if err := s.Put(ctx, Record{RunID: "r1", Stage: "intent", Seq: 1, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Truncate the checkpoint file to simulate a torn write from an old
	// store that did not rename atomically.
	path := filepath.Join(root, "r1", "001_intent.json")
	if err := os.WriteFile(path, []byte(`{"run_id":"r1",`), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	if _, _, err := s.Latest(ctx, "r1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFSRejectsSchemaVersionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}

	rec := Record{RunID: "r1", Stage: "intent", Seq: 1, SchemaVersion: SchemaVersion + 1,
		Payload: json.RawMessage(`{}`), CreatedAt: time.Now()}
	raw, _ := json.Marshal(rec)
	if err := os.MkdirAll(filepath.Join(root, "r1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "r1", "001_intent.json"), raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := s.List(ctx, "r1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for version mismatch, got %v", err)
	}
}

func TestFSRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	if err := s.BeginRun(ctx, RunMeta{RunID: "r1", Pipeline: "generation"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	meta, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if meta.Status != StatusRunning {
		t.Fatalf("new run must be running, got %s", meta.Status)
	}

	if err := s.SetStatus(ctx, "r1", StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	meta, _ = s.GetRun(ctx, "r1")
	if meta.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", meta.Status)
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("expected ErrUnknownRun, got %v", err)
	}
}

func TestFSPruneKeepsFailedRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	for runID, status := range map[string]string{
		"done":   StatusCompleted,
		"broken": StatusFailed,
		"live":   StatusRunning,
	} {
		if err := s.BeginRun(ctx, RunMeta{RunID: runID, Pipeline: "analysis"}); err != nil {
			t.Fatalf("begin %s: %v", runID, err)
		}
		if err := s.SetStatus(ctx, runID, status); err != nil {
			t.Fatalf("status %s: %v", runID, err)
		}
	}

	removed, err := s.Prune(ctx, 0)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned run, got %d", removed)
	}
	if _, err := s.GetRun(ctx, "done"); !errors.Is(err, ErrUnknownRun) {
		t.Fatalf("completed run should be pruned, got %v", err)
	}
	for _, keep := range []string{"broken", "live"} {
		if _, err := s.GetRun(ctx, keep); err != nil {
			t.Fatalf("%s should survive prune: %v", keep, err)
		}
	}
}

func TestFSDeleteRemovesRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	if err := s.Put(ctx, Record{RunID: "r1", Stage: "intent", Seq: 1, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := s.List(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records after delete, got %d", len(recs))
	}
}
