package export

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	t2 "megaprompt/internal/types"
)

func newFS(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return s
}

func TestScanResultRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	res := &t2.ScanResult{
		Root:      "/repo",
		ScannedAt: time.Now().UTC().Truncate(time.Second),
		Modules: []t2.ModuleRecord{
			{Path: "a.go", Module: "a", Language: "go", Exports: []string{"A"}},
		},
		HasTests: true,
	}
	if err := WriteScanResult(ctx, s, "run1", res); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadScanResult(ctx, s, "run1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(res, got) {
		t.Fatalf("round trip diverged:\n%+v\n%+v", res, got)
	}
}

func TestMissingSystemsExportFiltersPresent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	entries := []t2.MatrixEntry{
		{System: "logging", State: t2.Present, Confidence: 0.9},
		{System: "migrations", State: t2.Missing, Confidence: 0.4},
		{System: "tracing", State: t2.Partial, Confidence: 0.5},
	}
	if err := WriteMissingSystems(ctx, s, "run1", entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	aug, err := ReadAugmentation(ctx, s, "run1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if aug.Source != "run1" {
		t.Fatalf("source: %q", aug.Source)
	}
	if len(aug.MissingSystems) != 2 {
		t.Fatalf("expected 2 gaps, got %+v", aug.MissingSystems)
	}
	for _, e := range aug.MissingSystems {
		if e.State == t2.Present {
			t.Fatalf("present systems must not be exported: %+v", e)
		}
	}
}

func TestGetMissingArtifact(t *testing.T) {
	t.Parallel()
	s := newFS(t)
	if _, err := s.Get(context.Background(), "run1", "nope.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListArtifacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newFS(t)

	if err := WriteMegaPrompt(ctx, s, "run1", "# prompt"); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	if err := WriteMatrix(ctx, s, "run1", nil); err != nil {
		t.Fatalf("write matrix: %v", err)
	}
	names, err := s.List(ctx, "run1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{MatrixArtifact, MegaPromptArtifact}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names: %v", names)
	}
}

func TestRejectsPathEscape(t *testing.T) {
	t.Parallel()
	s := newFS(t)
	if err := s.Put(context.Background(), "run1", "../escape.json", []byte("x")); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
