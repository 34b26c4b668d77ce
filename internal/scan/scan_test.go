package scan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	t2 "megaprompt/internal/types"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

var sampleTree = map[string]string{
	"go.mod":           "module example.com/app\n\nrequire github.com/jackc/pgx/v5 v5.7.2\n",
	"cmd/app/main.go":  "package main\n\nimport \"github.com/spf13/cobra\"\n\nfunc main() {}\n",
	"internal/db.go":   "package db\n\nimport \"database/sql\"\n\ntype Record struct{}\n",
	"web/index.js":     "import {api} from './lib/api';\nexport default function App() {}\n",
	"web/lib/api.js":   "import express from 'express';\nexport const api = {};\n",
	"svc/server.py":    "from fastapi import FastAPI\n\ndef serve():\n    pass\n",
	"svc/test_api.py":  "import pytest\n\ndef test_serve():\n    pass\n",
	"node_modules/x.js": "import ignored from 'ignored';\n",
}

func TestScanAggregatesTree(t *testing.T) {
	t.Parallel()
	root := writeTree(t, sampleTree)
	s := New(Config{Workers: 4})

	res, err := s.Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// node_modules is skipped; everything else is supported.
	if res.Stats.FilesVisited != 7 {
		t.Fatalf("expected 7 visited files, got %d", res.Stats.FilesVisited)
	}
	if len(res.Modules) != 7 || res.Stats.FilesExtracted != 7 {
		t.Fatalf("expected 7 extracted modules, got %d (stats %+v)", len(res.Modules), res.Stats)
	}
	for _, m := range res.Modules {
		if m.Path == "node_modules/x.js" {
			t.Fatalf("ignored dir leaked into results")
		}
	}

	if !res.HasTests || !res.HasPersistence || !res.HasCLI || !res.HasAPI {
		t.Fatalf("derived flags wrong: %+v", res)
	}

	// web/index.js imports ./lib/api, which is in-tree.
	found := false
	for _, e := range res.Graph.Internal {
		if e.From == "web/index.js" && e.To == "web/lib/api.js" {
			found = true
		}
	}
	if !found {
		t.Fatalf("relative import not resolved internally: %+v", res.Graph.Internal)
	}
	// express is not in-tree, so it must land in external edges.
	foundExt := false
	for _, e := range res.Graph.External {
		if e.From == "web/lib/api.js" && e.Dependency == "express" {
			foundExt = true
		}
	}
	if !foundExt {
		t.Fatalf("external import missing: %+v", res.Graph.External)
	}
}

func TestScanToleratesSingleBadFile(t *testing.T) {
	t.Parallel()
	tree := map[string]string{}
	for i := 0; i < 20; i++ {
		tree[filepath.ToSlash(filepath.Join("pkg", string(rune('a'+i))+".py"))] = "import os\n"
	}
	tree["broken/package.json"] = `{"name": "oops",` // invalid JSON
	root := writeTree(t, tree)

	s := New(Config{Workers: 4})
	res, err := s.Scan(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("scan must not abort on a bad file: %v", err)
	}
	if len(res.Modules) != 20 {
		t.Fatalf("expected 20 good modules, got %d", len(res.Modules))
	}
	if len(res.Errors) != 1 || res.Stats.FilesFailed != 1 {
		t.Fatalf("expected exactly one file error, got %+v", res.Errors)
	}
	if res.Errors[0].Path != "broken/package.json" {
		t.Fatalf("wrong error path: %+v", res.Errors[0])
	}
}

func TestRescanIsFullyCached(t *testing.T) {
	t.Parallel()
	root := writeTree(t, sampleTree)
	s := New(Config{Workers: 4})
	ctx := context.Background()

	first, err := s.Scan(ctx, root, Options{})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := s.Scan(ctx, root, Options{})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if second.Stats.FilesExtracted != 0 {
		t.Fatalf("unchanged tree must not re-extract, stats %+v", second.Stats)
	}
	if second.Stats.CacheHits != first.Stats.FilesVisited {
		t.Fatalf("expected 100%% cache hits, stats %+v", second.Stats)
	}

	norm := func(r *t2.ScanResult) string {
		c := *r
		c.ScannedAt = first.ScannedAt
		c.Stats = t2.ScanStats{}
		raw, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return string(raw)
	}
	if norm(first) != norm(second) {
		t.Fatalf("rescan content diverged:\n%s\n%s", norm(first), norm(second))
	}
}

func TestRescanPicksUpChangedFile(t *testing.T) {
	t.Parallel()
	tree := map[string]string{"a.py": "import os\n"}
	root := writeTree(t, tree)
	s := New(Config{Workers: 2})
	ctx := context.Background()

	if _, err := s.Scan(ctx, root, Options{}); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.py"), []byte("import sys\nimport json\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	res, err := s.Scan(ctx, root, Options{})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Stats.FilesExtracted != 1 {
		t.Fatalf("changed file must re-extract, stats %+v", res.Stats)
	}
	if len(res.Modules) != 1 || len(res.Modules[0].Imports) != 2 {
		t.Fatalf("stale extraction served: %+v", res.Modules)
	}
}

func TestSharedScannerKeepsRootsApart(t *testing.T) {
	t.Parallel()
	// Same relative path, same size, same mtime across two roots; only the
	// content differs. The cache must not serve one root's record for the
	// other.
	root1 := writeTree(t, map[string]string{"lib.py": "import alpha\n"})
	root2 := writeTree(t, map[string]string{"lib.py": "import bravo\n"})
	stamp := time.Now().Add(-time.Hour)
	for _, root := range []string{root1, root2} {
		if err := os.Chtimes(filepath.Join(root, "lib.py"), stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	s := New(Config{Workers: 2})
	ctx := context.Background()

	first, err := s.Scan(ctx, root1, Options{})
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Modules[0].Imports[0] != "alpha" {
		t.Fatalf("unexpected first extraction: %+v", first.Modules[0])
	}

	second, err := s.Scan(ctx, root2, Options{})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Stats.CacheHits != 0 {
		t.Fatalf("other root must not hit the cache, stats %+v", second.Stats)
	}
	if len(second.Modules) != 1 || second.Modules[0].Imports[0] != "bravo" {
		t.Fatalf("stale record served across roots: %+v", second.Modules)
	}
}

func TestBypassCacheForcesExtraction(t *testing.T) {
	t.Parallel()
	root := writeTree(t, map[string]string{"a.py": "import os\n"})
	s := New(Config{Workers: 2})
	ctx := context.Background()

	if _, err := s.Scan(ctx, root, Options{}); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	res, err := s.Scan(ctx, root, Options{BypassCache: true})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Stats.CacheHits != 0 || res.Stats.FilesExtracted != 1 {
		t.Fatalf("bypass must skip the cache, stats %+v", res.Stats)
	}
}

func TestScanCancellation(t *testing.T) {
	t.Parallel()
	root := writeTree(t, sampleTree)
	s := New(Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Scan(ctx, root, Options{}); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
