// Package scan walks a source tree, dispatches files to language extractors
// in parallel and assembles the results into one ScanResult. A broken file
// never aborts a scan; it becomes a FileError in the aggregate.
package scan

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"megaprompt/internal/extract"
	t "megaprompt/internal/types"
)

// defaultIgnoreDirs are skipped at any depth.
var defaultIgnoreDirs = []string{
	".git", ".hg", ".svn",
	"node_modules", "vendor", "third_party",
	"dist", "build", "target", "out",
	"__pycache__", ".venv", "venv", ".tox",
	".idea", ".vscode",
}

const (
	defaultWorkers     = 8
	defaultMaxFileSize = 1 << 20 // 1 MiB
)

type Options struct {
	// IgnoreDirs extends the default skip list.
	IgnoreDirs []string
	// BypassCache forces re-extraction of every file.
	BypassCache bool
}

// Scanner scans file trees. It is safe for concurrent use; the file cache is
// the only shared mutable state and is internally locked.
type Scanner struct {
	registry    *extract.Registry
	cache       *fileCache
	workers     int
	maxFileSize int64
}

type Config struct {
	Registry     *extract.Registry
	Workers      int
	MaxFileSize  int64
	CacheEntries int
}

func New(cfg Config) *Scanner {
	if cfg.Registry == nil {
		cfg.Registry = extract.Builtin()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = 8192
	}
	return &Scanner{
		registry:    cfg.Registry,
		cache:       newFileCache(cfg.CacheEntries),
		workers:     cfg.Workers,
		maxFileSize: cfg.MaxFileSize,
	}
}

// Scan walks root and returns the aggregate result. The returned ScanResult
// is complete even when individual files fail.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (*t.ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	files, err := s.collect(ctx, absRoot, opts)
	if err != nil {
		return nil, err
	}

	res := &t.ScanResult{Root: absRoot, ScannedAt: time.Now().UTC()}
	res.Stats.FilesVisited = len(files)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, hit, ferr := s.extractOne(absRoot, rel, opts.BypassCache)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case ferr != nil:
				res.Errors = append(res.Errors, *ferr)
				res.Stats.FilesFailed++
			case hit:
				res.Modules = append(res.Modules, rec)
				res.Stats.CacheHits++
			default:
				res.Modules = append(res.Modules, rec)
				res.Stats.FilesExtracted++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(res.Modules, func(i, j int) bool { return res.Modules[i].Path < res.Modules[j].Path })
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Path < res.Errors[j].Path })
	res.Graph = buildGraph(res.Modules)
	deriveFlags(res)

	log.Printf("scan: %s: %d files, %d extracted, %d cached, %d failed",
		absRoot, res.Stats.FilesVisited, res.Stats.FilesExtracted, res.Stats.CacheHits, res.Stats.FilesFailed)
	return res, nil
}

// collect walks the tree and returns repo-relative paths of supported files.
func (s *Scanner) collect(ctx context.Context, absRoot string, opts Options) ([]string, error) {
	ignore := map[string]bool{}
	for _, d := range defaultIgnoreDirs {
		ignore[d] = true
	}
	for _, d := range opts.IgnoreDirs {
		ignore[d] = true
	}

	var files []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if path != absRoot && (ignore[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := s.registry.ForFile(path); !ok {
			return nil
		}
		rel, rerr := filepath.Rel(absRoot, path)
		if rerr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Scanner) extractOne(absRoot, rel string, bypassCache bool) (t.ModuleRecord, bool, *t.FileError) {
	full := filepath.Join(absRoot, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		return t.ModuleRecord{}, false, &t.FileError{Path: rel, Reason: "stat: " + err.Error()}
	}
	if info.Size() > s.maxFileSize {
		return t.ModuleRecord{}, false, &t.FileError{Path: rel, Reason: "file exceeds size limit"}
	}

	if !bypassCache {
		if rec, ok := s.cache.lookupStat(full, info.Size(), info.ModTime()); ok {
			return rec, true, nil
		}
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return t.ModuleRecord{}, false, &t.FileError{Path: rel, Reason: "read: " + err.Error()}
	}
	sum := contentHash(content)
	if !bypassCache {
		if rec, ok := s.cache.lookupHash(full, sum); ok {
			// Content unchanged, only the mtime moved. Refresh the stat.
			s.cache.store(full, info.Size(), info.ModTime(), sum, rec)
			return rec, true, nil
		}
	}

	ex, ok := s.registry.ForFile(full)
	if !ok {
		return t.ModuleRecord{}, false, &t.FileError{Path: rel, Reason: "no extractor for file type"}
	}
	rec, err := ex.Extract(rel, content)
	if err != nil {
		return t.ModuleRecord{}, false, &t.FileError{Path: rel, Reason: "extract: " + err.Error()}
	}
	rec.Path = rel
	s.cache.store(full, info.Size(), info.ModTime(), sum, rec)
	return rec, false, nil
}

func deriveFlags(res *t.ScanResult) {
	persistenceHints := []string{
		"database/sql", "github.com/jackc/pgx", "gorm.io", "go.etcd.io/bbolt",
		"sqlalchemy", "psycopg", "sqlite3", "pymongo", "redis",
		"pg", "mongoose", "prisma", "sequelize", "knex",
	}
	apiHints := []string{
		"net/http", "gin", "echo", "fiber", "chi", "grpc", "connect",
		"fastapi", "flask", "django", "express", "fastify", "koa",
	}
	cliHints := []string{"cobra", "click", "typer", "urfave/cli", "argparse", "commander", "yargs"}

	for _, m := range res.Modules {
		if isTestPath(m.Path) {
			res.HasTests = true
		}
		all := make([]string, 0, len(m.Imports)+len(m.Dependencies)+1)
		all = append(all, m.Imports...)
		all = append(all, m.Dependencies...)
		if m.Framework != "" {
			all = append(all, m.Framework)
		}
		for _, spec := range all {
			if matchesAny(spec, persistenceHints) {
				res.HasPersistence = true
			}
			if matchesAny(spec, apiHints) {
				res.HasAPI = true
			}
			if matchesAny(spec, cliHints) {
				res.HasCLI = true
			}
		}
		for _, ep := range m.EntryPoints {
			if ep == "main" || ep == "__main__" {
				res.HasCLI = true
			}
		}
	}
}

func isTestPath(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
		strings.Contains(path, "tests/") || strings.Contains(path, "__tests__/")
}

func matchesAny(spec string, hints []string) bool {
	for _, h := range hints {
		if spec == h || strings.HasPrefix(spec, h+"/") || strings.HasPrefix(spec, h+".") ||
			strings.Contains(spec, "/"+h) {
			return true
		}
	}
	return false
}
