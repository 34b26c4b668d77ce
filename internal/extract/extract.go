// Package extract turns single source files into structural facts. Each
// language is one Extractor; adding a language means registering a new
// variant, the scanner core never changes.
package extract

import (
	"path/filepath"
	"sort"
	"strings"

	t "megaprompt/internal/types"
)

// Extractor is the one capability the scanner dispatches on.
type Extractor interface {
	Language() string
	// Extensions lists the file extensions this extractor claims, with
	// the leading dot.
	Extensions() []string
	Extract(path string, content []byte) (t.ModuleRecord, error)
}

// Registry maps file names and extensions to extractors. Manifest files are
// matched by exact base name before extensions are consulted.
type Registry struct {
	byExt  map[string]Extractor
	byName map[string]Extractor
	order  []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: map[string]Extractor{}, byName: map[string]Extractor{}}
	for _, ex := range extractors {
		r.Register(ex)
	}
	return r
}

// Builtin returns a registry with every built-in language wired.
func Builtin() *Registry {
	r := NewRegistry(&Go{}, &Python{}, &JavaScript{})
	m := &Manifest{}
	r.Register(m)
	for _, name := range m.FileNames() {
		r.byName[name] = m
	}
	return r
}

func (r *Registry) Register(ex Extractor) {
	for _, ext := range ex.Extensions() {
		r.byExt[strings.ToLower(ext)] = ex
	}
	r.order = append(r.order, ex)
}

// ForFile selects the extractor for path, or false when the file type is
// unsupported.
func (r *Registry) ForFile(path string) (Extractor, bool) {
	if ex, ok := r.byName[strings.ToLower(filepath.Base(path))]; ok {
		return ex, true
	}
	ex, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ex, ok
}

// Languages lists registered languages, sorted.
func (r *Registry) Languages() []string {
	var out []string
	for _, ex := range r.order {
		out = append(out, ex.Language())
	}
	sort.Strings(out)
	return out
}

// dedupe keeps first occurrences, preserving order.
func dedupe(xs []string) []string {
	seen := map[string]struct{}{}
	out := xs[:0]
	for _, x := range xs {
		if _, dup := seen[x]; dup || x == "" {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
