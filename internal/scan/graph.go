package scan

import (
	"path"
	"sort"
	"strings"

	t "megaprompt/internal/types"
)

// buildGraph resolves every declared import against the scanned modules.
// Resolvable imports become internal edges; everything else is recorded as
// an external dependency edge.
func buildGraph(modules []t.ModuleRecord) t.ImportGraph {
	byPath := map[string]*t.ModuleRecord{}
	byModule := map[string]*t.ModuleRecord{}
	noExt := map[string]*t.ModuleRecord{}
	for i := range modules {
		m := &modules[i]
		byPath[m.Path] = m
		if m.Module != "" {
			byModule[m.Module] = m
		}
		noExt[trimExt(m.Path)] = m
	}

	var graph t.ImportGraph
	seenInternal := map[t.ImportEdge]bool{}
	seenExternal := map[t.ExternalEdge]bool{}

	for i := range modules {
		from := &modules[i]
		for _, spec := range from.Imports {
			to := resolve(from, spec, byPath, byModule, noExt)
			if to != nil && to.Path != from.Path {
				edge := t.ImportEdge{From: from.Path, To: to.Path}
				if !seenInternal[edge] {
					seenInternal[edge] = true
					graph.Internal = append(graph.Internal, edge)
				}
				continue
			}
			if to == nil {
				edge := t.ExternalEdge{From: from.Path, Dependency: spec}
				if !seenExternal[edge] {
					seenExternal[edge] = true
					graph.External = append(graph.External, edge)
				}
			}
		}
	}

	sort.Slice(graph.Internal, func(i, j int) bool {
		a, b := graph.Internal[i], graph.Internal[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	sort.Slice(graph.External, func(i, j int) bool {
		a, b := graph.External[i], graph.External[j]
		if a.From != b.From {
			return a.From < b.From
		}
		return a.Dependency < b.Dependency
	})
	return graph
}

// resolve tries, in order: relative paths, exact module names, dotted module
// paths, then path-suffix matching for package-style imports.
func resolve(from *t.ModuleRecord, spec string, byPath, byModule, noExt map[string]*t.ModuleRecord) *t.ModuleRecord {
	if strings.HasPrefix(spec, ".") && strings.ContainsAny(spec, "/") {
		target := path.Clean(path.Join(path.Dir(from.Path), spec))
		if m, ok := byPath[target]; ok {
			return m
		}
		if m, ok := noExt[target]; ok {
			return m
		}
		if m, ok := noExt[target+"/index"]; ok {
			return m
		}
		return nil
	}

	if m, ok := byModule[spec]; ok {
		return m
	}

	// Dotted module path (Python style): a.b.c → a/b/c.py or a/b/c/__init__.py.
	if strings.Contains(spec, ".") && !strings.Contains(spec, "/") {
		slashed := strings.ReplaceAll(spec, ".", "/")
		if m, ok := noExt[slashed]; ok {
			return m
		}
		if m, ok := noExt[slashed+"/__init__"]; ok {
			return m
		}
	}

	// Package-style path (Go style): match the import's trailing segments
	// against scanned directories.
	if strings.Contains(spec, "/") {
		var best *t.ModuleRecord
		for p, m := range noExt {
			dir := path.Dir(p)
			if dir == spec || strings.HasSuffix(spec, "/"+dir) {
				if best == nil || m.Path < best.Path {
					best = m
				}
			}
		}
		if best != nil {
			return best
		}
	}

	if m, ok := noExt[spec]; ok {
		return m
	}
	return nil
}

func trimExt(p string) string {
	if i := strings.LastIndexByte(p, '.'); i > strings.LastIndexByte(p, '/') {
		return p[:i]
	}
	return p
}
