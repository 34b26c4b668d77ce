package types

import "time"

// ModuleRecord holds the structural facts extracted from one source file.
type ModuleRecord struct {
	// Path is the repo-relative file path using forward slashes.
	Path string `json:"path"`
	// Module is the resolved module identity (package path, dotted module, …).
	Module   string `json:"module"`
	Language string `json:"language"`
	// Exports lists exported/public symbols declared in the file.
	Exports     []string `json:"exports,omitempty"`
	EntryPoints []string `json:"entry_points,omitempty"`
	DataModels  []string `json:"data_models,omitempty"`
	Framework   string   `json:"framework,omitempty"`
	// Imports are raw import specifiers as written in the source.
	Imports []string `json:"imports,omitempty"`
	// Dependencies are declared external dependencies (from manifests).
	Dependencies []string `json:"dependencies,omitempty"`
}

// ImportEdge is a resolved module→module edge inside the scanned tree.
type ImportEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ExternalEdge records an import that did not resolve to a scanned module.
type ExternalEdge struct {
	From       string `json:"from"`
	Dependency string `json:"dependency"`
}

type ImportGraph struct {
	Internal []ImportEdge   `json:"internal"`
	External []ExternalEdge `json:"external"`
}

// FileError is a per-file extraction failure. It never aborts a scan.
type FileError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type ScanStats struct {
	FilesVisited   int `json:"files_visited"`
	FilesExtracted int `json:"files_extracted"`
	CacheHits      int `json:"cache_hits"`
	FilesFailed    int `json:"files_failed"`
}

// ScanResult is the aggregate output of one scanner invocation.
// Immutable after assembly; downstream stages treat it as read-only.
type ScanResult struct {
	Root      string         `json:"root"`
	Modules   []ModuleRecord `json:"modules"`
	Graph     ImportGraph    `json:"graph"`
	Errors    []FileError    `json:"errors,omitempty"`
	Stats     ScanStats      `json:"stats"`
	ScannedAt time.Time      `json:"scanned_at"`

	// Derived repo-level flags, computed once during assembly.
	HasTests       bool `json:"has_tests"`
	HasPersistence bool `json:"has_persistence"`
	HasCLI         bool `json:"has_cli"`
	HasAPI         bool `json:"has_api"`
}
