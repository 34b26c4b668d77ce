package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	t "megaprompt/internal/types"
)

var (
	goModuleRe    = regexp.MustCompile(`^module\s+(\S+)`)
	goRequireRe   = regexp.MustCompile(`^\s*([\w./\-]+)\s+v\S+`)
	tomlNameRe    = regexp.MustCompile(`^name\s*=\s*"([^"]+)"`)
	tomlDepLineRe = regexp.MustCompile(`^\s*"([^"=<>!~\[ ]+)[^"]*"\s*,?\s*$`)
	reqLineRe     = regexp.MustCompile(`^([A-Za-z0-9._\-]+)`)
)

// Manifest extracts declared dependencies from build manifests. Matched by
// file name, not extension.
type Manifest struct{}

func (*Manifest) Language() string     { return "manifest" }
func (*Manifest) Extensions() []string { return nil }

func (*Manifest) FileNames() []string {
	return []string{"go.mod", "package.json", "pyproject.toml", "requirements.txt"}
}

func (*Manifest) Extract(path string, content []byte) (t.ModuleRecord, error) {
	rec := t.ModuleRecord{Path: path, Language: "manifest"}
	switch strings.ToLower(filepath.Base(path)) {
	case "go.mod":
		extractGoMod(&rec, content)
	case "package.json":
		if err := extractPackageJSON(&rec, content); err != nil {
			return t.ModuleRecord{}, err
		}
	case "pyproject.toml":
		extractPyproject(&rec, content)
	case "requirements.txt":
		extractRequirements(&rec, content)
	}
	rec.Dependencies = dedupe(rec.Dependencies)
	return rec, nil
}

func extractGoMod(rec *t.ModuleRecord, content []byte) {
	inRequire := false
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case inRequire:
			if strings.HasPrefix(strings.TrimSpace(line), ")") {
				inRequire = false
				continue
			}
			if m := goRequireRe.FindStringSubmatch(line); m != nil {
				rec.Dependencies = append(rec.Dependencies, m[1])
			}
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case strings.HasPrefix(line, "require "):
			if m := goRequireRe.FindStringSubmatch(strings.TrimPrefix(line, "require ")); m != nil {
				rec.Dependencies = append(rec.Dependencies, m[1])
			}
		default:
			if m := goModuleRe.FindStringSubmatch(line); m != nil {
				rec.Module = m[1]
			}
		}
	}
}

func extractPackageJSON(rec *t.ModuleRecord, content []byte) error {
	var doc struct {
		Name            string            `json:"name"`
		Main            string            `json:"main"`
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return err
	}
	rec.Module = doc.Name
	if doc.Main != "" {
		rec.EntryPoints = append(rec.EntryPoints, doc.Main)
	}
	for dep := range doc.Dependencies {
		rec.Dependencies = append(rec.Dependencies, dep)
	}
	for dep := range doc.DevDependencies {
		rec.Dependencies = append(rec.Dependencies, dep)
	}
	sort.Strings(rec.Dependencies)
	return nil
}

// extractPyproject pulls the project name and the [project] dependency list.
// It is line-based on purpose: pyproject files in the wild are too varied to
// fully parse, and the dependency names are all the scanner needs.
func extractPyproject(rec *t.ModuleRecord, content []byte) {
	inDeps := false
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "dependencies") && strings.Contains(line, "["):
			inDeps = true
		case inDeps && strings.HasPrefix(line, "]"):
			inDeps = false
		case inDeps:
			if m := tomlDepLineRe.FindStringSubmatch(line); m != nil {
				rec.Dependencies = append(rec.Dependencies, m[1])
			}
		default:
			if rec.Module == "" {
				if m := tomlNameRe.FindStringSubmatch(line); m != nil {
					rec.Module = m[1]
				}
			}
		}
	}
}

func extractRequirements(rec *t.ModuleRecord, content []byte) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if m := reqLineRe.FindStringSubmatch(line); m != nil {
			rec.Dependencies = append(rec.Dependencies, m[1])
		}
	}
}
