// Package matrix compares an expected-systems checklist against scanner
// evidence and model inference. Structural evidence from the scanner always
// outranks model-asserted inference: the scanner is deterministic and
// reproducible, the model is not.
package matrix

import (
	"sort"
	"strings"

	t "megaprompt/internal/types"
)

// categoryPatterns maps a checklist category to the keywords that count as
// structural evidence when they appear in the scanned tree.
var categoryPatterns = map[string][]string{
	"lifecycle":      {"init", "initialize", "startup", "teardown", "shutdown", "cleanup", "setup"},
	"persistence":    {"save", "load", "store", "database", "sql", "json", "yaml", "persist"},
	"error_handling": {"error", "exception", "try", "except", "catch", "failure", "recover"},
	"observability":  {"log", "monitor", "debug", "trace", "metric", "telemetry"},
	"performance":    {"cache", "optimize", "profile", "benchmark", "performance"},
	"tooling":        {"build", "deploy", "script", "tool", "cli"},
	"testing":        {"test", "pytest", "unittest", "fixture", "mock"},
	"extensibility":  {"plugin", "extension", "config", "modular", "hook"},
	"safety":         {"validate", "check", "constraint", "security", "sanitize"},
}

const (
	minConfidence = 0.1
	maxConfidence = 0.95
)

// Compare produces one MatrixEntry per checklist item. Verdicts:
// two or more structural hits is present, exactly one is partial; with no
// structural evidence, inference hits can at most raise a system to partial.
func Compare(expected t.ExpectedSystems, scanRes *t.ScanResult, inference *t.ArchitecturalInference) []t.MatrixEntry {
	searchable := searchableText(scanRes)
	inferText := inferenceText(inference)

	entries := make([]t.MatrixEntry, 0, len(expected.Systems))
	for _, sys := range expected.Systems {
		category := strings.ToLower(strings.TrimSpace(sys.Category))
		patterns := append([]string{}, categoryPatterns[category]...)
		patterns = append(patterns, strings.ToLower(sys.Name))

		var evidence []string
		structHits := 0
		for _, p := range patterns {
			if p != "" && strings.Contains(searchable, p) {
				evidence = append(evidence, p)
				structHits++
			}
		}
		structHits += flagEvidence(category, scanRes, &evidence)

		infHits := 0
		for _, p := range patterns {
			if p != "" && strings.Contains(inferText, p) {
				evidence = append(evidence, "inferred:"+p)
				infHits++
			}
		}

		entries = append(entries, t.MatrixEntry{
			System:     sys.Name,
			Category:   sys.Category,
			State:      verdict(structHits, infHits),
			Confidence: confidence(structHits, infHits),
			Evidence:   dedupeEvidence(evidence),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].System < entries[j].System })
	return entries
}

func verdict(structHits, infHits int) t.PresenceState {
	switch {
	case structHits >= 2:
		return t.Present
	case structHits == 1:
		return t.Partial
	case infHits >= 1:
		return t.Partial
	default:
		return t.Missing
	}
}

// confidence grows with evidence; structural hits count double what
// inference hits do, then the score is clamped into a bounded range.
func confidence(structHits, infHits int) float64 {
	c := 0.35 + 0.3*float64(structHits) + 0.15*float64(infHits)
	if c < minConfidence {
		return minConfidence
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}

// flagEvidence converts the scanner's derived repo flags into strong
// category evidence.
func flagEvidence(category string, scanRes *t.ScanResult, evidence *[]string) int {
	if scanRes == nil {
		return 0
	}
	hits := 0
	if category == "persistence" && scanRes.HasPersistence {
		*evidence = append(*evidence, "persistence_detected")
		hits++
	}
	if category == "tooling" && scanRes.HasCLI {
		*evidence = append(*evidence, "cli_detected")
		hits++
	}
	if category == "testing" && scanRes.HasTests {
		*evidence = append(*evidence, "tests_detected")
		hits++
	}
	if category == "observability" && scanRes.HasAPI {
		// An API surface usually implies request logging hooks; weak but real.
		*evidence = append(*evidence, "api_detected")
		hits++
	}
	return hits
}

// searchableText flattens every scanned fact into one lowercase haystack.
func searchableText(scanRes *t.ScanResult) string {
	if scanRes == nil {
		return ""
	}
	var sb strings.Builder
	for _, m := range scanRes.Modules {
		sb.WriteString(m.Path)
		sb.WriteByte(' ')
		sb.WriteString(m.Module)
		sb.WriteByte(' ')
		sb.WriteString(m.Framework)
		sb.WriteByte(' ')
		for _, xs := range [][]string{m.Exports, m.EntryPoints, m.DataModels, m.Imports, m.Dependencies} {
			for _, x := range xs {
				sb.WriteString(x)
				sb.WriteByte(' ')
			}
		}
	}
	return strings.ToLower(sb.String())
}

func inferenceText(inference *t.ArchitecturalInference) string {
	if inference == nil {
		return ""
	}
	parts := []string{inference.ProjectType, inference.ArchitecturalStyle}
	parts = append(parts, inference.DominantPatterns...)
	parts = append(parts, inference.Facts...)
	return strings.ToLower(strings.Join(parts, " "))
}

func dedupeEvidence(xs []string) []string {
	seen := map[string]struct{}{}
	out := xs[:0]
	for _, x := range xs {
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
