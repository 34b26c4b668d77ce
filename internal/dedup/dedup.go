// Package dedup filters model-generated candidate lists: incomplete entries
// are rejected outright, then near-duplicates are clustered by word overlap
// and only the first of each cluster survives.
package dedup

import (
	"strings"
)

// DefaultThreshold is the Jaccard similarity above which two candidates are
// considered duplicates.
const DefaultThreshold = 0.7

// vague values that make a field count as empty.
var vagueValues = map[string]bool{
	"tbd": true, "todo": true, "n/a": true, "na": true,
	"none": true, "unknown": true, "...": true, "-": true,
}

// Candidate is one generated item. ID names it for rejection reporting;
// Fields carries the textual content that participates in both the
// completeness gate and the similarity comparison.
type Candidate struct {
	ID     string
	Fields map[string]string
}

// Rejection explains why a candidate was dropped.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Filter applies the completeness gate and duplicate clustering in order.
// Candidates are processed in input order; within a duplicate cluster the
// first occurrence wins. A threshold <= 0 falls back to DefaultThreshold.
func Filter(candidates []Candidate, threshold float64) ([]Candidate, []Rejection) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var kept []Candidate
	var rejected []Rejection
	var keptWords []map[string]struct{}

	for _, cand := range candidates {
		if reason := incomplete(cand); reason != "" {
			rejected = append(rejected, Rejection{ID: cand.ID, Reason: reason})
			continue
		}
		words := wordSet(cand)
		dup := false
		for i, kw := range keptWords {
			if jaccard(words, kw) >= threshold {
				rejected = append(rejected, Rejection{
					ID:     cand.ID,
					Reason: "duplicate of " + kept[i].ID,
				})
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, cand)
		keptWords = append(keptWords, words)
	}
	return kept, rejected
}

// incomplete returns a non-empty reason when any field is missing, vague or
// too short to carry meaning.
func incomplete(c Candidate) string {
	if len(c.Fields) == 0 {
		return "no fields"
	}
	for name, value := range c.Fields {
		v := strings.ToLower(strings.TrimSpace(value))
		if v == "" || vagueValues[v] {
			return "field " + name + " is empty or vague"
		}
		if len(v) < 6 {
			return "field " + name + " is too short"
		}
	}
	return ""
}

func wordSet(c Candidate) map[string]struct{} {
	words := map[string]struct{}{}
	for _, value := range c.Fields {
		for _, w := range strings.Fields(strings.ToLower(value)) {
			w = strings.Trim(w, ".,;:!?()[]{}\"'")
			if w != "" {
				words[w] = struct{}{}
			}
		}
	}
	return words
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
