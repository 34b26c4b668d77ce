package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"megaprompt/internal/dedup"
	"megaprompt/internal/engine"
	t "megaprompt/internal/types"
)

// minEnhancements is the floor below which filtered-out duplicates trigger a
// regeneration round.
const minEnhancements = 3

// enhanceStage proposes enhancements for the matrix gaps, filtering
// near-duplicate and incomplete suggestions. When filtering leaves too few,
// the engine regenerates with a follow-up naming what to avoid.
func enhanceStage(opts Options) engine.Stage {
	threshold := opts.DedupThreshold
	return engine.Stage{
		Name:   "enhance",
		Output: &enhanceShape,
		Prompt: promptWith(promptEnhance, func(st *t.AnalysisState) map[string]any {
			var gaps []t.MatrixEntry
			for _, e := range st.Matrix {
				if e.State == t.Missing || e.State == t.Partial {
					gaps = append(gaps, e)
				}
			}
			return map[string]any{"intent": st.Intent, "gaps": gaps}
		}),
		Refine: func(out json.RawMessage) (json.RawMessage, string, error) {
			var doc t.Enhancements
			if err := json.Unmarshal(out, &doc); err != nil {
				return nil, "", err
			}

			candidates := make([]dedup.Candidate, 0, len(doc.Enhancements))
			for _, e := range doc.Enhancements {
				candidates = append(candidates, dedup.Candidate{
					ID: e.Title,
					Fields: map[string]string{
						"title":     e.Title,
						"rationale": e.Rationale,
					},
				})
			}
			kept, rejected := dedup.Filter(candidates, threshold)

			keptSet := map[string]bool{}
			for _, c := range kept {
				keptSet[c.ID] = true
			}
			filtered := t.Enhancements{}
			for _, e := range doc.Enhancements {
				if keptSet[e.Title] {
					filtered.Enhancements = append(filtered.Enhancements, e)
					delete(keptSet, e.Title) // drop later exact-title repeats
				}
			}
			raw, err := json.Marshal(filtered)
			if err != nil {
				return nil, "", err
			}

			if len(filtered.Enhancements) < minEnhancements && len(rejected) > 0 {
				titles := make([]string, 0, len(filtered.Enhancements))
				for _, e := range filtered.Enhancements {
					titles = append(titles, e.Title)
				}
				followup := fmt.Sprintf(
					"Several suggestions were rejected as duplicates or incomplete. Propose additional distinct enhancements; do not repeat: %s.",
					strings.Join(titles, ", "))
				return raw, followup, nil
			}
			return raw, "", nil
		},
		Merge: mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
			st.Enhancements = &t.Enhancements{}
			return json.Unmarshal(out, st.Enhancements)
		}),
	}
}
