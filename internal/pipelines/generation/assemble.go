package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"megaprompt/internal/engine"
	t "megaprompt/internal/types"
)

// assemblyStage renders the final mega-prompt from the accumulated state.
// Pure text assembly, no provider call.
func assemblyStage() engine.Stage {
	return engine.Stage{
		Name: "assembly",
		Local: func(_ context.Context, state json.RawMessage) (json.RawMessage, error) {
			var st t.GenerationState
			if err := json.Unmarshal(state, &st); err != nil {
				return nil, fmt.Errorf("generation state: %w", err)
			}
			if st.Intent == nil || st.Decomposition == nil || st.Expansion == nil ||
				st.Risk == nil || st.Constraints == nil {
				return nil, fmt.Errorf("assembly requires all prior stage outputs")
			}
			return json.Marshal(map[string]string{"mega_prompt": Assemble(&st)})
		},
		Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
			var doc struct {
				MegaPrompt string `json:"mega_prompt"`
			}
			if err := json.Unmarshal(out, &doc); err != nil {
				return err
			}
			st.MegaPrompt = doc.MegaPrompt
			return nil
		}),
	}
}

// Assemble renders the mega-prompt markdown from a complete state.
func Assemble(st *t.GenerationState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Build: %s\n\n", st.Intent.CoreGoal)
	fmt.Fprintf(&b, "Project type: %s\n", st.Intent.ProjectType)
	if st.Intent.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", st.Intent.Audience)
	}
	b.WriteString("\n## Key Features\n\n")
	for _, f := range st.Intent.KeyFeatures {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\n## Systems\n")
	for _, sys := range st.Decomposition.Systems {
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", sys.Name, sys.Category)
		fmt.Fprintf(&b, "%s\n", sys.Responsibility)
		if len(sys.DependsOn) > 0 {
			fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(sys.DependsOn, ", "))
		}
		if exp := findExpansion(st.Expansion, sys.Name); exp != nil {
			for _, d := range exp.Details {
				fmt.Fprintf(&b, "- %s\n", d)
			}
			if len(exp.DataModel) > 0 {
				fmt.Fprintf(&b, "\nData model: %s\n", strings.Join(exp.DataModel, ", "))
			}
			if len(exp.Interfaces) > 0 {
				fmt.Fprintf(&b, "Interfaces: %s\n", strings.Join(exp.Interfaces, ", "))
			}
		}
	}

	if len(st.Risk.Unknowns) > 0 || len(st.Risk.RiskPoints) > 0 {
		b.WriteString("\n## Risks and Unknowns\n\n")
		for _, u := range st.Risk.Unknowns {
			fmt.Fprintf(&b, "- OPEN: %s\n", u)
		}
		for _, r := range st.Risk.RiskPoints {
			fmt.Fprintf(&b, "- RISK (%s, %s): %s\n", r.Area, r.Severity, r.Description)
		}
	}

	b.WriteString("\n## Constraints\n\n")
	if st.Constraints.Language != "" {
		fmt.Fprintf(&b, "- Language: %s\n", st.Constraints.Language)
	}
	if st.Constraints.Engine != "" {
		fmt.Fprintf(&b, "- Engine: %s\n", st.Constraints.Engine)
	}
	for _, m := range st.Constraints.MustUse {
		fmt.Fprintf(&b, "- Must use: %s\n", m)
	}
	for _, m := range st.Constraints.MustAvoid {
		fmt.Fprintf(&b, "- Must avoid: %s\n", m)
	}
	for _, r := range st.Constraints.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	if st.Augmentation != nil && len(st.Augmentation.MissingSystems) > 0 {
		b.WriteString("\n## Previously Missing Systems\n\n")
		b.WriteString("A prior analysis of a comparable codebase found these systems absent or incomplete; cover them explicitly:\n\n")
		for _, gap := range st.Augmentation.MissingSystems {
			fmt.Fprintf(&b, "- %s (%s, was %s)\n", gap.System, gap.Category, gap.State)
		}
	}

	b.WriteString("\n## Original Request\n\n")
	b.WriteString(st.Prompt)
	b.WriteString("\n")
	return b.String()
}

func findExpansion(exp *t.DomainExpansion, name string) *t.ExpandedSystem {
	for i := range exp.Systems {
		if strings.EqualFold(exp.Systems[i].Name, name) {
			return &exp.Systems[i]
		}
	}
	return nil
}
