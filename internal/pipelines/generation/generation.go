// Package generation defines the mega-prompt generation pipeline:
// intent → decomposition → expansion → risk → constraints → assembly.
// Every stage reads the cumulative GenerationState and fills exactly one
// field of it, so checkpoints are self-contained.
package generation

import (
	"encoding/json"
	"fmt"

	"megaprompt/internal/engine"
	"megaprompt/internal/schema"
	t "megaprompt/internal/types"
	"megaprompt/internal/util/jsonutil"
)

const PipelineName = "generation"

var systemCategories = []string{
	"lifecycle", "persistence", "error_handling", "observability",
	"performance", "tooling", "testing", "extensibility", "safety",
}

const promptIntent = `You are extracting the intent behind a software project request.

Input JSON provides:
- prompt: the raw human request, verbatim
- missing_systems: (optional) systems a prior codebase analysis found missing;
  treat them as features the requester implicitly wants covered

Task:
Return STRICT JSON:
{
  "project_type": "string",   // e.g. "cli tool", "web service", "library"
  "core_goal":    "string",   // one sentence, what the project must achieve
  "audience":     "string",   // who uses it
  "key_features": ["string"], // concrete capabilities, 3-8 entries
  "notes":        ["string"]  // ambiguities worth flagging
}

Rules:
- Do not invent features the prompt does not imply.
- JSON only; no comments or trailing commas.
`

const promptDecomposition = `You are decomposing a software project into its constituent systems.

Input JSON provides:
- intent: the extracted project intent

Task:
Return STRICT JSON:
{
  "systems": [{
    "name":           "string",
    "category":       "string",   // one of: lifecycle, persistence, error_handling, observability, performance, tooling, testing, extensibility, safety
    "responsibility": "string",   // one sentence
    "depends_on":     ["string"]  // names of other systems in this list
  }]
}

Rules:
- Cover every key feature with at least one system.
- Include the unglamorous systems (error handling, lifecycle, testing) a
  production implementation needs, not only the feature work.
- JSON only; no comments or trailing commas.
`

const promptExpansion = `You are expanding decomposed systems into implementable detail.

Input JSON provides:
- intent: the project intent
- decomposition: the system list to expand

Task:
Return STRICT JSON:
{
  "systems": [{
    "name":       "string",   // must match a decomposed system name
    "details":    ["string"], // concrete behaviors, invariants, edge cases
    "data_model": ["string"], // entities/records this system owns
    "interfaces": ["string"]  // operations it exposes to other systems
  }]
}

Rules:
- Expand every system from the decomposition, none may be dropped.
- Details must be testable statements, not aspirations.
- JSON only; no comments or trailing commas.
`

const promptRisk = `You are auditing a project plan for unknowns and failure points.

Input JSON provides:
- intent: the project intent
- expansion: the expanded system designs

Task:
Return STRICT JSON:
{
  "unknowns": ["string"],       // open questions the plan cannot answer yet
  "risk_points": [{
    "area":        "string",    // system or concern at risk
    "description": "string",
    "severity":    "string"     // one of: low, medium, high
  }]
}

Rules:
- Prefer risks that change the design if realized over generic concerns.
- JSON only; no comments or trailing commas.
`

const promptConstraints = `You are deriving hard constraints for an implementation.

Input JSON provides:
- intent: the project intent
- risk: identified unknowns and risk points

Task:
Return STRICT JSON:
{
  "language":   "string",     // implementation language, empty if unconstrained
  "engine":     "string",     // runtime/framework, empty if unconstrained
  "must_use":   ["string"],   // mandated libraries, protocols, formats
  "must_avoid": ["string"],
  "rules":      ["string"]    // behavioral rules the implementation must obey
}

Rules:
- Every high-severity risk point must be addressed by at least one rule.
- JSON only; no comments or trailing commas.
`

var intentShape = schema.Shape{Fields: []schema.Field{
	schema.Str("project_type", true),
	schema.Str("core_goal", true),
	schema.Str("audience", false),
	schema.StrArray("key_features", true),
	schema.StrArray("notes", false),
}}

var decompositionShape = schema.Shape{Fields: []schema.Field{
	schema.ObjArray("systems", true,
		schema.Str("name", true),
		schema.StrEnum("category", true, systemCategories...),
		schema.Str("responsibility", true),
		schema.StrArray("depends_on", false),
	),
}}

var expansionShape = schema.Shape{Fields: []schema.Field{
	schema.ObjArray("systems", true,
		schema.Str("name", true),
		schema.StrArray("details", true),
		schema.StrArray("data_model", false),
		schema.StrArray("interfaces", false),
	),
}}

var riskShape = schema.Shape{Fields: []schema.Field{
	schema.StrArray("unknowns", true),
	schema.ObjArray("risk_points", true,
		schema.Str("area", true),
		schema.Str("description", true),
		schema.StrEnum("severity", true, "low", "medium", "high"),
	),
}}

var constraintsShape = schema.Shape{Fields: []schema.Field{
	schema.Str("language", false),
	schema.Str("engine", false),
	schema.StrArray("must_use", false),
	schema.StrArray("must_avoid", false),
	schema.StrArray("rules", true),
}}

// NewState builds the stage-0 input document.
func NewState(prompt string, aug *t.Augmentation) (json.RawMessage, error) {
	if prompt == "" {
		return nil, fmt.Errorf("generation: prompt is required")
	}
	return json.Marshal(t.GenerationState{Prompt: prompt, Augmentation: aug})
}

// Spec wires the six generation stages.
func Spec() engine.Spec {
	return engine.Spec{Name: PipelineName, Stages: []engine.Stage{
		{
			Name:   "intent",
			Output: &intentShape,
			Prompt: promptWith(promptIntent, func(st *t.GenerationState) map[string]any {
				in := map[string]any{"prompt": st.Prompt}
				if st.Augmentation != nil {
					in["missing_systems"] = st.Augmentation.MissingSystems
				}
				return in
			}),
			Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
				st.Intent = &t.IntentExtraction{}
				return json.Unmarshal(out, st.Intent)
			}),
		},
		{
			Name:   "decomposition",
			Output: &decompositionShape,
			Prompt: promptWith(promptDecomposition, func(st *t.GenerationState) map[string]any {
				return map[string]any{"intent": st.Intent}
			}),
			Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
				st.Decomposition = &t.ProjectDecomposition{}
				return json.Unmarshal(out, st.Decomposition)
			}),
		},
		{
			Name:   "expansion",
			Output: &expansionShape,
			Prompt: promptWith(promptExpansion, func(st *t.GenerationState) map[string]any {
				return map[string]any{"intent": st.Intent, "decomposition": st.Decomposition}
			}),
			Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
				st.Expansion = &t.DomainExpansion{}
				return json.Unmarshal(out, st.Expansion)
			}),
		},
		{
			Name:   "risk",
			Output: &riskShape,
			Prompt: promptWith(promptRisk, func(st *t.GenerationState) map[string]any {
				return map[string]any{"intent": st.Intent, "expansion": st.Expansion}
			}),
			Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
				st.Risk = &t.RiskAnalysis{}
				return json.Unmarshal(out, st.Risk)
			}),
		},
		{
			Name:   "constraints",
			Output: &constraintsShape,
			Prompt: promptWith(promptConstraints, func(st *t.GenerationState) map[string]any {
				return map[string]any{"intent": st.Intent, "risk": st.Risk}
			}),
			Merge: mergeInto(func(st *t.GenerationState, out json.RawMessage) error {
				st.Constraints = &t.Constraints{}
				return json.Unmarshal(out, st.Constraints)
			}),
		},
		assemblyStage(),
	}}
}

// promptWith renders a prompt constant plus the selected slice of state as
// input JSON.
func promptWith(prompt string, input func(*t.GenerationState) map[string]any) func(json.RawMessage) (string, error) {
	return func(state json.RawMessage) (string, error) {
		var st t.GenerationState
		if err := json.Unmarshal(state, &st); err != nil {
			return "", fmt.Errorf("generation state: %w", err)
		}
		raw, err := jsonutil.MarshalNoEscape(input(&st))
		if err != nil {
			return "", err
		}
		return prompt + "\nInput:\n" + string(raw), nil
	}
}

func mergeInto(set func(*t.GenerationState, json.RawMessage) error) func(json.RawMessage, json.RawMessage) (json.RawMessage, error) {
	return func(state, out json.RawMessage) (json.RawMessage, error) {
		var st t.GenerationState
		if err := json.Unmarshal(state, &st); err != nil {
			return nil, fmt.Errorf("generation state: %w", err)
		}
		if err := set(&st, out); err != nil {
			return nil, err
		}
		return json.Marshal(st)
	}
}
