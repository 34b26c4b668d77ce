// Package analysis defines the codebase analysis pipeline:
// scan (stage-0 input) → classify → infer → expected → matrix → enhance →
// drift. Model stages reason over a compact scan summary; the matrix stage
// is purely local so its verdicts stay reproducible.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"megaprompt/internal/engine"
	"megaprompt/internal/matrix"
	"megaprompt/internal/schema"
	t "megaprompt/internal/types"
	"megaprompt/internal/util/jsonutil"
)

const PipelineName = "analysis"

const promptClassify = `You are classifying the purpose of a scanned codebase.

Input JSON provides:
- scan: structural summary (modules, languages, frameworks, repo flags)
- original_intent: (optional) what the authors said the project is for

Task:
Return STRICT JSON:
{
  "intent_type":    "string",  // e.g. "executable_utility", "web_service", "library", "template", "base_image"
  "is_minimal":     true,      // is this a deliberately minimal project
  "maturity_level": "string",  // one of: prototype, growing, mature
  "confidence":     "string"   // one of: low, medium, high
}

Rules:
- Judge from structure, not wishful thinking; a repo without tests or CI is
  not "mature".
- JSON only; no comments or trailing commas.
`

const promptInfer = `You are inferring the architecture of a scanned codebase.

Input JSON provides:
- scan: structural summary (modules, languages, frameworks, import graph sizes)
- intent: the classified project intent

Task:
Return STRICT JSON:
{
  "project_type":        "string",
  "dominant_patterns":   ["string"], // e.g. "layered", "worker pool", "plugin registry"
  "architectural_style": "string",
  "facts":               ["string"]  // concrete observations tied to named modules
}

Rules:
- Every fact must name the module(s) it is based on.
- JSON only; no comments or trailing commas.
`

const promptExpected = `You are listing the systems a project of this kind should have.

Input JSON provides:
- intent: the classified project intent
- inference: inferred architecture

Task:
Return STRICT JSON:
{
  "systems": [{
    "name":      "string",
    "category":  "string",  // one of: lifecycle, persistence, error_handling, observability, performance, tooling, testing, extensibility, safety
    "priority":  "string",  // one of: low, medium, high
    "rationale": "string"
  }]
}

Rules:
- Expectations must fit the intent: a minimal template is not expected to
  ship telemetry.
- 5-15 systems.
- JSON only; no comments or trailing commas.
`

const promptEnhance = `You are proposing enhancements for gaps found in a codebase.

Input JSON provides:
- intent: the classified project intent
- gaps: presence-matrix entries that are missing or partial

Task:
Return STRICT JSON:
{
  "enhancements": [{
    "title":     "string",
    "category":  "string",
    "rationale": "string",  // why this gap matters for this project
    "impact":    "string"   // one of: low, medium, high
  }]
}

Rules:
- One enhancement per gap at most; skip gaps that are intentional for the
  project's intent.
- Each enhancement must be distinct; do not restate one idea twice.
- JSON only; no comments or trailing commas.
`

const promptDrift = `You are comparing a project's stated intent with what its code does.

Input JSON provides:
- original_intent: what the authors said the project is for
- intent: the classified intent derived from structure
- inference: inferred architecture

Task:
Return STRICT JSON:
{
  "drifts": [{
    "aspect":   "string",
    "expected": "string",  // what the stated intent implies
    "observed": "string",  // what the code shows
    "severity": "string"   // one of: low, medium, high
  }]
}

Rules:
- An empty drifts list is a valid answer.
- JSON only; no comments or trailing commas.
`

var classifyShape = schema.Shape{Fields: []schema.Field{
	schema.Str("intent_type", true),
	schema.Boolean("is_minimal", true),
	schema.StrEnum("maturity_level", true, "prototype", "growing", "mature"),
	schema.StrEnum("confidence", true, "low", "medium", "high"),
}}

var inferShape = schema.Shape{Fields: []schema.Field{
	schema.Str("project_type", true),
	schema.StrArray("dominant_patterns", true),
	schema.Str("architectural_style", true),
	schema.StrArray("facts", false),
}}

var expectedShape = schema.Shape{Fields: []schema.Field{
	schema.ObjArray("systems", true,
		schema.Str("name", true),
		schema.StrEnum("category", true,
			"lifecycle", "persistence", "error_handling", "observability",
			"performance", "tooling", "testing", "extensibility", "safety"),
		schema.StrEnum("priority", true, "low", "medium", "high"),
		schema.Str("rationale", true),
	),
}}

var enhanceShape = schema.Shape{Fields: []schema.Field{
	schema.ObjArray("enhancements", true,
		schema.Str("title", true),
		schema.Str("category", true),
		schema.Str("rationale", true),
		schema.StrEnum("impact", true, "low", "medium", "high"),
	),
}}

var driftShape = schema.Shape{Fields: []schema.Field{
	schema.ObjArray("drifts", true,
		schema.Str("aspect", true),
		schema.Str("expected", true),
		schema.Str("observed", true),
		schema.StrEnum("severity", true, "low", "medium", "high"),
	),
}}

// Options tune a pipeline instance. The zero value is usable.
type Options struct {
	// Checklist, when set, replaces the model-generated expected-systems
	// stage with a fixed checklist (e.g. loaded from YAML).
	Checklist *t.ExpectedSystems
	// DedupThreshold for enhancement filtering; <= 0 uses the default.
	DedupThreshold float64
	// IncludeDrift adds the drift stage; requires OriginalIntent in the
	// initial state.
	IncludeDrift bool
}

// NewState builds the stage-0 input: the scan result plus the optional
// stated intent.
func NewState(scanRes *t.ScanResult, originalIntent string) (json.RawMessage, error) {
	if scanRes == nil {
		return nil, fmt.Errorf("analysis: scan result is required")
	}
	return json.Marshal(t.AnalysisState{Scan: scanRes, OriginalIntent: originalIntent})
}

// Spec wires the analysis stages.
func Spec(opts Options) engine.Spec {
	stages := []engine.Stage{
		{
			Name:   "classify",
			Output: &classifyShape,
			Prompt: promptWith(promptClassify, func(st *t.AnalysisState) map[string]any {
				in := map[string]any{"scan": summarizeScan(st.Scan)}
				if st.OriginalIntent != "" {
					in["original_intent"] = st.OriginalIntent
				}
				return in
			}),
			Merge: mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
				st.Intent = &t.ProjectIntent{}
				return json.Unmarshal(out, st.Intent)
			}),
		},
		{
			Name:   "infer",
			Output: &inferShape,
			Prompt: promptWith(promptInfer, func(st *t.AnalysisState) map[string]any {
				return map[string]any{"scan": summarizeScan(st.Scan), "intent": st.Intent}
			}),
			Merge: mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
				st.Inference = &t.ArchitecturalInference{}
				return json.Unmarshal(out, st.Inference)
			}),
		},
		expectedStage(opts),
		matrixStage(),
		enhanceStage(opts),
	}
	if opts.IncludeDrift {
		stages = append(stages, engine.Stage{
			Name:   "drift",
			Output: &driftShape,
			Prompt: promptWith(promptDrift, func(st *t.AnalysisState) map[string]any {
				return map[string]any{
					"original_intent": st.OriginalIntent,
					"intent":          st.Intent,
					"inference":       st.Inference,
				}
			}),
			Merge: mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
				st.Drift = &t.IntentDrift{}
				return json.Unmarshal(out, st.Drift)
			}),
		})
	}
	return engine.Spec{Name: PipelineName, Stages: stages}
}

// expectedStage is model-driven by default; a fixed checklist turns it into
// a local stage so offline analyses stay possible.
func expectedStage(opts Options) engine.Stage {
	merge := mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
		st.Expected = &t.ExpectedSystems{}
		return json.Unmarshal(out, st.Expected)
	})
	if opts.Checklist != nil {
		checklist := opts.Checklist
		return engine.Stage{
			Name: "expected",
			Local: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return json.Marshal(checklist)
			},
			Merge: merge,
		}
	}
	return engine.Stage{
		Name:   "expected",
		Output: &expectedShape,
		Prompt: promptWith(promptExpected, func(st *t.AnalysisState) map[string]any {
			return map[string]any{"intent": st.Intent, "inference": st.Inference}
		}),
		Merge: merge,
	}
}

// matrixStage compares expectations against scan evidence locally.
func matrixStage() engine.Stage {
	return engine.Stage{
		Name: "matrix",
		Local: func(_ context.Context, state json.RawMessage) (json.RawMessage, error) {
			var st t.AnalysisState
			if err := json.Unmarshal(state, &st); err != nil {
				return nil, fmt.Errorf("analysis state: %w", err)
			}
			if st.Expected == nil {
				return nil, fmt.Errorf("matrix requires the expected-systems stage")
			}
			entries := matrix.Compare(*st.Expected, st.Scan, st.Inference)
			return json.Marshal(entries)
		},
		Merge: mergeInto(func(st *t.AnalysisState, out json.RawMessage) error {
			st.Matrix = nil
			return json.Unmarshal(out, &st.Matrix)
		}),
	}
}

// scanSummary is the compact structural digest handed to model stages; the
// full ScanResult would blow the prompt for any real tree.
type scanSummary struct {
	Root           string         `json:"root"`
	ModuleCount    int            `json:"module_count"`
	Languages      map[string]int `json:"languages"`
	Frameworks     []string       `json:"frameworks,omitempty"`
	EntryPoints    []string       `json:"entry_points,omitempty"`
	DataModels     []string       `json:"data_models,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	ModulePaths    []string       `json:"module_paths"`
	InternalEdges  int            `json:"internal_edges"`
	ExternalEdges  int            `json:"external_edges"`
	FileErrors     int            `json:"file_errors"`
	HasTests       bool           `json:"has_tests"`
	HasPersistence bool           `json:"has_persistence"`
	HasCLI         bool           `json:"has_cli"`
	HasAPI         bool           `json:"has_api"`
}

const maxSummaryPaths = 200

func summarizeScan(res *t.ScanResult) *scanSummary {
	if res == nil {
		return &scanSummary{}
	}
	sum := &scanSummary{
		Root:           res.Root,
		ModuleCount:    len(res.Modules),
		Languages:      map[string]int{},
		InternalEdges:  len(res.Graph.Internal),
		ExternalEdges:  len(res.Graph.External),
		FileErrors:     len(res.Errors),
		HasTests:       res.HasTests,
		HasPersistence: res.HasPersistence,
		HasCLI:         res.HasCLI,
		HasAPI:         res.HasAPI,
	}
	seenFw := map[string]bool{}
	for _, m := range res.Modules {
		sum.Languages[m.Language]++
		if m.Framework != "" && !seenFw[m.Framework] {
			seenFw[m.Framework] = true
			sum.Frameworks = append(sum.Frameworks, m.Framework)
		}
		sum.EntryPoints = append(sum.EntryPoints, m.EntryPoints...)
		sum.DataModels = append(sum.DataModels, m.DataModels...)
		sum.Dependencies = append(sum.Dependencies, m.Dependencies...)
		if len(sum.ModulePaths) < maxSummaryPaths {
			sum.ModulePaths = append(sum.ModulePaths, m.Path)
		}
	}
	return sum
}

func promptWith(prompt string, input func(*t.AnalysisState) map[string]any) func(json.RawMessage) (string, error) {
	return func(state json.RawMessage) (string, error) {
		var st t.AnalysisState
		if err := json.Unmarshal(state, &st); err != nil {
			return "", fmt.Errorf("analysis state: %w", err)
		}
		raw, err := jsonutil.MarshalNoEscape(input(&st))
		if err != nil {
			return "", err
		}
		return prompt + "\nInput:\n" + string(raw), nil
	}
}

func mergeInto(set func(*t.AnalysisState, json.RawMessage) error) func(json.RawMessage, json.RawMessage) (json.RawMessage, error) {
	return func(state, out json.RawMessage) (json.RawMessage, error) {
		var st t.AnalysisState
		if err := json.Unmarshal(state, &st); err != nil {
			return nil, fmt.Errorf("analysis state: %w", err)
		}
		if err := set(&st, out); err != nil {
			return nil, err
		}
		return json.Marshal(st)
	}
}
