package types

// PresenceState classifies one expected system against observed evidence.
type PresenceState string

const (
	Present PresenceState = "present"
	Partial PresenceState = "partial"
	Missing PresenceState = "missing"
)

// ProjectIntent is the classified purpose of a scanned codebase.
type ProjectIntent struct {
	IntentType    string `json:"intent_type"`
	IsMinimal     bool   `json:"is_minimal"`
	MaturityLevel string `json:"maturity_level"`
	Confidence    string `json:"confidence"`
}

// ArchitecturalInference carries model-asserted architecture facts.
// These rank below structural scanner evidence in the matrix engine.
type ArchitecturalInference struct {
	ProjectType        string   `json:"project_type"`
	DominantPatterns   []string `json:"dominant_patterns"`
	ArchitecturalStyle string   `json:"architectural_style"`
	Facts              []string `json:"facts,omitempty"`
}

// SystemChecklistItem is one expected system for the scanned project type.
type SystemChecklistItem struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale,omitempty"`
}

type ExpectedSystems struct {
	Systems []SystemChecklistItem `json:"systems"`
}

// MatrixEntry is the presence verdict for one expected system.
// Recomputed each analysis run, never persisted outside its checkpoint.
type MatrixEntry struct {
	System     string        `json:"system"`
	Category   string        `json:"category"`
	State      PresenceState `json:"state"`
	Confidence float64       `json:"confidence"`
	Evidence   []string      `json:"evidence,omitempty"`
}

type Enhancement struct {
	Title     string `json:"title"`
	Category  string `json:"category"`
	Rationale string `json:"rationale"`
	Impact    string `json:"impact"`
}

type Enhancements struct {
	Enhancements []Enhancement `json:"enhancements"`
}

type DriftItem struct {
	Aspect   string `json:"aspect"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
	Severity string `json:"severity"`
}

type IntentDrift struct {
	Drifts []DriftItem `json:"drifts"`
}

// AnalysisState is the cumulative document carried through the analysis
// pipeline, mirroring GenerationState for the generation side.
type AnalysisState struct {
	Scan           *ScanResult             `json:"scan,omitempty"`
	OriginalIntent string                  `json:"original_intent,omitempty"`
	Intent         *ProjectIntent          `json:"intent,omitempty"`
	Inference      *ArchitecturalInference `json:"inference,omitempty"`
	Expected       *ExpectedSystems        `json:"expected,omitempty"`
	Matrix         []MatrixEntry           `json:"matrix,omitempty"`
	Enhancements   *Enhancements           `json:"enhancements,omitempty"`
	Drift          *IntentDrift            `json:"drift,omitempty"`
}
