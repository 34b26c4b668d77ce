package types

// IntentExtraction is the validated output of the intent stage.
type IntentExtraction struct {
	ProjectType string   `json:"project_type"`
	CoreGoal    string   `json:"core_goal"`
	Audience    string   `json:"audience,omitempty"`
	KeyFeatures []string `json:"key_features"`
	Notes       []string `json:"notes,omitempty"`
}

// SystemSpec is one system identified during decomposition.
type SystemSpec struct {
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Responsibility string   `json:"responsibility"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

type ProjectDecomposition struct {
	Systems []SystemSpec `json:"systems"`
}

// ExpandedSystem adds concrete detail to a decomposed system.
type ExpandedSystem struct {
	Name       string   `json:"name"`
	Details    []string `json:"details"`
	DataModel  []string `json:"data_model,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
}

type DomainExpansion struct {
	Systems []ExpandedSystem `json:"systems"`
}

type RiskPoint struct {
	Area        string `json:"area"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type RiskAnalysis struct {
	Unknowns   []string    `json:"unknowns"`
	RiskPoints []RiskPoint `json:"risk_points"`
}

type Constraints struct {
	Language  string   `json:"language,omitempty"`
	Engine    string   `json:"engine,omitempty"`
	MustUse   []string `json:"must_use,omitempty"`
	MustAvoid []string `json:"must_avoid,omitempty"`
	Rules     []string `json:"rules"`
}

// Augmentation is the missing-systems import consumed by the generation
// pipeline. It is the sole coupling point with the analysis pipeline.
type Augmentation struct {
	Source         string        `json:"source,omitempty"`
	MissingSystems []MatrixEntry `json:"missing_systems"`
}

// GenerationState is the cumulative document carried stage to stage through
// the generation pipeline. Each stage fills exactly one field; a checkpoint
// of stage i therefore contains everything produced so far.
type GenerationState struct {
	Prompt        string                `json:"prompt"`
	Augmentation  *Augmentation         `json:"augmentation,omitempty"`
	Intent        *IntentExtraction     `json:"intent,omitempty"`
	Decomposition *ProjectDecomposition `json:"decomposition,omitempty"`
	Expansion     *DomainExpansion      `json:"expansion,omitempty"`
	Risk          *RiskAnalysis         `json:"risk,omitempty"`
	Constraints   *Constraints          `json:"constraints,omitempty"`
	MegaPrompt    string                `json:"mega_prompt,omitempty"`
}
