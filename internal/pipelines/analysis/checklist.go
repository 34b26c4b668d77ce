package analysis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	t "megaprompt/internal/types"
)

// checklistDoc is the YAML layout for hand-maintained expectation lists.
type checklistDoc struct {
	Systems []struct {
		Name      string `yaml:"name"`
		Category  string `yaml:"category"`
		Priority  string `yaml:"priority"`
		Rationale string `yaml:"rationale"`
	} `yaml:"systems"`
}

// LoadChecklist reads an expected-systems checklist from a YAML file,
// bypassing the model-generated expected stage.
func LoadChecklist(path string) (*t.ExpectedSystems, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseChecklist(raw)
}

func ParseChecklist(raw []byte) (*t.ExpectedSystems, error) {
	var doc checklistDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("analysis: parse checklist: %w", err)
	}
	if len(doc.Systems) == 0 {
		return nil, fmt.Errorf("analysis: checklist has no systems")
	}
	out := &t.ExpectedSystems{}
	for _, s := range doc.Systems {
		if s.Name == "" || s.Category == "" {
			return nil, fmt.Errorf("analysis: checklist entries need name and category")
		}
		if s.Priority == "" {
			s.Priority = "medium"
		}
		out.Systems = append(out.Systems, t.SystemChecklistItem{
			Name:      s.Name,
			Category:  s.Category,
			Priority:  s.Priority,
			Rationale: s.Rationale,
		})
	}
	return out, nil
}
