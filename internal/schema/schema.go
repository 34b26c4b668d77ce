// Package schema performs structural validation of stage outputs: required
// fields, declared kinds, enum membership and nesting. Semantic validation
// stays with each stage.
package schema

import (
	"fmt"
	"strings"
)

type Kind int

const (
	String Kind = iota
	Number
	Bool
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Object:
		return "object"
	case Array:
		return "array"
	}
	return "unknown"
}

// Field declares one expected field of an object shape.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	// Enum constrains a String field to the listed values.
	Enum []string
	// Elem declares the element shape for Array fields.
	Elem *Field
	// Fields declares the nested shape for Object fields.
	Fields []Field
}

// Shape is the declared output shape of a stage.
type Shape struct {
	Fields []Field
}

// Violation pinpoints one failed constraint by JSON path.
type Violation struct {
	Path       string
	Constraint string
}

func (v Violation) String() string {
	return fmt.Sprintf("field %q: %s", v.Path, v.Constraint)
}

// ValidationError reports every violated constraint of one payload.
type ValidationError struct {
	Stage      string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("schema: stage %s output invalid: %s", e.Stage, strings.Join(parts, "; "))
}

// Instruction renders the diagnostics as a corrective instruction suitable
// for appending to a repair re-prompt.
func (e *ValidationError) Instruction() string {
	var b strings.Builder
	b.WriteString("The previous JSON output was structurally invalid:\n")
	for _, v := range e.Violations {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	b.WriteString("Return the corrected STRICT JSON only, with every listed field fixed.")
	return b.String()
}
