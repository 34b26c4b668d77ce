package schema

import (
	"encoding/json"
	"fmt"
)

// Validate checks raw against the declared shape. It is idempotent and
// side-effect free; on failure the returned error is a *ValidationError
// listing every violated path.
func Validate(stage string, shape Shape, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Stage: stage, Violations: []Violation{{
			Path:       "$",
			Constraint: fmt.Sprintf("payload is not valid JSON: %v", err),
		}}}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return &ValidationError{Stage: stage, Violations: []Violation{{
			Path:       "$",
			Constraint: fmt.Sprintf("expected object, got %s", kindOf(doc)),
		}}}
	}
	var out []Violation
	checkObject("$", Field{Fields: shape.Fields}, obj, &out)
	if len(out) > 0 {
		return &ValidationError{Stage: stage, Violations: out}
	}
	return nil
}

func checkObject(path string, f Field, obj map[string]any, out *[]Violation) {
	for _, child := range f.Fields {
		v, ok := obj[child.Name]
		childPath := path + "." + child.Name
		if !ok || v == nil {
			if child.Required {
				*out = append(*out, Violation{Path: childPath, Constraint: "required field is missing"})
			}
			continue
		}
		checkValue(childPath, child, v, out)
	}
}

func checkValue(path string, f Field, v any, out *[]Violation) {
	switch f.Kind {
	case String:
		s, ok := v.(string)
		if !ok {
			*out = append(*out, Violation{Path: path, Constraint: "expected string, got " + kindOf(v)})
			return
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			*out = append(*out, Violation{Path: path, Constraint: fmt.Sprintf("value %q not in %v", s, f.Enum)})
		}
	case Number:
		if _, ok := v.(float64); !ok {
			*out = append(*out, Violation{Path: path, Constraint: "expected number, got " + kindOf(v)})
		}
	case Bool:
		if _, ok := v.(bool); !ok {
			*out = append(*out, Violation{Path: path, Constraint: "expected bool, got " + kindOf(v)})
		}
	case Object:
		obj, ok := v.(map[string]any)
		if !ok {
			*out = append(*out, Violation{Path: path, Constraint: "expected object, got " + kindOf(v)})
			return
		}
		checkObject(path, f, obj, out)
	case Array:
		arr, ok := v.([]any)
		if !ok {
			*out = append(*out, Violation{Path: path, Constraint: "expected array, got " + kindOf(v)})
			return
		}
		if f.Elem == nil {
			return
		}
		for i, e := range arr {
			checkValue(fmt.Sprintf("%s[%d]", path, i), *f.Elem, e, out)
		}
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// Helper constructors keep stage shape declarations compact.

func Str(name string, required bool) Field {
	return Field{Name: name, Kind: String, Required: required}
}

func StrEnum(name string, required bool, values ...string) Field {
	return Field{Name: name, Kind: String, Required: required, Enum: values}
}

func Num(name string, required bool) Field {
	return Field{Name: name, Kind: Number, Required: required}
}

func Boolean(name string, required bool) Field {
	return Field{Name: name, Kind: Bool, Required: required}
}

func StrArray(name string, required bool) Field {
	return Field{Name: name, Kind: Array, Required: required, Elem: &Field{Kind: String}}
}

func ObjArray(name string, required bool, fields ...Field) Field {
	return Field{Name: name, Kind: Array, Required: required, Elem: &Field{Kind: Object, Fields: fields}}
}

func Obj(name string, required bool, fields ...Field) Field {
	return Field{Name: name, Kind: Object, Required: required, Fields: fields}
}
