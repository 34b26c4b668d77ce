package schema

import (
	"errors"
	"strings"
	"testing"
)

func intentShape() Shape {
	return Shape{Fields: []Field{
		Str("project_type", true),
		Str("core_goal", true),
		StrArray("key_features", true),
		StrEnum("confidence", false, "low", "medium", "high"),
	}}
}

func TestValidateRejectsMissingThenAcceptsFilled(t *testing.T) {
	t.Parallel()
	shape := intentShape()

	missing := []byte(`{"project_type":"cli","key_features":["a"]}`)
	err := Validate("intent", shape, missing)
	if err == nil {
		t.Fatalf("expected validation error for missing core_goal")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Violations) != 1 || verr.Violations[0].Path != "$.core_goal" {
		t.Fatalf("unexpected violations: %+v", verr.Violations)
	}

	// Same payload with the field filled in must pass, nothing else changes.
	filled := []byte(`{"project_type":"cli","core_goal":"do things","key_features":["a"]}`)
	if err := Validate("intent", shape, filled); err != nil {
		t.Fatalf("expected filled payload to validate: %v", err)
	}
}

func TestValidateEnumAndTypes(t *testing.T) {
	t.Parallel()
	shape := intentShape()
	raw := []byte(`{"project_type":7,"core_goal":"x","key_features":"nope","confidence":"maybe"}`)
	err := Validate("intent", shape, raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(verr.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %+v", verr.Violations)
	}
}

func TestValidateNestedArrays(t *testing.T) {
	t.Parallel()
	shape := Shape{Fields: []Field{
		ObjArray("systems", true,
			Str("name", true),
			StrArray("depends_on", false),
		),
	}}
	raw := []byte(`{"systems":[{"name":"storage"},{"depends_on":["storage"]}]}`)
	err := Validate("decomposition", shape, raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Violations[0].Path != "$.systems[1].name" {
		t.Fatalf("unexpected path: %s", verr.Violations[0].Path)
	}
}

func TestValidateNonObjectPayload(t *testing.T) {
	t.Parallel()
	if err := Validate("x", intentShape(), []byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
	if err := Validate("x", intentShape(), []byte(`{"truncated`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestInstructionListsEveryViolation(t *testing.T) {
	t.Parallel()
	err := Validate("intent", intentShape(), []byte(`{}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError")
	}
	ins := verr.Instruction()
	for _, want := range []string{"$.project_type", "$.core_goal", "$.key_features"} {
		if !strings.Contains(ins, want) {
			t.Fatalf("instruction missing %s: %s", want, ins)
		}
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"project_type":"cli","core_goal":"x","key_features":[]}`)
	for i := 0; i < 3; i++ {
		if err := Validate("intent", intentShape(), raw); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
}
