package jsonutil

import "testing"

func TestCanonicalSortsKeys(t *testing.T) {
	t.Parallel()
	a := []byte(`{"b": 1, "a": {"z": true, "y": [3, 2]}}`)
	b := []byte(`{"a":{"y":[3,2],"z":true},"b":1}`)
	ca, err := Canonical(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := Canonical(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected equal canonical forms, got %s vs %s", ca, cb)
	}
}

func TestCanonicalKeepsNumbersVerbatim(t *testing.T) {
	t.Parallel()
	got, err := Canonical([]byte(`{"n": 12345678901234567890, "f": 0.25}`))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"f":0.25,"n":12345678901234567890}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCanonicalRejectsInvalid(t *testing.T) {
	t.Parallel()
	if _, err := Canonical([]byte(`{"broken":`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestMarshalNoEscape(t *testing.T) {
	t.Parallel()
	b, err := MarshalNoEscape("a < b && c > d")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"a < b && c > d"` {
		t.Fatalf("unexpected escape: %s", b)
	}
}
