package canonhash_test

import (
	"testing"

	"casemill/internal/canonhash"
)

func TestHashIgnoresInsertionOrder(t *testing.T) {
	first := canonhash.New().
		Set("subject", "water leak").
		Set("department", "PHED").
		Set("rating", 3.0)
	second := canonhash.New().
		Set("rating", 3.0).
		Set("department", "PHED").
		Set("subject", "water leak")

	if first.Hash() != second.Hash() {
		t.Fatalf("hash depends on insertion order: %s vs %s", first.Hash(), second.Hash())
	}
}

func TestHashChangesWithValues(t *testing.T) {
	base := canonhash.New().Set("subject", "water leak").Hash()
	changed := canonhash.New().Set("subject", "water leak!").Hash()
	if base == changed {
		t.Fatal("expected differing payloads to hash differently")
	}
}

func TestHashIsStable(t *testing.T) {
	p := canonhash.New().Set("a", "1").Set("b", nil)
	if p.Hash() != p.Hash() {
		t.Fatal("hash not deterministic")
	}
	if len(p.Hash()) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(p.Hash()))
	}
}

func TestStringifyRules(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"int", 7, "7"},
		{"float", 3.14159, "3.14"},
		{"float whole", 4.0, "4.00"},
		{"nil int pointer", (*int)(nil), ""},
		{"nil float pointer", (*float64)(nil), ""},
	}
	for _, tc := range cases {
		if got := canonhash.Stringify(tc.value); got != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestNilAndEmptyStringCollide(t *testing.T) {
	// Missing and empty values are deliberately equivalent so optional
	// spreadsheet columns do not churn hashes between exports.
	withNil := canonhash.New().Set("remark", nil).Hash()
	withEmpty := canonhash.New().Set("remark", "").Hash()
	if withNil != withEmpty {
		t.Fatal("nil and empty string should hash identically")
	}
}
