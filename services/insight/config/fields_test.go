// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"reflect"
	"testing"
)

const testDictionaryYAML = `
fields:
  - canonical: median_income
    synonyms: ["income", "household income", "median household income", "earnings"]
  - canonical: visit_count
    synonyms: ["visits", "foot traffic", "footfall"]
  - canonical: pct_age_under_35
    synonyms: ["under 35 population", "young population"]
`

func loadTestDictionary(t *testing.T) *FieldDictionary {
	t.Helper()
	dict, err := LoadFieldDictionary([]byte(testDictionaryYAML))
	if err != nil {
		t.Fatalf("LoadFieldDictionary failed: %v", err)
	}
	return dict
}

func TestLoadFieldDictionary_Embedded(t *testing.T) {
	dict, err := LoadFieldDictionary(defaultFieldDictionaryYAML)
	if err != nil {
		t.Fatalf("LoadFieldDictionary failed on embedded YAML: %v", err)
	}
	if dict.Size() == 0 {
		t.Error("embedded dictionary has no synonyms")
	}
}

func TestResolve_SynonymAndCanonical(t *testing.T) {
	dict := loadTestDictionary(t)

	cases := []struct {
		term string
		want string
	}{
		{"income", "median_income"},
		{"Household Income", "median_income"},
		{"  earnings  ", "median_income"},
		{"median_income", "median_income"}, // canonical resolves to itself
		{"foot traffic", "visit_count"},
	}
	for _, tc := range cases {
		got, ok := dict.Resolve(tc.term)
		if !ok {
			t.Errorf("Resolve(%q) not found", tc.term)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.term, got, tc.want)
		}
	}
}

func TestResolve_Unknown(t *testing.T) {
	dict := loadTestDictionary(t)

	for _, term := range []string{"", "  ", "revenue", "incomes"} {
		if got, ok := dict.Resolve(term); ok {
			t.Errorf("Resolve(%q) = %q, want not found", term, got)
		}
	}
}

func TestResolveText_LongestMatchConsumes(t *testing.T) {
	dict := loadTestDictionary(t)

	// "median household income" must resolve once; the embedded "income"
	// must not fire a second time.
	got := dict.ResolveText("compare median household income by district")
	want := []string{"median_income"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveText = %v, want %v", got, want)
	}
}

func TestResolveText_MultipleFieldsInOrder(t *testing.T) {
	dict := loadTestDictionary(t)

	got := dict.ResolveText("foot traffic versus earnings for the young population")
	want := []string{"visit_count", "median_income", "pct_age_under_35"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveText = %v, want %v", got, want)
	}
}

func TestLoadFieldDictionary_DuplicateSynonymRejected(t *testing.T) {
	bad := `
fields:
  - canonical: median_income
    synonyms: ["income"]
  - canonical: visit_count
    synonyms: ["income"]
`
	if _, err := LoadFieldDictionary([]byte(bad)); err == nil {
		t.Fatal("expected error for synonym mapped to two canonical fields")
	}
}

func TestLoadFieldDictionary_EmptyInputRejected(t *testing.T) {
	if _, err := LoadFieldDictionary(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestGetFieldDictionary_SingletonAndReset(t *testing.T) {
	ResetFieldDictionary()
	t.Cleanup(ResetFieldDictionary)

	first, err := GetFieldDictionary()
	if err != nil {
		t.Fatalf("GetFieldDictionary failed: %v", err)
	}
	second, err := GetFieldDictionary()
	if err != nil {
		t.Fatalf("GetFieldDictionary failed on second call: %v", err)
	}
	if first != second {
		t.Error("expected the same dictionary instance across calls")
	}

	ResetFieldDictionary()
	third, err := GetFieldDictionary()
	if err != nil {
		t.Fatalf("GetFieldDictionary failed after reset: %v", err)
	}
	if third == nil {
		t.Fatal("expected a dictionary after reset")
	}
}
