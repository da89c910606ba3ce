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
	"context"
	"errors"
	"reflect"
	"testing"
)

const testSchemasYAML = `
default: retail
datasets:
  - id: retail
    version: "2.1.0"
    fields: [visit_count, median_income, location_id]
    aliases:
      store_visits: visit_count
  - id: census
    version: "1.0.0"
    fields: [population_total, pct_age_under_35]
`

func loadTestSchemas(t *testing.T) *StaticSchemaProvider {
	t.Helper()
	p, err := LoadFieldSchemas([]byte(testSchemasYAML))
	if err != nil {
		t.Fatalf("LoadFieldSchemas failed: %v", err)
	}
	return p
}

func TestLoadFieldSchemas_Embedded(t *testing.T) {
	p, err := GetFieldSchemas()
	if err != nil {
		t.Fatalf("GetFieldSchemas failed on embedded YAML: %v", err)
	}
	ids := p.DatasetIDs()
	if len(ids) == 0 {
		t.Fatal("embedded schemas declare no datasets")
	}
	schema, err := p.GetSchema(context.Background(), "")
	if err != nil {
		t.Fatalf("default dataset lookup failed: %v", err)
	}
	if schema.DatasetID != ids[0] {
		t.Errorf("default dataset = %q, want %q", schema.DatasetID, ids[0])
	}
}

func TestGetSchema_DefaultAndExplicit(t *testing.T) {
	p := loadTestSchemas(t)
	ctx := context.Background()

	def, err := p.GetSchema(ctx, "")
	if err != nil {
		t.Fatalf("GetSchema(\"\") failed: %v", err)
	}
	if def.DatasetID != "retail" || def.Version != "2.1.0" {
		t.Errorf("default schema = %s@%s, want retail@2.1.0", def.DatasetID, def.Version)
	}

	census, err := p.GetSchema(ctx, "census")
	if err != nil {
		t.Fatalf("GetSchema(census) failed: %v", err)
	}
	if !census.Has("population_total") {
		t.Error("census schema should have population_total")
	}
}

func TestGetSchema_Unknown(t *testing.T) {
	p := loadTestSchemas(t)

	_, err := p.GetSchema(context.Background(), "no-such-dataset")
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("expected ErrSchemaNotFound, got %v", err)
	}
}

func TestSchemaHas_CaseAndAlias(t *testing.T) {
	p := loadTestSchemas(t)
	schema, err := p.GetSchema(context.Background(), "retail")
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}

	cases := []struct {
		field string
		want  bool
	}{
		{"visit_count", true},
		{"Visit_Count", true},  // case-insensitive
		{"store_visits", true}, // alias
		{"revenue", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := schema.Has(tc.field); got != tc.want {
			t.Errorf("Has(%q) = %t, want %t", tc.field, got, tc.want)
		}
	}
}

func TestDatasetIDs_DefaultFirst(t *testing.T) {
	p := loadTestSchemas(t)

	got := p.DatasetIDs()
	want := []string{"retail", "census"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DatasetIDs = %v, want %v", got, want)
	}
}

func TestReload_SwapsSnapshotAtomically(t *testing.T) {
	p := loadTestSchemas(t)
	ctx := context.Background()

	next := `
default: retail
datasets:
  - id: retail
    version: "3.0.0"
    fields: [visit_count]
`
	if err := p.Reload([]byte(next)); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	schema, err := p.GetSchema(ctx, "retail")
	if err != nil {
		t.Fatalf("GetSchema after reload failed: %v", err)
	}
	if schema.Version != "3.0.0" {
		t.Errorf("version after reload = %q, want 3.0.0", schema.Version)
	}
	if _, err := p.GetSchema(ctx, "census"); !errors.Is(err, ErrSchemaNotFound) {
		t.Error("census should be gone after reload")
	}
}

func TestReload_RejectionKeepsPreviousSnapshot(t *testing.T) {
	p := loadTestSchemas(t)
	ctx := context.Background()

	bad := `
default: retail
datasets:
  - id: retail
    version: "not-semver"
    fields: [visit_count]
`
	if err := p.Reload([]byte(bad)); err == nil {
		t.Fatal("expected error for invalid version")
	}

	schema, err := p.GetSchema(ctx, "retail")
	if err != nil {
		t.Fatalf("previous snapshot lost after rejected reload: %v", err)
	}
	if schema.Version != "2.1.0" {
		t.Errorf("version = %q, want previous 2.1.0", schema.Version)
	}
}

func TestLoadFieldSchemas_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty datasets", `default: x`},
		{"missing id", "datasets:\n  - version: \"1.0.0\"\n    fields: [a]"},
		{"missing fields", "datasets:\n  - id: x\n    version: \"1.0.0\""},
		{"duplicate id", "datasets:\n  - id: x\n    version: \"1.0.0\"\n    fields: [a]\n  - id: x\n    version: \"1.0.0\"\n    fields: [a]"},
		{"unknown default", "default: y\ndatasets:\n  - id: x\n    version: \"1.0.0\"\n    fields: [a]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFieldSchemas([]byte(tc.yaml)); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}
