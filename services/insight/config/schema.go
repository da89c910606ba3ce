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
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Field Schemas
// =============================================================================

//go:embed field_schemas.yaml
var defaultFieldSchemasYAML []byte

// ErrSchemaNotFound reports an unknown dataset id. The routing engine maps it
// to its schema-unavailable error kind.
var ErrSchemaNotFound = errors.New("field schema not found")

// =============================================================================
// Field Schema Types
// =============================================================================

// FieldSchema lists the fields available in one dataset, plus semantic
// aliases, versioned so decision-cache entries can be invalidated when the
// active dataset changes.
//
// # Thread Safety
//
// Immutable after load; safe for concurrent use.
type FieldSchema struct {
	// DatasetID names the dataset this schema describes.
	DatasetID string `yaml:"id"`

	// Version identifies the schema revision (semver). Part of every
	// decision-cache key.
	Version string `yaml:"version"`

	// Fields are the canonical field names present in the dataset.
	Fields []string `yaml:"fields"`

	// Aliases map alternate names onto canonical fields.
	Aliases map[string]string `yaml:"aliases"`

	fieldSet map[string]struct{}
}

// NewFieldSchema builds an ad hoc schema, used when a request supplies its
// own field list instead of referencing a configured dataset.
func NewFieldSchema(datasetID, version string, fields []string) *FieldSchema {
	s := &FieldSchema{DatasetID: datasetID, Version: version, Fields: fields}
	s.buildIndex()
	return s
}

func (s *FieldSchema) buildIndex() {
	s.fieldSet = make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		s.fieldSet[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}
}

// Has reports whether a canonical field (or a declared alias of one) is
// present in the dataset. Case-insensitive.
func (s *FieldSchema) Has(field string) bool {
	norm := strings.ToLower(strings.TrimSpace(field))
	if _, ok := s.fieldSet[norm]; ok {
		return true
	}
	if canon, ok := s.Aliases[norm]; ok {
		_, present := s.fieldSet[strings.ToLower(canon)]
		return present
	}
	return false
}

// =============================================================================
// Schema Provider
// =============================================================================

// SchemaProvider resolves a dataset id to its active FieldSchema.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SchemaProvider interface {
	// GetSchema returns the schema for the dataset, or ErrSchemaNotFound.
	// An empty dataset id selects the configured default dataset.
	GetSchema(ctx context.Context, datasetID string) (*FieldSchema, error)
}

// StaticSchemaProvider serves schemas loaded from YAML configuration.
// Reload swaps the whole schema map atomically, matching the catalog's
// snapshot semantics.
//
// # Thread Safety
//
// Safe for concurrent use.
type StaticSchemaProvider struct {
	snapshot atomic.Pointer[schemaSnapshot]
}

type schemaSnapshot struct {
	byID      map[string]*FieldSchema
	defaultID string
}

// fieldSchemasYAML is the on-disk shape of the schema config.
type fieldSchemasYAML struct {
	Default  string         `yaml:"default"`
	Datasets []*FieldSchema `yaml:"datasets"`
}

// LoadFieldSchemas parses and validates per-dataset schemas from YAML bytes.
//
// # Outputs
//
//   - *StaticSchemaProvider: Provider over the parsed datasets.
//   - error: Non-nil if parsing or validation fails.
func LoadFieldSchemas(data []byte) (*StaticSchemaProvider, error) {
	p := &StaticSchemaProvider{}
	if err := p.Reload(data); err != nil {
		return nil, err
	}
	return p, nil
}

// GetFieldSchemas loads the embedded default schemas.
func GetFieldSchemas() (*StaticSchemaProvider, error) {
	return LoadFieldSchemas(defaultFieldSchemasYAML)
}

// Reload parses new YAML and atomically replaces the schema snapshot.
// On error the previous snapshot stays active.
func (p *StaticSchemaProvider) Reload(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("LoadFieldSchemas: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return fmt.Errorf("LoadFieldSchemas: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var raw fieldSchemasYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("LoadFieldSchemas: parsing YAML: %w", err)
	}
	if len(raw.Datasets) == 0 {
		return fmt.Errorf("LoadFieldSchemas: datasets must not be empty")
	}

	byID := make(map[string]*FieldSchema, len(raw.Datasets))
	for i, schema := range raw.Datasets {
		if schema.DatasetID == "" {
			return fmt.Errorf("LoadFieldSchemas: dataset[%d]: id must not be empty", i)
		}
		if schema.Version == "" {
			return fmt.Errorf("LoadFieldSchemas: dataset[%d] (%s): version must not be empty", i, schema.DatasetID)
		}
		if !semver.IsValid(canonicalSemver(schema.Version)) {
			return fmt.Errorf("LoadFieldSchemas: dataset[%d] (%s): version %q is not valid semver", i, schema.DatasetID, schema.Version)
		}
		if len(schema.Fields) == 0 {
			return fmt.Errorf("LoadFieldSchemas: dataset[%d] (%s): fields must not be empty", i, schema.DatasetID)
		}
		if _, dup := byID[schema.DatasetID]; dup {
			return fmt.Errorf("LoadFieldSchemas: duplicate dataset id %q", schema.DatasetID)
		}
		schema.buildIndex()
		byID[schema.DatasetID] = schema
	}

	defaultID := raw.Default
	if defaultID == "" {
		defaultID = raw.Datasets[0].DatasetID
	}
	if _, ok := byID[defaultID]; !ok {
		return fmt.Errorf("LoadFieldSchemas: default dataset %q is not declared", defaultID)
	}

	p.snapshot.Store(&schemaSnapshot{byID: byID, defaultID: defaultID})

	slog.Info("field schemas loaded",
		slog.Int("datasets", len(byID)),
		slog.String("default", defaultID),
	)
	return nil
}

// GetSchema implements SchemaProvider.
func (p *StaticSchemaProvider) GetSchema(ctx context.Context, datasetID string) (*FieldSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := p.snapshot.Load()
	if snap == nil {
		return nil, ErrSchemaNotFound
	}
	id := datasetID
	if id == "" {
		id = snap.defaultID
	}
	schema, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, id)
	}
	return schema, nil
}

// DatasetIDs returns the configured dataset ids, default first.
func (p *StaticSchemaProvider) DatasetIDs() []string {
	snap := p.snapshot.Load()
	if snap == nil {
		return nil
	}
	rest := make([]string, 0, len(snap.byID))
	for id := range snap.byID {
		if id != snap.defaultID {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append([]string{snap.defaultID}, rest...)
}
