// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Field Validator
// =============================================================================

// ValidationResult reports whether an endpoint can run against the active
// dataset.
type ValidationResult struct {
	// Penalty is 0 when all required fields resolve, otherwise the
	// configured validation penalty. Subtracted from the total score.
	Penalty float64

	// FieldsResolved is false when any required field is missing.
	FieldsResolved bool

	// MissingFields lists the canonical names that did not resolve, in
	// descriptor order.
	MissingFields []string
}

// FieldValidator checks an endpoint's required fields against a dataset
// schema, resolving vocabulary through the field dictionary first.
//
// # Description
//
// This is the guarantee that the engine never silently selects a pipeline
// that cannot run: a single missing required field costs the full validation
// penalty, which the catalog validator forces to dominate any achievable
// pattern+semantic sum. Optional fields never penalize.
//
// # Thread Safety
//
// Immutable; safe for concurrent use.
type FieldValidator struct {
	dict *config.FieldDictionary
}

// NewFieldValidator builds a validator over the given dictionary.
// A nil dictionary skips synonym resolution and checks raw names only.
func NewFieldValidator(dict *config.FieldDictionary) *FieldValidator {
	return &FieldValidator{dict: dict}
}

// Validate resolves each required field and checks schema membership.
//
// # Inputs
//
//   - ep: The candidate endpoint descriptor.
//   - schema: The active dataset schema. Must not be nil.
//   - penalty: The tuning penalty applied when a required field is missing.
//
// # Outputs
//
//   - ValidationResult: Penalty, resolution flag, and missing field names.
func (v *FieldValidator) Validate(ep *config.EndpointDescriptor, schema *config.FieldSchema, penalty float64) ValidationResult {
	result := ValidationResult{FieldsResolved: true}

	for _, field := range ep.RequiredFields {
		canonical := field
		if v.dict != nil {
			if resolved, ok := v.dict.Resolve(field); ok {
				canonical = resolved
			}
		}
		if !schema.Has(canonical) {
			result.FieldsResolved = false
			result.MissingFields = append(result.MissingFields, canonical)
		}
	}

	if !result.FieldsResolved {
		result.Penalty = penalty
	}
	return result
}
