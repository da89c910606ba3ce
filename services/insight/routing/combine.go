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
// Combination Detection
// =============================================================================

// detectCombination decides whether the runner-up earned a place alongside
// the winner.
//
// # Description
//
// A query like "compare demographics and foot traffic near downtown" is two
// questions wearing one sentence. The runner-up qualifies when:
//
//  1. its total score is at least CombinationThreshold of the winner's,
//  2. both candidates pass field validation, and
//  3. the lexical evidence is independent — each candidate matched at
//     least one term the other did not. Without this check a single strong
//     keyword shared by two endpoints would trigger spurious combinations.
//
// The strategy comes from the catalog's combination rules on the two
// categories; an unlisted pair falls back to overlay.
//
// # Inputs
//
//   - catalog: Active catalog snapshot.
//   - winner, runnerUp: Top two ranked candidates. runnerUp may be nil.
//
// # Outputs
//
//   - string: Combination strategy, or "" when no combination applies.
func detectCombination(catalog *config.EndpointCatalog, winner, runnerUp *CandidateScore) string {
	if runnerUp == nil {
		return ""
	}
	if winner.TotalScore <= 0 || runnerUp.TotalScore <= 0 {
		return ""
	}
	if runnerUp.TotalScore < catalog.Tuning.CombinationThreshold*winner.TotalScore {
		return ""
	}
	if !winner.FieldsResolved || !runnerUp.FieldsResolved {
		return ""
	}
	if !independentEvidence(winner.MatchedTerms, runnerUp.MatchedTerms) {
		return ""
	}

	return catalog.Strategy(winner.Category, runnerUp.Category)
}

// independentEvidence reports whether each term set holds at least one term
// absent from the other.
func independentEvidence(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	aHasUnique := false
	for t := range setA {
		if !setB[t] {
			aHasUnique = true
			break
		}
	}
	if !aHasUnique {
		return false
	}
	for t := range setB {
		if !setA[t] {
			return true
		}
	}
	return false
}
