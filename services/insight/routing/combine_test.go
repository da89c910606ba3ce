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
	"context"
	"testing"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

const combineTestCatalog = `
version: "1.0.0"
tuning:
  combination_threshold: 0.4
combination_rules:
  - categories: [demographic, geographic]
    strategy: comparison
endpoints:
  - id: demographic-insights
    category: demographic
    description: Demographic insights
    keywords: ["demographics"]
    example_phrases: ["what are the demographics"]
  - id: foot-traffic
    category: geographic
    description: Foot traffic analysis
    keywords: ["foot traffic"]
    example_phrases: ["how many people visit"]
`

func loadCombineTestCatalog(t *testing.T) *config.EndpointCatalog {
	t.Helper()
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(combineTestCatalog))
	if err != nil {
		t.Fatalf("loading test catalog: %v", err)
	}
	return catalog
}

// =============================================================================
// Combination Detection Tests
// =============================================================================

func TestDetectCombination_IndependentEvidence(t *testing.T) {
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", Category: "geographic",
		TotalScore: 5.0, FieldsResolved: true,
		MatchedTerms: []string{"foot traffic"},
	}
	runnerUp := &CandidateScore{
		EndpointID: "demographic-insights", Category: "demographic",
		TotalScore: 4.0, FieldsResolved: true,
		MatchedTerms: []string{"demographics"},
	}

	strategy := detectCombination(catalog, winner, runnerUp)
	if strategy != config.StrategyComparison {
		t.Errorf("expected comparison strategy, got %q", strategy)
	}
}

func TestDetectCombination_RunnerUpTooWeak(t *testing.T) {
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", TotalScore: 10.0, FieldsResolved: true,
		MatchedTerms: []string{"foot traffic"},
	}
	runnerUp := &CandidateScore{
		EndpointID: "demographic-insights", TotalScore: 1.0, FieldsResolved: true,
		MatchedTerms: []string{"demographics"},
	}

	if strategy := detectCombination(catalog, winner, runnerUp); strategy != "" {
		t.Errorf("expected no combination below threshold, got %q", strategy)
	}
}

func TestDetectCombination_SharedEvidenceOnly(t *testing.T) {
	// Both candidates matched the same single term. One strong keyword
	// shared by two endpoints is one question, not two.
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", TotalScore: 5.0, FieldsResolved: true,
		MatchedTerms: []string{"downtown"},
	}
	runnerUp := &CandidateScore{
		EndpointID: "demographic-insights", TotalScore: 4.0, FieldsResolved: true,
		MatchedTerms: []string{"downtown"},
	}

	if strategy := detectCombination(catalog, winner, runnerUp); strategy != "" {
		t.Errorf("expected no combination without independent evidence, got %q", strategy)
	}
}

func TestDetectCombination_UnresolvedRunnerUp(t *testing.T) {
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", TotalScore: 5.0, FieldsResolved: true,
		MatchedTerms: []string{"foot traffic"},
	}
	runnerUp := &CandidateScore{
		EndpointID: "demographic-insights", TotalScore: 4.0, FieldsResolved: false,
		MatchedTerms: []string{"demographics"},
	}

	if strategy := detectCombination(catalog, winner, runnerUp); strategy != "" {
		t.Errorf("expected no combination with unresolved fields, got %q", strategy)
	}
}

func TestDetectCombination_NoRunnerUp(t *testing.T) {
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", TotalScore: 5.0, FieldsResolved: true,
		MatchedTerms: []string{"foot traffic"},
	}

	if strategy := detectCombination(catalog, winner, nil); strategy != "" {
		t.Errorf("expected no combination without runner-up, got %q", strategy)
	}
}

func TestDetectCombination_UnlistedPairFallsBackToOverlay(t *testing.T) {
	catalog := loadCombineTestCatalog(t)
	winner := &CandidateScore{
		EndpointID: "foot-traffic", Category: "geographic",
		TotalScore: 5.0, FieldsResolved: true,
		MatchedTerms: []string{"foot traffic"},
	}
	runnerUp := &CandidateScore{
		EndpointID: "other", Category: "performance",
		TotalScore: 4.0, FieldsResolved: true,
		MatchedTerms: []string{"revenue"},
	}

	if strategy := detectCombination(catalog, winner, runnerUp); strategy != config.StrategyOverlay {
		t.Errorf("expected overlay fallback, got %q", strategy)
	}
}

func TestIndependentEvidence_Subset(t *testing.T) {
	// A is a strict superset of B: B brings nothing new.
	if independentEvidence([]string{"a", "b", "c"}, []string{"b", "c"}) {
		t.Error("expected subset evidence to be dependent")
	}
	if independentEvidence([]string{"a"}, nil) {
		t.Error("expected empty set to be dependent")
	}
	if !independentEvidence([]string{"a", "shared"}, []string{"b", "shared"}) {
		t.Error("expected overlapping-but-distinct sets to be independent")
	}
}
