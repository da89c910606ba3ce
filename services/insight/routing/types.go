// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing implements the hybrid query routing engine: it maps a
// free-text analytical question onto exactly one endpoint from the catalog
// (or a combination of two), merging three imprecise signals — literal
// pattern matching, embedding similarity, and field availability — into a
// single deterministic, explainable decision.
package routing

import (
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Request / Decision Types
// =============================================================================

// RouteRequest carries one routing question plus its dataset context.
type RouteRequest struct {
	// Query is the raw free-text question.
	Query string

	// DatasetID selects a configured dataset schema. Empty selects the
	// provider's default. Ignored when Schema is set.
	DatasetID string

	// Schema, when non-nil, overrides the schema-provider lookup entirely
	// (a caller supplying its own field list).
	Schema *config.FieldSchema

	// SkipCache bypasses both cache lookup and cache write. Used by the
	// explain endpoint so dry runs never pollute or serve from the cache.
	SkipCache bool
}

// CandidateScore is the per-endpoint intermediate result carried into the
// decision for explainability.
type CandidateScore struct {
	EndpointID        string  `json:"endpoint_id"`
	Category          string  `json:"category"`
	PatternScore      float64 `json:"pattern_score"`
	SemanticScore     float64 `json:"semantic_score"`
	ValidationPenalty float64 `json:"validation_penalty"`
	TotalScore        float64 `json:"total_score"`

	// FieldsResolved is false when any required field is missing from the
	// active dataset schema.
	FieldsResolved bool     `json:"fields_resolved"`
	MissingFields  []string `json:"missing_fields,omitempty"`

	// MatchedTerms and AvoidedTerms are the lexical evidence behind
	// PatternScore. MatchedTerms also feeds combination independence.
	MatchedTerms []string `json:"matched_terms,omitempty"`
	AvoidedTerms []string `json:"avoided_terms,omitempty"`

	priorityWeight float64
	catalogOrder   int
}

// Fallback stages recorded on a decision, in chain order.
const (
	// FallbackRelaxedPattern accepted a pattern-only candidate at the
	// relaxed threshold after the hybrid winner fell short.
	FallbackRelaxedPattern = "relaxed_pattern"

	// FallbackDefaultEndpoint substituted the catalog's configured
	// general-purpose endpoint.
	FallbackDefaultEndpoint = "default_endpoint"

	// FallbackLeastBad kept the best-scoring candidate even though its
	// required fields are missing, because every candidate failed
	// validation.
	FallbackLeastBad = "least_bad"

	// FallbackNoViableEndpoint produced the explicit empty decision the
	// caller must surface as a "rephrase your query" condition.
	FallbackNoViableEndpoint = "no_viable_endpoint"
)

// RoutingDecision is the engine's final answer for one query.
//
// # Description
//
// Exactly one SelectedEndpointID is produced unless the query matched two
// independent endpoint vocabularies, in which case CombinedWith carries the
// secondary endpoint and CombinationStrategy says how the pipelines should
// be composed. An empty SelectedEndpointID with UsedFallback set is the
// no-viable-endpoint outcome — a clarification prompt, never a crash.
type RoutingDecision struct {
	SelectedEndpointID string  `json:"selected_endpoint_id"`
	Confidence         float64 `json:"confidence"`

	CombinedWith        []string `json:"combined_with,omitempty"`
	CombinationStrategy string   `json:"combination_strategy,omitempty"`

	UsedFallback  bool   `json:"used_fallback"`
	FallbackStage string `json:"fallback_stage,omitempty"`

	// ScoreBreakdown holds every scored candidate in rank order; the
	// winner is first. Alternatives is the same ranking minus the winner.
	ScoreBreakdown []CandidateScore `json:"score_breakdown"`
	Alternatives   []CandidateScore `json:"alternatives"`

	NormalizedQuery string `json:"normalized_query"`
	SchemaVersion   string `json:"schema_version"`
	CatalogVersion  string `json:"catalog_version"`

	// SemanticUsed is false when the embedding provider was unavailable
	// and the decision was formed from pattern + validation signals only.
	SemanticUsed bool `json:"semantic_used"`

	FromCache bool      `json:"from_cache"`
	CreatedAt time.Time `json:"created_at"`
}

// NoViable reports whether the decision is the explicit no-viable-endpoint
// outcome.
func (d *RoutingDecision) NoViable() bool {
	return d.SelectedEndpointID == ""
}

// outcome labels the decision for metrics.
func (d *RoutingDecision) outcome() string {
	switch {
	case d.NoViable():
		return "no_viable"
	case d.UsedFallback:
		return "fallback"
	case len(d.CombinedWith) > 0:
		return "combined"
	default:
		return "selected"
	}
}

// =============================================================================
// Error Taxonomy
// =============================================================================

// Sentinel errors for errors.Is matching. RouterError wraps these so callers
// can branch on kind without string comparison.
var (
	// ErrInvalidQuery rejects an empty or oversized query before scoring.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrSchemaUnavailable means the dataset context could not be
	// resolved. Fatal for the request, not retried.
	ErrSchemaUnavailable = errors.New("schema unavailable")

	// ErrEmbeddingTimeout and ErrEmbeddingFailure are recovered locally:
	// the semantic score defaults to 0 and the request continues. They are
	// never returned from Route; they exist for logs and internal
	// classification.
	ErrEmbeddingTimeout = errors.New("embedding provider timeout")
	ErrEmbeddingFailure = errors.New("embedding provider error")

	// ErrConfiguration marks a malformed catalog or wiring problem at
	// load time. Fatal; aborts startup.
	ErrConfiguration = errors.New("configuration error")
)

// RouterError attaches a kind sentinel and context to a routing failure.
type RouterError struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Message is the human-readable detail.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// NewRouterError builds a RouterError of the given kind.
func NewRouterError(kind error, format string, args ...any) *RouterError {
	return &RouterError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches the error against its kind sentinel for errors.Is.
func (e *RouterError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap exposes the underlying cause for errors.As chains.
func (e *RouterError) Unwrap() error {
	return e.Err
}
