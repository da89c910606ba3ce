// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the declarative configuration of the
// Insight routing engine: the endpoint catalog, the field dictionary, and
// the per-dataset field schemas.
//
// All three ship with embedded defaults and can be overridden by file path
// (or, for the catalog, a GCS object). Loaded configurations are immutable;
// reload produces a new snapshot that is swapped atomically so in-flight
// requests keep the snapshot they started with.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// catalogTracer instruments configuration loading.
var catalogTracer = otel.Tracer("aleutian.ai/insight/config")

// MaxYAMLFileSize caps every YAML read in this package. Catalogs are
// hand-curated and small; anything above 1 MiB is a misconfiguration.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Embedded Default Catalog
// =============================================================================

//go:embed endpoint_catalog.yaml
var defaultEndpointCatalogYAML []byte

// =============================================================================
// Catalog Types
// =============================================================================

// Combination strategies applied when two endpoints are returned together.
const (
	StrategyOverlay     = "overlay"
	StrategyComparison  = "comparison"
	StrategySequential  = "sequential"
	StrategyCorrelation = "correlation"
)

// EndpointDescriptor describes one analysis-pipeline endpoint.
//
// Description:
//
//	Everything the routing engine knows about an endpoint is declared here:
//	its lexical vocabulary (keywords, avoid terms), its semantic corpus
//	(example phrases), the dataset fields it needs, and its priority weight
//	for tie-breaking. The engine never invokes the pipeline itself; the id
//	is handed to an external processor registry.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type EndpointDescriptor struct {
	// ID uniquely names the endpoint (lowercase, hyphenated).
	ID string `yaml:"id"`

	// Category groups endpoints for combination-strategy selection
	// (e.g. demographic, competitive, strategic, geographic, temporal,
	// performance, general).
	Category string `yaml:"category"`

	// Description is the human-readable summary shown by the catalog API.
	Description string `yaml:"description"`

	// Keywords are the ordered phrase patterns scored by the pattern
	// matcher. Multi-word entries score as phrases, single words as
	// keywords.
	Keywords []string `yaml:"keywords"`

	// AvoidTerms penalize this endpoint when present in the query. They
	// exist to suppress false positives from vocabulary shared with other
	// endpoints.
	AvoidTerms []string `yaml:"avoid_terms"`

	// ExamplePhrases form the endpoint's embedding document for the
	// semantic router.
	ExamplePhrases []string `yaml:"example_phrases"`

	// RequiredFields must all resolve against the active dataset schema
	// or the endpoint is penalized out of contention.
	RequiredFields []string `yaml:"required_fields"`

	// OptionalFields enrich the pipeline when present; never penalized.
	OptionalFields []string `yaml:"optional_fields"`

	// PriorityWeight breaks ties between endpoints with equal scores.
	// Higher wins. Specific intents carry higher weights than generic
	// brand-keyword endpoints.
	PriorityWeight float64 `yaml:"priority_weight"`

	// Cacheable marks decisions for this endpoint as safe to memoize.
	Cacheable bool `yaml:"cacheable"`

	// TargetScoreField is the field the pipeline ultimately ranks by.
	TargetScoreField string `yaml:"target_score_field"`
}

// CombinationRule maps an unordered category pair to the strategy used when
// two endpoints are combined in one decision.
type CombinationRule struct {
	// Categories holds exactly two category names; "*" matches any.
	Categories []string `yaml:"categories"`

	// Strategy is one of overlay, comparison, sequential, correlation.
	Strategy string `yaml:"strategy"`
}

// Tuning holds the numeric knobs of the scoring pipeline. The spec-relative
// ordering of the defaults matters more than their absolute values; all are
// overridable in the catalog YAML.
type Tuning struct {
	// PhraseWeight is added per matched multi-word phrase.
	PhraseWeight float64 `yaml:"phrase_weight"`

	// KeywordWeight is added per matched single keyword.
	KeywordWeight float64 `yaml:"keyword_weight"`

	// AvoidPenalty is subtracted per matched avoid term.
	AvoidPenalty float64 `yaml:"avoid_penalty"`

	// ValidationPenalty is subtracted when a required field is missing.
	// Must be large enough to drop an endpoint below any fully-valid
	// competitor.
	ValidationPenalty float64 `yaml:"validation_penalty"`

	// SemanticScale multiplies cosine similarity into the pattern-score
	// range.
	SemanticScale float64 `yaml:"semantic_scale"`

	// ConfidenceThreshold is the minimum winner confidence before the
	// fallback chain engages.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// CombinationThreshold is the fraction of the max score a second
	// endpoint must reach to be combined.
	CombinationThreshold float64 `yaml:"combination_threshold"`

	// CacheMinConfidence gates decision-cache writes.
	CacheMinConfidence float64 `yaml:"cache_min_confidence"`

	// StrongScore is the total score treated as "fully convincing" when
	// blending score strength into confidence.
	StrongScore float64 `yaml:"strong_score"`

	// RelaxedMinScore is the minimum pattern-only score accepted by the
	// first fallback stage.
	RelaxedMinScore float64 `yaml:"relaxed_min_score"`

	// MaxQueryLength rejects oversized queries before any scoring.
	MaxQueryLength int `yaml:"max_query_length"`
}

// EndpointCatalog is the immutable, loaded-once registry of endpoints.
//
// Description:
//
//	Declaration order is preserved: it is the final tie-break key after
//	total score and priority weight. The catalog also carries the tuning
//	block, the combination rule table, and the configured default
//	(fallback) endpoint.
//
// Thread Safety: Immutable after LoadEndpointCatalog; safe for concurrent use.
type EndpointCatalog struct {
	// Version is the catalog revision, validated as semver.
	Version string `yaml:"version"`

	// DefaultEndpoint receives queries no other endpoint claims.
	DefaultEndpoint string `yaml:"default_endpoint"`

	// Tuning holds the scoring knobs.
	Tuning Tuning `yaml:"tuning"`

	// CombinationRules map category pairs to combination strategies.
	CombinationRules []CombinationRule `yaml:"combination_rules"`

	// Endpoints in declaration order.
	Endpoints []EndpointDescriptor `yaml:"endpoints"`

	index map[string]int
}

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultPhraseWeight is added per matched multi-word phrase.
	DefaultPhraseWeight = 2.0

	// DefaultKeywordWeight is added per matched single keyword.
	DefaultKeywordWeight = 1.0

	// DefaultAvoidPenalty is subtracted per matched avoid term.
	DefaultAvoidPenalty = 2.0

	// DefaultValidationPenalty drops an endpoint below valid competitors.
	DefaultValidationPenalty = 10.0

	// DefaultSemanticScale maps cosine similarity into pattern-score range.
	DefaultSemanticScale = 5.0

	// DefaultConfidenceThreshold triggers the fallback chain below it.
	DefaultConfidenceThreshold = 0.4

	// DefaultCombinationThreshold is the fraction of max score required
	// for multi-endpoint combination.
	DefaultCombinationThreshold = 0.4

	// DefaultCacheMinConfidence gates decision-cache writes.
	DefaultCacheMinConfidence = 0.5

	// DefaultStrongScore is the "fully convincing" total score.
	DefaultStrongScore = 6.0

	// DefaultRelaxedMinScore is the relaxed fallback acceptance score.
	DefaultRelaxedMinScore = 1.0

	// DefaultMaxQueryLength bounds accepted query size in bytes.
	DefaultMaxQueryLength = 512
)

// =============================================================================
// Accessors
// =============================================================================

// Endpoint returns the descriptor for id, or false if unknown.
func (c *EndpointCatalog) Endpoint(id string) (*EndpointDescriptor, bool) {
	pos, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.Endpoints[pos], true
}

// Position returns the declaration index of id, used as the final tie-break.
// Unknown ids sort last.
func (c *EndpointCatalog) Position(id string) int {
	if pos, ok := c.index[id]; ok {
		return pos
	}
	return len(c.Endpoints)
}

// Strategy resolves the combination strategy for an unordered category pair.
// Falls back to overlay when no rule matches.
func (c *EndpointCatalog) Strategy(categoryA, categoryB string) string {
	for _, rule := range c.CombinationRules {
		a, b := rule.Categories[0], rule.Categories[1]
		if pairMatches(a, b, categoryA, categoryB) || pairMatches(b, a, categoryA, categoryB) {
			return rule.Strategy
		}
	}
	return StrategyOverlay
}

func pairMatches(ruleA, ruleB, catA, catB string) bool {
	return (ruleA == "*" || ruleA == catA) && (ruleB == "*" || ruleB == catB)
}

// =============================================================================
// Singleton Catalog
// =============================================================================

var (
	catalogMu      sync.RWMutex
	catalogOnce    sync.Once
	cachedCatalog  *EndpointCatalog
	catalogLoadErr error
)

// GetEndpointCatalog returns the process-wide default catalog, loading the
// embedded YAML on first call.
//
// Description:
//
//	This is the startup path: main loads the default (or overridden)
//	catalog once, then wraps it in a CatalogHolder for atomic reloads.
//	Uses sync.Once for thread-safe initialization.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*EndpointCatalog - The loaded catalog. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetEndpointCatalog(ctx context.Context) (*EndpointCatalog, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetEndpointCatalog: ctx must not be nil")
	}

	catalogMu.RLock()
	if cachedCatalog != nil || catalogLoadErr != nil {
		c, err := cachedCatalog, catalogLoadErr
		catalogMu.RUnlock()
		return c, err
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()

	if cachedCatalog != nil || catalogLoadErr != nil {
		return cachedCatalog, catalogLoadErr
	}

	catalogOnce.Do(func() {
		cachedCatalog, catalogLoadErr = LoadEndpointCatalog(ctx, defaultEndpointCatalogYAML)
	})

	return cachedCatalog, catalogLoadErr
}

// ResetEndpointCatalog clears the cached catalog so tests can reload with
// different data.
//
// Thread Safety: Safe for concurrent use.
func ResetEndpointCatalog() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	cachedCatalog = nil
	catalogLoadErr = nil
	catalogOnce = sync.Once{}
}

// =============================================================================
// Loading
// =============================================================================

// LoadEndpointCatalog parses and validates a catalog from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies tuning defaults for missing fields, builds the
//	id index, and validates every descriptor. A malformed catalog is a
//	configuration error: the caller must abort startup rather than route
//	against a partial catalog.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*EndpointCatalog - The validated, immutable catalog.
//	error - Non-nil if parsing or validation fails.
func LoadEndpointCatalog(ctx context.Context, data []byte) (*EndpointCatalog, error) {
	_, span := catalogTracer.Start(ctx, "config.LoadEndpointCatalog")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadEndpointCatalog: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadEndpointCatalog: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var catalog EndpointCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("LoadEndpointCatalog: parsing YAML: %w", err)
	}

	applyTuningDefaults(&catalog.Tuning)

	catalog.index = make(map[string]int, len(catalog.Endpoints))
	for i := range catalog.Endpoints {
		catalog.index[catalog.Endpoints[i].ID] = i
	}

	if err := validateCatalog(&catalog); err != nil {
		return nil, fmt.Errorf("LoadEndpointCatalog: validation: %w", err)
	}

	span.SetAttributes(
		attribute.String("version", catalog.Version),
		attribute.Int("endpoints", len(catalog.Endpoints)),
		attribute.Int("combination_rules", len(catalog.CombinationRules)),
		attribute.String("default_endpoint", catalog.DefaultEndpoint),
	)

	slog.Info("endpoint catalog loaded",
		slog.String("version", catalog.Version),
		slog.Int("endpoints", len(catalog.Endpoints)),
		slog.String("default_endpoint", catalog.DefaultEndpoint),
	)

	return &catalog, nil
}

// LoadEndpointCatalogFile loads a catalog from a file path, enforcing the
// size cap before reading the whole file into memory.
func LoadEndpointCatalogFile(ctx context.Context, path string) (*EndpointCatalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("LoadEndpointCatalogFile: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadEndpointCatalogFile: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadEndpointCatalogFile: %w", err)
	}
	return LoadEndpointCatalog(ctx, data)
}

func applyTuningDefaults(t *Tuning) {
	if t.PhraseWeight <= 0 {
		t.PhraseWeight = DefaultPhraseWeight
	}
	if t.KeywordWeight <= 0 {
		t.KeywordWeight = DefaultKeywordWeight
	}
	if t.AvoidPenalty <= 0 {
		t.AvoidPenalty = DefaultAvoidPenalty
	}
	if t.ValidationPenalty <= 0 {
		t.ValidationPenalty = DefaultValidationPenalty
	}
	if t.SemanticScale <= 0 {
		t.SemanticScale = DefaultSemanticScale
	}
	if t.ConfidenceThreshold <= 0 {
		t.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if t.CombinationThreshold <= 0 {
		t.CombinationThreshold = DefaultCombinationThreshold
	}
	if t.CacheMinConfidence <= 0 {
		t.CacheMinConfidence = DefaultCacheMinConfidence
	}
	if t.StrongScore <= 0 {
		t.StrongScore = DefaultStrongScore
	}
	if t.RelaxedMinScore <= 0 {
		t.RelaxedMinScore = DefaultRelaxedMinScore
	}
	if t.MaxQueryLength <= 0 {
		t.MaxQueryLength = DefaultMaxQueryLength
	}
}

// validateCatalog checks the catalog for consistency.
func validateCatalog(c *EndpointCatalog) error {
	if c.Version == "" {
		return fmt.Errorf("version must not be empty")
	}
	if !semver.IsValid(canonicalSemver(c.Version)) {
		return fmt.Errorf("version %q is not valid semver", c.Version)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("endpoint[%d]: id must not be empty", i)
		}
		if !isValidEndpointID(ep.ID) {
			return fmt.Errorf("endpoint[%d]: id %q must be lowercase alphanumerics and hyphens", i, ep.ID)
		}
		if _, dup := seen[ep.ID]; dup {
			return fmt.Errorf("endpoint[%d]: duplicate id %q", i, ep.ID)
		}
		seen[ep.ID] = struct{}{}

		if ep.Category == "" {
			return fmt.Errorf("endpoint[%d] (%s): category must not be empty", i, ep.ID)
		}
		if len(ep.Keywords) == 0 {
			return fmt.Errorf("endpoint[%d] (%s): keywords must not be empty", i, ep.ID)
		}
		if len(ep.ExamplePhrases) == 0 {
			return fmt.Errorf("endpoint[%d] (%s): example_phrases must not be empty", i, ep.ID)
		}
		if ep.PriorityWeight < 0 {
			return fmt.Errorf("endpoint[%d] (%s): priority_weight must not be negative", i, ep.ID)
		}
	}

	if c.DefaultEndpoint != "" {
		if _, ok := c.index[c.DefaultEndpoint]; !ok {
			return fmt.Errorf("default_endpoint %q is not in the catalog", c.DefaultEndpoint)
		}
	}

	for i, rule := range c.CombinationRules {
		if len(rule.Categories) != 2 {
			return fmt.Errorf("combination_rule[%d]: categories must hold exactly two entries", i)
		}
		switch rule.Strategy {
		case StrategyOverlay, StrategyComparison, StrategySequential, StrategyCorrelation:
		default:
			return fmt.Errorf("combination_rule[%d]: unknown strategy %q", i, rule.Strategy)
		}
	}

	// The penalty must dominate the strongest plausible lexical+semantic
	// signal, or an invalid endpoint could still win over a valid one.
	if c.Tuning.ValidationPenalty < c.Tuning.StrongScore {
		return fmt.Errorf("tuning: validation_penalty (%.1f) must be >= strong_score (%.1f)",
			c.Tuning.ValidationPenalty, c.Tuning.StrongScore)
	}

	return nil
}

// canonicalSemver normalizes a version for x/mod/semver, which requires the
// leading "v".
func canonicalSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func isValidEndpointID(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return id[0] != '-' && id[len(id)-1] != '-'
}

// =============================================================================
// CatalogHolder — atomic snapshot swap
// =============================================================================

// CatalogHolder publishes the active catalog snapshot.
//
// Description:
//
//	Reload builds a complete new catalog and swaps the pointer; requests
//	that already took a snapshot continue against it unchanged. This is the
//	snapshot-swap half of the reload contract — there is no write lock and
//	no in-place mutation.
//
// Thread Safety: Safe for concurrent use.
type CatalogHolder struct {
	ptr atomic.Pointer[EndpointCatalog]
}

// NewCatalogHolder wraps an initial catalog snapshot.
func NewCatalogHolder(c *EndpointCatalog) *CatalogHolder {
	h := &CatalogHolder{}
	h.ptr.Store(c)
	return h
}

// Snapshot returns the current catalog. Callers keep the returned pointer
// for the duration of one request and must not retain it across requests.
func (h *CatalogHolder) Snapshot() *EndpointCatalog {
	return h.ptr.Load()
}

// Swap publishes a new snapshot and returns the previous one.
func (h *CatalogHolder) Swap(c *EndpointCatalog) *EndpointCatalog {
	return h.ptr.Swap(c)
}
