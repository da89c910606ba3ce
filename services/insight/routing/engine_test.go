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
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const engineTestCatalog = `
version: "1.0.0"
default_endpoint: general-insights
tuning:
  confidence_threshold: 0.3
combination_rules:
  - categories: [demographic, geographic]
    strategy: comparison
endpoints:
  - id: strategic-analysis
    category: strategic
    description: Strategic growth and expansion analysis
    keywords: ["strategic expansion", "growth strategy", "opportunities"]
    example_phrases: ["where should we expand next"]
    required_fields: [location, revenue]
    priority_weight: 10
    cacheable: true
  - id: brand-performance
    category: performance
    description: Brand performance metrics
    keywords: ["brandx", "stores", "performance"]
    example_phrases: ["how is brandx performing"]
    required_fields: [brand, revenue]
    priority_weight: 5
    cacheable: true
  - id: foot-traffic
    category: geographic
    description: Foot traffic analysis
    keywords: ["foot traffic", "footfall"]
    avoid_terms: ["market share"]
    example_phrases: ["how many people visit"]
    required_fields: [visits]
    priority_weight: 6
    cacheable: true
  - id: market-saturation
    category: competitive
    description: Market share and saturation
    keywords: ["market share", "saturation", "competitors"]
    example_phrases: ["how saturated is the market"]
    required_fields: [competitor_count]
    priority_weight: 6
    cacheable: true
  - id: demographic-insights
    category: demographic
    description: Demographic insights
    keywords: ["demographics", "population"]
    example_phrases: ["what are the demographics"]
    required_fields: [population]
    priority_weight: 6
    cacheable: true
  - id: general-insights
    category: general
    description: General exploratory overview
    keywords: ["overview", "summary"]
    example_phrases: ["give me an overview"]
    priority_weight: 1
    cacheable: false
`

// engineTestCatalogNoDefault removes the default endpoint so the deeper
// fallback stages become reachable.
const engineTestCatalogNoDefault = `
version: "1.0.1"
endpoints:
  - id: foot-traffic
    category: geographic
    description: Foot traffic analysis
    keywords: ["foot traffic", "footfall"]
    example_phrases: ["how many people visit"]
    required_fields: [visits]
    priority_weight: 6
    cacheable: true
`

var engineTestFields = []string{
	"location", "revenue", "brand", "visits", "population", "competitor_count",
}

// stubSchemas serves fixed schemas without YAML plumbing.
type stubSchemas struct {
	schemas map[string]*config.FieldSchema
}

func (s *stubSchemas) GetSchema(_ context.Context, datasetID string) (*config.FieldSchema, error) {
	if datasetID == "" {
		datasetID = "retail"
	}
	if schema, ok := s.schemas[datasetID]; ok {
		return schema, nil
	}
	return nil, config.ErrSchemaNotFound
}

func fullSchemaProvider() *stubSchemas {
	return &stubSchemas{schemas: map[string]*config.FieldSchema{
		"retail": config.NewFieldSchema("retail", "2.0.0", engineTestFields),
	}}
}

// stubTermDims maps substrings to vector dimensions so the stub embedder
// produces deterministic, meaningfully-aligned vectors for both endpoint
// documents and queries.
var stubTermDims = map[string]int{
	"expan":     0,
	"brandx":    1,
	"visit":     2,
	"traffic":   2,
	"market":    3,
	"demograph": 4,
	"overview":  5,
}

// stubEmbedder is a deterministic EmbedProvider with call counting and a
// failure switch.
type stubEmbedder struct {
	calls atomic.Int64
	fail  atomic.Bool
}

func (s *stubEmbedder) Model() string { return "stub-embed-v1" }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("embedding backend offline")
	}
	vec := make([]float32, 8)
	for term, dim := range stubTermDims {
		if strings.Contains(text, term) {
			vec[dim]++
		}
	}
	return vec, nil
}

// testEngine builds a warmed engine over the standard fixture catalog.
func testEngine(t *testing.T, catalogYAML string, cache DecisionCache) (*Engine, *stubEmbedder) {
	t.Helper()
	ctx := context.Background()

	catalog, err := config.LoadEndpointCatalog(ctx, []byte(catalogYAML))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}

	provider := &stubEmbedder{}
	embeddings := NewEndpointEmbeddingCache(provider, nil, nil)

	engine, err := NewEngine(Options{
		Catalog:    catalog,
		Schemas:    fullSchemaProvider(),
		Embeddings: embeddings,
		Cache:      cache,
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(ctx); err != nil {
		t.Fatalf("warming: %v", err)
	}
	return engine, provider
}

// =============================================================================
// Route Tests
// =============================================================================

func TestRoute_Deterministic(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, nil)
	ctx := context.Background()
	req := RouteRequest{Query: "strategic expansion opportunities near BrandX stores"}

	first, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Route(ctx, req)
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		if again.SelectedEndpointID != first.SelectedEndpointID {
			t.Fatalf("run %d: endpoint changed: %s vs %s", i, again.SelectedEndpointID, first.SelectedEndpointID)
		}
		if again.Confidence != first.Confidence {
			t.Fatalf("run %d: confidence changed: %f vs %f", i, again.Confidence, first.Confidence)
		}
	}
}

func TestRoute_PriorityClaimsSharedVocabulary(t *testing.T) {
	// The query mentions a brand, but the dominant intent is strategic.
	// The higher-priority phrase endpoint must win over the brand-keyword
	// endpoint.
	engine, _ := testEngine(t, engineTestCatalog, nil)

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "strategic expansion opportunities near BrandX stores",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedEndpointID != "strategic-analysis" {
		t.Errorf("expected strategic-analysis, got %s", decision.SelectedEndpointID)
	}
	if decision.UsedFallback {
		t.Errorf("expected direct selection, got fallback stage %s", decision.FallbackStage)
	}
	if decision.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %f", decision.Confidence)
	}
}

func TestRoute_AvoidTermSuppressesEndpoint(t *testing.T) {
	// "market share" is foot-traffic's avoid term and market-saturation's
	// phrase; the penalty must keep foot-traffic out of contention.
	engine, _ := testEngine(t, engineTestCatalog, nil)

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "brandx market share downtown",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedEndpointID != "market-saturation" {
		t.Errorf("expected market-saturation, got %s", decision.SelectedEndpointID)
	}
	for _, c := range decision.ScoreBreakdown {
		if c.EndpointID == "foot-traffic" {
			if c.TotalScore >= 0 {
				t.Errorf("expected negative foot-traffic score, got %f", c.TotalScore)
			}
			if len(c.AvoidedTerms) == 0 {
				t.Error("expected avoided terms surfaced in breakdown")
			}
		}
	}
}

func TestRoute_MissingFieldsExcludeEndpoint(t *testing.T) {
	// Schema without "visits": foot-traffic matches the query strongly
	// but cannot run, so the chain lands on the default endpoint with the
	// missing fields surfaced in the breakdown.
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(engineTestCatalog))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	provider := &stubEmbedder{}
	engine, err := NewEngine(Options{
		Catalog: catalog,
		Schemas: &stubSchemas{schemas: map[string]*config.FieldSchema{
			"retail": config.NewFieldSchema("retail", "2.1.0", []string{"location", "revenue"}),
		}},
		Embeddings: NewEndpointEmbeddingCache(provider, nil, nil),
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(context.Background()); err != nil {
		t.Fatalf("warming: %v", err)
	}

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "foot traffic trends downtown",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedEndpointID == "foot-traffic" {
		t.Error("expected foot-traffic excluded by missing required field")
	}
	if decision.SelectedEndpointID != "general-insights" {
		t.Errorf("expected default endpoint, got %s", decision.SelectedEndpointID)
	}
	if !decision.UsedFallback || decision.FallbackStage != FallbackDefaultEndpoint {
		t.Errorf("expected default_endpoint fallback, got %q", decision.FallbackStage)
	}

	found := false
	for _, c := range decision.ScoreBreakdown {
		if c.EndpointID == "foot-traffic" {
			found = true
			if c.FieldsResolved {
				t.Error("expected FieldsResolved false for foot-traffic")
			}
			if len(c.MissingFields) == 0 {
				t.Error("expected missing fields listed")
			}
		}
	}
	if !found {
		t.Error("expected foot-traffic in score breakdown")
	}
}

func TestRoute_LeastBadWhenNothingValidates(t *testing.T) {
	// No default endpoint and the only candidate fails validation: the
	// best raw signal is surfaced with its missing fields instead of a
	// dead end.
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(engineTestCatalogNoDefault))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	provider := &stubEmbedder{}
	engine, err := NewEngine(Options{
		Catalog: catalog,
		Schemas: &stubSchemas{schemas: map[string]*config.FieldSchema{
			"retail": config.NewFieldSchema("retail", "2.2.0", []string{"location"}),
		}},
		Embeddings: NewEndpointEmbeddingCache(provider, nil, nil),
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(context.Background()); err != nil {
		t.Fatalf("warming: %v", err)
	}

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "foot traffic trends downtown",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedEndpointID != "foot-traffic" {
		t.Errorf("expected least-bad foot-traffic, got %s", decision.SelectedEndpointID)
	}
	if decision.FallbackStage != FallbackLeastBad {
		t.Errorf("expected least_bad stage, got %q", decision.FallbackStage)
	}
}

func TestRoute_NoViableEndpoint(t *testing.T) {
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(engineTestCatalogNoDefault))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	provider := &stubEmbedder{}
	engine, err := NewEngine(Options{
		Catalog:    catalog,
		Schemas:    fullSchemaProvider(),
		Embeddings: NewEndpointEmbeddingCache(provider, nil, nil),
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(context.Background()); err != nil {
		t.Fatalf("warming: %v", err)
	}

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "xyzzy plugh quux",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !decision.NoViable() {
		t.Errorf("expected no-viable decision, got %s", decision.SelectedEndpointID)
	}
	if !decision.UsedFallback || decision.FallbackStage != FallbackNoViableEndpoint {
		t.Errorf("expected no_viable_endpoint stage, got %q", decision.FallbackStage)
	}
}

func TestRoute_GracefulDegradationWithoutEmbeddings(t *testing.T) {
	engine, provider := testEngine(t, engineTestCatalog, nil)
	provider.fail.Store(true)

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "strategic expansion opportunities for the region",
	})
	if err != nil {
		t.Fatalf("expected degraded decision, got error: %v", err)
	}
	if decision.SemanticUsed {
		t.Error("expected SemanticUsed false after provider failure")
	}
	if decision.SelectedEndpointID != "strategic-analysis" {
		t.Errorf("expected pattern-only selection, got %s", decision.SelectedEndpointID)
	}
}

func TestRoute_CombinationDetection(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, nil)

	decision, err := engine.Route(context.Background(), RouteRequest{
		Query: "demographics and foot traffic near downtown",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if decision.SelectedEndpointID != "foot-traffic" {
		t.Errorf("expected foot-traffic primary, got %s", decision.SelectedEndpointID)
	}
	if len(decision.CombinedWith) != 1 || decision.CombinedWith[0] != "demographic-insights" {
		t.Errorf("expected combination with demographic-insights, got %v", decision.CombinedWith)
	}
	if decision.CombinationStrategy != config.StrategyComparison {
		t.Errorf("expected comparison strategy, got %q", decision.CombinationStrategy)
	}
}

func TestRoute_InvalidQueries(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, nil)
	ctx := context.Background()

	if _, err := engine.Route(ctx, RouteRequest{Query: "   "}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for blank query, got %v", err)
	}
	if _, err := engine.Route(ctx, RouteRequest{Query: strings.Repeat("x", 600)}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for oversized query, got %v", err)
	}
	if _, err := engine.Route(ctx, RouteRequest{Query: "???!!!"}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for punctuation-only query, got %v", err)
	}
}

func TestRoute_UnknownDataset(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, nil)

	_, err := engine.Route(context.Background(), RouteRequest{
		Query:     "foot traffic downtown",
		DatasetID: "no-such-dataset",
	})
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Errorf("expected ErrSchemaUnavailable, got %v", err)
	}
	if !errors.Is(err, config.ErrSchemaNotFound) {
		t.Errorf("expected wrapped ErrSchemaNotFound, got %v", err)
	}
}

// =============================================================================
// Cache Behavior Tests
// =============================================================================

func TestRoute_CacheHitSkipsScoring(t *testing.T) {
	engine, provider := testEngine(t, engineTestCatalog, NewMemoryDecisionCache())
	ctx := context.Background()
	req := RouteRequest{Query: "What are the demographics near downtown?"}

	first, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if first.FromCache {
		t.Error("expected first decision uncached")
	}
	if first.SelectedEndpointID != "demographic-insights" {
		t.Fatalf("expected demographic-insights, got %s", first.SelectedEndpointID)
	}

	callsAfterFirst := provider.calls.Load()

	second, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("cached route: %v", err)
	}
	if !second.FromCache {
		t.Error("expected cache hit on second call")
	}
	if second.SelectedEndpointID != first.SelectedEndpointID {
		t.Errorf("cached decision diverged: %s vs %s", second.SelectedEndpointID, first.SelectedEndpointID)
	}
	if provider.calls.Load() != callsAfterFirst {
		t.Errorf("expected no new embed calls on cache hit, got %d extra",
			provider.calls.Load()-callsAfterFirst)
	}
}

func TestRoute_CacheKeyedBySchemaVersion(t *testing.T) {
	// Same query, different schema version: the old cached decision must
	// not be served.
	schemas := fullSchemaProvider()
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(engineTestCatalog))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	provider := &stubEmbedder{}
	engine, err := NewEngine(Options{
		Catalog:    catalog,
		Schemas:    schemas,
		Embeddings: NewEndpointEmbeddingCache(provider, nil, nil),
		Cache:      NewMemoryDecisionCache(),
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(context.Background()); err != nil {
		t.Fatalf("warming: %v", err)
	}

	ctx := context.Background()
	req := RouteRequest{Query: "What are the demographics near downtown?"}
	if _, err := engine.Route(ctx, req); err != nil {
		t.Fatalf("route: %v", err)
	}

	schemas.schemas["retail"] = config.NewFieldSchema("retail", "3.0.0", engineTestFields)
	decision, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("route after schema bump: %v", err)
	}
	if decision.FromCache {
		t.Error("expected cache miss after schema version change")
	}
	if decision.SchemaVersion != "3.0.0" {
		t.Errorf("expected new schema version recorded, got %s", decision.SchemaVersion)
	}
}

func TestRoute_CacheKeyedByDataset(t *testing.T) {
	// Two datasets on the same schema version: a decision cached for the
	// full dataset must not be served to one missing the endpoint's
	// required fields.
	catalog, err := config.LoadEndpointCatalog(context.Background(), []byte(engineTestCatalog))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	provider := &stubEmbedder{}
	engine, err := NewEngine(Options{
		Catalog: catalog,
		Schemas: &stubSchemas{schemas: map[string]*config.FieldSchema{
			"retail": config.NewFieldSchema("retail", "1.0.0", engineTestFields),
			"census": config.NewFieldSchema("census", "1.0.0", []string{"population"}),
		}},
		Embeddings: NewEndpointEmbeddingCache(provider, nil, nil),
		Cache:      NewMemoryDecisionCache(),
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	if err := engine.WarmSemantic(context.Background()); err != nil {
		t.Fatalf("warming: %v", err)
	}

	ctx := context.Background()
	query := "strategic expansion opportunities downtown"

	seeded, err := engine.Route(ctx, RouteRequest{Query: query, DatasetID: "retail"})
	if err != nil {
		t.Fatalf("retail route: %v", err)
	}
	if seeded.SelectedEndpointID != "strategic-analysis" {
		t.Fatalf("expected strategic-analysis for retail, got %s", seeded.SelectedEndpointID)
	}

	decision, err := engine.Route(ctx, RouteRequest{Query: query, DatasetID: "census"})
	if err != nil {
		t.Fatalf("census route: %v", err)
	}
	if decision.FromCache {
		t.Error("expected cache miss for a different dataset on the same version")
	}
	if decision.SelectedEndpointID == "strategic-analysis" {
		t.Error("census served an endpoint whose required fields it lacks")
	}
}

func TestRoute_CacheHitReturnsCopy(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, NewMemoryDecisionCache())
	ctx := context.Background()
	req := RouteRequest{Query: "What are the demographics near downtown?"}

	seeded, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	first, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("cached route: %v", err)
	}
	second, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("cached route: %v", err)
	}

	// The seed decision was already handed to its caller; later hits must
	// not flip its flags retroactively.
	if seeded.FromCache {
		t.Error("seed decision mutated by a later cache hit")
	}
	if !first.FromCache || !second.FromCache {
		t.Error("expected cache hits flagged FromCache")
	}
	if first == second {
		t.Error("expected each hit to return its own decision struct")
	}
}

func TestRoute_CacheHitConcurrent(t *testing.T) {
	engine, _ := testEngine(t, engineTestCatalog, NewMemoryDecisionCache())
	ctx := context.Background()
	req := RouteRequest{Query: "What are the demographics near downtown?"}

	if _, err := engine.Route(ctx, req); err != nil {
		t.Fatalf("seed route: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := engine.Route(ctx, req)
			if err != nil {
				t.Errorf("concurrent route: %v", err)
				return
			}
			if !decision.FromCache {
				t.Error("expected cache hit")
			}
		}()
	}
	wg.Wait()
}

func TestRoute_SkipCacheBypassesReadAndWrite(t *testing.T) {
	cache := NewMemoryDecisionCache()
	engine, _ := testEngine(t, engineTestCatalog, cache)
	ctx := context.Background()

	req := RouteRequest{Query: "What are the demographics near downtown?", SkipCache: true}
	if _, err := engine.Route(ctx, req); err != nil {
		t.Fatalf("route: %v", err)
	}
	if stats := cache.Stats(); stats.Entries != 0 || stats.Writes != 0 {
		t.Errorf("expected no cache writes with SkipCache, got %+v", stats)
	}
}

func TestRoute_FallbackDecisionsNotCached(t *testing.T) {
	cache := NewMemoryDecisionCache()
	engine, _ := testEngine(t, engineTestCatalog, cache)

	// Gibberish lands on the default endpoint via fallback.
	decision, err := engine.Route(context.Background(), RouteRequest{Query: "xyzzy plugh quux"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !decision.UsedFallback {
		t.Fatalf("expected fallback decision, got %s", decision.SelectedEndpointID)
	}
	if stats := cache.Stats(); stats.Writes != 0 {
		t.Errorf("expected fallback decision uncached, got %d writes", stats.Writes)
	}
}

// =============================================================================
// Reload Tests
// =============================================================================

func TestReload_SwapsCatalogAndInvalidatesCache(t *testing.T) {
	cache := NewMemoryDecisionCache()
	engine, _ := testEngine(t, engineTestCatalog, cache)
	ctx := context.Background()

	req := RouteRequest{Query: "What are the demographics near downtown?"}
	if _, err := engine.Route(ctx, req); err != nil {
		t.Fatalf("route: %v", err)
	}
	if stats := cache.Stats(); stats.Writes != 1 {
		t.Fatalf("expected one cached decision, got %+v", stats)
	}

	newCatalog, err := config.LoadEndpointCatalog(ctx, []byte(strings.Replace(
		engineTestCatalog, `version: "1.0.0"`, `version: "1.1.0"`, 1)))
	if err != nil {
		t.Fatalf("loading new catalog: %v", err)
	}
	if err := engine.Reload(ctx, newCatalog); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if engine.Catalog().Version != "1.1.0" {
		t.Errorf("expected catalog version 1.1.0, got %s", engine.Catalog().Version)
	}
	if stats := cache.Stats(); stats.Entries != 0 {
		t.Errorf("expected cache emptied on reload, got %d entries", stats.Entries)
	}

	decision, err := engine.Route(ctx, req)
	if err != nil {
		t.Fatalf("route after reload: %v", err)
	}
	if decision.FromCache {
		t.Error("expected fresh decision after reload")
	}
	if decision.CatalogVersion != "1.1.0" {
		t.Errorf("expected new catalog version on decision, got %s", decision.CatalogVersion)
	}
}

// =============================================================================
// Confidence Tests
// =============================================================================

func TestComputeConfidence_ZeroForNonPositiveWinner(t *testing.T) {
	if got := computeConfidence(0, 0, 6); got != 0 {
		t.Errorf("expected 0 for zero winner, got %f", got)
	}
	if got := computeConfidence(-2, -5, 6); got != 0 {
		t.Errorf("expected 0 for negative winner, got %f", got)
	}
}

func TestComputeConfidence_FullForDominantStrongWinner(t *testing.T) {
	// No runner-up and score at the strong threshold: full margin, full
	// strength.
	if got := computeConfidence(6, 0, 6); got != 1.0 {
		t.Errorf("expected 1.0, got %f", got)
	}
}

func TestComputeConfidence_WeakLoneMatchIsNotCertain(t *testing.T) {
	// A lone weak match has full margin but low strength; the blend must
	// stay well below 1.
	got := computeConfidence(1, 0, 6)
	want := 0.75 + 0.25/6.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestComputeConfidence_TieHasNoMargin(t *testing.T) {
	got := computeConfidence(6, 6, 6)
	if got != 0.25 {
		t.Errorf("expected strength-only 0.25 for a tie, got %f", got)
	}
}

func TestRankCandidates_TieBreakChain(t *testing.T) {
	candidates := []CandidateScore{
		{EndpointID: "c", TotalScore: 2, priorityWeight: 1, catalogOrder: 2},
		{EndpointID: "a", TotalScore: 2, priorityWeight: 5, catalogOrder: 1},
		{EndpointID: "b", TotalScore: 2, priorityWeight: 5, catalogOrder: 0},
		{EndpointID: "d", TotalScore: 9, priorityWeight: 0, catalogOrder: 3},
	}
	rankCandidates(candidates)

	want := []string{"d", "b", "a", "c"}
	for i, id := range want {
		if candidates[i].EndpointID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, candidates[i].EndpointID)
		}
	}
}
