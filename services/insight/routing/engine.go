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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Routing Engine
// =============================================================================

var engineTracer = otel.Tracer("aleutian.ai/insight/routing")

// maxAlternatives caps the alternatives carried on a decision; the full
// breakdown is still available for the explain path.
const maxAlternatives = 5

// engineSnapshot pairs an immutable catalog with the matcher compiled from
// it. Swapped atomically on reload so in-flight requests always see a
// consistent pair.
type engineSnapshot struct {
	catalog *config.EndpointCatalog
	matcher *PatternMatcher
}

// Options wires an Engine. Catalog and Schemas are required; everything
// else degrades gracefully when nil.
type Options struct {
	// Catalog is the initial endpoint catalog.
	Catalog *config.EndpointCatalog

	// Schemas resolves dataset IDs to field schemas.
	Schemas config.SchemaProvider

	// Fields resolves business vocabulary to canonical field names during
	// validation. Nil skips synonym resolution.
	Fields *config.FieldDictionary

	// Embeddings scores queries semantically. Nil runs pattern-only.
	Embeddings *EndpointEmbeddingCache

	// Cache memoizes decisions. Nil disables caching.
	Cache DecisionCache

	// Sink receives every non-cached decision for offline analysis.
	// Nil disables emission.
	Sink DecisionSink

	Logger *slog.Logger
}

// Engine merges pattern, semantic, and validation signals into one routing
// decision per query.
//
// # Thread Safety
//
// Safe for concurrent use. Route reads an atomic snapshot; Reload swaps it.
type Engine struct {
	snapshot  atomic.Pointer[engineSnapshot]
	schemas   config.SchemaProvider
	validator *FieldValidator
	fields    *config.FieldDictionary

	embeddings *EndpointEmbeddingCache
	cache      DecisionCache
	sink       DecisionSink
	logger     *slog.Logger
}

// NewEngine validates the wiring and compiles the initial snapshot.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, NewRouterError(ErrConfiguration, "engine requires a catalog")
	}
	if opts.Schemas == nil {
		return nil, NewRouterError(ErrConfiguration, "engine requires a schema provider")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		schemas:    opts.Schemas,
		validator:  NewFieldValidator(opts.Fields),
		fields:     opts.Fields,
		embeddings: opts.Embeddings,
		cache:      opts.Cache,
		sink:       opts.Sink,
		logger:     logger,
	}
	e.snapshot.Store(&engineSnapshot{
		catalog: opts.Catalog,
		matcher: NewPatternMatcher(opts.Catalog),
	})
	return e, nil
}

// Catalog returns the active catalog snapshot.
func (e *Engine) Catalog() *config.EndpointCatalog {
	return e.snapshot.Load().catalog
}

// Fields returns the vocabulary dictionary, or nil when the engine runs
// without synonym resolution.
func (e *Engine) Fields() *config.FieldDictionary {
	return e.fields
}

// SemanticReady reports whether embedding scores will contribute to
// decisions right now.
func (e *Engine) SemanticReady() bool {
	return e.embeddings != nil && e.embeddings.IsWarmed()
}

// CacheStats reports decision-cache counters, or zero stats when caching
// is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{Entries: -1}
	}
	return e.cache.Stats()
}

// FlushCache drops every cached decision.
func (e *Engine) FlushCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx)
}

// WarmSemantic embeds the active catalog. Call once at startup and after
// every reload; failure leaves the engine in pattern-only mode.
func (e *Engine) WarmSemantic(ctx context.Context) error {
	if e.embeddings == nil {
		return nil
	}
	return e.embeddings.Warm(ctx, e.snapshot.Load().catalog)
}

// Reload swaps in a new catalog atomically.
//
// # Description
//
// The cache key carries the schema version but not the catalog version, so
// the decision cache is invalidated wholesale; stale decisions from the old
// vocabulary must not survive the swap. Endpoint vectors are re-warmed for
// the new corpus — a no-op when only tuning changed, since the corpus hash
// covers descriptions and example phrases, not weights.
func (e *Engine) Reload(ctx context.Context, catalog *config.EndpointCatalog) error {
	old := e.snapshot.Swap(&engineSnapshot{
		catalog: catalog,
		matcher: NewPatternMatcher(catalog),
	})

	if e.cache != nil {
		if err := e.cache.Invalidate(ctx); err != nil {
			routingCatalogReloadTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("invalidate decision cache on reload: %w", err)
		}
	}

	if e.embeddings != nil {
		if err := e.embeddings.Warm(ctx, catalog); err != nil {
			e.logger.Warn("Re-warm after catalog reload failed; stale vectors remain active",
				"error", err)
		}
	}

	routingCatalogReloadTotal.WithLabelValues("ok").Inc()
	e.logger.Info("Catalog reloaded",
		"old_version", old.catalog.Version,
		"new_version", catalog.Version,
		"endpoints", len(catalog.Endpoints))
	return nil
}

// Route maps one free-text query onto an endpoint decision.
//
// # Description
//
// The pipeline: validate the query, resolve the dataset schema, normalize,
// consult the decision cache, score every candidate on pattern + semantic −
// validation signals, rank deterministically, derive confidence from the
// winner's margin, detect combinations, and walk the fallback chain when no
// candidate convinces. The same query against the same catalog and schema
// always produces the same decision.
//
// # Inputs
//
//   - ctx: Request context; bounds schema lookup and embedding.
//   - req: Query plus dataset context.
//
// # Outputs
//
//   - *RoutingDecision: Always non-nil on nil error; may be the explicit
//     no-viable-endpoint decision.
//   - error: ErrInvalidQuery or ErrSchemaUnavailable kinds only. Embedding
//     failures never surface here.
func (e *Engine) Route(ctx context.Context, req RouteRequest) (*RoutingDecision, error) {
	start := time.Now()
	snap := e.snapshot.Load()
	tuning := snap.catalog.Tuning

	ctx, span := engineTracer.Start(ctx, "routing.Route")
	defer span.End()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, NewRouterError(ErrInvalidQuery, "query is empty")
	}
	if tuning.MaxQueryLength > 0 && len(query) > tuning.MaxQueryLength {
		return nil, NewRouterError(ErrInvalidQuery,
			"query length %d exceeds limit %d", len(query), tuning.MaxQueryLength)
	}

	schema := req.Schema
	if schema == nil {
		resolved, err := e.schemas.GetSchema(ctx, req.DatasetID)
		if err != nil {
			re := NewRouterError(ErrSchemaUnavailable, "dataset %q", req.DatasetID)
			re.Err = err
			return nil, re
		}
		schema = resolved
	}

	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, NewRouterError(ErrInvalidQuery, "query contains no scorable terms")
	}
	span.SetAttributes(
		attribute.String("routing.dataset", schema.DatasetID),
		attribute.String("routing.catalog_version", snap.catalog.Version),
	)

	cacheKey := DecisionCacheKey(normalized, schema.DatasetID, schema.Version)
	if e.cache != nil && !req.SkipCache {
		if cached, err := e.cache.Get(ctx, cacheKey); err == nil {
			routingCacheEventsTotal.WithLabelValues("hit").Inc()
			// Copy before flagging: the memory backend hands back its
			// stored struct, and callers already hold earlier returns.
			hit := *cached
			hit.FromCache = true
			e.observe(span, &hit, start)
			return &hit, nil
		} else if !errors.Is(err, ErrCacheMiss) {
			e.logger.Warn("Decision cache read failed", "error", err)
		}
		routingCacheEventsTotal.WithLabelValues("miss").Inc()
	}

	// Score every candidate.
	patterns := snap.matcher.Score(normalized)

	var semantic map[string]float64
	if e.embeddings != nil {
		semantic, _ = e.embeddings.Score(ctx, normalized)
	}
	semanticUsed := semantic != nil

	candidates := e.scoreCandidates(snap.catalog, schema, patterns, semantic)
	rankCandidates(candidates)

	decision := e.decide(snap.catalog, schema, candidates, tuning)
	decision.NormalizedQuery = normalized
	decision.SchemaVersion = schema.Version
	decision.CatalogVersion = snap.catalog.Version
	decision.SemanticUsed = semanticUsed
	decision.CreatedAt = time.Now().UTC()

	e.maybeCache(ctx, snap.catalog, cacheKey, decision, req.SkipCache)

	if e.sink != nil && !req.SkipCache {
		e.sink.Emit(decision)
	}
	e.observe(span, decision, start)
	return decision, nil
}

// scoreCandidates builds the per-endpoint score rows. An endpoint enters the
// candidate set when it has any lexical evidence or a positive semantic
// similarity; endpoints invisible to both signals are omitted.
func (e *Engine) scoreCandidates(
	catalog *config.EndpointCatalog,
	schema *config.FieldSchema,
	patterns map[string]PatternMatch,
	semantic map[string]float64,
) []CandidateScore {
	tuning := catalog.Tuning
	candidates := make([]CandidateScore, 0, len(patterns))

	for i := range catalog.Endpoints {
		ep := &catalog.Endpoints[i]
		pm, hasPattern := patterns[ep.ID]
		sim := semantic[ep.ID]
		if !hasPattern && sim <= 0 {
			continue
		}

		validation := e.validator.Validate(ep, schema, tuning.ValidationPenalty)

		c := CandidateScore{
			EndpointID:        ep.ID,
			Category:          ep.Category,
			PatternScore:      pm.Score,
			SemanticScore:     sim * tuning.SemanticScale,
			ValidationPenalty: validation.Penalty,
			FieldsResolved:    validation.FieldsResolved,
			MissingFields:     validation.MissingFields,
			MatchedTerms:      pm.Terms(),
			AvoidedTerms:      pm.AvoidedTerms,
			priorityWeight:    ep.PriorityWeight,
			catalogOrder:      i,
		}
		c.TotalScore = c.PatternScore + c.SemanticScore - c.ValidationPenalty
		candidates = append(candidates, c)
	}
	return candidates
}

// rankCandidates orders by total score, then priority weight, then catalog
// declaration order. The final tie-break makes ranking fully deterministic.
func rankCandidates(candidates []CandidateScore) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].TotalScore != candidates[j].TotalScore {
			return candidates[i].TotalScore > candidates[j].TotalScore
		}
		if candidates[i].priorityWeight != candidates[j].priorityWeight {
			return candidates[i].priorityWeight > candidates[j].priorityWeight
		}
		return candidates[i].catalogOrder < candidates[j].catalogOrder
	})
}

// decide selects the winner or walks the fallback chain.
func (e *Engine) decide(catalog *config.EndpointCatalog, schema *config.FieldSchema, candidates []CandidateScore, tuning config.Tuning) *RoutingDecision {
	decision := &RoutingDecision{
		ScoreBreakdown: candidates,
		Alternatives:   alternativesOf(candidates),
	}

	if len(candidates) > 0 {
		winner := &candidates[0]
		var second float64
		if len(candidates) > 1 {
			second = candidates[1].TotalScore
		}
		confidence := computeConfidence(winner.TotalScore, second, tuning.StrongScore)

		if winner.TotalScore > 0 && winner.FieldsResolved && confidence >= tuning.ConfidenceThreshold {
			decision.SelectedEndpointID = winner.EndpointID
			decision.Confidence = confidence

			var runnerUp *CandidateScore
			if len(candidates) > 1 {
				runnerUp = &candidates[1]
			}
			if strategy := detectCombination(catalog, winner, runnerUp); strategy != "" {
				decision.CombinedWith = []string{runnerUp.EndpointID}
				decision.CombinationStrategy = strategy
				routingCombinationTotal.WithLabelValues(strategy).Inc()
			}
			return decision
		}
	}

	e.fallback(catalog, schema, candidates, tuning, decision)
	return decision
}

// fallback walks the chain: relaxed pattern threshold, then the configured
// default endpoint, then least-bad substitution, then the explicit
// no-viable-endpoint decision.
func (e *Engine) fallback(catalog *config.EndpointCatalog, schema *config.FieldSchema, candidates []CandidateScore, tuning config.Tuning, decision *RoutingDecision) {
	decision.UsedFallback = true

	// Relaxed pattern: accept the strongest lexical evidence alone, at a
	// lower bar, as long as the endpoint can actually run.
	var relaxed *CandidateScore
	for i := range candidates {
		c := &candidates[i]
		if !c.FieldsResolved || c.PatternScore < tuning.RelaxedMinScore {
			continue
		}
		if relaxed == nil || c.PatternScore > relaxed.PatternScore {
			relaxed = c
		}
	}
	if relaxed != nil {
		decision.SelectedEndpointID = relaxed.EndpointID
		decision.FallbackStage = FallbackRelaxedPattern
		decision.Confidence = computeConfidence(relaxed.PatternScore, 0, tuning.StrongScore) * tuning.ConfidenceThreshold
		routingFallbackTotal.WithLabelValues(FallbackRelaxedPattern).Inc()
		return
	}

	// Default endpoint, when configured and runnable against this schema.
	if id := catalog.DefaultEndpoint; id != "" {
		if ep, ok := catalog.Endpoint(id); ok {
			if e.validator.Validate(ep, schema, tuning.ValidationPenalty).FieldsResolved {
				decision.SelectedEndpointID = id
				decision.FallbackStage = FallbackDefaultEndpoint
				routingFallbackTotal.WithLabelValues(FallbackDefaultEndpoint).Inc()
				return
			}
		}
	}

	// Least-bad: every candidate failed validation, but the query still
	// pointed somewhere. Surface the best raw signal with its missing
	// fields rather than a dead end.
	var leastBad *CandidateScore
	for i := range candidates {
		c := &candidates[i]
		if c.PatternScore+c.SemanticScore <= 0 {
			continue
		}
		if leastBad == nil {
			leastBad = c
		}
	}
	if leastBad != nil {
		decision.SelectedEndpointID = leastBad.EndpointID
		decision.FallbackStage = FallbackLeastBad
		routingFallbackTotal.WithLabelValues(FallbackLeastBad).Inc()
		return
	}

	decision.FallbackStage = FallbackNoViableEndpoint
	routingFallbackTotal.WithLabelValues(FallbackNoViableEndpoint).Inc()
}

// maybeCache writes the decision when the winning endpoint is cacheable and
// the confidence clears the write gate. Fallback and no-viable decisions are
// never cached.
func (e *Engine) maybeCache(ctx context.Context, catalog *config.EndpointCatalog, key string, decision *RoutingDecision, skip bool) {
	if e.cache == nil || skip {
		return
	}
	if decision.UsedFallback || decision.NoViable() {
		routingCacheEventsTotal.WithLabelValues("skip").Inc()
		return
	}
	if decision.Confidence < catalog.Tuning.CacheMinConfidence {
		routingCacheEventsTotal.WithLabelValues("skip").Inc()
		return
	}
	ep, ok := catalog.Endpoint(decision.SelectedEndpointID)
	if !ok || !ep.Cacheable {
		routingCacheEventsTotal.WithLabelValues("skip").Inc()
		return
	}

	if err := e.cache.Set(ctx, key, decision); err != nil {
		e.logger.Warn("Decision cache write failed", "error", err)
		return
	}
	routingCacheEventsTotal.WithLabelValues("write").Inc()
}

// observe records metrics and span attributes for a finished decision.
func (e *Engine) observe(span trace.Span, decision *RoutingDecision, start time.Time) {
	outcome := decision.outcome()
	endpoint := decision.SelectedEndpointID
	if endpoint == "" {
		endpoint = "none"
	}
	routingDecisionsTotal.WithLabelValues(endpoint, outcome).Inc()
	routingDecisionLatency.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("routing.endpoint", endpoint),
		attribute.String("routing.outcome", outcome),
		attribute.Float64("routing.confidence", decision.Confidence),
		attribute.Bool("routing.semantic_used", decision.SemanticUsed),
		attribute.Bool("routing.from_cache", decision.FromCache),
	)
}

// computeConfidence turns the winner's margin over the runner-up and its
// absolute strength into a [0, 1] confidence.
//
// # Description
//
// Margin ratio (top − second) / top rewards separation; strength ratio
// min(top/strong, 1) rewards absolute evidence, so a lone weak match does
// not masquerade as certainty. Blend: 0.75·margin + 0.25·strength. A
// non-positive winner scores zero outright.
func computeConfidence(top, second, strongScore float64) float64 {
	if top <= 0 {
		return 0
	}
	margin := (top - second) / top
	if margin < 0 {
		margin = 0
	}
	strength := 1.0
	if strongScore > 0 && top < strongScore {
		strength = top / strongScore
	}
	confidence := 0.75*margin + 0.25*strength
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// alternativesOf returns the ranked candidates minus the winner, capped.
func alternativesOf(candidates []CandidateScore) []CandidateScore {
	if len(candidates) <= 1 {
		return nil
	}
	rest := candidates[1:]
	if len(rest) > maxAlternatives {
		rest = rest[:maxAlternatives]
	}
	return rest
}
