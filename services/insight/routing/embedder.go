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
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Endpoint Embedding Cache
// =============================================================================

const (
	// warmConcurrency bounds parallel embed calls during warm-up.
	warmConcurrency = 10

	// queryEmbedTimeout caps the per-query embedding call. A slow
	// provider degrades to pattern-only routing, it never blocks a
	// request.
	queryEmbedTimeout = 3 * time.Second
)

// buildEndpointDoc builds the text embedded for an endpoint: description
// plus example phrases, the catalog author's own words for the intent.
func buildEndpointDoc(ep *config.EndpointDescriptor) string {
	parts := make([]string, 0, 1+len(ep.ExamplePhrases))
	if ep.Description != "" {
		parts = append(parts, ep.Description)
	}
	parts = append(parts, ep.ExamplePhrases...)
	return strings.Join(parts, ". ")
}

// EndpointEmbeddingCache holds one unit-normalized vector per catalog
// endpoint and scores queries against them by dot product.
//
// # Description
//
// Warm embeds every endpoint document once at startup (or catalog reload),
// consulting the vector store first so a restart with an unchanged catalog
// and model skips the provider entirely. Score embeds the incoming query
// under a short timeout; any failure — timeout, provider error, cache not
// yet warmed — returns (nil, nil) so the engine falls back to pattern-only
// scoring instead of failing the request.
//
// # Thread Safety
//
// Safe for concurrent use. Warm takes the write lock; Score takes the read
// lock only to snapshot the vector map.
type EndpointEmbeddingCache struct {
	provider EmbedProvider
	store    VectorStore // may be nil
	logger   *slog.Logger

	mu      sync.RWMutex
	vectors map[string][]float32 // endpoint id → unit vector
	warmed  bool
}

// NewEndpointEmbeddingCache builds an unwarmed cache. store may be nil to
// disable persistence.
func NewEndpointEmbeddingCache(provider EmbedProvider, store VectorStore, logger *slog.Logger) *EndpointEmbeddingCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &EndpointEmbeddingCache{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

// IsWarmed reports whether endpoint vectors are available.
func (c *EndpointEmbeddingCache) IsWarmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.warmed
}

// Warm embeds every endpoint in the catalog.
//
// # Description
//
// Checks the vector store for a corpus matching the catalog text and model
// before calling the provider. Fresh embeddings run through an errgroup with
// bounded concurrency; a single endpoint failure aborts the warm-up so the
// cache is never left half-populated. On success the corpus is persisted for
// the next restart.
//
// # Inputs
//
//   - ctx: Bounds the whole warm-up.
//   - catalog: Snapshot to embed. Must not be nil.
//
// # Outputs
//
//   - error: Non-nil when embedding failed; the cache stays unwarmed and
//     the engine continues in pattern-only mode.
func (c *EndpointEmbeddingCache) Warm(ctx context.Context, catalog *config.EndpointCatalog) error {
	corpusHash := ComputeCorpusHash(catalog, c.provider.Model())

	if c.store != nil {
		if vectors, err := c.store.LoadVectors(ctx, corpusHash); err == nil {
			c.install(vectors)
			c.logger.Info("Endpoint vectors loaded from store",
				"corpus", shortHash(corpusHash),
				"endpoints", len(vectors))
			return nil
		}
	}

	start := time.Now()
	vectors := make(map[string][]float32, len(catalog.Endpoints))
	var vecMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(warmConcurrency)

	for i := range catalog.Endpoints {
		ep := &catalog.Endpoints[i]
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			vec, err := c.provider.Embed(gctx, buildEndpointDoc(ep))
			if err != nil {
				return fmt.Errorf("embed endpoint %q: %w", ep.ID, err)
			}
			unitNormalize(vec)

			vecMu.Lock()
			vectors[ep.ID] = vec
			vecMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	c.install(vectors)
	c.logger.Info("Endpoint vectors warmed",
		"corpus", shortHash(corpusHash),
		"endpoints", len(vectors),
		"duration", time.Since(start))

	if c.store != nil {
		if err := c.store.SaveVectors(ctx, corpusHash, vectors); err != nil {
			c.logger.Warn("Failed to persist endpoint vectors", "error", err)
		}
	}
	return nil
}

// install swaps in a complete vector map.
func (c *EndpointEmbeddingCache) install(vectors map[string][]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = vectors
	c.warmed = true
}

// Score computes cosine similarity between the query and every endpoint.
//
// # Description
//
// All vectors are unit-normalized, so cosine similarity reduces to a dot
// product. Any failure returns (nil, nil): semantic scoring is an
// enhancement, never a dependency.
//
// # Inputs
//
//   - ctx: Request context; a tighter internal timeout is layered on.
//   - query: Normalized query text.
//
// # Outputs
//
//   - map[string]float64: Endpoint id → similarity in [-1, 1], or nil when
//     semantic scoring is unavailable.
//   - error: Always nil. Failures are recorded in metrics and logs only.
func (c *EndpointEmbeddingCache) Score(ctx context.Context, query string) (map[string]float64, error) {
	c.mu.RLock()
	vectors := c.vectors
	warmed := c.warmed
	c.mu.RUnlock()

	if !warmed || len(vectors) == 0 {
		routingEmbeddingFailuresTotal.WithLabelValues("unwarmed").Inc()
		return nil, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	queryVec, err := c.provider.Embed(embedCtx, query)
	if err != nil {
		reason := "error"
		if embedCtx.Err() != nil {
			reason = "timeout"
		}
		routingEmbeddingFailuresTotal.WithLabelValues(reason).Inc()
		c.logger.Warn("Query embedding failed; continuing pattern-only",
			"reason", reason,
			"query", truncateForLog(query, 80),
			"error", err)
		return nil, nil
	}
	unitNormalize(queryVec)

	scores := make(map[string]float64, len(vectors))
	for id, vec := range vectors {
		scores[id] = dotProduct(queryVec, vec)
	}
	return scores, nil
}

// unitNormalize scales the vector to unit length in place. Zero vectors are
// left untouched.
func unitNormalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// dotProduct of two vectors; dimension mismatch scores zero rather than
// panicking on a model change mid-flight.
func dotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
