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
	"testing"
	"time"
)

func sampleDecision() *RoutingDecision {
	return &RoutingDecision{
		SelectedEndpointID: "foot-traffic",
		Confidence:         0.82,
		ScoreBreakdown: []CandidateScore{
			{EndpointID: "foot-traffic", TotalScore: 5.5, FieldsResolved: true},
		},
		NormalizedQuery: "foot traffic downtown",
		SchemaVersion:   "2.0.0",
		CatalogVersion:  "1.0.0",
		SemanticUsed:    true,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

// cacheBackends builds each backend under test. Redis is exercised only in
// environments that provide one; the interface contract is covered by the
// shared suite below.
func cacheBackends(t *testing.T) map[string]DecisionCache {
	t.Helper()
	return map[string]DecisionCache{
		"memory": NewMemoryDecisionCache(),
		"badger": NewBadgerDecisionCache(openTestStore(t)),
	}
}

// =============================================================================
// DecisionCache Contract Tests
// =============================================================================

func TestDecisionCache_MissOnEmpty(t *testing.T) {
	for name, cache := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := cache.Get(context.Background(), DecisionCacheKey("foot traffic", "retail", "2.0.0"))
			if !errors.Is(err, ErrCacheMiss) {
				t.Errorf("expected ErrCacheMiss, got %v", err)
			}
		})
	}
}

func TestDecisionCache_SetGetRoundTrip(t *testing.T) {
	for name, cache := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := DecisionCacheKey("foot traffic downtown", "retail", "2.0.0")
			want := sampleDecision()

			if err := cache.Set(ctx, key, want); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := cache.Get(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.SelectedEndpointID != want.SelectedEndpointID {
				t.Errorf("endpoint: expected %s, got %s", want.SelectedEndpointID, got.SelectedEndpointID)
			}
			if got.Confidence != want.Confidence {
				t.Errorf("confidence: expected %f, got %f", want.Confidence, got.Confidence)
			}
			if len(got.ScoreBreakdown) != 1 || got.ScoreBreakdown[0].EndpointID != "foot-traffic" {
				t.Errorf("breakdown not preserved: %+v", got.ScoreBreakdown)
			}
		})
	}
}

func TestDecisionCache_InvalidateClearsEverything(t *testing.T) {
	for name, cache := range cacheBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			keyA := DecisionCacheKey("foot traffic", "retail", "2.0.0")
			keyB := DecisionCacheKey("demographics downtown", "retail", "2.0.0")

			if err := cache.Set(ctx, keyA, sampleDecision()); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := cache.Set(ctx, keyB, sampleDecision()); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := cache.Invalidate(ctx); err != nil {
				t.Fatalf("invalidate: %v", err)
			}
			if _, err := cache.Get(ctx, keyA); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("expected miss after invalidate, got %v", err)
			}
			if _, err := cache.Get(ctx, keyB); !errors.Is(err, ErrCacheMiss) {
				t.Errorf("expected miss after invalidate, got %v", err)
			}
		})
	}
}

func TestDecisionCache_StatsCount(t *testing.T) {
	cache := NewMemoryDecisionCache()
	ctx := context.Background()
	key := DecisionCacheKey("foot traffic", "retail", "2.0.0")

	if _, err := cache.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := cache.Set(ctx, key, sampleDecision()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := cache.Get(ctx, key); err != nil {
		t.Fatalf("get: %v", err)
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Writes != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// =============================================================================
// Cache Key Tests
// =============================================================================

func TestDecisionCacheKey_CarriesSchemaVersion(t *testing.T) {
	a := DecisionCacheKey("foot traffic", "retail", "2.0.0")
	b := DecisionCacheKey("foot traffic", "retail", "2.1.0")
	if a == b {
		t.Error("expected schema version to separate cache keys")
	}
	if !strings.HasPrefix(a, "insight/dec/v1/retail/2.0.0/") {
		t.Errorf("unexpected key layout: %s", a)
	}
}

func TestDecisionCacheKey_CarriesDatasetID(t *testing.T) {
	// Version strings are only unique within a dataset: two datasets on
	// the same version must not share entries.
	a := DecisionCacheKey("foot traffic", "retail", "1.0.0")
	b := DecisionCacheKey("foot traffic", "census", "1.0.0")
	if a == b {
		t.Error("expected dataset id to separate cache keys")
	}
}

func TestDecisionCacheKey_HashesQueryText(t *testing.T) {
	key := DecisionCacheKey("what is brandx revenue in secret-project-x", "retail", "2.0.0")
	if strings.Contains(key, "secret") {
		t.Error("expected query text hashed, not embedded in the key")
	}
}

func TestDecisionCacheKey_DistinctQueries(t *testing.T) {
	if DecisionCacheKey("foot traffic", "retail", "2.0.0") == DecisionCacheKey("demographics", "retail", "2.0.0") {
		t.Error("expected distinct keys for distinct queries")
	}
}
