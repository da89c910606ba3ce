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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "decisions_total",
		Help:      "Routing decisions by endpoint and outcome: selected, combined, fallback, no_viable",
	}, []string{"endpoint", "outcome"})

	routingFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "fallback_total",
		Help:      "Fallback chain activations by stage",
	}, []string{"stage"})

	routingCacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "cache_events_total",
		Help:      "Decision cache events: hit, miss, write, skip",
	}, []string{"event"})

	routingEmbeddingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "embedding_failures_total",
		Help:      "Embedding provider failures by reason: timeout, error, unwarmed",
	}, []string{"reason"})

	routingCombinationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "combination_total",
		Help:      "Multi-endpoint combinations by strategy",
	}, []string{"strategy"})

	routingDecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "decision_latency_seconds",
		Help:      "End-to-end route() latency including embedding calls",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 3.0},
	})

	routingPatternLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "pattern_latency_seconds",
		Help:      "Pattern matcher scoring latency",
		Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005},
	})

	routingCatalogReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aleutian",
		Subsystem: "insight_routing",
		Name:      "catalog_reload_total",
		Help:      "Catalog snapshot reloads by result: ok, error",
	}, []string{"result"})
)
