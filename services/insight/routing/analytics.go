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
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// =============================================================================
// Decision Analytics Sink
// =============================================================================

// DecisionSink receives finished routing decisions for offline analysis —
// which endpoints win, how often fallbacks fire, confidence drift over
// catalog revisions. Emit must never block the request path.
type DecisionSink interface {
	// Emit records one decision. Best effort; errors are logged, not
	// returned.
	Emit(decision *RoutingDecision)

	// Close flushes buffered points.
	Close()
}

// InfluxSink writes decisions to InfluxDB through the client's non-blocking
// batch API.
//
// # Thread Safety
//
// Safe for concurrent use; the write API batches internally.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	done     chan struct{}
	logger   *slog.Logger
}

// NewInfluxSinkFromEnv builds a sink from INSIGHT_INFLUX_URL, _TOKEN, _ORG,
// and _BUCKET. Returns (nil, false) when the URL is unset — analytics are
// strictly opt-in.
func NewInfluxSinkFromEnv(logger *slog.Logger) (*InfluxSink, bool) {
	url := os.Getenv("INSIGHT_INFLUX_URL")
	if url == "" {
		return nil, false
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(url, os.Getenv("INSIGHT_INFLUX_TOKEN"))
	writeAPI := client.WriteAPI(os.Getenv("INSIGHT_INFLUX_ORG"), os.Getenv("INSIGHT_INFLUX_BUCKET"))

	sink := &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
		done:     make(chan struct{}),
		logger:   logger,
	}

	// Drain the async error channel; a full unread channel would stall
	// the writer.
	go func() {
		for {
			select {
			case err, ok := <-writeAPI.Errors():
				if !ok {
					return
				}
				logger.Warn("Decision analytics write failed", "error", err)
			case <-sink.done:
				return
			}
		}
	}()

	return sink, true
}

// Emit implements DecisionSink.
func (s *InfluxSink) Emit(decision *RoutingDecision) {
	endpoint := decision.SelectedEndpointID
	if endpoint == "" {
		endpoint = "none"
	}

	point := influxdb2.NewPointWithMeasurement("routing_decision").
		AddTag("endpoint", endpoint).
		AddTag("outcome", decision.outcome()).
		AddTag("catalog_version", decision.CatalogVersion).
		AddField("confidence", decision.Confidence).
		AddField("candidates", len(decision.ScoreBreakdown)).
		AddField("semantic_used", decision.SemanticUsed).
		AddField("used_fallback", decision.UsedFallback).
		SetTime(time.Now())
	if decision.FallbackStage != "" {
		point.AddTag("fallback_stage", decision.FallbackStage)
	}
	if decision.CombinationStrategy != "" {
		point.AddTag("combination_strategy", decision.CombinationStrategy)
	}

	s.writeAPI.WritePoint(point)
}

// Close implements DecisionSink.
func (s *InfluxSink) Close() {
	close(s.done)
	s.writeAPI.Flush()
	s.client.Close()
}
