// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insight exposes the routing engine over HTTP: the route endpoint,
// catalog and schema inspection, explicit reload, and a debug surface with a
// live decision stream.
package insight

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
)

// =============================================================================
// Service
// =============================================================================

// recentDecisionLimit bounds the in-memory ring of recent decisions served
// by the debug surface.
const recentDecisionLimit = 100

// CatalogLoader re-reads the catalog from its configured source. Used by the
// explicit reload endpoint; main wires it to the same file/GCS path it
// booted from.
type CatalogLoader func(ctx context.Context) (*config.EndpointCatalog, error)

// Service bundles the engine with the serving-surface state: the catalog
// reload source, the recent-decision ring, and the live stream hub.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	engine  *routing.Engine
	schemas *config.StaticSchemaProvider
	loader  CatalogLoader
	hub     *DecisionHub
	logger  *slog.Logger
	started time.Time

	mu     sync.Mutex
	recent []*routing.RoutingDecision
}

// NewService wires the serving surface. loader may be nil, which disables
// the reload endpoint.
func NewService(engine *routing.Engine, schemas *config.StaticSchemaProvider, loader CatalogLoader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:  engine,
		schemas: schemas,
		loader:  loader,
		hub:     NewDecisionHub(logger),
		logger:  logger,
		started: time.Now(),
	}
}

// Engine exposes the underlying routing engine.
func (s *Service) Engine() *routing.Engine {
	return s.engine
}

// Route answers one query and records the decision for the debug surface.
func (s *Service) Route(ctx context.Context, req routing.RouteRequest) (*routing.RoutingDecision, error) {
	decision, err := s.engine.Route(ctx, req)
	if err != nil {
		return nil, err
	}
	if !req.SkipCache {
		s.record(decision)
	}
	return decision, nil
}

// record appends to the recent ring and fans out to stream subscribers.
func (s *Service) record(decision *routing.RoutingDecision) {
	s.mu.Lock()
	s.recent = append(s.recent, decision)
	if len(s.recent) > recentDecisionLimit {
		s.recent = s.recent[len(s.recent)-recentDecisionLimit:]
	}
	s.mu.Unlock()

	s.hub.Broadcast(decision)
}

// RecentDecisions returns the newest decisions, most recent first.
func (s *Service) RecentDecisions(limit int) []*routing.RoutingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]*routing.RoutingDecision, 0, limit)
	for i := len(s.recent) - 1; i >= len(s.recent)-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// ReloadCatalog re-reads the catalog from its source and swaps it into the
// engine.
func (s *Service) ReloadCatalog(ctx context.Context) (*config.EndpointCatalog, error) {
	if s.loader == nil {
		return nil, routing.NewRouterError(routing.ErrConfiguration,
			"no catalog source configured for reload")
	}
	catalog, err := s.loader(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Reload(ctx, catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// =============================================================================
// Warmup Registry
// =============================================================================

// Warmup states. Degraded means semantic warmup failed and the service runs
// pattern-only; it still serves traffic.
const (
	warmupPending = iota
	warmupComplete
	warmupDegraded
)

var (
	warmupMu    sync.RWMutex
	warmupState = warmupPending
)

// IsWarmupComplete reports whether the service is past warmup, successfully
// or in degraded pattern-only mode.
//
// Thread Safety: This function is safe for concurrent use.
func IsWarmupComplete() bool {
	warmupMu.RLock()
	defer warmupMu.RUnlock()
	return warmupState != warmupPending
}

// IsWarmupDegraded reports whether semantic warmup failed.
//
// Thread Safety: This function is safe for concurrent use.
func IsWarmupDegraded() bool {
	warmupMu.RLock()
	defer warmupMu.RUnlock()
	return warmupState == warmupDegraded
}

// MarkWarmupComplete records a successful warmup.
//
// Thread Safety: This function is safe for concurrent use.
func MarkWarmupComplete() {
	warmupMu.Lock()
	defer warmupMu.Unlock()
	warmupState = warmupComplete
}

// MarkWarmupDegraded records a failed warmup; the service serves
// pattern-only decisions from here on.
//
// Thread Safety: This function is safe for concurrent use.
func MarkWarmupDegraded() {
	warmupMu.Lock()
	defer warmupMu.Unlock()
	warmupState = warmupDegraded
}

// ResetWarmup restores the pending state. Test hook.
func ResetWarmup() {
	warmupMu.Lock()
	defer warmupMu.Unlock()
	warmupState = warmupPending
}
