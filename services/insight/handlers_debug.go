// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package insight

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
)

// =============================================================================
// Debug Handlers
// =============================================================================

// HandleExplain handles GET /api/v1/debug/route/explain.
//
// Description:
//
//	Dry-runs the router for a query and returns the decision with its full
//	candidate breakdown. Never reads from or writes to the decision cache,
//	so repeated explains always show the live scoring path.
//
// Query Parameters:
//
//	q: The query text (required)
//	dataset_id: Dataset to validate against (optional)
//
// Response:
//
//	200 OK: RoutingDecision with full ScoreBreakdown
//	400 Bad Request: missing q or invalid query
//	422 Unprocessable Entity: unknown dataset
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleExplain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExplain")

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "q parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	decision, err := h.svc.Route(c.Request.Context(), routing.RouteRequest{
		Query:     query,
		DatasetID: c.Query("dataset_id"),
		SkipCache: true,
	})
	if err != nil {
		writeRoutingError(c, logger, err)
		return
	}

	// Surface which vocabulary the dictionary recognized in the query, so
	// a missing-field result can be told apart from a missing synonym.
	var recognized []string
	if dict := h.svc.Engine().Fields(); dict != nil {
		recognized = dict.ResolveText(decision.NormalizedQuery)
	}

	logger.Info("explained query",
		slog.String("endpoint", decision.SelectedEndpointID),
		slog.Int("candidates", len(decision.ScoreBreakdown)),
	)
	c.JSON(http.StatusOK, explainResponse{
		RoutingDecision:  decision,
		RecognizedFields: recognized,
	})
}

// explainResponse is a RoutingDecision plus dictionary diagnostics. The
// decision embeds so the JSON stays flat and route clients can decode it.
type explainResponse struct {
	*routing.RoutingDecision
	RecognizedFields []string `json:"recognized_fields,omitempty"`
}

// HandleCacheStats handles GET /api/v1/debug/cache/stats.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Engine().CacheStats())
}

// HandleCacheFlush handles POST /api/v1/debug/cache/flush.
func (h *Handlers) HandleCacheFlush(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCacheFlush")

	if err := h.svc.Engine().FlushCache(c.Request.Context()); err != nil {
		logger.Error("Cache flush failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "cache flush failed",
			Code:  "FLUSH_FAILED",
		})
		return
	}
	logger.Info("decision cache flushed")
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}

// HandleRecentDecisions handles GET /api/v1/debug/decisions.
//
// Query Parameters:
//
//	limit: Maximum decisions to return, default 20 (optional)
func (h *Handlers) HandleRecentDecisions(c *gin.Context) {
	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	decisions := h.svc.RecentDecisions(limit)
	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// HandleDecisionStream handles GET /api/v1/debug/decisions/stream.
//
// Description:
//
//	Upgrades to a WebSocket and pushes every finished routing decision as
//	JSON. The hub is bounded; a subscriber that cannot keep up is dropped
//	rather than allowed to slow the routing path.
func (h *Handlers) HandleDecisionStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDecisionStream")

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	h.svc.hub.serve(conn)
}
