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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all insight routes with the router.
//
// Description:
//
//	Registers the /api/v1/* endpoints with the given Gin router group.
//	The group should already have recovery and tracing middleware applied.
//	Only the route endpoint sits behind the warmup guard; catalog and
//	schema inspection work from the first moment of the process.
//
// Core Endpoints:
//
//	POST /api/v1/route - Route a query to an analysis endpoint
//	GET  /api/v1/endpoints - List the endpoint catalog
//	GET  /api/v1/endpoints/:id - Get one endpoint descriptor
//	POST /api/v1/catalog/reload - Reload the catalog from its source
//	GET  /api/v1/schema/:datasetId - Get the active dataset schema
//
// Debug Endpoints:
//
//	GET  /api/v1/debug/route/explain - Dry-run decision with full breakdown
//	GET  /api/v1/debug/cache/stats - Decision cache counters
//	POST /api/v1/debug/cache/flush - Drop all cached decisions
//	GET  /api/v1/debug/decisions - Recent decisions ring
//	GET  /api/v1/debug/decisions/stream - WebSocket live decision feed
//
// Health Endpoints:
//
//	GET /healthz - Liveness (registered on the root router by main)
//	GET /readyz - Readiness, gated on warmup
//
// Example:
//
//	svc := insight.NewService(engine, schemas, loader, logger)
//	handlers := insight.NewHandlers(svc)
//
//	api := router.Group("/api/v1")
//	insight.RegisterRoutes(api, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/route", WarmupGuardMiddleware(), handlers.HandleRoute)

	rg.GET("/endpoints", handlers.HandleListEndpoints)
	rg.GET("/endpoints/:id", handlers.HandleGetEndpoint)
	rg.POST("/catalog/reload", handlers.HandleReloadCatalog)
	rg.GET("/schema/:datasetId", handlers.HandleGetSchema)

	debug := rg.Group("/debug")
	{
		debug.GET("/route/explain", handlers.HandleExplain)
		debug.GET("/cache/stats", handlers.HandleCacheStats)
		debug.POST("/cache/flush", handlers.HandleCacheFlush)
		debug.GET("/decisions", handlers.HandleRecentDecisions)
		debug.GET("/decisions/stream", handlers.HandleDecisionStream)
	}
}
