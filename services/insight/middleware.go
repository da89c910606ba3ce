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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Warmup Guard Middleware
// =============================================================================

// WarmupGuardMiddleware returns 503 Service Unavailable for routing requests
// until the semantic warmup has completed or been declared degraded.
//
// Description:
//
//	Warm-up embeds the whole endpoint catalog, and routing before it
//	finishes would silently produce pattern-only decisions that differ
//	from steady-state answers for the same query. Rejecting with
//	Retry-After keeps decisions deterministic across the startup window.
//
// Behavior:
//
//   - Returns 503 with Retry-After header while warmup is pending
//   - Creates an OTel span for rejected requests with trace context
//     inherited from W3C TraceContext headers
//   - Passes through once warmup completes or degrades
//
// Thread Safety: This middleware is safe for concurrent use.
func WarmupGuardMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsWarmupComplete() {
			ctx := c.Request.Context()
			_, span := otel.Tracer("aleutian.ai/insight").Start(ctx, "warmup_guard.reject",
				oteltrace.WithAttributes(
					attribute.String("path", c.Request.URL.Path),
					attribute.String("method", c.Request.Method),
					attribute.Int("http.status_code", http.StatusServiceUnavailable),
				),
			)
			defer span.End()

			spanCtx := span.SpanContext()
			traceID := ""
			if spanCtx.HasTraceID() {
				traceID = spanCtx.TraceID().String()
			}

			slog.Warn("Routing request rejected: semantic warmup in progress",
				slog.String("path", c.Request.URL.Path),
				slog.String("method", c.Request.Method),
				slog.String("trace_id", traceID))

			span.SetStatus(codes.Error, "service unavailable during warmup")

			c.Header("Retry-After", "30")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "Semantic warmup in progress",
				"code":     "SERVICE_WARMING_UP",
				"message":  "Endpoint embeddings are still warming. Please retry in 30 seconds.",
				"trace_id": traceID,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
