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
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
)

// =============================================================================
// Handlers
// =============================================================================

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers holds the HTTP handlers for the insight service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set and registers the custom binding
// validations once.
func NewHandlers(svc *Service) *Handlers {
	registerValidations()
	return &Handlers{svc: svc}
}

// endpointIDPattern mirrors the catalog's id grammar: lowercase
// alphanumerics and hyphens.
var endpointIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// registerValidations installs the endpoint_id validation on gin's binding
// validator. Safe to call more than once.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("endpoint_id", func(fl validator.FieldLevel) bool {
			return endpointIDPattern.MatchString(fl.Field().String())
		})
	}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// writeRoutingError maps a routing error onto the HTTP surface.
func writeRoutingError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, routing.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_QUERY",
		})
	case errors.Is(err, routing.ErrSchemaUnavailable):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "SCHEMA_UNAVAILABLE",
		})
	default:
		logger.Error("Routing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal routing error",
			Code:  "INTERNAL",
		})
	}
}

// =============================================================================
// Route Endpoint
// =============================================================================

// RouteRequestBody is the POST /api/v1/route payload.
type RouteRequestBody struct {
	// Query is the free-text analytical question.
	Query string `json:"query" binding:"required"`

	// DatasetID selects a configured dataset schema; empty uses the
	// default dataset.
	DatasetID string `json:"dataset_id"`

	// Fields, when present, override the schema-provider lookup with an
	// explicit field list (SchemaVersion labels it for cache keying).
	Fields        []string `json:"fields"`
	SchemaVersion string   `json:"schema_version"`
}

// HandleRoute handles POST /api/v1/route.
//
// Description:
//
//	Maps the query onto a routing decision. Explicit fields in the body
//	win over the schema-provider lookup.
//
// Response:
//
//	200 OK: RoutingDecision
//	400 Bad Request: malformed body or invalid query
//	422 Unprocessable Entity: unknown dataset
//	500 Internal Server Error: unexpected failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRoute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRoute")

	var body RouteRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_BODY",
		})
		return
	}

	req := routing.RouteRequest{
		Query:     body.Query,
		DatasetID: body.DatasetID,
	}
	if len(body.Fields) > 0 {
		version := body.SchemaVersion
		if version == "" {
			version = "adhoc"
		}
		req.Schema = config.NewFieldSchema(body.DatasetID, version, body.Fields)
	}

	start := time.Now()
	decision, err := h.svc.Route(c.Request.Context(), req)
	if err != nil {
		writeRoutingError(c, logger, err)
		return
	}

	logger.Info("routed query",
		slog.String("endpoint", decision.SelectedEndpointID),
		slog.Float64("confidence", decision.Confidence),
		slog.Bool("from_cache", decision.FromCache),
		slog.Bool("used_fallback", decision.UsedFallback),
		slog.Duration("duration", time.Since(start)),
	)

	c.Header("X-Request-ID", requestID)
	c.JSON(http.StatusOK, decision)
}

// =============================================================================
// Catalog Endpoints
// =============================================================================

// EndpointSummary is one row of the catalog listing.
type EndpointSummary struct {
	ID             string  `json:"id"`
	Category       string  `json:"category"`
	Description    string  `json:"description"`
	PriorityWeight float64 `json:"priority_weight"`
	Cacheable      bool    `json:"cacheable"`
}

// CatalogResponse is the GET /api/v1/endpoints body.
type CatalogResponse struct {
	Version         string            `json:"version"`
	DefaultEndpoint string            `json:"default_endpoint"`
	Endpoints       []EndpointSummary `json:"endpoints"`
}

// HandleListEndpoints handles GET /api/v1/endpoints.
func (h *Handlers) HandleListEndpoints(c *gin.Context) {
	catalog := h.svc.Engine().Catalog()

	resp := CatalogResponse{
		Version:         catalog.Version,
		DefaultEndpoint: catalog.DefaultEndpoint,
		Endpoints:       make([]EndpointSummary, 0, len(catalog.Endpoints)),
	}
	for i := range catalog.Endpoints {
		ep := &catalog.Endpoints[i]
		resp.Endpoints = append(resp.Endpoints, EndpointSummary{
			ID:             ep.ID,
			Category:       ep.Category,
			Description:    ep.Description,
			PriorityWeight: ep.PriorityWeight,
			Cacheable:      ep.Cacheable,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// endpointURI binds the :id path parameter.
type endpointURI struct {
	ID string `uri:"id" binding:"required,endpoint_id"`
}

// HandleGetEndpoint handles GET /api/v1/endpoints/:id.
func (h *Handlers) HandleGetEndpoint(c *gin.Context) {
	var uri endpointURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid endpoint id",
			Code:  "INVALID_ENDPOINT_ID",
		})
		return
	}

	ep, ok := h.svc.Engine().Catalog().Endpoint(uri.ID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "endpoint not found: " + uri.ID,
			Code:  "ENDPOINT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, ep)
}

// ReloadResponse is the POST /api/v1/catalog/reload body.
type ReloadResponse struct {
	Version   string `json:"version"`
	Endpoints int    `json:"endpoints"`
}

// HandleReloadCatalog handles POST /api/v1/catalog/reload.
//
// Description:
//
//	Re-reads the catalog from its configured source and swaps it in
//	atomically. In-flight requests finish against the old snapshot; the
//	decision cache is invalidated.
func (h *Handlers) HandleReloadCatalog(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReloadCatalog")

	catalog, err := h.svc.ReloadCatalog(c.Request.Context())
	if err != nil {
		logger.Error("Catalog reload failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "catalog reload failed: " + err.Error(),
			Code:  "RELOAD_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, ReloadResponse{
		Version:   catalog.Version,
		Endpoints: len(catalog.Endpoints),
	})
}

// HandleGetSchema handles GET /api/v1/schema/:datasetId.
func (h *Handlers) HandleGetSchema(c *gin.Context) {
	datasetID := c.Param("datasetId")

	schema, err := h.svc.schemas.GetSchema(c.Request.Context(), datasetID)
	if err != nil {
		if errors.Is(err, config.ErrSchemaNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "dataset not found: " + datasetID,
				Code:  "DATASET_NOT_FOUND",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "schema lookup failed",
			Code:  "INTERNAL",
		})
		return
	}
	c.JSON(http.StatusOK, schema)
}

// =============================================================================
// Health Endpoints
// =============================================================================

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	Status         string `json:"status"`
	CatalogVersion string `json:"catalog_version"`
	SemanticReady  bool   `json:"semantic_ready"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /healthz. Liveness only; always 200 while the
// process can serve.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		CatalogVersion: h.svc.Engine().Catalog().Version,
		SemanticReady:  h.svc.Engine().SemanticReady(),
		UptimeSeconds:  int64(time.Since(h.svc.started).Seconds()),
	})
}

// HandleReady handles GET /readyz. Returns 503 until warmup finishes or is
// declared degraded.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !IsWarmupComplete() {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "semantic warmup in progress",
			Code:  "SERVICE_WARMING_UP",
		})
		return
	}
	status := "ready"
	if IsWarmupDegraded() {
		status = "ready_degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
