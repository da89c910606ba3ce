// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultServerURL = "http://localhost:8080"

// Response structs mirror the server's JSON bodies so the CLI does not
// link the server packages.

type candidateScore struct {
	EndpointID     string   `json:"endpoint_id"`
	PatternScore   float64  `json:"pattern_score"`
	SemanticScore  float64  `json:"semantic_score"`
	TotalScore     float64  `json:"total_score"`
	FieldsResolved bool     `json:"fields_resolved"`
	MissingFields  []string `json:"missing_fields,omitempty"`
	MatchedTerms   []string `json:"matched_terms,omitempty"`
	AvoidedTerms   []string `json:"avoided_terms,omitempty"`
}

type decisionResponse struct {
	SelectedEndpointID  string           `json:"selected_endpoint_id"`
	Confidence          float64          `json:"confidence"`
	CombinedWith        []string         `json:"combined_with,omitempty"`
	CombinationStrategy string           `json:"combination_strategy,omitempty"`
	UsedFallback        bool             `json:"used_fallback"`
	FallbackStage       string           `json:"fallback_stage,omitempty"`
	ScoreBreakdown      []candidateScore `json:"score_breakdown"`
	NormalizedQuery     string           `json:"normalized_query"`
	CatalogVersion      string           `json:"catalog_version"`
	SemanticUsed        bool             `json:"semantic_used"`
	FromCache           bool             `json:"from_cache"`
}

type endpointSummary struct {
	ID             string  `json:"id"`
	Category       string  `json:"category"`
	Description    string  `json:"description"`
	PriorityWeight float64 `json:"priority_weight"`
	Cacheable      bool    `json:"cacheable"`
}

type catalogResponse struct {
	Version         string            `json:"version"`
	DefaultEndpoint string            `json:"default_endpoint"`
	Endpoints       []endpointSummary `json:"endpoints"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// insightClient talks to one Insight server.
type insightClient struct {
	baseURL string
	http    *http.Client
}

func newClient(server string) *insightClient {
	if server == "" {
		server = os.Getenv("INSIGHT_SERVER_URL")
	}
	if server == "" {
		server = defaultServerURL
	}
	return &insightClient{
		baseURL: strings.TrimRight(server, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// route calls POST /api/v1/route.
func (c *insightClient) route(question, datasetID string) (*decisionResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"query":      question,
		"dataset_id": datasetID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/api/v1/route", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeDecision(resp)
}

// explain calls GET /api/v1/debug/route/explain.
func (c *insightClient) explain(question string) (*decisionResponse, error) {
	target := c.baseURL + "/api/v1/debug/route/explain?q=" + url.QueryEscape(question)
	resp, err := c.http.Get(target)
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeDecision(resp)
}

// endpoints calls GET /api/v1/endpoints.
func (c *insightClient) endpoints() (*catalogResponse, error) {
	resp, err := c.http.Get(c.baseURL + "/api/v1/endpoints")
	if err != nil {
		return nil, c.connectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, body)
	}

	var catalog catalogResponse
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &catalog, nil
}

func (c *insightClient) connectionError(err error) error {
	return fmt.Errorf("insight server unavailable at %s (start it with ./insight, or set INSIGHT_SERVER_URL): %w",
		c.baseURL, err)
}

func decodeDecision(resp *http.Response) (*decisionResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, body)
	}

	var decision decisionResponse
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &decision, nil
}

func serverError(status int, body []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server error (HTTP %d, %s): %s", status, apiErr.Code, apiErr.Error)
	}
	return fmt.Errorf("server error (HTTP %d): %s", status, strings.TrimSpace(string(body)))
}
