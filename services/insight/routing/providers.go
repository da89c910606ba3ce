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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// =============================================================================
// Embedding Providers
// =============================================================================

// EmbedProvider produces one embedding vector per text. The engine treats
// providers as unreliable collaborators: every error is absorbed into a zero
// semantic score, never a failed request.
type EmbedProvider interface {
	// Embed returns the raw (not necessarily unit-normalized) vector for
	// the text. The caller applies its own timeout via ctx.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model identifies the embedding model; part of the vector-store
	// corpus hash so a model change invalidates persisted vectors.
	Model() string
}

// Provider defaults. The warm client timeout is generous because startup
// warm-up embeds the whole catalog; the per-query timeout is applied by the
// embedding cache, not here.
const (
	defaultOllamaEmbedURL = "http://host.containers.internal:11434/api/embed"
	defaultEmbedModel     = "nomic-embed-text-v2-moe"
	providerHTTPTimeout   = 30 * time.Second

	// defaultEmbedRPS bounds client-side request rate against the
	// provider. Warm-up bursts are smoothed by the matching burst size.
	defaultEmbedRPS = 20
)

// newEmbedLimiter reads EMBEDDING_RPS and builds the client-side limiter.
func newEmbedLimiter() *rate.Limiter {
	rps := defaultEmbedRPS
	if v := os.Getenv("EMBEDDING_RPS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// NewEmbedProviderFromEnv selects the provider from EMBEDDING_PROVIDER:
// "ollama" (default) or "openai" (any OpenAI-compatible endpoint).
func NewEmbedProviderFromEnv(logger *slog.Logger) (EmbedProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch os.Getenv("EMBEDDING_PROVIDER") {
	case "", "ollama":
		return NewOllamaEmbedderFromEnv(), nil
	case "openai":
		return NewOpenAIEmbedderFromEnv(logger)
	default:
		return nil, NewRouterError(ErrConfiguration,
			"unknown EMBEDDING_PROVIDER %q (want ollama or openai)", os.Getenv("EMBEDDING_PROVIDER"))
	}
}

// =============================================================================
// Ollama Provider
// =============================================================================

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder calls a local Ollama /api/embed endpoint.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaEmbedder struct {
	url     string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllamaEmbedderFromEnv reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL,
// falling back to the container-local Ollama defaults.
func NewOllamaEmbedderFromEnv() *OllamaEmbedder {
	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = defaultOllamaEmbedURL
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultEmbedModel
	}
	return &OllamaEmbedder{
		url:     url,
		model:   model,
		client:  &http.Client{Timeout: providerHTTPTimeout},
		limiter: newEmbedLimiter(),
	}
}

// Model implements EmbedProvider.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Embed implements EmbedProvider against the Ollama /api/embed contract.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}

// =============================================================================
// OpenAI-Compatible Provider
// =============================================================================

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint through
// langchaingo.
//
// # Description
//
// The API key is sealed in a memguard enclave at construction and the
// EMBEDDING_API_KEY variable is scrubbed from the process environment; the
// enclave is opened only for the duration of one request and the plaintext
// buffer destroyed immediately after the client call returns.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIEmbedder struct {
	base    string
	model   string
	key     *memguard.Enclave
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAIEmbedderFromEnv reads EMBEDDING_API_BASE, EMBEDDING_API_KEY, and
// EMBEDDING_MODEL. The key is required; the base is optional (empty means
// api.openai.com).
func NewOpenAIEmbedderFromEnv(logger *slog.Logger) (*OpenAIEmbedder, error) {
	key := os.Getenv("EMBEDDING_API_KEY")
	if key == "" {
		return nil, NewRouterError(ErrConfiguration,
			"EMBEDDING_PROVIDER=openai requires EMBEDDING_API_KEY")
	}
	// Scrub the plaintext from the environment; the enclave is now the
	// only holder.
	_ = os.Unsetenv("EMBEDDING_API_KEY")

	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &OpenAIEmbedder{
		base:    os.Getenv("EMBEDDING_API_BASE"),
		model:   model,
		key:     memguard.NewEnclave([]byte(key)),
		limiter: newEmbedLimiter(),
		logger:  logger,
	}, nil
}

// Model implements EmbedProvider.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed implements EmbedProvider.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}

	buf, err := e.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	opts := []openai.Option{
		openai.WithToken(buf.String()),
		openai.WithEmbeddingModel(e.model),
	}
	if e.base != "" {
		opts = append(opts, openai.WithBaseURL(e.base))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}

	vectors, err := client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned empty vector")
	}
	return vectors[0], nil
}
