// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package embedding turns text into fixed-length vectors via an
// OpenAI-compatible embeddings endpoint (OpenAI, Ollama, and friends).
//
// The embedding model expects different prefixes for stored documents
// and for queries; the asymmetry is applied here, before the request,
// because the service itself does not distinguish the two intents.
package embedding

import (
	"context"
	"log/slog"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Prefixes for the two embedding intents (nomic-style convention).
const (
	DocumentPrefix = "search_document: "
	QueryPrefix    = "search_query: "
)

// Defaults.
const (
	DefaultModel          = "nomic-embed-text"
	DefaultDimensions     = 768
	DefaultTimeout        = 2 * time.Minute
	DefaultHealthTimeout  = 10 * time.Second
	DefaultRequestsPerSec = 10
)

// Embedder is the contract consumed by the sync worker and the query
// handler.
type Embedder interface {
	// EmbedDocuments embeds chunk texts with the document prefix, one
	// vector per input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query with the query prefix.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Health reports whether the embedding service currently responds.
	Health(ctx context.Context) bool

	// Dimensions is the vector length the configured model produces.
	Dimensions() int
}

// Config holds embedding client configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint, e.g.
	// http://localhost:11434/v1 for Ollama.
	BaseURL string
	// APIKey may be empty for local endpoints.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the model's output vector length.
	Dimensions int
	// Timeout bounds a single embed call. Embedding is the slowest step
	// of a sync cycle; a stuck call must time out rather than hang the
	// cycle.
	Timeout time.Duration
	// HealthTimeout bounds the health-check embed call.
	HealthTimeout time.Duration
	// RequestsPerSec rate-limits embed calls so bulk indexing cannot
	// saturate the endpoint.
	RequestsPerSec float64
}

// Client implements Embedder over the openai-go SDK.
type Client struct {
	api           openaisdk.Client
	model         string
	dimensions    int
	timeout       time.Duration
	healthTimeout time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// Compile-time interface check.
var _ Embedder = (*Client)(nil)

// New creates an embedding client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, tidvecerr.New(tidvecerr.CodeConfigValidateInvalidValue, "embedding base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = DefaultRequestsPerSec
	}

	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Client{
		api:           openaisdk.NewClient(opts...),
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		timeout:       cfg.Timeout,
		healthTimeout: cfg.HealthTimeout,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:        slog.Default(),
	}, nil
}

// Dimensions returns the configured vector length.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbedDocuments embeds chunk texts with the document prefix.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = DocumentPrefix + t
	}
	return c.embed(ctx, prefixed)
}

// EmbedQuery embeds a search query with the query prefix.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{QueryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Health embeds a trivial input with a short deadline. Any response with
// vectors counts as healthy.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	_, err := c.embed(ctx, []string{QueryPrefix + "ping"})
	if err != nil {
		c.logger.Debug("embedding health check failed", "error", err)
		return false
	}
	return true
}

func (c *Client) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeEmbeddingRequestFailure, "waiting for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(c.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeEmbeddingRequestFailure, "embedding %d inputs: %w", len(inputs), err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, tidvecerr.Errorf(tidvecerr.CodeEmbeddingResponseInvalid,
			"embedding service returned %d vectors for %d inputs", len(resp.Data), len(inputs))
	}

	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vecs) {
			return nil, tidvecerr.Errorf(tidvecerr.CodeEmbeddingResponseInvalid, "embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		vecs[d.Index] = vec
	}

	return vecs, nil
}
