// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package wiki is the client for the TiddlyWeb-style JSON API exposed by
// the external wiki. The structural filter language is opaque here: the
// filter string passes through uninterpreted.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Client lists and fetches tiddlers from the external store.
type Client interface {
	// List returns snapshots (without text) matching the filter; an empty
	// filter lists everything.
	List(ctx context.Context, filter string) ([]Tiddler, error)

	// Get returns the full tiddler or a not-found error when absent.
	Get(ctx context.Context, title string) (*Tiddler, error)
}

// Config holds connection settings for an HTTP wiki.
type Config struct {
	// BaseURL is the wiki root, e.g. http://localhost:8080.
	BaseURL string
	// Recipe selects the TiddlyWeb recipe (default "default").
	Recipe string
	// Username and Password enable basic auth when both are set.
	Username string
	Password string
	// Timeout bounds each request (default 30s).
	Timeout time.Duration
}

// HTTPClient implements Client against a live wiki.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a wiki client. BaseURL must be set.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, tidvecerr.New(tidvecerr.CodeConfigValidateInvalidValue, "wiki base URL is required")
	}
	if cfg.Recipe == "" {
		cfg.Recipe = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// List fetches tiddler snapshots matching filter, excluding text.
func (c *HTTPClient) List(ctx context.Context, filter string) ([]Tiddler, error) {
	u := fmt.Sprintf("%s/recipes/%s/tiddlers.json", c.cfg.BaseURL, url.PathEscape(c.cfg.Recipe))
	q := url.Values{"exclude": {"text"}}
	if filter != "" {
		q.Set("filter", filter)
	}
	u += "?" + q.Encode()

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeWikiListFailure, "listing tiddlers", tidvecerr.FieldFilter(filter))
	}

	var tiddlers []Tiddler
	if err := json.Unmarshal(body, &tiddlers); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeWikiResponseInvalid, "decoding tiddler list: %w", err)
	}
	return tiddlers, nil
}

// Get fetches the full tiddler by title.
func (c *HTTPClient) Get(ctx context.Context, title string) (*Tiddler, error) {
	u := fmt.Sprintf("%s/recipes/%s/tiddlers/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.Recipe), url.PathEscape(title))

	body, err := c.get(ctx, u)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) && he.status == http.StatusNotFound {
			return nil, tidvecerr.New(tidvecerr.CodeWikiTiddlerNotFound, "tiddler "+title+" not found", tidvecerr.FieldTitle(title))
		}
		return nil, tidvecerr.Wrap(err, tidvecerr.CodeWikiGetFailure, "getting tiddler", tidvecerr.FieldTitle(title))
	}

	var t Tiddler
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeWikiResponseInvalid, "decoding tiddler %s: %w", title, err)
	}
	if t.Title == "" {
		t.Title = title
	}
	return &t, nil
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (c *HTTPClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	// TiddlyWiki rejects requests without this header.
	req.Header.Set("X-Requested-With", "TiddlyWiki")
	if c.cfg.Username != "" && c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{status: resp.StatusCode, body: truncate(string(body), 200)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
