// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package syncer keeps the vector store consistent with the wiki by
// periodic reconciliation: list every tiddler, diff modified tokens
// against the sync ledger, and (re)process only the deltas. There is no
// transactional coupling between the wiki, the embedding service, and
// the store; the loop is eventually consistent by construction.
package syncer

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidvec-dev/tidvec/internal/chunker"
	"github.com/tidvec-dev/tidvec/internal/embedding"
	"github.com/tidvec-dev/tidvec/internal/store"
	"github.com/tidvec-dev/tidvec/internal/wiki"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
	"github.com/tidvec-dev/tidvec/pkg/health"
)

// Defaults.
const (
	DefaultInterval      = 5 * time.Minute
	DefaultBatchSize     = 5
	DefaultRetryCooldown = 24 * time.Hour
)

// Reasons a tiddler is picked up for (re)processing.
const (
	reasonNew     = "new"
	reasonChanged = "changed"
	reasonRetry   = "retry"
)

// fileExtRe matches titles that are really import artifacts: raw
// filesystem paths or filenames the wiki's import mechanism leaked into
// the tiddler namespace.
var fileExtRe = regexp.MustCompile(`(?i)\.(tid|json|html?|css|js|xml|meta)$`)

// Config holds reconciliation settings.
type Config struct {
	// Interval between timer-driven cycles.
	Interval time.Duration
	// BatchSize caps how many tiddlers are processed concurrently.
	// Batches run sequentially, so this is also the global concurrency
	// cap.
	BatchSize int
	// MaxChunkTokens bounds a single chunk (see chunker).
	MaxChunkTokens int
	// RetryCooldown is how long an error-status tiddler waits before
	// being retried with an unchanged token.
	RetryCooldown time.Duration
	// Filter optionally restricts which tiddlers are listed for
	// indexing; passed through to the wiki uninterpreted.
	Filter string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxChunkTokens <= 0 {
		c.MaxChunkTokens = chunker.DefaultMaxTokens
	}
	if c.RetryCooldown <= 0 {
		c.RetryCooldown = DefaultRetryCooldown
	}
}

// Health is a point-in-time snapshot of the sync worker, safe to
// serialize to JSON.
type Health struct {
	Running      bool           `json:"running" yaml:"running"`
	Syncing      bool           `json:"syncing" yaml:"syncing"`
	IndexedCount int64          `json:"indexed_count" yaml:"indexed_count"`
	ChunkCount   int64          `json:"chunk_count" yaml:"chunk_count"`
	Embedding    health.Metrics `json:"embedding" yaml:"embedding"`
}

// Syncer is the reconciliation worker. The running/syncing flags are
// owned by the Syncer alone; only its own methods transition them.
type Syncer struct {
	wiki   wiki.Client
	embed  embedding.Embedder
	store  store.VectorStore
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	syncing bool

	embedHealth *health.Tracker
	now         func() time.Time
}

// New creates a Syncer. The store, wiki client, and embedder are
// required.
func New(w wiki.Client, e embedding.Embedder, vs store.VectorStore, cfg Config) *Syncer {
	cfg.applyDefaults()
	return &Syncer{
		wiki:        w,
		embed:       e,
		store:       vs,
		cfg:         cfg,
		logger:      slog.Default(),
		embedHealth: health.NewTracker(),
		now:         time.Now,
	}
}

// Run drives timer-based reconciliation until ctx is cancelled. One
// cycle runs immediately on start.
func (s *Syncer) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("sync worker started", "interval", s.cfg.Interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync worker stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one cycle from the timer path, where skips and upstream
// failures are routine rather than errors.
func (s *Syncer) tick(ctx context.Context) {
	if err := s.SyncNow(ctx); err != nil {
		if tidvecerr.IsConflict(err) {
			return // previous cycle still in flight
		}
		s.logger.Warn("sync cycle skipped", "error", err)
	}
}

// SyncNow runs one reconciliation cycle. At most one cycle runs at a
// time: a trigger while one is in flight returns a conflict error and
// does nothing. The embedding service is health-checked first; an
// unhealthy service skips the whole cycle with nothing written.
func (s *Syncer) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return tidvecerr.New(tidvecerr.CodeSyncAlreadyRunning, "a sync cycle is already running")
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.embed.Health(ctx) {
		s.embedHealth.Failure()
		return tidvecerr.New(tidvecerr.CodeEmbeddingUnavailable, "embedding service is not responding")
	}
	s.embedHealth.Success()

	started := s.now()

	tiddlers, err := s.wiki.List(ctx, s.cfg.Filter)
	if err != nil {
		return tidvecerr.Wrap(err, tidvecerr.CodeSyncListFailure, "listing tiddlers for sync")
	}

	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return err
	}

	var pending []pendingDoc
	skipped := 0
	listed := make(map[string]struct{}, len(tiddlers))
	for _, t := range tiddlers {
		listed[t.Title] = struct{}{}
		if isPathArtifact(t.Title) {
			skipped++
			continue
		}
		need, reason := needsIndex(t.Modified, statuses[t.Title], started, s.cfg.RetryCooldown)
		if !need {
			continue
		}
		pending = append(pending, pendingDoc{snapshot: t, reason: reason})
	}

	// Ledger entries whose tiddler no longer appears in the listing
	// belong to deleted (or filtered-away) tiddlers; purge them so their
	// chunks stop surfacing in search results.
	purged := 0
	for title := range statuses {
		if _, ok := listed[title]; ok {
			continue
		}
		if err := s.store.DeleteDocument(ctx, title); err != nil {
			s.logger.Warn("purging deleted tiddler failed", "title", title, "error", err)
			continue
		}
		purged++
	}

	s.logger.Info("sync cycle starting",
		"total", len(tiddlers), "pending", len(pending), "skipped_artifacts", skipped, "purged", purged)

	processed, failed := 0, 0
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		results := make([]bool, end-start)
		for i, doc := range pending[start:end] {
			wg.Add(1)
			go func(i int, doc pendingDoc) {
				defer wg.Done()
				results[i] = s.processOne(ctx, doc)
			}(i, doc)
		}
		wg.Wait()

		for _, ok := range results {
			if ok {
				processed++
			} else {
				failed++
			}
		}
	}

	s.logger.Info("sync cycle complete",
		"processed", processed, "failed", failed, "duration", s.now().Sub(started))
	return nil
}

// Health returns the current worker state and store aggregates.
func (s *Syncer) Health(ctx context.Context) (Health, error) {
	s.mu.Lock()
	h := Health{Running: s.running, Syncing: s.syncing, Embedding: s.embedHealth.Snapshot()}
	s.mu.Unlock()

	docs, err := s.store.CountDocuments(ctx)
	if err != nil {
		return h, err
	}
	chunks, err := s.store.CountChunks(ctx)
	if err != nil {
		return h, err
	}
	h.IndexedCount = docs
	h.ChunkCount = chunks
	return h, nil
}

type pendingDoc struct {
	snapshot wiki.Tiddler
	reason   string
}

// needsIndex is the pure reconciliation decision for one tiddler:
// (observed token, ledger entry) → reprocess or not. A changed token
// always wins, regardless of the stored status; an unchanged token only
// reprocesses error-status entries past the cooldown.
func needsIndex(currentModified string, st *store.SyncStatus, now time.Time, cooldown time.Duration) (bool, string) {
	if st == nil {
		return true, reasonNew
	}
	if st.LastModified != store.NormalizeModified(currentModified) {
		return true, reasonChanged
	}
	if st.Status == store.StatusError && now.Sub(st.LastIndexed) > cooldown {
		return true, reasonRetry
	}
	return false, ""
}

// isPathArtifact reports whether a title looks like a raw filesystem
// path rather than a logical tiddler title.
func isPathArtifact(title string) bool {
	if strings.HasPrefix(title, "/") || strings.HasPrefix(title, "\\") {
		return true
	}
	if len(title) >= 3 && title[1] == ':' && (title[2] == '/' || title[2] == '\\') {
		return true
	}
	return fileExtRe.MatchString(title)
}

// processOne runs the per-tiddler indexing procedure. It reports success
// as a bool and never returns an error: one tiddler's failure must not
// abort its batch or the cycle.
func (s *Syncer) processOne(ctx context.Context, doc pendingDoc) bool {
	title := doc.snapshot.Title
	log := s.logger.With("title", title, "reason", doc.reason)

	full, err := s.wiki.Get(ctx, title)
	if err != nil && !tidvecerr.IsNotFound(err) {
		// Transient fetch failure: write nothing so the unchanged ledger
		// retries this tiddler next cycle.
		log.Warn("fetching tiddler failed", "error", err)
		return false
	}

	modified := doc.snapshot.Modified
	if full != nil && full.Modified != "" {
		modified = full.Modified
	}

	if full == nil || strings.TrimSpace(full.Text) == "" {
		if err := s.store.DeleteAllChunks(ctx, title); err != nil {
			log.Warn("clearing chunks for empty tiddler failed", "error", err)
			return false
		}
		if err := s.store.SetStatus(ctx, store.SyncStatus{
			Title:        title,
			LastModified: modified,
			LastIndexed:  s.now(),
			TotalChunks:  0,
			Status:       store.StatusEmpty,
		}); err != nil {
			log.Warn("recording empty status failed", "error", err)
			return false
		}
		log.Debug("tiddler has no text, recorded empty")
		return true
	}

	// Stale rows go first so old and new chunk sets never coexist.
	if err := s.store.DeleteAllChunks(ctx, title); err != nil {
		log.Warn("clearing stale chunks failed", "error", err)
		return false
	}

	chunks := chunker.Split(full.Text, s.cfg.MaxChunkTokens)

	vectors, err := s.embed.EmbedDocuments(ctx, chunks)
	if err != nil {
		log.Warn("embedding failed", "chunks", len(chunks), "error", err)
		s.embedHealth.Failure()
		s.recordError(ctx, title, modified, err)
		return false
	}
	s.embedHealth.Success()

	for i, vec := range vectors {
		rec := store.ChunkRecord{
			Title:    title,
			ChunkID:  i,
			Text:     chunks[i],
			Created:  full.Created,
			Modified: modified,
			Tags:     full.Tags,
		}
		if err := s.store.Insert(ctx, rec, vec); err != nil {
			log.Warn("inserting chunk failed", "chunk", i, "error", err)
			// Partial chunk sets must not survive; clear and record.
			if derr := s.store.DeleteAllChunks(ctx, title); derr != nil {
				log.Warn("clearing partial chunks failed", "error", derr)
			}
			s.recordError(ctx, title, modified, err)
			return false
		}
	}

	// Status is written only after every chunk row is in place.
	if err := s.store.SetStatus(ctx, store.SyncStatus{
		Title:        title,
		LastModified: modified,
		LastIndexed:  s.now(),
		TotalChunks:  len(chunks),
		Status:       store.StatusIndexed,
	}); err != nil {
		log.Warn("recording indexed status failed", "error", err)
		return false
	}

	log.Debug("tiddler indexed", "chunks", len(chunks))
	return true
}

func (s *Syncer) recordError(ctx context.Context, title, modified string, cause error) {
	if err := s.store.SetStatus(ctx, store.SyncStatus{
		Title:        title,
		LastModified: modified,
		LastIndexed:  s.now(),
		TotalChunks:  0,
		Status:       store.StatusError,
		ErrorMessage: cause.Error(),
	}); err != nil {
		s.logger.Warn("recording error status failed", "title", title, "error", err)
	}
}
