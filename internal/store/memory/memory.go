// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package memory implements store.VectorStore with brute-force euclidean
// search over in-process slices. It backs tests and deployments where the
// cgo sqlite-vec extension is unavailable; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tidvec-dev/tidvec/internal/store"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

// Compile-time interface check.
var _ store.VectorStore = (*Store)(nil)

type entry struct {
	rec store.ChunkRecord
	vec []float32
}

// Store is an in-memory store.VectorStore.
type Store struct {
	mu         sync.RWMutex
	dimensions int
	chunks     map[string][]entry // keyed by title
	statuses   map[string]store.SyncStatus
}

// New creates an empty in-memory store with fixed dimensions.
func New(dimensions int) *Store {
	return &Store{
		dimensions: dimensions,
		chunks:     make(map[string][]entry),
		statuses:   make(map[string]store.SyncStatus),
	}
}

// Dimensions returns the fixed embedding length accepted by Insert.
func (s *Store) Dimensions() int { return s.dimensions }

// Insert appends one chunk row.
func (s *Store) Insert(_ context.Context, rec store.ChunkRecord, embedding []float32) error {
	if len(embedding) != s.dimensions {
		return tidvecerr.New(tidvecerr.CodeStoreDimensionMismatch,
			fmt.Sprintf("embedding has %d dimensions, store expects %d", len(embedding), s.dimensions),
			tidvecerr.FieldTitle(rec.Title),
		)
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[rec.Title] = append(s.chunks[rec.Title], entry{rec: rec, vec: vec})
	return nil
}

// DeleteAllChunks removes every chunk row for title. Idempotent.
func (s *Store) DeleteAllChunks(_ context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, title)
	return nil
}

// DeleteDocument removes the tiddler's chunks and its ledger entry.
func (s *Store) DeleteDocument(_ context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, title)
	delete(s.statuses, title)
	return nil
}

// NearestNeighbors returns up to k hits ascending by euclidean distance.
func (s *Store) NearestNeighbors(_ context.Context, query []float32, k int) ([]store.VectorHit, error) {
	if len(query) != s.dimensions {
		return nil, tidvecerr.New(tidvecerr.CodeStoreDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, store expects %d", len(query), s.dimensions))
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	var hits []store.VectorHit
	for _, entries := range s.chunks {
		for _, e := range entries {
			hits = append(hits, store.VectorHit{ChunkRecord: e.rec, Distance: l2Distance(query, e.vec)})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// GetStatus returns the ledger entry for title.
func (s *Store) GetStatus(_ context.Context, title string) (*store.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[title]
	if !ok {
		return nil, tidvecerr.New(tidvecerr.CodeStoreStatusNotFound, "no sync status for "+title, tidvecerr.FieldTitle(title))
	}
	out := st
	return &out, nil
}

// SetStatus upserts the ledger entry, overwriting all fields.
func (s *Store) SetStatus(_ context.Context, status store.SyncStatus) error {
	status.LastModified = store.NormalizeModified(status.LastModified)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.Title] = status
	return nil
}

// ListStatuses returns a copy of every ledger entry keyed by title.
func (s *Store) ListStatuses(_ context.Context) (map[string]*store.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*store.SyncStatus, len(s.statuses))
	for title, st := range s.statuses {
		cp := st
		out[title] = &cp
	}
	return out, nil
}

// CountDocuments returns the number of ledger entries.
func (s *Store) CountDocuments(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.statuses)), nil
}

// CountChunks returns the number of stored chunk rows.
func (s *Store) CountChunks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, entries := range s.chunks {
		n += int64(len(entries))
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// l2Distance matches the euclidean metric the sqlite-vec backend uses,
// so similarity scores agree across store implementations.
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
