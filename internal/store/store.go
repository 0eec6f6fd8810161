// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package store defines the vector store and sync-status ledger shared by
// the reconciliation loop and the hybrid query handler. Implementations
// must be safe for concurrent use: queries run while a sync cycle is
// mid-flight, with eventual consistency as the accepted tradeoff.
package store

import "context"

// VectorStore persists embedded chunks plus the per-tiddler sync ledger
// and answers approximate nearest-neighbor queries.
type VectorStore interface {
	// Insert appends one chunk row. It never overwrites; callers delete
	// stale rows for the title first. An embedding whose length differs
	// from Dimensions fails with a dimension-mismatch error.
	Insert(ctx context.Context, rec ChunkRecord, embedding []float32) error

	// DeleteAllChunks removes every chunk row for title. Idempotent.
	DeleteAllChunks(ctx context.Context, title string) error

	// DeleteDocument removes the tiddler's chunks and its sync-status
	// record in one cascade. Idempotent.
	DeleteDocument(ctx context.Context, title string) error

	// NearestNeighbors returns up to k hits ascending by distance; empty
	// when the store holds no vectors.
	NearestNeighbors(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// GetStatus returns the ledger entry for title, or a not-found error
	// when none exists.
	GetStatus(ctx context.Context, title string) (*SyncStatus, error)

	// SetStatus upserts the ledger entry, overwriting all fields. The
	// modified token is normalized before storage.
	SetStatus(ctx context.Context, status SyncStatus) error

	// ListStatuses returns every ledger entry keyed by title.
	ListStatuses(ctx context.Context) (map[string]*SyncStatus, error)

	// CountDocuments and CountChunks are cheap aggregates for health
	// reporting.
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// Dimensions is the fixed embedding length accepted by Insert.
	Dimensions() int

	Close() error
}
