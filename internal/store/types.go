// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

package store

import "time"

// SentinelModified replaces an absent modified token in the sync ledger.
// It is shaped like a TiddlyWiki timestamp (YYYYMMDDHHMMSSmmm) and sorts
// lexically below any real one. Storing the sentinel instead of an empty
// string keeps absent-vs-empty comparisons from re-triggering indexing
// every cycle.
const SentinelModified = "00000000000000000"

// NormalizeModified maps an absent modified token to the sentinel.
func NormalizeModified(token string) string {
	if token == "" {
		return SentinelModified
	}
	return token
}

// Status is the outcome of the last processing attempt for a tiddler.
type Status string

const (
	// StatusIndexed means chunks were embedded and stored.
	StatusIndexed Status = "indexed"
	// StatusEmpty means the tiddler had no text at the recorded version.
	// Terminal until the modified token changes.
	StatusEmpty Status = "empty"
	// StatusError means processing failed; retried after a cooldown.
	StatusError Status = "error"
)

// SyncStatus is the per-tiddler ledger entry recording which version was
// last processed and how it went. One record per title, overwritten in
// place on every attempt.
type SyncStatus struct {
	Title        string
	LastModified string // normalized: never empty
	LastIndexed  time.Time
	TotalChunks  int
	Status       Status
	ErrorMessage string // set iff Status == StatusError
}

// ChunkRecord is one embedded slice of a tiddler's text. ChunkID is a
// zero-based sequence number unique within a title; a re-index discards
// and reassigns all chunk ids for that title.
type ChunkRecord struct {
	Title    string
	ChunkID  int
	Text     string
	Created  string
	Modified string
	Tags     []string
}

// VectorHit is a nearest-neighbor result. Distance is the store's native
// metric (smaller = more similar).
type VectorHit struct {
	ChunkRecord
	Distance float64
}
