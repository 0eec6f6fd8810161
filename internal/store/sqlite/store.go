// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package sqlite implements store.VectorStore on SQLite with the
// sqlite-vec extension for nearest-neighbor search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tidvec-dev/tidvec/internal/store"
	tidvecerr "github.com/tidvec-dev/tidvec/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*Store)(nil)

// Store implements store.VectorStore backed by SQLite with sqlite-vec.
type Store struct {
	db         *sql.DB
	dimensions int
}

// Open opens (or creates) a SQLite database at dbPath and initialises the
// vec0 virtual table, the chunk metadata table, and the sync ledger.
func Open(dbPath string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreInvalidInput, "vector dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreOpenFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreOpenFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db, dimensions); err != nil {
		_ = db.Close()
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreOpenFailure, "migrating vector tables: %w", err)
	}

	return &Store{db: db, dimensions: dimensions}, nil
}

func migrate(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating chunk_vectors virtual table: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	chunk_id   INTEGER NOT NULL,
	chunk_text TEXT NOT NULL,
	created    TEXT NOT NULL DEFAULT '',
	modified   TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_chunks_title ON chunks(title);

CREATE TABLE IF NOT EXISTS sync_status (
	title         TEXT PRIMARY KEY,
	last_modified TEXT NOT NULL,
	last_indexed  TEXT NOT NULL,
	total_chunks  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
)`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("creating metadata tables: %w", err)
	}

	return nil
}

// chunkKey builds the shared primary key for the vec0 row and its
// metadata row.
func chunkKey(title string, chunkID int) string {
	return fmt.Sprintf("%s#%d", title, chunkID)
}

// Dimensions returns the fixed embedding length accepted by Insert.
func (s *Store) Dimensions() int { return s.dimensions }

// Insert appends one chunk row with its embedding.
func (s *Store) Insert(ctx context.Context, rec store.ChunkRecord, embedding []float32) error {
	if len(embedding) != s.dimensions {
		return tidvecerr.New(tidvecerr.CodeStoreDimensionMismatch,
			fmt.Sprintf("embedding has %d dimensions, store expects %d", len(embedding), s.dimensions),
			tidvecerr.FieldTitle(rec.Title),
		)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "serializing embedding: %w", err)
	}

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "marshalling tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := chunkKey(rec.Title, rec.ChunkID)

	if _, err := tx.ExecContext(ctx, `INSERT INTO chunk_vectors(id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "inserting vector %s: %w", id, err)
	}

	const metaQ = `INSERT INTO chunks(id, title, chunk_id, chunk_text, created, modified, tags)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, metaQ, id, rec.Title, rec.ChunkID, rec.Text, rec.Created, rec.Modified, string(tagsJSON)); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "inserting chunk %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "committing chunk insert: %w", err)
	}
	return nil
}

// DeleteAllChunks removes every chunk row for title. Idempotent.
func (s *Store) DeleteAllChunks(ctx context.Context, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteChunksTx(ctx, tx, title); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "committing chunk delete: %w", err)
	}
	return nil
}

// DeleteDocument removes the tiddler's chunks and its ledger entry.
func (s *Store) DeleteDocument(ctx context.Context, title string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteChunksTx(ctx, tx, title); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_status WHERE title = ?`, title); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "deleting sync status for %s: %w", title, err)
	}

	if err := tx.Commit(); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "committing document delete: %w", err)
	}
	return nil
}

func deleteChunksTx(ctx context.Context, tx *sql.Tx, title string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE title = ?`, title)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "listing chunk ids for %s: %w", title, err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "iterating chunk ids: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "deleting vectors for %s: %w", title, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE title = ?`, title); err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "deleting chunks for %s: %w", title, err)
	}

	return nil
}

// NearestNeighbors performs a k-nearest-neighbor search joined with the
// chunk metadata, ascending by distance.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int) ([]store.VectorHit, error) {
	if len(query) != s.dimensions {
		return nil, tidvecerr.New(tidvecerr.CodeStoreDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, store expects %d", len(query), s.dimensions))
	}
	if k <= 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}

	const q = `SELECT c.title, c.chunk_id, c.chunk_text, c.created, c.modified, c.tags, v.distance
FROM chunk_vectors v
JOIN chunks c ON c.id = v.id
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`

	rows, err := s.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "searching vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []store.VectorHit
	for rows.Next() {
		var h store.VectorHit
		var tagsJSON string

		if err := rows.Scan(&h.Title, &h.ChunkID, &h.Text, &h.Created, &h.Modified, &tagsJSON, &h.Distance); err != nil {
			return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "scanning search result: %w", err)
		}

		if tagsJSON != "" && tagsJSON != "[]" {
			if err := json.Unmarshal([]byte(tagsJSON), &h.Tags); err != nil {
				return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "unmarshalling tags: %w", err)
			}
		}

		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "iterating search results: %w", err)
	}

	return hits, nil
}

// GetStatus returns the ledger entry for title.
func (s *Store) GetStatus(ctx context.Context, title string) (*store.SyncStatus, error) {
	const q = `SELECT title, last_modified, last_indexed, total_chunks, status, error_message
FROM sync_status WHERE title = ?`

	st, err := scanStatus(s.db.QueryRowContext(ctx, q, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tidvecerr.New(tidvecerr.CodeStoreStatusNotFound, "no sync status for "+title, tidvecerr.FieldTitle(title))
	}
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "getting sync status for %s: %w", title, err)
	}
	return st, nil
}

// SetStatus upserts the ledger entry, overwriting all fields.
func (s *Store) SetStatus(ctx context.Context, status store.SyncStatus) error {
	const q = `INSERT INTO sync_status (title, last_modified, last_indexed, total_chunks, status, error_message)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(title) DO UPDATE SET
	last_modified = excluded.last_modified,
	last_indexed  = excluded.last_indexed,
	total_chunks  = excluded.total_chunks,
	status        = excluded.status,
	error_message = excluded.error_message`

	_, err := s.db.ExecContext(ctx, q,
		status.Title,
		store.NormalizeModified(status.LastModified),
		status.LastIndexed.UTC().Format(time.RFC3339Nano),
		status.TotalChunks,
		string(status.Status),
		status.ErrorMessage,
	)
	if err != nil {
		return tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "upserting sync status for %s: %w", status.Title, err)
	}
	return nil
}

// ListStatuses returns every ledger entry keyed by title.
func (s *Store) ListStatuses(ctx context.Context) (map[string]*store.SyncStatus, error) {
	const q = `SELECT title, last_modified, last_indexed, total_chunks, status, error_message FROM sync_status`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "listing sync statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	statuses := make(map[string]*store.SyncStatus)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "scanning sync status: %w", err)
		}
		statuses[st.Title] = st
	}
	if err := rows.Err(); err != nil {
		return nil, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "iterating sync statuses: %w", err)
	}

	return statuses, nil
}

// CountDocuments returns the number of ledger entries.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_status`).Scan(&n); err != nil {
		return 0, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "counting documents: %w", err)
	}
	return n, nil
}

// CountChunks returns the number of stored chunk rows.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, tidvecerr.Errorf(tidvecerr.CodeStoreDatabaseFailure, "counting chunks: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*store.SyncStatus, error) {
	var st store.SyncStatus
	var indexed, status string

	if err := row.Scan(&st.Title, &st.LastModified, &indexed, &st.TotalChunks, &status, &st.ErrorMessage); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, indexed)
	if err != nil {
		return nil, fmt.Errorf("parsing last_indexed %q: %w", indexed, err)
	}
	st.LastIndexed = t
	st.Status = store.Status(status)

	return &st, nil
}
