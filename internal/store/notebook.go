// Package store persists notebooks, sources, documents, chunks, FTS
// rows, and dense vectors in SQLite. Each notebook owns one database
// file; a single global file registers notebooks and sources.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Bezzdar/local-rag/internal/model"
)

// NotebookStore is one notebook's database. A single connection
// guarded by a mutex: writes dominate during ingestion and readers
// are short.
type NotebookStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// SearchRow is one retrieval candidate.
type SearchRow struct {
	ChunkRowID    int64
	ChunkID       string
	DocID         string
	SourceID      string
	Filename      string
	ChunkIndex    int
	PageNumber    int
	ChunkType     string
	SectionHeader string
	Text          string
	Score         float64
}

// Filter narrows retrieval visibility.
type Filter struct {
	// SelectedSourceIDs restricts to these sources when non-empty.
	SelectedSourceIDs []string
	// IncludeDisabledTagged keeps documents carrying a disabled tag.
	IncludeDisabledTagged bool
}

// validateIntegrity runs PRAGMA integrity_check before opening an
// existing file. Corrupted databases are cleared and rebuilt.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenNotebook opens (or creates) the notebook database at path.
// An empty path opens an in-memory database for testing.
func OpenNotebook(path string) (*NotebookStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create notebook db directory: %w", err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("notebook_db_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("notebook db corrupted at %s and cannot remove: %w", path, removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open notebook db: %w", err)
	}

	// Single writer prevents lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &NotebookStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies idempotent schema creation plus tolerant column adds
// for databases written by earlier versions.
func (s *NotebookStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id       TEXT PRIMARY KEY,
			source_id    TEXT,
			filename     TEXT,
			filepath     TEXT,
			file_hash    TEXT,
			size_bytes   INTEGER,
			title        TEXT,
			authors_json TEXT,
			year         INTEGER,
			source       TEXT,
			is_enabled   INTEGER DEFAULT 1,
			is_indexed   INTEGER DEFAULT 0,
			index_error  TEXT,
			created_at   TEXT,
			indexed_at   TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id       TEXT PRIMARY KEY,
			doc_id         TEXT REFERENCES documents(doc_id) ON DELETE CASCADE,
			chunk_index    INTEGER,
			page_number    INTEGER,
			chunk_type     TEXT,
			section_header TEXT,
			parent_header  TEXT,
			chunk_text     TEXT,
			is_enabled     INTEGER DEFAULT 1,
			token_count    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_text,
			content='chunks',
			content_rowid='rowid'
		)`,
		`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_rowid    INTEGER PRIMARY KEY,
			embedding_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			tag        TEXT PRIMARY KEY,
			is_enabled INTEGER DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS document_tags (
			doc_id TEXT,
			tag    TEXT,
			PRIMARY KEY (doc_id, tag)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate notebook db: %w", err)
		}
	}

	// Upgrade columns; "duplicate column" failures are expected.
	for _, alter := range []string{
		`ALTER TABLE chunks ADD COLUMN embedding_text TEXT`,
		`ALTER TABLE chunks ADD COLUMN parent_chunk_id TEXT`,
	} {
		if _, err := s.db.Exec(alter); err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("migrate notebook db: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *NotebookStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the backing file path (empty for in-memory stores).
func (s *NotebookStore) Path() string { return s.path }

// UpsertDocument atomically replaces a document and all of its chunks,
// FTS rows, embeddings, and tags. A crashed write leaves either the
// old or the new version, never a mix.
func (s *NotebookStore) UpsertDocument(meta model.DocumentMetadata, chunks []model.EmbeddedChunk, tags []string, isEnabled bool, indexErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	indexed := int(model.IndexOK)
	if indexErr != "" {
		indexed = int(model.IndexError)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = tx.Exec(`INSERT INTO documents
		(doc_id, source_id, filename, filepath, file_hash, size_bytes, title, is_enabled, is_indexed, index_error, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			source_id   = excluded.source_id,
			filename    = excluded.filename,
			filepath    = excluded.filepath,
			file_hash   = excluded.file_hash,
			size_bytes  = excluded.size_bytes,
			title       = excluded.title,
			is_enabled  = excluded.is_enabled,
			is_indexed  = excluded.is_indexed,
			index_error = excluded.index_error,
			indexed_at  = excluded.indexed_at`,
		meta.DocID, meta.SourceID, meta.Filename, meta.Filepath, meta.FileHash,
		meta.SizeBytes, meta.Filename, boolInt(isEnabled), indexed, nullString(indexErr), now, now)
	if err != nil {
		return fmt.Errorf("upsert document row: %w", err)
	}

	// Drop prior FTS rows through the external-content delete idiom,
	// then embeddings and chunk rows.
	if _, err := tx.Exec(`INSERT INTO chunks_fts(chunks_fts, rowid, chunk_text)
		SELECT 'delete', rowid, chunk_text FROM chunks WHERE doc_id = ?`, meta.DocID); err != nil {
		return fmt.Errorf("delete fts rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_rowid IN
		(SELECT rowid FROM chunks WHERE doc_id = ?)`, meta.DocID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, meta.DocID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	insertChunk, err := tx.Prepare(`INSERT INTO chunks
		(chunk_id, doc_id, chunk_index, page_number, chunk_type, section_header, parent_header, chunk_text, is_enabled, token_count, embedding_text, parent_chunk_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertChunk.Close()

	for _, c := range chunks {
		res, err := insertChunk.Exec(c.ChunkID, meta.DocID, c.ChunkIndex, c.PageNumber,
			string(c.ChunkType), nullString(c.SectionHeader), nullString(c.ParentHeader),
			c.Text, c.TokenCount, nullString(c.EmbeddingText), nullString(c.ParentChunkID))
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`INSERT INTO chunks_fts(rowid, chunk_text) VALUES (?, ?)`, rowid, c.Text); err != nil {
			return fmt.Errorf("insert fts row: %w", err)
		}

		if len(c.Vector) > 0 {
			vecJSON, err := json.Marshal(c.Vector)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO chunk_embeddings(chunk_rowid, embedding_json) VALUES (?, ?)`,
				rowid, string(vecJSON)); err != nil {
				return fmt.Errorf("insert embedding row: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM document_tags WHERE doc_id = ?`, meta.DocID); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tags(tag, is_enabled) VALUES (?, 1)`, tag); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO document_tags(doc_id, tag) VALUES (?, ?)`, meta.DocID, tag); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document with its chunks, FTS rows,
// embeddings, and tag links.
func (s *NotebookStore) DeleteDocument(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO chunks_fts(chunks_fts, rowid, chunk_text)
		SELECT 'delete', rowid, chunk_text FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chunk_embeddings WHERE chunk_rowid IN
		(SELECT rowid FROM chunks WHERE doc_id = ?)`, docID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM document_tags WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDocumentEnabled flips a document's retrieval visibility.
func (s *NotebookStore) SetDocumentEnabled(docID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE documents SET is_enabled = ? WHERE doc_id = ?`, boolInt(enabled), docID)
	return err
}

// SetTagEnabled flips a tag. Documents carrying any disabled tag drop
// out of retrieval.
func (s *NotebookStore) SetTagEnabled(tag string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO tags(tag, is_enabled) VALUES (?, ?)
		ON CONFLICT(tag) DO UPDATE SET is_enabled = excluded.is_enabled`, tag, boolInt(enabled))
	return err
}

// ChunkCount returns the number of chunks stored for a document.
func (s *NotebookStore) ChunkCount(docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, docID).Scan(&n)
	return n, err
}

// HasNonZeroVector reports whether any of the document's embeddings
// has a non-zero component.
func (s *NotebookStore) HasNonZeroVector(docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT e.embedding_json FROM chunk_embeddings e
		JOIN chunks c ON c.rowid = e.chunk_rowid WHERE c.doc_id = ?`, docID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		for _, x := range vec {
			if x != 0 {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

// visibilityClause builds the shared WHERE fragment for retrieval.
func visibilityClause(filter Filter) (string, []any) {
	clause := ` AND d.is_enabled = 1 AND c.is_enabled = 1`
	var args []any

	if len(filter.SelectedSourceIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.SelectedSourceIDs))
		clause += ` AND d.source_id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range filter.SelectedSourceIDs {
			args = append(args, id)
		}
	}

	if !filter.IncludeDisabledTagged {
		clause += ` AND NOT EXISTS (
			SELECT 1 FROM document_tags dt
			JOIN tags t ON t.tag = dt.tag
			WHERE dt.doc_id = d.doc_id AND t.is_enabled = 0)`
	}
	return clause, args
}

const searchSelect = `SELECT c.rowid, c.chunk_id, c.doc_id, d.source_id, d.filename,
	c.chunk_index, COALESCE(c.page_number, 0), c.chunk_type, COALESCE(c.section_header, ''), c.chunk_text`

// SearchFTS runs the lexical fallback chain: BM25 match, then LIKE
// OR-terms, then a newest-rows listing. The engine never returns empty
// while visible chunks exist.
func (s *NotebookStore) SearchFTS(query string, limit int, filter Filter) ([]SearchRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	clause, clauseArgs := visibilityClause(filter)

	if terms := splitTerms(query); len(terms) > 0 {
		match := ftsQuery(terms)
		args := append([]any{match}, clauseArgs...)
		args = append(args, limit)
		rows, err := s.queryRows(searchSelect+`, -bm25(chunks_fts) AS score
			FROM chunks_fts f
			JOIN chunks c ON c.rowid = f.rowid
			JOIN documents d ON d.doc_id = c.doc_id
			WHERE chunks_fts MATCH ?`+clause+`
			ORDER BY bm25(chunks_fts) LIMIT ?`, args...)
		if err == nil && len(rows) > 0 {
			return rows, nil
		}

		// LIKE fallback across OR-terms.
		likeClause := make([]string, len(terms))
		likeArgs := make([]any, 0, len(terms)+len(clauseArgs)+1)
		for i, t := range terms {
			likeClause[i] = "c.chunk_text LIKE ?"
			likeArgs = append(likeArgs, "%"+t+"%")
		}
		likeArgs = append(likeArgs, clauseArgs...)
		likeArgs = append(likeArgs, limit)
		rows, err = s.queryRows(searchSelect+`, 0.0 AS score
			FROM chunks c
			JOIN documents d ON d.doc_id = c.doc_id
			WHERE (`+strings.Join(likeClause, " OR ")+`)`+clause+`
			ORDER BY c.rowid DESC LIMIT ?`, likeArgs...)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}

	// Raw newest-rows listing: empty queries and unmatched terms still
	// surface content from the selected sources.
	args := append(clauseArgs, limit)
	return s.queryRows(searchSelect+`, 0.0 AS score
		FROM chunks c
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE 1=1`+clause+`
		ORDER BY c.rowid DESC LIMIT ?`, args...)
}

// SearchVector scans all visible embeddings and returns the top-K by
// cosine similarity. Brute force is deliberate at target scale.
func (s *NotebookStore) SearchVector(queryVec []float32, topK int, filter Filter) ([]SearchRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(queryVec) == 0 || topK <= 0 {
		return nil, nil
	}
	clause, clauseArgs := visibilityClause(filter)

	rows, err := s.db.Query(searchSelect+`, e.embedding_json
		FROM chunk_embeddings e
		JOIN chunks c ON c.rowid = e.chunk_rowid
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE 1=1`+clause, clauseArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []SearchRow
	for rows.Next() {
		var r SearchRow
		var raw string
		if err := rows.Scan(&r.ChunkRowID, &r.ChunkID, &r.DocID, &r.SourceID, &r.Filename,
			&r.ChunkIndex, &r.PageNumber, &r.ChunkType, &r.SectionHeader, &r.Text, &raw); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		r.Score = cosineSimilarity(queryVec, vec)
		if r.Score > 0 {
			scored = append(scored, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// RemapDocID rewrites a document id across all tables. Used after a
// notebook database file is copied during duplication.
func (s *NotebookStore) RemapDocID(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE documents SET doc_id = ? WHERE doc_id = ?`, newID, oldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE chunks SET doc_id = ? WHERE doc_id = ?`, newID, oldID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE document_tags SET doc_id = ? WHERE doc_id = ?`, newID, oldID); err != nil {
		return err
	}
	return tx.Commit()
}

// DocIDs lists the document ids present in the store.
func (s *NotebookStore) DocIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT doc_id FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *NotebookStore) queryRows(query string, args ...any) ([]SearchRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		if err := rows.Scan(&r.ChunkRowID, &r.ChunkID, &r.DocID, &r.SourceID, &r.Filename,
			&r.ChunkIndex, &r.PageNumber, &r.ChunkType, &r.SectionHeader, &r.Text, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// cosineSimilarity computes the cosine of two vectors; mismatched
// lengths score zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ftsQuery quotes each term so punctuation cannot break MATCH syntax.
func ftsQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

func splitTerms(query string) []string {
	var out []string
	for _, t := range strings.Fields(query) {
		t = strings.Trim(t, `"'.,;:!?()[]{}`)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
