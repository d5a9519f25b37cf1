package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// GlobalStore is the cross-notebook registry: notebooks, their sources,
// per-notebook parsing settings, and chat history.
type GlobalStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenGlobal opens (or creates) the global database at path. An empty
// path opens an in-memory database for testing.
func OpenGlobal(path string) (*GlobalStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create global db directory: %w", err)
		}
		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("global_db_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("global db corrupted at %s and cannot remove: %w", path, removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open global db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	g := &GlobalStore{db: db}
	if err := g.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *GlobalStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notebooks (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TEXT,
			updated_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id                     TEXT PRIMARY KEY,
			notebook_id            TEXT REFERENCES notebooks(id) ON DELETE CASCADE,
			filename               TEXT,
			filepath               TEXT,
			file_kind              TEXT,
			size_bytes             INTEGER,
			status                 TEXT,
			is_enabled             INTEGER DEFAULT 1,
			has_docs               INTEGER DEFAULT 0,
			has_parsing            INTEGER DEFAULT 0,
			has_base               INTEGER DEFAULT 0,
			embeddings_status      TEXT,
			index_warning          TEXT,
			sort_order             INTEGER DEFAULT 0,
			added_at               TEXT,
			individual_config_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_notebook ON sources(notebook_id)`,
		`CREATE TABLE IF NOT EXISTS parsing_settings (
			notebook_id   TEXT PRIMARY KEY,
			settings_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id          TEXT PRIMARY KEY,
			notebook_id TEXT REFERENCES notebooks(id) ON DELETE CASCADE,
			role        TEXT,
			content     TEXT,
			created_at  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_notebook ON chat_messages(notebook_id)`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate global db: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (g *GlobalStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.db.Close()
}

// ============================================================================
// Notebooks
// ============================================================================

// CreateNotebook inserts a notebook row.
func (g *GlobalStore) CreateNotebook(nb model.Notebook) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`INSERT INTO notebooks(id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		nb.ID, nb.Title, nb.CreatedAt.UTC().Format(time.RFC3339), nb.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// GetNotebook fetches one notebook by id.
func (g *GlobalStore) GetNotebook(id string) (model.Notebook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var nb model.Notebook
	var created, updated string
	err := g.db.QueryRow(`SELECT id, title, created_at, updated_at FROM notebooks WHERE id = ?`, id).
		Scan(&nb.ID, &nb.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nb, ragerrors.NotFound("notebook", id)
	}
	if err != nil {
		return nb, err
	}
	nb.CreatedAt = parseTime(created)
	nb.UpdatedAt = parseTime(updated)
	return nb, nil
}

// ListNotebooks returns all notebooks ordered by creation time.
func (g *GlobalStore) ListNotebooks() ([]model.Notebook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.db.Query(`SELECT id, title, created_at, updated_at FROM notebooks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notebook
	for rows.Next() {
		var nb model.Notebook
		var created, updated string
		if err := rows.Scan(&nb.ID, &nb.Title, &created, &updated); err != nil {
			return nil, err
		}
		nb.CreatedAt = parseTime(created)
		nb.UpdatedAt = parseTime(updated)
		out = append(out, nb)
	}
	return out, rows.Err()
}

// RenameNotebook updates a notebook's title and bumps updated_at.
func (g *GlobalStore) RenameNotebook(id, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, err := g.db.Exec(`UPDATE notebooks SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ragerrors.NotFound("notebook", id)
	}
	return nil
}

// TouchNotebook bumps updated_at.
func (g *GlobalStore) TouchNotebook(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`UPDATE notebooks SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// DeleteNotebook removes a notebook with its sources, settings, and
// chat history.
func (g *GlobalStore) DeleteNotebook(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sources WHERE notebook_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM parsing_settings WHERE notebook_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE notebook_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM notebooks WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ============================================================================
// Sources
// ============================================================================

// UpsertSource inserts or replaces a source row.
func (g *GlobalStore) UpsertSource(src model.Source) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var overrideJSON any
	if src.Override != nil {
		raw, err := json.Marshal(src.Override)
		if err != nil {
			return err
		}
		overrideJSON = string(raw)
	}

	_, err := g.db.Exec(`INSERT INTO sources
		(id, notebook_id, filename, filepath, file_kind, size_bytes, status, is_enabled,
		 has_docs, has_parsing, has_base,
		 embeddings_status, index_warning, sort_order, added_at, individual_config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notebook_id            = excluded.notebook_id,
			filename               = excluded.filename,
			filepath               = excluded.filepath,
			file_kind              = excluded.file_kind,
			size_bytes             = excluded.size_bytes,
			status                 = excluded.status,
			is_enabled             = excluded.is_enabled,
			has_docs               = excluded.has_docs,
			has_parsing            = excluded.has_parsing,
			has_base               = excluded.has_base,
			embeddings_status      = excluded.embeddings_status,
			index_warning          = excluded.index_warning,
			sort_order             = excluded.sort_order,
			individual_config_json = excluded.individual_config_json`,
		src.ID, src.NotebookID, src.Filename, src.Filepath, src.FileKind, src.SizeBytes,
		string(src.Status), boolInt(src.IsEnabled),
		boolInt(src.HasDocs), boolInt(src.HasParsing), boolInt(src.HasBase),
		string(src.EmbeddingsStatus), nullString(src.IndexWarning), src.SortOrder,
		src.AddedAt.UTC().Format(time.RFC3339), overrideJSON)
	return err
}

// SetSourceFlags updates the three presence markers of a source.
func (g *GlobalStore) SetSourceFlags(id string, hasDocs, hasParsing, hasBase bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`UPDATE sources SET has_docs = ?, has_parsing = ?, has_base = ? WHERE id = ?`,
		boolInt(hasDocs), boolInt(hasParsing), boolInt(hasBase), id)
	return err
}

// GetSource fetches one source by id.
func (g *GlobalStore) GetSource(id string) (model.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	row := g.db.QueryRow(sourceSelect+` WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return src, ragerrors.NotFound("source", id)
	}
	return src, err
}

// ListSources returns a notebook's sources ordered by (sort_order, added_at).
func (g *GlobalStore) ListSources(notebookID string) ([]model.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.db.Query(sourceSelect+` WHERE notebook_id = ? ORDER BY sort_order, added_at, id`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteSource removes one source row.
func (g *GlobalStore) DeleteSource(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`DELETE FROM sources WHERE id = ?`, id)
	return err
}

// SetSourceStatus updates lifecycle status and optional warning.
func (g *GlobalStore) SetSourceStatus(id string, status model.SourceStatus, warning string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`UPDATE sources SET status = ?, index_warning = ? WHERE id = ?`,
		string(status), nullString(warning), id)
	return err
}

// SetSourceEmbeddings updates the embeddings availability marker.
func (g *GlobalStore) SetSourceEmbeddings(id string, st model.EmbeddingsStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`UPDATE sources SET embeddings_status = ? WHERE id = ?`, string(st), id)
	return err
}

// SetSourceEnabled flips a source's retrieval visibility flag.
func (g *GlobalStore) SetSourceEnabled(id string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`UPDATE sources SET is_enabled = ? WHERE id = ?`, boolInt(enabled), id)
	return err
}

// SetSourceOverride replaces the per-source parsing override; nil clears it.
func (g *GlobalStore) SetSourceOverride(id string, ov *model.ParsingOverride) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var raw any
	if ov != nil {
		data, err := json.Marshal(ov)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := g.db.Exec(`UPDATE sources SET individual_config_json = ? WHERE id = ?`, raw, id)
	return err
}

// MaxSortOrder returns the highest sort_order in a notebook (0 when empty).
func (g *GlobalStore) MaxSortOrder(notebookID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var max sql.NullInt64
	err := g.db.QueryRow(`SELECT MAX(sort_order) FROM sources WHERE notebook_id = ?`, notebookID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// ReorderSources applies an explicit id ordering; ids absent from the
// list keep their relative order after the listed ones.
func (g *GlobalStore) ReorderSources(notebookID string, orderedIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pos := 1
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := tx.Exec(`UPDATE sources SET sort_order = ? WHERE id = ? AND notebook_id = ?`,
			pos, id, notebookID); err != nil {
			return err
		}
		pos++
	}

	rows, err := tx.Query(`SELECT id FROM sources WHERE notebook_id = ? ORDER BY sort_order, added_at, id`, notebookID)
	if err != nil {
		return err
	}
	var rest []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range rest {
		if _, err := tx.Exec(`UPDATE sources SET sort_order = ? WHERE id = ?`, pos, id); err != nil {
			return err
		}
		pos++
	}
	return tx.Commit()
}

// RenumberSortOrders compacts sort_order to a dense 1..N sequence in
// the current display order.
func (g *GlobalStore) RenumberSortOrders(notebookID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM sources WHERE notebook_id = ? ORDER BY sort_order, added_at, id`, notebookID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE sources SET sort_order = ? WHERE id = ?`, i+1, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ============================================================================
// Parsing settings
// ============================================================================

// SaveParsingSettings stores a notebook's parser configuration.
func (g *GlobalStore) SaveParsingSettings(notebookID string, settings model.ParsingSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = g.db.Exec(`INSERT INTO parsing_settings(notebook_id, settings_json) VALUES (?, ?)
		ON CONFLICT(notebook_id) DO UPDATE SET settings_json = excluded.settings_json`,
		notebookID, string(raw))
	return err
}

// GetParsingSettings returns a notebook's parser configuration, falling
// back to defaults when none was saved.
func (g *GlobalStore) GetParsingSettings(notebookID string) (model.ParsingSettings, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var raw string
	err := g.db.QueryRow(`SELECT settings_json FROM parsing_settings WHERE notebook_id = ?`, notebookID).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.DefaultParsingSettings(), nil
	}
	if err != nil {
		return model.ParsingSettings{}, err
	}

	settings := model.DefaultParsingSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return model.DefaultParsingSettings(), nil
	}
	return settings, nil
}

// ============================================================================
// Chat history
// ============================================================================

// AppendChatMessage stores one chat turn.
func (g *GlobalStore) AppendChatMessage(msg model.ChatMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`INSERT INTO chat_messages(id, notebook_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.NotebookID, msg.Role, msg.Content, msg.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

// ChatHistory returns a notebook's chat messages oldest first.
func (g *GlobalStore) ChatHistory(notebookID string) ([]model.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.db.Query(`SELECT id, notebook_id, role, content, created_at
		FROM chat_messages WHERE notebook_id = ? ORDER BY created_at, id`, notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		var created string
		if err := rows.Scan(&m.ID, &m.NotebookID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearChatHistory deletes a notebook's chat messages.
func (g *GlobalStore) ClearChatHistory(notebookID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`DELETE FROM chat_messages WHERE notebook_id = ?`, notebookID)
	return err
}

// DeleteChatMessage removes one message.
func (g *GlobalStore) DeleteChatMessage(notebookID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`DELETE FROM chat_messages WHERE notebook_id = ? AND id = ?`, notebookID, messageID)
	return err
}

// ============================================================================
// Scan helpers
// ============================================================================

const sourceSelect = `SELECT id, notebook_id, filename, filepath, file_kind, size_bytes,
	status, is_enabled, has_docs, has_parsing, has_base,
	COALESCE(embeddings_status, ''), COALESCE(index_warning, ''),
	sort_order, added_at, individual_config_json FROM sources`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (model.Source, error) {
	var src model.Source
	var enabled, hasDocs, hasParsing, hasBase int
	var added string
	var status, embStatus string
	var overrideJSON sql.NullString

	err := row.Scan(&src.ID, &src.NotebookID, &src.Filename, &src.Filepath, &src.FileKind,
		&src.SizeBytes, &status, &enabled, &hasDocs, &hasParsing, &hasBase,
		&embStatus, &src.IndexWarning,
		&src.SortOrder, &added, &overrideJSON)
	if err != nil {
		return src, err
	}

	src.Status = model.SourceStatus(status)
	src.EmbeddingsStatus = model.EmbeddingsStatus(embStatus)
	src.IsEnabled = enabled != 0
	src.HasDocs = hasDocs != 0
	src.HasParsing = hasParsing != 0
	src.HasBase = hasBase != 0
	src.AddedAt = parseTime(added)

	if overrideJSON.Valid && overrideJSON.String != "" {
		var ov model.ParsingOverride
		if err := json.Unmarshal([]byte(overrideJSON.String), &ov); err == nil {
			src.Override = &ov
		}
	}
	return src, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
