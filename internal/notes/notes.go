// Package notes persists saved citations (per notebook) and global
// notes (cross-notebook) as one JSON file per record.
package notes

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CitationLocation points into the cited source.
type CitationLocation struct {
	Page      *int    `json:"page"`
	Sheet     string  `json:"sheet,omitempty"`
	Paragraph *string `json:"paragraph"`
}

// SavedCitation is a citation the user pinned from a chat answer.
type SavedCitation struct {
	ID         string           `json:"id"`
	NotebookID string           `json:"notebook_id"`
	SourceID   string           `json:"source_id"`
	Filename   string           `json:"filename"`
	DocOrder   int              `json:"doc_order"`
	ChunkText  string           `json:"chunk_text"`
	Location   CitationLocation `json:"location"`
	CreatedAt  string           `json:"created_at"`
	// SourceNotebookID records which notebook owns the cited source.
	SourceNotebookID string `json:"source_notebook_id"`
	SourceType       string `json:"source_type"`
}

// GlobalNote is a cross-notebook note saved from a chat answer.
type GlobalNote struct {
	ID                  string           `json:"id"`
	Content             string           `json:"content"`
	SourceNotebookID    string           `json:"source_notebook_id"`
	SourceNotebookTitle string           `json:"source_notebook_title"`
	CreatedAt           string           `json:"created_at"`
	SourceRefs          []map[string]any `json:"source_refs"`
}

// SaveCitationInput is the user payload for saving a citation.
type SaveCitationInput struct {
	SourceID         string `json:"source_id"`
	Filename         string `json:"filename"`
	DocOrder         int    `json:"doc_order"`
	ChunkText        string `json:"chunk_text"`
	Page             *int   `json:"page"`
	Sheet            string `json:"sheet"`
	SourceNotebookID string `json:"source_notebook_id"`
	SourceType       string `json:"source_type"`
}

// Store reads and writes citation and note files.
type Store struct {
	citationsDir string
	notesDir     string
	logger       *slog.Logger
}

// NewStore creates a file-backed notes store.
func NewStore(citationsDir, notesDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{citationsDir: citationsDir, notesDir: notesDir, logger: logger}
}

func (s *Store) citationPath(notebookID, citationID string) string {
	return filepath.Join(s.citationsDir, notebookID, citationID+".json")
}

// ListCitations returns a notebook's saved citations ordered by file name.
func (s *Store) ListCitations(notebookID string) ([]SavedCitation, error) {
	dir := filepath.Join(s.citationsDir, notebookID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []SavedCitation{}, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := []SavedCitation{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var c SavedCitation
		if err := json.Unmarshal(data, &c); err != nil {
			s.logger.Warn("citation_file_invalid", slog.String("file", e.Name()))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// SaveCitation persists a new citation and returns it.
func (s *Store) SaveCitation(notebookID string, in SaveCitationInput) (SavedCitation, error) {
	sourceType := in.SourceType
	if sourceType == "" {
		sourceType = "notebook"
	}
	c := SavedCitation{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		SourceID:   in.SourceID,
		Filename:   in.Filename,
		DocOrder:   in.DocOrder,
		ChunkText:  in.ChunkText,
		Location: CitationLocation{
			Page:  in.Page,
			Sheet: in.Sheet,
		},
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		SourceNotebookID: in.SourceNotebookID,
		SourceType:       sourceType,
	}

	path := s.citationPath(notebookID, c.ID)
	if err := writeJSON(path, c); err != nil {
		return SavedCitation{}, err
	}
	return c, nil
}

// DeleteCitation removes one citation; false when it does not exist.
func (s *Store) DeleteCitation(notebookID, citationID string) (bool, error) {
	path := s.citationPath(notebookID, citationID)
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCitationsForSource drops every citation pointing at a source.
// Called when the source is deleted.
func (s *Store) DeleteCitationsForSource(notebookID, sourceID string) error {
	citations, err := s.ListCitations(notebookID)
	if err != nil {
		return err
	}
	for _, c := range citations {
		if c.SourceID == sourceID {
			_ = os.Remove(s.citationPath(notebookID, c.ID))
		}
	}
	return nil
}

// DeleteCitationsForNotebook drops the notebook's citation directory.
func (s *Store) DeleteCitationsForNotebook(notebookID string) error {
	return os.RemoveAll(filepath.Join(s.citationsDir, notebookID))
}

func (s *Store) notePath(noteID string) string {
	return filepath.Join(s.notesDir, noteID+".json")
}

// ListNotes returns all global notes ordered by file name.
func (s *Store) ListNotes() ([]GlobalNote, error) {
	entries, err := os.ReadDir(s.notesDir)
	if os.IsNotExist(err) {
		return []GlobalNote{}, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := []GlobalNote{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.notesDir, e.Name()))
		if err != nil {
			continue
		}
		var n GlobalNote
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Warn("note_file_invalid", slog.String("file", e.Name()))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// SaveNote persists a new global note and returns it.
func (s *Store) SaveNote(content, sourceNotebookID, sourceNotebookTitle string, sourceRefs []map[string]any) (GlobalNote, error) {
	if sourceRefs == nil {
		sourceRefs = []map[string]any{}
	}
	n := GlobalNote{
		ID:                  uuid.NewString(),
		Content:             content,
		SourceNotebookID:    sourceNotebookID,
		SourceNotebookTitle: sourceNotebookTitle,
		CreatedAt:           time.Now().UTC().Format(time.RFC3339),
		SourceRefs:          sourceRefs,
	}
	if err := writeJSON(s.notePath(n.ID), n); err != nil {
		return GlobalNote{}, err
	}
	return n, nil
}

// DeleteNote removes one note; false when it does not exist.
func (s *Store) DeleteNote(noteID string) (bool, error) {
	err := os.Remove(s.notePath(noteID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
