package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
)

// parsingPath is where a source's parsed chunks live on disk.
func (o *Orchestrator) parsingPath(notebookID, sourceID string) string {
	return filepath.Join(o.cfg.ParsingDir(notebookID), sourceID+".json")
}

// AddSource stores an uploaded file under the notebook's docs
// directory and registers it. Name collisions get a _N suffix. When
// the notebook's settings say auto-parse, indexing starts in the
// background.
func (o *Orchestrator) AddSource(notebookID, filename string, r io.Reader) (model.Source, error) {
	if _, err := o.global.GetNotebook(notebookID); err != nil {
		return model.Source{}, err
	}

	dir := o.cfg.DocsDir(notebookID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.Source{}, err
	}

	path := nextAvailablePath(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return model.Source{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return model.Source{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return model.Source{}, err
	}

	return o.AddSourceFromPath(notebookID, path)
}

// AddSourceFromPath registers an existing file as a notebook source.
func (o *Orchestrator) AddSourceFromPath(notebookID, path string) (model.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Source{}, ragerrors.NotFound("file", path)
	}

	settings, err := o.global.GetParsingSettings(notebookID)
	if err != nil {
		return model.Source{}, err
	}
	maxOrder, err := o.global.MaxSortOrder(notebookID)
	if err != nil {
		return model.Source{}, err
	}

	src := model.Source{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Filename:   filepath.Base(path),
		Filepath:   path,
		FileKind:   extract.FileKind(path),
		SizeBytes:  info.Size(),
		Status:     model.StatusNew,
		IsEnabled:  true,
		HasDocs:    true,
		SortOrder:  maxOrder + 1,
		AddedAt:    time.Now().UTC(),
	}
	if settings.AutoParseOnUpload {
		src.Status = model.StatusIndexing
	}

	if err := o.global.UpsertSource(src); err != nil {
		return model.Source{}, err
	}
	_ = o.global.TouchNotebook(notebookID)
	o.logger.Info("source_added",
		slog.String("notebook_id", notebookID),
		slog.String("source_id", src.ID),
		slog.String("filename", src.Filename))

	if settings.AutoParseOnUpload {
		o.startIndexing(src.ID)
	}
	return src, nil
}

// ReparseSource re-runs the extraction and indexing pipeline for a
// source in the background.
func (o *Orchestrator) ReparseSource(sourceID string) error {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return err
	}
	if !src.HasDocs {
		return ragerrors.ValidationError("source file was deleted, upload it again", nil)
	}
	if src.Status == model.StatusIndexing {
		return ragerrors.ValidationError("source is already being indexed", nil)
	}

	if err := o.global.SetSourceStatus(sourceID, model.StatusIndexing, ""); err != nil {
		return err
	}
	o.startIndexing(sourceID)
	return nil
}

// startIndexing spawns the background index worker for one source.
func (o *Orchestrator) startIndexing(sourceID string) {
	o.indexWG.Add(1)
	go func() {
		defer o.indexWG.Done()
		o.indexSource(context.Background(), sourceID)
	}()
}

// WaitForIndexing blocks until all background index workers finish.
func (o *Orchestrator) WaitForIndexing() {
	o.indexWG.Wait()
}

// ListSources returns a notebook's sources in display order.
func (o *Orchestrator) ListSources(notebookID string) ([]model.Source, error) {
	return o.global.ListSources(notebookID)
}

// GetSource returns one source.
func (o *Orchestrator) GetSource(sourceID string) (model.Source, error) {
	return o.global.GetSource(sourceID)
}

// SourceFilePath returns the on-disk path of a source's original file,
// or an error when the file is gone.
func (o *Orchestrator) SourceFilePath(sourceID string) (string, error) {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src.Filepath); err != nil {
		return "", ragerrors.NotFound("source file", src.Filename)
	}
	return src.Filepath, nil
}

// DeleteSourceFully removes the source with all its artifacts: the
// original file, the parsing result, the search rows, saved citations,
// and the registry row. Remaining sources are renumbered 1..N.
func (o *Orchestrator) DeleteSourceFully(sourceID string) error {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return err
	}

	_ = os.Remove(src.Filepath)
	_ = os.Remove(o.parsingPath(src.NotebookID, sourceID))

	db, err := o.NotebookDB(src.NotebookID)
	if err != nil {
		return err
	}
	if err := db.DeleteDocument(sourceID); err != nil {
		return err
	}

	if err := o.notes.DeleteCitationsForSource(src.NotebookID, sourceID); err != nil {
		o.logger.Warn("citation_cleanup_failed",
			slog.String("source_id", sourceID), slog.String("error", err.Error()))
	}

	if err := o.global.DeleteSource(sourceID); err != nil {
		return err
	}
	if err := o.global.RenumberSortOrders(src.NotebookID); err != nil {
		return err
	}
	_ = o.global.TouchNotebook(src.NotebookID)
	o.logger.Info("source_deleted",
		slog.String("notebook_id", src.NotebookID), slog.String("source_id", sourceID))
	return nil
}

// DeleteSourceFile removes only the original file, keeping the parsed
// chunks searchable. The source can no longer be reparsed.
func (o *Orchestrator) DeleteSourceFile(sourceID string) error {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return err
	}
	_ = os.Remove(src.Filepath)
	return o.global.SetSourceFlags(sourceID, false, src.HasParsing, src.HasBase)
}

// DeleteAllSourceFiles removes the original files of every source in
// the notebook, keeping search data intact.
func (o *Orchestrator) DeleteAllSourceFiles(notebookID string) error {
	sources, err := o.global.ListSources(notebookID)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if !src.HasDocs {
			continue
		}
		if err := o.DeleteSourceFile(src.ID); err != nil {
			return err
		}
	}
	return nil
}

// EraseSourceData drops the parsing result and search rows but keeps
// the original file. The source returns to status new.
func (o *Orchestrator) EraseSourceData(sourceID string) error {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return err
	}

	_ = os.Remove(o.parsingPath(src.NotebookID, sourceID))

	db, err := o.NotebookDB(src.NotebookID)
	if err != nil {
		return err
	}
	if err := db.DeleteDocument(sourceID); err != nil {
		return err
	}

	if err := o.global.SetSourceFlags(sourceID, src.HasDocs, false, false); err != nil {
		return err
	}
	if err := o.global.SetSourceEmbeddings(sourceID, ""); err != nil {
		return err
	}
	return o.global.SetSourceStatus(sourceID, model.StatusNew, "")
}

// ReorderSources applies an explicit display order.
func (o *Orchestrator) ReorderSources(notebookID string, orderedIDs []string) error {
	if err := o.global.ReorderSources(notebookID, orderedIDs); err != nil {
		return err
	}
	return o.global.TouchNotebook(notebookID)
}

// SetSourceEnabled flips retrieval visibility in both the registry and
// the notebook's search database.
func (o *Orchestrator) SetSourceEnabled(sourceID string, enabled bool) error {
	src, err := o.global.GetSource(sourceID)
	if err != nil {
		return err
	}
	if err := o.global.SetSourceEnabled(sourceID, enabled); err != nil {
		return err
	}
	db, err := o.NotebookDB(src.NotebookID)
	if err != nil {
		return err
	}
	return db.SetDocumentEnabled(sourceID, enabled)
}

// SetSourceOverride replaces the per-source parsing override; nil
// clears it back to notebook defaults.
func (o *Orchestrator) SetSourceOverride(sourceID string, ov *model.ParsingOverride) error {
	if _, err := o.global.GetSource(sourceID); err != nil {
		return err
	}
	return o.global.SetSourceOverride(sourceID, ov)
}

// GetParsingSettings returns the notebook's parser configuration.
func (o *Orchestrator) GetParsingSettings(notebookID string) (model.ParsingSettings, error) {
	return o.global.GetParsingSettings(notebookID)
}

// UpdateParsingSettings stores the notebook's parser configuration.
func (o *Orchestrator) UpdateParsingSettings(notebookID string, settings model.ParsingSettings) error {
	if _, err := o.global.GetNotebook(notebookID); err != nil {
		return err
	}
	return o.global.SaveParsingSettings(notebookID, settings)
}

// effectiveSettings merges a source's override onto its notebook's
// parsing settings.
func (o *Orchestrator) effectiveSettings(src model.Source) (model.ParsingSettings, error) {
	base, err := o.global.GetParsingSettings(src.NotebookID)
	if err != nil {
		return model.ParsingSettings{}, err
	}
	return src.Override.Merge(base), nil
}
