package orchestrator

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/store"
)

// duplicateCopyWorkers bounds concurrent file copies during
// notebook duplication.
const duplicateCopyWorkers = 4

// DuplicateNotebook clones a notebook: settings, source files, parsing
// results, and the search database. The copy gets fresh notebook and
// source ids; chat history and saved citations stay with the original.
func (o *Orchestrator) DuplicateNotebook(id string) (model.Notebook, error) {
	src, err := o.global.GetNotebook(id)
	if err != nil {
		return model.Notebook{}, err
	}
	sources, err := o.global.ListSources(id)
	if err != nil {
		return model.Notebook{}, err
	}
	settings, err := o.global.GetParsingSettings(id)
	if err != nil {
		return model.Notebook{}, err
	}

	now := time.Now().UTC()
	clone := model.Notebook{
		ID:        uuid.NewString(),
		Title:     "Копия: " + src.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.global.CreateNotebook(clone); err != nil {
		return model.Notebook{}, err
	}
	if err := o.global.SaveParsingSettings(clone.ID, settings); err != nil {
		return model.Notebook{}, err
	}
	if err := os.MkdirAll(o.cfg.DocsDir(clone.ID), 0o755); err != nil {
		return model.Notebook{}, err
	}

	// Close the cached handle so the WAL is checkpointed before the
	// db file is copied.
	o.closeNotebookDB(id)
	dbCopied := false
	if _, err := os.Stat(o.cfg.NotebookDBPath(id)); err == nil {
		if err := copyFile(o.cfg.NotebookDBPath(id), o.cfg.NotebookDBPath(clone.ID)); err != nil {
			return model.Notebook{}, err
		}
		dbCopied = true
	}

	idMap := make(map[string]string, len(sources))
	for _, s := range sources {
		idMap[s.ID] = uuid.NewString()
	}

	var g errgroup.Group
	g.SetLimit(duplicateCopyWorkers)
	for _, s := range sources {
		s := s
		g.Go(func() error {
			if s.HasDocs {
				dst := filepath.Join(o.cfg.DocsDir(clone.ID), s.Filename)
				if err := copyFile(s.Filepath, dst); err != nil {
					return err
				}
			}
			if s.HasParsing {
				if err := o.copyParsingResult(id, s.ID, clone.ID, idMap[s.ID]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Notebook{}, err
	}

	var cloneDB *store.NotebookStore
	if dbCopied {
		cloneDB, err = o.NotebookDB(clone.ID)
		if err != nil {
			return model.Notebook{}, err
		}
	}

	for _, s := range sources {
		dup := s
		dup.ID = idMap[s.ID]
		dup.NotebookID = clone.ID
		dup.AddedAt = now
		if s.HasDocs {
			dup.Filepath = filepath.Join(o.cfg.DocsDir(clone.ID), s.Filename)
		}
		if err := o.global.UpsertSource(dup); err != nil {
			return model.Notebook{}, err
		}
		if cloneDB != nil && s.HasBase {
			if err := cloneDB.RemapDocID(s.ID, dup.ID); err != nil {
				return model.Notebook{}, err
			}
		}
	}

	o.logger.Info("notebook_duplicated",
		slog.String("notebook_id", id),
		slog.String("copy_id", clone.ID),
		slog.Int("sources", len(sources)))
	return clone, nil
}

// copyParsingResult copies one parsing JSON into the clone, rewriting
// the document and source ids inside.
func (o *Orchestrator) copyParsingResult(srcNotebookID, srcID, dstNotebookID, dstID string) error {
	result, err := store.LoadParsingResult(o.parsingPath(srcNotebookID, srcID))
	if err != nil {
		return err
	}

	result.Metadata.DocID = dstID
	result.Metadata.SourceID = dstID
	result.Metadata.Filepath = filepath.Join(o.cfg.DocsDir(dstNotebookID), result.Metadata.Filename)
	for i := range result.Chunks {
		result.Chunks[i].DocID = dstID
	}
	return store.SaveParsingResult(o.parsingPath(dstNotebookID, dstID), result)
}
