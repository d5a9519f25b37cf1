// Package orchestrator owns the notebook and source lifecycle: it ties
// the global registry, per-notebook databases, the extraction and
// chunking pipeline, the embedding client, and retrieval together
// behind one service object the HTTP layer calls into.
package orchestrator

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bezzdar/local-rag/internal/agents"
	"github.com/Bezzdar/local-rag/internal/config"
	"github.com/Bezzdar/local-rag/internal/embed"
	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/notes"
	"github.com/Bezzdar/local-rag/internal/search"
	"github.com/Bezzdar/local-rag/internal/store"
)

// defaultNotebookTitle seeds an empty installation with one notebook.
const defaultNotebookTitle = "Ноутбук 1"

// Orchestrator coordinates notebooks, sources, indexing, and retrieval.
type Orchestrator struct {
	cfg       *config.Config
	logger    *slog.Logger
	global    *store.GlobalStore
	notes     *notes.Store
	agents    *agents.Registry
	extractor *extract.Extractor
	searcher  *search.Engine

	embedMu  sync.RWMutex
	embedder embed.Embedder

	dbMu sync.Mutex
	dbs  map[string]*store.NotebookStore

	versionMu    sync.Mutex
	chatVersions map[string]int64

	indexWG sync.WaitGroup
}

// New opens the global store, restores persisted state, and seeds a
// first notebook when the installation is empty.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{
		cfg.Data.Dir,
		filepath.Join(cfg.Data.Dir, "docs"),
		filepath.Join(cfg.Data.Dir, "parsing"),
		filepath.Join(cfg.Data.Dir, "notebooks"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	global, err := store.OpenGlobal(cfg.GlobalDBPath())
	if err != nil {
		return nil, err
	}

	embedder := embed.NewCachedEmbedder(embed.NewClient(cfg.Embedding, logger), 1024)

	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		global:       global,
		notes:        notes.NewStore(cfg.CitationsRoot(), cfg.NotesDir(), logger),
		agents:       agents.NewRegistry(cfg.Agents.Dir, logger),
		extractor:    extract.New(logger),
		searcher:     search.NewEngine(embedder, logger),
		embedder:     embedder,
		dbs:          make(map[string]*store.NotebookStore),
		chatVersions: make(map[string]int64),
	}

	if err := o.restore(); err != nil {
		_ = global.Close()
		return nil, err
	}
	return o, nil
}

// restore reconciles persisted state with the filesystem after a
// restart: sources whose file vanished lose has_docs, interrupted
// indexing runs become failed, and an empty installation gets its
// first notebook.
func (o *Orchestrator) restore() error {
	notebooks, err := o.global.ListNotebooks()
	if err != nil {
		return err
	}

	for _, nb := range notebooks {
		sources, err := o.global.ListSources(nb.ID)
		if err != nil {
			return err
		}
		for _, src := range sources {
			if src.HasDocs {
				if _, statErr := os.Stat(src.Filepath); os.IsNotExist(statErr) {
					o.logger.Warn("source_file_missing",
						slog.String("source_id", src.ID),
						slog.String("path", src.Filepath))
					if err := o.global.SetSourceFlags(src.ID, false, src.HasParsing, src.HasBase); err != nil {
						return err
					}
				}
			}
			if src.Status == model.StatusIndexing {
				if err := o.global.SetSourceStatus(src.ID, model.StatusFailed, "indexing interrupted by restart"); err != nil {
					return err
				}
			}
		}
	}

	if len(notebooks) == 0 {
		if _, err := o.CreateNotebook(defaultNotebookTitle); err != nil {
			return err
		}
		o.logger.Info("seeded_default_notebook", slog.String("title", defaultNotebookTitle))
	}
	return nil
}

// Close waits for background indexing and releases databases.
func (o *Orchestrator) Close() error {
	o.indexWG.Wait()

	o.dbMu.Lock()
	for id, db := range o.dbs {
		_ = db.Close()
		delete(o.dbs, id)
	}
	o.dbMu.Unlock()

	_ = o.embedder.Close()
	return o.global.Close()
}

// Agents exposes the agent manifest registry.
func (o *Orchestrator) Agents() *agents.Registry { return o.agents }

// Notes exposes the citation and note store.
func (o *Orchestrator) Notes() *notes.Store { return o.notes }

// Embedder returns the current embedding client.
func (o *Orchestrator) Embedder() embed.Embedder {
	o.embedMu.RLock()
	defer o.embedMu.RUnlock()
	return o.embedder
}

// NotebookDB returns the notebook's search database, opening and
// caching it on first use.
func (o *Orchestrator) NotebookDB(notebookID string) (*store.NotebookStore, error) {
	o.dbMu.Lock()
	defer o.dbMu.Unlock()

	if db, ok := o.dbs[notebookID]; ok {
		return db, nil
	}
	db, err := store.OpenNotebook(o.cfg.NotebookDBPath(notebookID))
	if err != nil {
		return nil, err
	}
	o.dbs[notebookID] = db
	return db, nil
}

// closeNotebookDB drops the cached handle so the db file can be
// deleted or copied.
func (o *Orchestrator) closeNotebookDB(notebookID string) {
	o.dbMu.Lock()
	defer o.dbMu.Unlock()
	if db, ok := o.dbs[notebookID]; ok {
		_ = db.Close()
		delete(o.dbs, notebookID)
	}
}

// ============================================================================
// Notebook lifecycle
// ============================================================================

// CreateNotebook creates a notebook with default parsing settings.
func (o *Orchestrator) CreateNotebook(title string) (model.Notebook, error) {
	now := time.Now().UTC()
	nb := model.Notebook{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nb.Title == "" {
		nb.Title = defaultNotebookTitle
	}

	if err := o.global.CreateNotebook(nb); err != nil {
		return model.Notebook{}, err
	}
	if err := o.global.SaveParsingSettings(nb.ID, model.DefaultParsingSettings()); err != nil {
		return model.Notebook{}, err
	}
	if err := os.MkdirAll(o.cfg.DocsDir(nb.ID), 0o755); err != nil {
		return model.Notebook{}, err
	}
	o.logger.Info("notebook_created", slog.String("notebook_id", nb.ID), slog.String("title", nb.Title))
	return nb, nil
}

// ListNotebooks returns all notebooks.
func (o *Orchestrator) ListNotebooks() ([]model.Notebook, error) {
	return o.global.ListNotebooks()
}

// GetNotebook returns one notebook.
func (o *Orchestrator) GetNotebook(id string) (model.Notebook, error) {
	return o.global.GetNotebook(id)
}

// RenameNotebook changes a notebook's title.
func (o *Orchestrator) RenameNotebook(id, title string) error {
	return o.global.RenameNotebook(id, strings.TrimSpace(title))
}

// DeleteNotebook removes the notebook with every artifact it owns:
// source files, parsing results, the search database, saved citations,
// and chat history.
func (o *Orchestrator) DeleteNotebook(id string) error {
	if _, err := o.global.GetNotebook(id); err != nil {
		return err
	}

	o.closeNotebookDB(id)

	dbPath := o.cfg.NotebookDBPath(id)
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		_ = os.Remove(p)
	}
	_ = os.RemoveAll(o.cfg.DocsDir(id))
	_ = os.RemoveAll(o.cfg.ParsingDir(id))
	if err := o.notes.DeleteCitationsForNotebook(id); err != nil {
		o.logger.Warn("citation_cleanup_failed", slog.String("notebook_id", id), slog.String("error", err.Error()))
	}

	o.versionMu.Lock()
	delete(o.chatVersions, id)
	o.versionMu.Unlock()

	if err := o.global.DeleteNotebook(id); err != nil {
		return err
	}
	o.logger.Info("notebook_deleted", slog.String("notebook_id", id))
	return nil
}

// nextAvailablePath uniquifies a target filename inside dir by
// appending _1, _2, ... before the extension until the name is free.
func nextAvailablePath(dir, filename string) string {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// copyFile copies src to dst, creating parent directories.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
