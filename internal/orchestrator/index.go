package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Bezzdar/local-rag/internal/chunk"
	"github.com/Bezzdar/local-rag/internal/config"
	"github.com/Bezzdar/local-rag/internal/embed"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/extract"
	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/search"
	"github.com/Bezzdar/local-rag/internal/store"
)

// textOnlyWarning marks a source that indexed without dense vectors.
const textOnlyWarning = "indexed (text-only)"

// indexSource runs the full pipeline for one source: extract, chunk,
// persist the parsing result, embed, and upsert into the notebook's
// search database. Failures land in the source's status row instead of
// propagating; the worker has nobody to return an error to.
func (o *Orchestrator) indexSource(ctx context.Context, sourceID string) {
	started := time.Now()

	src, err := o.global.GetSource(sourceID)
	if err != nil {
		o.logger.Error("index_source_lookup_failed",
			slog.String("source_id", sourceID), slog.String("error", err.Error()))
		return
	}

	fail := func(cause error) {
		detail := ragerrors.Detail(cause)
		o.logger.Error("index_failed",
			slog.String("notebook_id", src.NotebookID),
			slog.String("source_id", sourceID),
			slog.String("error", detail))
		_ = o.global.SetSourceStatus(sourceID, model.StatusFailed, detail)
		_ = o.global.SetSourceFlags(sourceID, src.HasDocs, src.HasParsing, false)
	}

	settings, err := o.effectiveSettings(src)
	if err != nil {
		fail(err)
		return
	}

	res, err := o.extractor.Extract(src.Filepath, settings)
	if err != nil {
		fail(err)
		return
	}

	chunks := chunk.Chunk(src.ID, res.Blocks, settings)
	if len(chunks) == 0 {
		fail(ragerrors.ParseError("document produced no chunks", nil))
		return
	}

	hash, err := extract.FileHash(src.Filepath)
	if err != nil {
		fail(err)
		return
	}

	meta := model.DocumentMetadata{
		DocID:         src.ID,
		SourceID:      src.ID,
		Filename:      src.Filename,
		Filepath:      src.Filepath,
		FileHash:      hash,
		SizeBytes:     src.SizeBytes,
		PageCount:     res.PageCount,
		TotalChunks:   len(chunks),
		Language:      res.Language,
		ParserVersion: model.ParserVersion,
		ParsedAt:      time.Now().UTC(),
		Config:        &settings,
		IsEnabled:     src.IsEnabled,
	}

	if err := store.SaveParsingResult(o.parsingPath(src.NotebookID, sourceID), store.ParsingResult{
		Metadata: meta,
		Chunks:   chunks,
	}); err != nil {
		fail(err)
		return
	}

	embedded, vectorReady := o.embedChunks(ctx, chunks)

	db, err := o.NotebookDB(src.NotebookID)
	if err != nil {
		fail(err)
		return
	}
	if err := db.UpsertDocument(meta, embedded, nil, src.IsEnabled, ""); err != nil {
		fail(err)
		return
	}

	embStatus := model.EmbeddingsAvailable
	warning := ""
	if !vectorReady {
		embStatus = model.EmbeddingsUnavailable
		warning = textOnlyWarning
	}
	_ = o.global.SetSourceEmbeddings(sourceID, embStatus)
	_ = o.global.SetSourceFlags(sourceID, true, true, true)
	_ = o.global.SetSourceStatus(sourceID, model.StatusIndexed, warning)
	_ = o.global.TouchNotebook(src.NotebookID)

	o.logger.Info("index_complete",
		slog.String("notebook_id", src.NotebookID),
		slog.String("source_id", sourceID),
		slog.Int("chunks", len(chunks)),
		slog.Bool("vectors", vectorReady),
		slog.Bool("ocr", res.OCRUsed),
		slog.Duration("took", time.Since(started)))
}

// embedChunks generates dense vectors for every chunk. All-zero
// vectors mark per-chunk embedding failure; vectorReady is true when
// at least one chunk got a real vector.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []model.ParsedChunk) (embedded []model.EmbeddedChunk, vectorReady bool) {
	embedder := o.Embedder()

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbedInput()
	}
	vecs := embedder.EmbedBatch(ctx, texts)

	now := time.Now().UTC()
	embedded = make([]model.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		failed := embed.IsZero(vecs[i])
		if !failed {
			vectorReady = true
		}
		embedded[i] = model.EmbeddedChunk{
			ParsedChunk:     c,
			Vector:          vecs[i],
			EmbeddingModel:  embedder.ModelName(),
			EmbeddedAt:      now,
			EmbeddingFailed: failed,
		}
	}
	return embedded, vectorReady
}

// IndexStatus aggregates source lifecycle counters for a notebook.
func (o *Orchestrator) IndexStatus(notebookID string) (model.IndexStatus, error) {
	sources, err := o.global.ListSources(notebookID)
	if err != nil {
		return model.IndexStatus{}, err
	}
	var st model.IndexStatus
	st.Total = len(sources)
	for _, src := range sources {
		switch src.Status {
		case model.StatusIndexed:
			st.Indexed++
		case model.StatusIndexing:
			st.Indexing++
		case model.StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

// ChunkEstimate previews how many chunks one source would produce
// under the current settings.
type ChunkEstimate struct {
	SourceID string `json:"source_id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
	// Approximate is true when the count comes from file size instead
	// of a saved parsing result.
	Approximate bool `json:"approximate"`
}

// EstimateChunks previews chunk counts for every source in a
// notebook. Sources that were already parsed report their real count;
// the rest get a size-based approximation.
func (o *Orchestrator) EstimateChunks(notebookID string) ([]ChunkEstimate, error) {
	sources, err := o.global.ListSources(notebookID)
	if err != nil {
		return nil, err
	}
	settings, err := o.global.GetParsingSettings(notebookID)
	if err != nil {
		return nil, err
	}

	out := make([]ChunkEstimate, 0, len(sources))
	for _, src := range sources {
		est := ChunkEstimate{SourceID: src.ID, Filename: src.Filename}
		if src.HasParsing {
			if result, err := store.LoadParsingResult(o.parsingPath(notebookID, src.ID)); err == nil {
				est.Chunks = len(result.Chunks)
				out = append(out, est)
				continue
			}
		}
		est.Approximate = true
		est.Chunks = approximateChunks(src.SizeBytes, src.Override.Merge(settings))
		out = append(out, est)
	}
	return out, nil
}

// approximateChunks guesses a chunk count from file size assuming
// roughly four bytes per token.
func approximateChunks(sizeBytes int64, s model.ParsingSettings) int {
	if sizeBytes <= 0 || s.ChunkSize <= 0 {
		return 0
	}
	tokens := int(sizeBytes / 4)
	n := (tokens + s.ChunkSize - 1) / s.ChunkSize
	if n < 1 {
		n = 1
	}
	return n
}

// ReconfigureEmbedding swaps the embedding client and rebuilds every
// notebook's vectors from the saved parsing results in the background.
func (o *Orchestrator) ReconfigureEmbedding(cfg config.EmbeddingConfig) {
	o.embedMu.Lock()
	old := o.embedder
	o.embedder = embed.NewCachedEmbedder(embed.NewClient(cfg, o.logger), 1024)
	o.searcher = search.NewEngine(o.embedder, o.logger)
	o.embedMu.Unlock()
	_ = old.Close()

	o.logger.Info("embedding_reconfigured",
		slog.String("provider", cfg.Provider), slog.String("model", cfg.Model))

	o.indexWG.Add(1)
	go func() {
		defer o.indexWG.Done()
		if err := o.RebuildEmbeddings(context.Background()); err != nil {
			o.logger.Error("embedding_rebuild_failed", slog.String("error", err.Error()))
		}
	}()
}

// RebuildEmbeddings re-embeds every parsed source from its saved
// parsing result without re-extracting the files.
func (o *Orchestrator) RebuildEmbeddings(ctx context.Context) error {
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
			if !src.HasParsing {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			o.rebuildSource(ctx, src)
		}
	}
	return nil
}

// rebuildSource re-embeds one source from its parsing result.
func (o *Orchestrator) rebuildSource(ctx context.Context, src model.Source) {
	path := o.parsingPath(src.NotebookID, src.ID)
	result, err := store.LoadParsingResult(path)
	if err != nil {
		if os.IsNotExist(err) || ragerrors.GetCode(err) == ragerrors.ErrCodeNotFound {
			_ = o.global.SetSourceFlags(src.ID, src.HasDocs, false, src.HasBase)
			return
		}
		o.logger.Warn("rebuild_load_failed",
			slog.String("source_id", src.ID), slog.String("error", err.Error()))
		return
	}

	embedded, vectorReady := o.embedChunks(ctx, result.Chunks)

	db, err := o.NotebookDB(src.NotebookID)
	if err != nil {
		o.logger.Warn("rebuild_db_failed",
			slog.String("source_id", src.ID), slog.String("error", err.Error()))
		return
	}
	if err := db.UpsertDocument(result.Metadata, embedded, nil, src.IsEnabled, ""); err != nil {
		o.logger.Warn("rebuild_upsert_failed",
			slog.String("source_id", src.ID), slog.String("error", err.Error()))
		return
	}

	embStatus := model.EmbeddingsAvailable
	warning := ""
	if !vectorReady {
		embStatus = model.EmbeddingsUnavailable
		warning = textOnlyWarning
	}
	_ = o.global.SetSourceEmbeddings(src.ID, embStatus)
	if src.Status == model.StatusIndexed {
		_ = o.global.SetSourceStatus(src.ID, model.StatusIndexed, warning)
	}
}
