// Package search is the hybrid retrieval layer: dense vector and FTS
// candidates merged with Reciprocal Rank Fusion, projected to the
// retrieval contract, normalised, and threshold-filtered per chat mode.
package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Bezzdar/local-rag/internal/embed"
	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/store"
)

// RRFConstant is the RRF smoothing parameter. k=60 is the standard
// cross-domain value.
const RRFConstant = 60

// Mode thresholds applied after score normalisation. Agent mode skips
// retrieval entirely and has no threshold.
const (
	RAGThreshold   = 0.75
	ModelThreshold = 0.50
)

// RootSectionTitle is substituted when a chunk has no section header.
const RootSectionTitle = "__root__"

// Engine runs hybrid retrieval against one notebook store at a time.
type Engine struct {
	embedder embed.Embedder
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. A nil embedder degrades to
// FTS-only retrieval.
func NewEngine(embedder embed.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, logger: logger}
}

// Retrieve returns the top-N fused candidates for a query. When the
// embedder is unavailable or the query vector is all-zero, the result
// is FTS-only with zero raw scores; NormalizeScores lifts those to 1.0
// so threshold filtering does not discard lexical matches.
func (e *Engine) Retrieve(ctx context.Context, nb *store.NotebookStore, query string, selectedSourceIDs []string, topN int) ([]model.RetrievedChunk, error) {
	if topN <= 0 {
		topN = 5
	}
	topK := topN * 3
	if topK < 10 {
		topK = 10
	}
	filter := store.Filter{SelectedSourceIDs: selectedSourceIDs}

	var vecRows []store.SearchRow
	if e.embedder != nil && e.embedder.Available(ctx) {
		queryVec := e.embedder.Embed(ctx, query)
		if !embed.IsZero(queryVec) {
			rows, err := nb.SearchVector(queryVec, topK, filter)
			if err != nil {
				e.logger.Warn("vector_search_failed", slog.String("error", err.Error()))
			} else {
				vecRows = rows
			}
		}
	}

	ftsRows, err := nb.SearchFTS(query, topK, filter)
	if err != nil {
		e.logger.Warn("fts_search_failed", slog.String("error", err.Error()))
		ftsRows = nil
	}

	var merged []scoredRow
	if len(vecRows) == 0 {
		// FTS-only degenerate path: keep list order, raw score zero.
		for _, r := range ftsRows {
			merged = append(merged, scoredRow{row: r})
			if len(merged) == topN {
				break
			}
		}
	} else {
		merged = rrfMerge(vecRows, ftsRows, topN)
	}

	out := make([]model.RetrievedChunk, 0, len(merged))
	for _, m := range merged {
		out = append(out, project(m))
	}
	return out, nil
}

type scoredRow struct {
	row   store.SearchRow
	score float64
}

// rrfMerge fuses the two candidate lists: score(d) = Σ 1/(k + rank)
// with 1-based ranks per list. The sort is stable, so equal scores
// keep first-insertion order (vector list first, then FTS).
func rrfMerge(vecRows, ftsRows []store.SearchRow, topN int) []scoredRow {
	index := make(map[string]int, len(vecRows)+len(ftsRows))
	var merged []scoredRow

	accumulate := func(rows []store.SearchRow) {
		for i, r := range rows {
			rank := i + 1
			contribution := 1.0 / float64(RRFConstant+rank)
			if pos, ok := index[r.ChunkID]; ok {
				merged[pos].score += contribution
				continue
			}
			index[r.ChunkID] = len(merged)
			merged = append(merged, scoredRow{row: r, score: contribution})
		}
	}
	accumulate(vecRows)
	accumulate(ftsRows)

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if len(merged) > topN {
		merged = merged[:topN]
	}
	return merged
}

// project maps a store row to the retrieval contract.
func project(m scoredRow) model.RetrievedChunk {
	r := m.row
	sourceID := r.SourceID
	if sourceID == "" {
		sourceID = r.DocID
	}
	page := r.PageNumber
	if page <= 0 {
		page = 1
	}
	title := r.SectionHeader
	if title == "" {
		title = RootSectionTitle
	}
	chunkType := r.ChunkType
	if chunkType == "" {
		chunkType = string(model.ChunkText)
	}
	return model.RetrievedChunk{
		SourceID:     sourceID,
		Source:       r.Filename,
		Page:         page,
		SectionID:    r.ChunkID,
		SectionTitle: title,
		Text:         r.Text,
		Type:         chunkType,
		DocID:        r.DocID,
		Score:        m.score,
	}
}

// NormalizeScores scales scores so the maximum equals 1.0. When every
// score is zero (FTS-only retrieval) all chunks get 1.0 so the mode
// thresholds do not discard valid lexical matches.
func NormalizeScores(chunks []model.RetrievedChunk) []model.RetrievedChunk {
	if len(chunks) == 0 {
		return chunks
	}
	var max float64
	for _, c := range chunks {
		if c.Score > max {
			max = c.Score
		}
	}
	if max == 0 {
		for i := range chunks {
			chunks[i].Score = 1.0
		}
		return chunks
	}
	for i := range chunks {
		chunks[i].Score = chunks[i].Score / max
	}
	return chunks
}

// ThresholdFor returns the minimum normalised score for a chat mode;
// ok is false when the mode applies no threshold.
func ThresholdFor(mode model.ChatMode) (threshold float64, ok bool) {
	switch mode {
	case model.ModeRAG:
		return RAGThreshold, true
	case model.ModeModel:
		return ModelThreshold, true
	default:
		return 0, false
	}
}

// FilterByMode drops chunks below the mode threshold. Order is kept.
func FilterByMode(chunks []model.RetrievedChunk, mode model.ChatMode) []model.RetrievedChunk {
	threshold, ok := ThresholdFor(mode)
	if !ok {
		return chunks
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c.Score >= threshold {
			out = append(out, c)
		}
	}
	return out
}
