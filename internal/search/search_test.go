package search

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/store"
)

func row(chunkID string) store.SearchRow {
	return store.SearchRow{ChunkID: chunkID, DocID: "d", SourceID: "s", Text: chunkID}
}

// ============================================================================
// RRF fusion
// ============================================================================

func TestRRFMerge_FusesBothLists(t *testing.T) {
	vec := []store.SearchRow{row("A"), row("B"), row("C")}
	fts := []store.SearchRow{row("C"), row("A"), row("D")}

	merged := rrfMerge(vec, fts, 3)

	require.Len(t, merged, 3)
	// A: 1/61 + 1/62, C: 1/63 + 1/61, B: 1/62.
	assert.Equal(t, "A", merged[0].row.ChunkID)
	assert.Equal(t, "C", merged[1].row.ChunkID)
	assert.Equal(t, "B", merged[2].row.ChunkID)
	assert.InDelta(t, 1.0/61+1.0/62, merged[0].score, 1e-9)
	assert.InDelta(t, 1.0/63+1.0/61, merged[1].score, 1e-9)
}

func TestRRFMerge_TiesKeepInsertionOrder(t *testing.T) {
	// B (vector rank 2) and D (FTS rank 3) both score 1/62 but tie-break
	// on insertion order: the vector list is processed first.
	vec := []store.SearchRow{row("A"), row("B"), row("C")}
	fts := []store.SearchRow{row("C"), row("A"), row("D")}

	merged := rrfMerge(vec, fts, 4)

	require.Len(t, merged, 4)
	assert.InDelta(t, merged[2].score, merged[3].score, 1e-12)
	assert.Equal(t, "B", merged[2].row.ChunkID)
	assert.Equal(t, "D", merged[3].row.ChunkID)
}

func TestRRFMerge_DeterministicForFixedInput(t *testing.T) {
	vec := []store.SearchRow{row("x"), row("y")}
	fts := []store.SearchRow{row("y"), row("z")}

	first := rrfMerge(vec, fts, 10)
	for i := 0; i < 20; i++ {
		again := rrfMerge(vec, fts, 10)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].row.ChunkID, again[j].row.ChunkID)
		}
	}
}

// ============================================================================
// Projection
// ============================================================================

func TestProject_AppliesContractDefaults(t *testing.T) {
	chunk := project(scoredRow{row: store.SearchRow{
		ChunkID: "d1:0",
		DocID:   "d1",
		Text:    "body",
	}, score: 0.5})

	assert.Equal(t, "d1", chunk.SourceID) // falls back to doc id
	assert.Equal(t, 1, chunk.Page)
	assert.Equal(t, "__root__", chunk.SectionTitle)
	assert.Equal(t, "text", chunk.Type)
	assert.Equal(t, "d1:0", chunk.SectionID)
}

// ============================================================================
// Normalisation and thresholds
// ============================================================================

func TestNormalizeScores_MaxBecomesOne(t *testing.T) {
	chunks := []model.RetrievedChunk{{Score: 0.04}, {Score: 0.02}}
	out := NormalizeScores(chunks)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
	assert.InDelta(t, 0.5, out[1].Score, 1e-9)
}

func TestNormalizeScores_AllZeroBecomesAllOne(t *testing.T) {
	chunks := []model.RetrievedChunk{{Score: 0}, {Score: 0}}
	out := NormalizeScores(chunks)
	assert.Equal(t, 1.0, out[0].Score)
	assert.Equal(t, 1.0, out[1].Score)
}

func TestFilterByMode(t *testing.T) {
	chunks := []model.RetrievedChunk{
		{SectionID: "a", Score: 1.0},
		{SectionID: "b", Score: 0.6},
		{SectionID: "c", Score: 0.3},
	}

	rag := FilterByMode(append([]model.RetrievedChunk(nil), chunks...), model.ModeRAG)
	require.Len(t, rag, 1)
	assert.Equal(t, "a", rag[0].SectionID)

	mdl := FilterByMode(append([]model.RetrievedChunk(nil), chunks...), model.ModeModel)
	require.Len(t, mdl, 2)

	agent := FilterByMode(append([]model.RetrievedChunk(nil), chunks...), model.ModeAgent)
	assert.Len(t, agent, 3)
}

// ============================================================================
// End-to-end retrieval against an in-memory store
// ============================================================================

func seedStore(t *testing.T) *store.NotebookStore {
	t.Helper()
	nb, err := store.OpenNotebook("")
	require.NoError(t, err)
	t.Cleanup(func() { nb.Close() })

	meta := model.DocumentMetadata{DocID: "d1", SourceID: "s1", Filename: "doc.txt", FileHash: "h"}
	chunks := []model.EmbeddedChunk{
		{ParsedChunk: model.ParsedChunk{ChunkID: "d1:0", DocID: "d1", ChunkIndex: 0, ChunkType: model.ChunkText, PageNumber: 2, SectionHeader: "Установка", Text: "installation steps for the gateway"}, Vector: []float32{1, 0}},
		{ParsedChunk: model.ParsedChunk{ChunkID: "d1:1", DocID: "d1", ChunkIndex: 1, ChunkType: model.ChunkText, Text: "network configuration reference"}, Vector: []float32{0, 1}},
	}
	require.NoError(t, nb.UpsertDocument(meta, chunks, nil, true, ""))
	return nb
}

func TestRetrieve_FTSOnlyWithoutEmbedder(t *testing.T) {
	nb := seedStore(t)
	e := NewEngine(nil, slog.Default())

	chunks, err := e.Retrieve(context.Background(), nb, "installation", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "installation")
	assert.Equal(t, "doc.txt", chunks[0].Source)
	assert.Equal(t, 2, chunks[0].Page)
	assert.Equal(t, "Установка", chunks[0].SectionTitle)

	// FTS-only raw scores are zero: normalisation lifts them to 1.0 so
	// the rag threshold keeps lexical matches.
	normalized := NormalizeScores(chunks)
	kept := FilterByMode(normalized, model.ModeRAG)
	assert.Len(t, kept, len(chunks))
}

func TestRetrieve_IdempotentForFixedState(t *testing.T) {
	nb := seedStore(t)
	e := NewEngine(nil, slog.Default())

	first, err := e.Retrieve(context.Background(), nb, "configuration", nil, 5)
	require.NoError(t, err)
	second, err := e.Retrieve(context.Background(), nb, "configuration", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
