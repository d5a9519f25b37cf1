package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/model"
)

func testDoc(docID, sourceID string) model.DocumentMetadata {
	return model.DocumentMetadata{
		DocID:     docID,
		SourceID:  sourceID,
		Filename:  docID + ".txt",
		Filepath:  "/tmp/" + docID + ".txt",
		FileHash:  "hash-" + docID,
		SizeBytes: 100,
	}
}

func textChunk(docID string, idx int, text string, vec []float32) model.EmbeddedChunk {
	return model.EmbeddedChunk{
		ParsedChunk: model.ParsedChunk{
			ChunkID:    docID + ":" + string(rune('0'+idx)),
			DocID:      docID,
			ChunkIndex: idx,
			ChunkType:  model.ChunkText,
			PageNumber: 1,
			Text:       text,
			TokenCount: len(text) / 4,
		},
		Vector: vec,
	}
}

func openTestStore(t *testing.T) *NotebookStore {
	t.Helper()
	s, err := OpenNotebook("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Upsert and atomic replace
// ============================================================================

func TestUpsertDocument_ReplaceIsAtomic(t *testing.T) {
	s := openTestStore(t)

	meta := testDoc("d1", "s1")
	first := []model.EmbeddedChunk{
		textChunk("d1", 0, "old alpha content", []float32{1, 0}),
		textChunk("d1", 1, "old beta content", []float32{0, 1}),
		textChunk("d1", 2, "old gamma content", nil),
	}
	require.NoError(t, s.UpsertDocument(meta, first, nil, true, ""))

	n, err := s.ChunkCount("d1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Re-parse produces fewer chunks; the old rows must be gone.
	second := []model.EmbeddedChunk{
		textChunk("d1", 0, "new delta content", []float32{1, 1}),
	}
	require.NoError(t, s.UpsertDocument(meta, second, nil, true, ""))

	n, err = s.ChunkCount("d1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := s.SearchFTS("delta", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new delta content", rows[0].Text)

	// The old lexical rows must not match anymore.
	rows, err = s.SearchFTS("alpha", 10, Filter{})
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotContains(t, r.Text, "alpha")
	}
}

func TestUpsertDocument_IndexErrorState(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"), nil, nil, true, "parse failed"))

	var indexed int
	var errText string
	err := s.db.QueryRow(`SELECT is_indexed, index_error FROM documents WHERE doc_id = 'd1'`).
		Scan(&indexed, &errText)
	require.NoError(t, err)
	assert.Equal(t, int(model.IndexError), indexed)
	assert.Equal(t, "parse failed", errText)
}

// ============================================================================
// FTS fallback chain
// ============================================================================

func TestSearchFTS_MatchThenLikeThenNewest(t *testing.T) {
	s := openTestStore(t)

	chunks := []model.EmbeddedChunk{
		textChunk("d1", 0, "installation requires administrator privileges", nil),
		textChunk("d1", 1, "настройка сетевого подключения", nil),
	}
	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"), chunks, nil, true, ""))

	// BM25 path.
	rows, err := s.SearchFTS("installation", 10, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0].Text, "installation")
	assert.Greater(t, rows[0].Score, 0.0)

	// Terms with no lexical match still return the newest rows.
	rows, err = s.SearchFTS("nonexistent-term-zzz", 10, Filter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Empty query lists newest rows too.
	rows, err = s.SearchFTS("", 10, Filter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSearchFTS_QuotesPunctuation(t *testing.T) {
	s := openTestStore(t)

	chunks := []model.EmbeddedChunk{
		textChunk("d1", 0, "call the /api/embed endpoint", nil),
	}
	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"), chunks, nil, true, ""))

	// Punctuation-heavy queries must not break MATCH syntax.
	rows, err := s.SearchFTS(`"what is /api/embed?"`, 10, Filter{})
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
}

// ============================================================================
// Visibility filters
// ============================================================================

func TestSearch_VisibilityFilters(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"),
		[]model.EmbeddedChunk{textChunk("d1", 0, "shared keyword from first", nil)}, []string{"draft"}, true, ""))
	require.NoError(t, s.UpsertDocument(testDoc("d2", "s2"),
		[]model.EmbeddedChunk{textChunk("d2", 0, "shared keyword from second", nil)}, nil, true, ""))

	rows, err := s.SearchFTS("keyword", 10, Filter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Source selection.
	rows, err = s.SearchFTS("keyword", 10, Filter{SelectedSourceIDs: []string{"s2"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d2", rows[0].DocID)

	// Disabling the document hides it.
	require.NoError(t, s.SetDocumentEnabled("d2", false))
	rows, err = s.SearchFTS("keyword", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d1", rows[0].DocID)
	require.NoError(t, s.SetDocumentEnabled("d2", true))

	// Disabling a tag hides every document carrying it.
	require.NoError(t, s.SetTagEnabled("draft", false))
	rows, err = s.SearchFTS("keyword", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d2", rows[0].DocID)
}

// ============================================================================
// Vector search
// ============================================================================

func TestSearchVector_RanksByCosine(t *testing.T) {
	s := openTestStore(t)

	chunks := []model.EmbeddedChunk{
		textChunk("d1", 0, "exact direction", []float32{1, 0}),
		textChunk("d1", 1, "diagonal", []float32{1, 1}),
		textChunk("d1", 2, "orthogonal", []float32{0, 1}),
		textChunk("d1", 3, "failed embedding", nil), // no vector row
	}
	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"), chunks, nil, true, ""))

	rows, err := s.SearchVector([]float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "exact direction", rows[0].Text)
	assert.InDelta(t, 1.0, rows[0].Score, 1e-6)
	assert.Equal(t, "diagonal", rows[1].Text)
}

func TestHasNonZeroVector(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"),
		[]model.EmbeddedChunk{textChunk("d1", 0, "a", []float32{0, 0})}, nil, true, ""))
	ok, err := s.HasNonZeroVector("d1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertDocument(testDoc("d2", "s2"),
		[]model.EmbeddedChunk{textChunk("d2", 0, "b", []float32{0, 0.5})}, nil, true, ""))
	ok, err = s.HasNonZeroVector("d2")
	require.NoError(t, err)
	assert.True(t, ok)
}

// ============================================================================
// Doc id remapping
// ============================================================================

func TestRemapDocID(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDocument(testDoc("old", "s1"),
		[]model.EmbeddedChunk{textChunk("old", 0, "remap target text", nil)}, []string{"t"}, true, ""))

	require.NoError(t, s.RemapDocID("old", "new"))

	ids, err := s.DocIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids)

	rows, err := s.SearchFTS("remap", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].DocID)
}

// ============================================================================
// Delete
// ============================================================================

func TestDeleteDocument_RemovesAllRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDocument(testDoc("d1", "s1"),
		[]model.EmbeddedChunk{textChunk("d1", 0, "unique pelican text", []float32{1})}, []string{"t"}, true, ""))

	require.NoError(t, s.DeleteDocument("d1"))

	ids, err := s.DocIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	rows, err := s.SearchFTS("pelican", 10, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
