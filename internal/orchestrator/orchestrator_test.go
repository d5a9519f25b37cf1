package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/config"
	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/notes"
	"github.com/Bezzdar/local-rag/internal/store"
)

// testConfig keeps everything on local disk: the embedding client is
// disabled so indexing degrades to zero vectors without any HTTP.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Data.Dir = t.TempDir()
	cfg.Embedding.Enabled = false
	cfg.Agents.Dir = filepath.Join(cfg.Data.Dir, "agents")
	return cfg
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// longText produces enough prose to clear the minimum chunk size.
func longText() string {
	sentence := "Сервис индексирует документы и отвечает на вопросы по их содержимому. "
	return strings.Repeat(sentence, 60)
}

func seededNotebook(t *testing.T, o *Orchestrator) model.Notebook {
	t.Helper()
	nbs, err := o.ListNotebooks()
	require.NoError(t, err)
	require.Len(t, nbs, 1)
	return nbs[0]
}

func addTextSource(t *testing.T, o *Orchestrator, notebookID, filename string) model.Source {
	t.Helper()
	src, err := o.AddSource(notebookID, filename, strings.NewReader(longText()))
	require.NoError(t, err)
	return src
}

// ============================================================================
// Startup and restore
// ============================================================================

func TestNew_SeedsDefaultNotebook(t *testing.T) {
	o := newTestOrchestrator(t)

	nb := seededNotebook(t, o)
	assert.Equal(t, "Ноутбук 1", nb.Title)

	settings, err := o.GetParsingSettings(nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultParsingSettings(), settings)
}

func TestRestore_ReconcilesStateAfterRestart(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, nil)
	require.NoError(t, err)

	nb := seededNotebook(t, o)
	gone := addTextSource(t, o, nb.ID, "gone.txt")
	stuck := addTextSource(t, o, nb.ID, "stuck.txt")
	o.WaitForIndexing()

	require.NoError(t, os.Remove(gone.Filepath))
	require.NoError(t, o.global.SetSourceStatus(stuck.ID, model.StatusIndexing, ""))
	require.NoError(t, o.Close())

	o2, err := New(cfg, nil)
	require.NoError(t, err)
	defer o2.Close()

	reloaded, err := o2.GetSource(gone.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.HasDocs)
	assert.True(t, reloaded.HasParsing, "parsed data survives a lost file")

	reloaded, err = o2.GetSource(stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, reloaded.Status)
	assert.Equal(t, "indexing interrupted by restart", reloaded.IndexWarning)

	// No second seed notebook on restart.
	nbs, err := o2.ListNotebooks()
	require.NoError(t, err)
	assert.Len(t, nbs, 1)
}

// ============================================================================
// Upload and indexing
// ============================================================================

func TestAddSource_UniquifiesFilenamesAndIndexes(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	first := addTextSource(t, o, nb.ID, "file.txt")
	second := addTextSource(t, o, nb.ID, "file.txt")
	o.WaitForIndexing()

	assert.Equal(t, "file.txt", first.Filename)
	assert.Equal(t, "file_1.txt", second.Filename)
	assert.Equal(t, 1, first.SortOrder)
	assert.Equal(t, 2, second.SortOrder)

	for _, id := range []string{first.ID, second.ID} {
		src, err := o.GetSource(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusIndexed, src.Status)
		assert.True(t, src.HasDocs)
		assert.True(t, src.HasParsing)
		assert.True(t, src.HasBase)
		// Embedding client is disabled, so indexing completes text-only.
		assert.Equal(t, model.EmbeddingsUnavailable, src.EmbeddingsStatus)
		assert.Equal(t, "indexed (text-only)", src.IndexWarning)
	}

	result, err := store.LoadParsingResult(o.parsingPath(nb.ID, first.ID))
	require.NoError(t, err)
	assert.Equal(t, first.ID, result.Metadata.DocID)
	assert.NotEmpty(t, result.Chunks)

	db, err := o.NotebookDB(nb.ID)
	require.NoError(t, err)
	n, err := db.ChunkCount(first.ID)
	require.NoError(t, err)
	assert.Equal(t, len(result.Chunks), n)
}

func TestAddSource_AutoParseOffLeavesStatusNew(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	settings := model.DefaultParsingSettings()
	settings.AutoParseOnUpload = false
	require.NoError(t, o.UpdateParsingSettings(nb.ID, settings))

	src := addTextSource(t, o, nb.ID, "manual.txt")
	assert.Equal(t, model.StatusNew, src.Status)

	require.NoError(t, o.ReparseSource(src.ID))
	o.WaitForIndexing()

	reloaded, err := o.GetSource(src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, reloaded.Status)
}

func TestIndexSource_ExtractionFailureMarksFailed(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	src, err := o.AddSource(nb.ID, "broken.pdf", strings.NewReader("not a pdf"))
	require.NoError(t, err)
	o.WaitForIndexing()

	reloaded, err := o.GetSource(src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, reloaded.Status)
	assert.NotEmpty(t, reloaded.IndexWarning)
	assert.False(t, reloaded.HasBase)
}

func TestRetrieve_EndToEndOverIndexedSource(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	addTextSource(t, o, nb.ID, "docs.txt")
	o.WaitForIndexing()

	chunks, err := o.Retrieve(context.Background(), nb.ID, "индексирует документы", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "индексирует")
}

// ============================================================================
// Source deletion variants
// ============================================================================

func TestDeleteSourceFully_CascadesAndRenumbers(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	a := addTextSource(t, o, nb.ID, "a.txt")
	b := addTextSource(t, o, nb.ID, "b.txt")
	c := addTextSource(t, o, nb.ID, "c.txt")
	o.WaitForIndexing()

	_, err := o.Notes().SaveCitation(nb.ID, notes.SaveCitationInput{
		SourceID: b.ID, Filename: b.Filename, SourceNotebookID: nb.ID,
	})
	require.NoError(t, err)

	require.NoError(t, o.DeleteSourceFully(b.ID))

	_, err = o.GetSource(b.ID)
	assert.Error(t, err)
	assert.NoFileExists(t, b.Filepath)
	assert.NoFileExists(t, o.parsingPath(nb.ID, b.ID))

	citations, err := o.Notes().ListCitations(nb.ID)
	require.NoError(t, err)
	assert.Empty(t, citations)

	remaining, err := o.ListSources(nb.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, a.ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].SortOrder)
	assert.Equal(t, c.ID, remaining[1].ID)
	assert.Equal(t, 2, remaining[1].SortOrder)
}

func TestDeleteSourceFile_KeepsSearchData(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	src := addTextSource(t, o, nb.ID, "keep.txt")
	o.WaitForIndexing()

	require.NoError(t, o.DeleteSourceFile(src.ID))

	reloaded, err := o.GetSource(src.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.HasDocs)
	assert.True(t, reloaded.HasParsing)
	assert.True(t, reloaded.HasBase)
	assert.NoFileExists(t, src.Filepath)

	db, err := o.NotebookDB(nb.ID)
	require.NoError(t, err)
	n, err := db.ChunkCount(src.ID)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestEraseSourceData_ReturnsToNew(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	src := addTextSource(t, o, nb.ID, "erase.txt")
	o.WaitForIndexing()

	require.NoError(t, o.EraseSourceData(src.ID))

	reloaded, err := o.GetSource(src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, reloaded.Status)
	assert.True(t, reloaded.HasDocs)
	assert.False(t, reloaded.HasParsing)
	assert.False(t, reloaded.HasBase)
	assert.FileExists(t, src.Filepath)
	assert.NoFileExists(t, o.parsingPath(nb.ID, src.ID))

	db, err := o.NotebookDB(nb.ID)
	require.NoError(t, err)
	n, err := db.ChunkCount(src.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// ============================================================================
// Notebook lifecycle
// ============================================================================

func TestDeleteNotebook_RemovesEverything(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	addTextSource(t, o, nb.ID, "doc.txt")
	o.WaitForIndexing()
	_, err := o.Append(nb.ID, "user", "привет")
	require.NoError(t, err)

	require.NoError(t, o.DeleteNotebook(nb.ID))

	_, err = o.GetNotebook(nb.ID)
	assert.Error(t, err)
	assert.NoDirExists(t, o.cfg.DocsDir(nb.ID))
	assert.NoDirExists(t, o.cfg.ParsingDir(nb.ID))
	assert.NoFileExists(t, o.cfg.NotebookDBPath(nb.ID))
}

func TestDuplicateNotebook_CopiesSourcesWithFreshIDs(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	orig := addTextSource(t, o, nb.ID, "doc.txt")
	o.WaitForIndexing()

	clone, err := o.DuplicateNotebook(nb.ID)
	require.NoError(t, err)
	assert.Equal(t, "Копия: Ноутбук 1", clone.Title)

	cloneSources, err := o.ListSources(clone.ID)
	require.NoError(t, err)
	require.Len(t, cloneSources, 1)
	dup := cloneSources[0]
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, orig.Filename, dup.Filename)
	assert.Equal(t, orig.SortOrder, dup.SortOrder)
	assert.FileExists(t, dup.Filepath)

	// Parsing result carries the clone's ids.
	result, err := store.LoadParsingResult(o.parsingPath(clone.ID, dup.ID))
	require.NoError(t, err)
	assert.Equal(t, dup.ID, result.Metadata.DocID)
	for _, c := range result.Chunks {
		assert.Equal(t, dup.ID, c.DocID)
	}

	// Search rows were remapped, and the original still has its own.
	cloneDB, err := o.NotebookDB(clone.ID)
	require.NoError(t, err)
	n, err := cloneDB.ChunkCount(dup.ID)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	origDB, err := o.NotebookDB(nb.ID)
	require.NoError(t, err)
	n, err = origDB.ChunkCount(orig.ID)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

// ============================================================================
// Chat state
// ============================================================================

func TestChatState_HistoryVersionAndOrders(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	a := addTextSource(t, o, nb.ID, "a.txt")
	b := addTextSource(t, o, nb.ID, "b.txt")
	o.WaitForIndexing()

	orders := o.SourceOrderMap(nb.ID)
	assert.Equal(t, 1, orders[a.ID])
	assert.Equal(t, 2, orders[b.ID])

	_, err := o.Append(nb.ID, "user", "вопрос")
	require.NoError(t, err)
	_, err = o.Append(nb.ID, "assistant", "ответ")
	require.NoError(t, err)

	history, err := o.List(nb.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)

	before := o.ChatVersion(nb.ID)
	require.NoError(t, o.ClearMessages(nb.ID))
	assert.Equal(t, before+1, o.ChatVersion(nb.ID))

	history, err = o.List(nb.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// ============================================================================
// Status and estimates
// ============================================================================

func TestIndexStatus_CountsByState(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	addTextSource(t, o, nb.ID, "ok.txt")
	bad, err := o.AddSource(nb.ID, "bad.pdf", strings.NewReader("not a pdf"))
	require.NoError(t, err)
	o.WaitForIndexing()

	st, err := o.IndexStatus(nb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IndexStatus{Total: 2, Indexed: 1, Failed: 1}, st)

	_, err = o.GetSource(bad.ID)
	require.NoError(t, err)
}

func TestEstimateChunks_RealForParsedApproxForRest(t *testing.T) {
	o := newTestOrchestrator(t)
	nb := seededNotebook(t, o)

	parsed := addTextSource(t, o, nb.ID, "parsed.txt")
	o.WaitForIndexing()

	settings := model.DefaultParsingSettings()
	settings.AutoParseOnUpload = false
	require.NoError(t, o.UpdateParsingSettings(nb.ID, settings))
	raw := addTextSource(t, o, nb.ID, "raw.txt")

	estimates, err := o.EstimateChunks(nb.ID)
	require.NoError(t, err)
	require.Len(t, estimates, 2)

	byID := map[string]ChunkEstimate{}
	for _, e := range estimates {
		byID[e.SourceID] = e
	}
	assert.False(t, byID[parsed.ID].Approximate)
	assert.Greater(t, byID[parsed.ID].Chunks, 0)
	assert.True(t, byID[raw.ID].Approximate)
	assert.Greater(t, byID[raw.ID].Chunks, 0)
}
