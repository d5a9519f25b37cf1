package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/chat"
	"github.com/Bezzdar/local-rag/internal/config"
	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/orchestrator"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Data.Dir = t.TempDir()
	cfg.Embedding.Enabled = false
	cfg.Agents.Dir = filepath.Join(cfg.Data.Dir, "agents")
	cfg.Upload.MaxUploadMB = 1

	orch, err := orchestrator.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	srv := NewServer(cfg, orch, nil)
	return srv, srv.Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seededNotebookID(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodGet, "/api/notebooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Notebooks []model.Notebook `json:"notebooks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Notebooks, 1)
	return resp.Notebooks[0].ID
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// ============================================================================
// Health and notebooks
// ============================================================================

func TestHealth_BothMounts(t *testing.T) {
	_, r := newTestServer(t)
	for _, path := range []string{"/health", "/api/health"} {
		w := doJSON(t, r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	}
}

func TestNotebooks_CRUD(t *testing.T) {
	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/notebooks", gin.H{"title": "Проект"})
	require.Equal(t, http.StatusCreated, w.Code)
	var nb model.Notebook
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nb))
	assert.Equal(t, "Проект", nb.Title)

	w = doJSON(t, r, http.MethodPatch, "/api/notebooks/"+nb.ID, gin.H{"title": "Новое имя"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Новое имя")

	w = doJSON(t, r, http.MethodDelete, "/api/notebooks/"+nb.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/notebooks/"+nb.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "detail")
}

func TestParsingSettings_PartialPatch(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	w := doJSON(t, r, http.MethodPatch, "/api/notebooks/"+nbID+"/parsing-settings",
		gin.H{"chunk_size": 256})
	require.Equal(t, http.StatusOK, w.Code)

	var settings model.ParsingSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, 256, settings.ChunkSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 64, settings.ChunkOverlap)
	assert.Equal(t, model.MethodGeneral, settings.ChunkingMethod)
}

// ============================================================================
// Uploads
// ============================================================================

func TestUpload_CreatesAndIndexesSource(t *testing.T) {
	srv, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	content := []byte(strings.Repeat("Документация сервиса описывает загрузку файлов. ", 40))
	body, contentType := multipartBody(t, "manual.txt", content)

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/"+nbID+"/sources/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var src model.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &src))
	assert.Equal(t, "manual.txt", src.Filename)

	srv.orch.WaitForIndexing()
	w = doJSON(t, r, http.MethodGet, "/api/notebooks/"+nbID+"/index/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":1,"indexed":1,"indexing":0,"failed":0}`, w.Body.String())
}

func TestUpload_TooLargeIs413(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	// Limit is 1 MB in the test config.
	body, contentType := multipartBody(t, "big.txt", bytes.Repeat([]byte("x"), 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/"+nbID+"/sources/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Nothing was registered or left on disk.
	w = doJSON(t, r, http.MethodGet, "/api/notebooks/"+nbID+"/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sources":[]}`, w.Body.String())
}

func TestUpload_MissingFileFieldIs400(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/"+nbID+"/sources/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_FallbackParserHandlesBareLFFraming(t *testing.T) {
	srv, r := newTestServer(t)
	srv.cfg.Server.ForceFallbackMultipart = true
	nbID := seededNotebookID(t, r)

	boundary := "xBoundary"
	raw := fmt.Sprintf("--%s\nContent-Disposition: form-data; name=\"file\"; filename=\"notes.txt\"\n\n%s\n--%s--\n",
		boundary, strings.Repeat("Текст для индексации сервиса. ", 30), boundary)

	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/"+nbID+"/sources/upload", strings.NewReader(raw))
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var src model.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &src))
	assert.Equal(t, "notes.txt", src.Filename)
	assert.Greater(t, src.SizeBytes, int64(0))
}

// ============================================================================
// Chat
// ============================================================================

func TestChatStream_RAGWithoutSourcesEmitsFixedAnswer(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	req := httptest.NewRequest(http.MethodGet,
		"/api/chat/stream?notebook_id="+nbID+"&message=привет&mode=rag", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, "event: token\ndata: ")
	assert.Contains(t, out, "event: citations\ndata: []\n\n")
	assert.Contains(t, out, "event: done\ndata: ")
	// The fixed no-sources sentence is streamed word by word.
	first := strings.Split(chat.NoSourcesMessage, " ")[0]
	assert.Contains(t, out, first)

	// Both turns were persisted.
	hw := doJSON(t, r, http.MethodGet, "/api/notebooks/"+nbID+"/messages", nil)
	var resp struct {
		Messages []model.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(hw.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, chat.NoSourcesMessage, resp.Messages[1].Content)
}

func TestChatStream_MissingParamsIs400(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/api/chat/stream?message=hi", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_ClearEmptiesHistory(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/chat", gin.H{
		"notebook_id": nbID, "message": "вопрос", "mode": "rag",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/notebooks/"+nbID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/notebooks/"+nbID+"/messages", nil)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

// ============================================================================
// System endpoints
// ============================================================================

func TestLLMModels_NonOllamaProviderIs400(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/api/llm/models?provider=openai", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLLMModels_FiltersByPurpose(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_ = json.NewEncoder(w).Encode(gin.H{"models": []gin.H{
			{"name": "llama3:8b"},
			{"name": "nomic-embed-text"},
			{"name": "bge-reranker-v2"},
		}})
	}))
	defer upstream.Close()

	_, r := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/api/llm/models?base_url="+upstream.URL+"&purpose=chat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["llama3:8b"]}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/llm/models?base_url="+upstream.URL+"&purpose=embedding", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["nomic-embed-text"]}`, w.Body.String())
}

func TestFiles_MissingPathIs404(t *testing.T) {
	_, r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/api/files?path=/nonexistent/file.pdf", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCitationsAndNotes_RoundTrip(t *testing.T) {
	_, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/notebooks/"+nbID+"/citations", gin.H{
		"source_id": "s1", "filename": "doc.pdf", "chunk_text": "цитата",
		"source_notebook_id": nbID,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var citation struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &citation))

	w = doJSON(t, r, http.MethodGet, "/api/notebooks/"+nbID+"/citations", nil)
	assert.Contains(t, w.Body.String(), "цитата")

	w = doJSON(t, r, http.MethodDelete, "/api/notebooks/"+nbID+"/citations/"+citation.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/notebooks/"+nbID+"/citations/"+citation.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/notes", gin.H{
		"content": "заметка", "source_notebook_id": nbID, "source_notebook_title": "Ноутбук 1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var note struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &note))

	w = doJSON(t, r, http.MethodGet, "/api/notes", nil)
	assert.Contains(t, w.Body.String(), "заметка")

	w = doJSON(t, r, http.MethodDelete, "/api/notes/"+note.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPatchSource_TogglesAndOverrides(t *testing.T) {
	srv, r := newTestServer(t)
	nbID := seededNotebookID(t, r)

	content := []byte(strings.Repeat("Текст документа для поиска. ", 40))
	body, contentType := multipartBody(t, "doc.txt", content)
	req := httptest.NewRequest(http.MethodPost, "/api/notebooks/"+nbID+"/sources/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var src model.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &src))
	srv.orch.WaitForIndexing()

	w = doJSON(t, r, http.MethodPatch, "/api/sources/"+src.ID, gin.H{
		"is_enabled":                false,
		"individual_parsing_config": gin.H{"chunk_size": 128},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var updated model.Source
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.False(t, updated.IsEnabled)
	require.NotNil(t, updated.Override)
	require.NotNil(t, updated.Override.ChunkSize)
	assert.Equal(t, 128, *updated.Override.ChunkSize)

	// Null clears the override.
	w = doJSON(t, r, http.MethodPatch, "/api/sources/"+src.ID, gin.H{
		"individual_parsing_config": nil,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Nil(t, updated.Override)
}
