package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezzdar/local-rag/internal/config"
)

type fakeOllama struct {
	// models listed by /api/tags
	models []string
	// servedModel is accepted by /api/embed; others get 404 body text
	servedModel string
	dim         int

	embedCalls  atomic.Int32
	legacyCalls atomic.Int32
	nativeGone  bool // 404 on /api/embed to force the legacy fallback
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		var models []m
		for _, name := range f.models {
			models = append(models, m{Name: name})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		if f.nativeGone {
			http.NotFound(w, r)
			return
		}
		f.embedCalls.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != f.servedModel {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = make([]float32, f.dim)
			vecs[i][0] = float32(i + 1)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.legacyCalls.Add(1)
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != f.servedModel {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		vec := make([]float32, f.dim)
		vec[0] = 7
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	})
	return mux
}

func testConfig(baseURL, model string, dim int) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Enabled:   true,
		Provider:  "ollama",
		BaseURL:   baseURL,
		Model:     model,
		Dim:       dim,
		BatchSize: 8,
		Normalize: false,
		Timeout:   5 * time.Second,
	}
}

// ============================================================================
// Liveness and dimension probe
// ============================================================================

func TestClient_DimensionProbeOverridesFallback(t *testing.T) {
	f := &fakeOllama{models: []string{"bge-m3"}, servedModel: "bge-m3", dim: 1024}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, "bge-m3", 768), nil)

	assert.Equal(t, 1024, c.Dimension())
	assert.True(t, c.Available(context.Background()))
}

func TestClient_DisabledReturnsZeroVectors(t *testing.T) {
	cfg := testConfig("http://localhost:1", "x", 4)
	cfg.Enabled = false
	c := NewClient(cfg, nil)

	vecs := c.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Len(t, vecs, 2)
	assert.True(t, IsZero(vecs[0]))
	assert.Len(t, vecs[0], 4)
	assert.False(t, c.Available(context.Background()))
}

// ============================================================================
// Model candidate fallback
// ============================================================================

func TestClient_StripsModelTagWhenServerListsBaseName(t *testing.T) {
	// Server lists "qwen3-embedding"; configured model carries a ":0.6b"
	// tag. The client strips the tag and succeeds with the base name.
	f := &fakeOllama{models: []string{"qwen3-embedding"}, servedModel: "qwen3-embedding", dim: 16}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, "qwen3-embedding:0.6b", 16), nil)
	vecs := c.EmbedBatch(context.Background(), []string{"hello"})

	require.Len(t, vecs, 1)
	assert.False(t, IsZero(vecs[0]))

	c.mu.Lock()
	active := c.activeModel
	c.mu.Unlock()
	assert.Equal(t, "qwen3-embedding", active)
}

func TestClient_ModelListedMatchesTaggedServerNames(t *testing.T) {
	assert.True(t, modelListed([]string{"bge-m3:latest"}, "bge-m3"))
	// A tagged candidate the server does not list is skipped; the bare
	// name is tried as the next candidate instead.
	assert.False(t, modelListed([]string{"bge-m3"}, "bge-m3:q4"))
	assert.False(t, modelListed([]string{"nomic-embed-text"}, "bge-m3"))
}

// ============================================================================
// Endpoint fallback
// ============================================================================

func TestClient_FallsBackToLegacyEndpointOn404(t *testing.T) {
	f := &fakeOllama{models: []string{"m"}, servedModel: "m", dim: 8, nativeGone: true}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, "m", 8), nil)
	vecs := c.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Len(t, vecs, 2)
	assert.False(t, IsZero(vecs[0]))
	assert.GreaterOrEqual(t, f.legacyCalls.Load(), int32(2)) // one call per text
}

func TestClient_EndpointCandidatesRespectAPIBase(t *testing.T) {
	c := &Client{cfg: config.EmbeddingConfig{BaseURL: "http://h:1/api", Provider: "custom"}}
	eps := c.endpointCandidates()
	require.Len(t, eps, 3)
	assert.Equal(t, "/embed", eps[0].path)
	assert.Equal(t, "/embeddings", eps[1].path)
	assert.Equal(t, "/v1/embeddings", eps[2].path)

	c = &Client{cfg: config.EmbeddingConfig{BaseURL: "http://h:1", Provider: "openai"}}
	eps = c.endpointCandidates()
	require.Len(t, eps, 1)
	assert.Equal(t, "/v1/embeddings", eps[0].path)
}

// ============================================================================
// Degradation
// ============================================================================

func TestClient_AbsentModelFlagShortCircuits(t *testing.T) {
	// Server lists no models and 404s every embed call: the startup
	// dimension probe already flips the absent flag, and calls after
	// that never reach the server.
	f := &fakeOllama{models: nil, servedModel: "other", dim: 8}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, "missing", 8), nil)

	c.mu.Lock()
	absent := c.modelAbsent
	c.mu.Unlock()
	require.True(t, absent)

	before := f.embedCalls.Load()
	vecs := c.EmbedBatch(context.Background(), []string{"x"})
	require.Len(t, vecs, 1)
	assert.True(t, IsZero(vecs[0]))
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, before, f.embedCalls.Load())
}

func TestFinish_PadsAndNormalizes(t *testing.T) {
	c := &Client{cfg: config.EmbeddingConfig{Normalize: true}, dim: 2}

	out := c.finish([][]float32{{3, 4}}, 3)

	require.Len(t, out, 3)
	assert.InDelta(t, 0.6, out[0][0], 1e-6)
	assert.InDelta(t, 0.8, out[0][1], 1e-6)
	assert.True(t, IsZero(out[1]))
	assert.True(t, IsZero(out[2]))
}

// ============================================================================
// Cache
// ============================================================================

func TestCachedEmbedder_SkipsUpstreamOnHit(t *testing.T) {
	f := &fakeOllama{models: []string{"m"}, servedModel: "m", dim: 8}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := NewCachedEmbedder(NewClient(testConfig(srv.URL, "m", 8), nil), 16)

	_ = c.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	calls := f.embedCalls.Load()

	again := c.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.Len(t, again, 2)
	assert.Equal(t, calls, f.embedCalls.Load())
}

func TestCachedEmbedder_NeverCachesZeroVectors(t *testing.T) {
	cfg := testConfig("http://localhost:1", "m", 4)
	cfg.Enabled = false
	c := NewCachedEmbedder(NewClient(cfg, nil), 16)

	vec := c.Embed(context.Background(), "text")
	require.True(t, IsZero(vec))
	assert.Equal(t, 0, c.cache.Len())
}
