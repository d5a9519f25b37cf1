package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Bezzdar/local-rag/internal/config"
	"github.com/Bezzdar/local-rag/internal/errors"
)

// dimensionProbeText is embedded once at startup to learn the real
// vector dimension from the server.
const dimensionProbeText = "dimension probe"

// absentRe recognises "model not installed" failures in error text.
var absentRe = regexp.MustCompile(`(?i)404|not found|status=404`)

// Client is the HTTP embedding client. Dynamic state (active model,
// dimension, model-absent flag) is mutated under mu; the configuration
// snapshot is immutable.
type Client struct {
	cfg    config.EmbeddingConfig
	http   *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	dim         int
	activeModel string
	modelAbsent bool
}

// NewClient builds a client and, when the server is alive, runs the
// dimension probe so the configured fallback dim gets corrected.
func NewClient(cfg config.EmbeddingConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Timeouts come from per-request contexts.
		},
		logger:      logger,
		dim:         cfg.Dim,
		activeModel: cfg.Model,
	}

	if cfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if c.Available(ctx) {
			c.probeDimension(ctx)
		}
	}
	return c
}

// Available probes GET {base}/api/tags; any response below 500 counts
// as alive.
func (c *Client) Available(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}
	_, status, err := c.listServerModels(ctx)
	return err == nil && status < 500
}

// Dimension returns the current embedding dimension.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.cfg.Model
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Embed returns one vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	return c.EmbedBatch(ctx, []string{text})[0]
}

// EmbedBatch returns exactly len(texts) vectors. Disabled clients, an
// absent model, or an exhausted fallback chain all yield zero vectors.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	c.mu.Lock()
	disabled := !c.cfg.Enabled || c.modelAbsent
	dim := c.dim
	c.mu.Unlock()

	if disabled {
		return zeroVectors(len(texts), dim)
	}

	out := make([][]float32, 0, len(texts))
	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := c.embedWithFallback(ctx, batch)
		if err != nil {
			c.noteFailure(err)
			c.logger.Warn("embedding batch failed, degrading to zero vectors",
				"error", err, "batch", len(batch))
			vecs = zeroVectors(len(batch), c.Dimension())
		}
		out = append(out, vecs...)
	}
	return out
}

// embedWithFallback iterates model candidates, then endpoint
// candidates, retrying transient failures.
func (c *Client) embedWithFallback(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for _, candidate := range c.modelCandidates() {
		// Re-probe the tag list before each candidate: a listed server
		// that does not carry the candidate is skipped outright.
		if names, status, err := c.listServerModels(ctx); err == nil && status == http.StatusOK && len(names) > 0 {
			if !modelListed(names, candidate) {
				c.logger.Debug("model not in server tag list, skipping", "model", candidate)
				lastErr = errors.Newf(errors.ErrCodeModelAbsent, "model %s not found on server", candidate)
				continue
			}
		}

		vecs, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			return c.embedViaEndpoints(ctx, candidate, texts)
		})
		if err == nil {
			c.mu.Lock()
			c.activeModel = candidate
			c.mu.Unlock()
			return vecs, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.UpstreamError("no embedding model candidates", nil)
	}
	return nil, lastErr
}

// embedViaEndpoints walks the endpoint chain: native batch, legacy
// per-text, OpenAI-compatible. A 404 moves to the next endpoint.
func (c *Client) embedViaEndpoints(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var lastErr error
	for _, ep := range c.endpointCandidates() {
		vecs, status, err := c.callEndpoint(ctx, ep, model, texts)
		if err == nil {
			return c.finish(vecs, len(texts)), nil
		}
		if status == http.StatusNotFound {
			lastErr = err
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = errors.UpstreamError("no embedding endpoints configured", nil)
	}
	return nil, lastErr
}

type endpoint struct {
	path  string
	style string // native, legacy, openai
}

// endpointCandidates derives the endpoint chain from the provider and
// base URL shape. An explicit configured endpoint short-circuits.
func (c *Client) endpointCandidates() []endpoint {
	if c.cfg.Endpoint != "" {
		return []endpoint{{path: c.cfg.Endpoint, style: styleForPath(c.cfg.Endpoint)}}
	}
	if c.cfg.Provider == "openai" {
		return []endpoint{{path: "/v1/embeddings", style: "openai"}}
	}
	if strings.HasSuffix(strings.TrimRight(c.cfg.BaseURL, "/"), "/api") {
		return []endpoint{
			{path: "/embed", style: "native"},
			{path: "/embeddings", style: "legacy"},
			{path: "/v1/embeddings", style: "openai"},
		}
	}
	return []endpoint{
		{path: "/api/embed", style: "native"},
		{path: "/api/embeddings", style: "legacy"},
		{path: "/v1/embeddings", style: "openai"},
	}
}

func styleForPath(path string) string {
	switch {
	case strings.HasSuffix(path, "/embed"):
		return "native"
	case strings.HasSuffix(path, "/v1/embeddings"):
		return "openai"
	default:
		return "legacy"
	}
}

// modelCandidates returns the configured name and, for tagged names
// like "qwen3-embedding:0.6b", the prefix before the colon.
func (c *Client) modelCandidates() []string {
	out := []string{c.cfg.Model}
	if i := strings.Index(c.cfg.Model, ":"); i > 0 {
		out = append(out, c.cfg.Model[:i])
	}
	return out
}

// callEndpoint performs one HTTP call and parses the response shape
// matching the endpoint style.
func (c *Client) callEndpoint(ctx context.Context, ep endpoint, model string, texts []string) ([][]float32, int, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch ep.style {
	case "legacy":
		// Legacy endpoint embeds one text per call.
		out := make([][]float32, 0, len(texts))
		for _, text := range texts {
			body, status, err := c.post(ctx, ep.path, map[string]any{"model": model, "prompt": text})
			if err != nil {
				return nil, status, err
			}
			var resp struct {
				Embedding []float32 `json:"embedding"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, status, errors.UpstreamError("decode legacy embedding response", err)
			}
			out = append(out, resp.Embedding)
		}
		return out, http.StatusOK, nil

	case "openai":
		payload := map[string]any{"model": model, "input": texts}
		body, status, err := c.post(ctx, ep.path, payload)
		if err != nil {
			return nil, status, err
		}
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, status, errors.UpstreamError("decode openai embedding response", err)
		}
		out := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = d.Embedding
		}
		return out, status, nil

	default: // native batch
		payload := map[string]any{"model": model, "input": texts}
		body, status, err := c.post(ctx, ep.path, payload)
		if err != nil {
			return nil, status, err
		}
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, status, errors.UpstreamError("decode native embedding response", err)
		}
		return resp.Embeddings, status, nil
	}
}

// post sends a JSON body and returns the raw response. Non-2xx
// statuses become upstream errors carrying the status code.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.UpstreamError("embedding request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, resp.StatusCode, errors.UpstreamError("read embedding response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, errors.Newf(errors.ErrCodeUpstreamUnavailable,
			"embedding endpoint %s: status=%d %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

// listServerModels fetches {base}/api/tags.
func (c *Client) listServerModels(ctx context.Context) ([]string, int, error) {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	base = strings.TrimSuffix(base, "/api")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, resp.StatusCode, nil
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, resp.StatusCode, nil
}

// modelListed matches a candidate against server tags. Server names
// may carry a ":latest" style suffix; the candidate must match exactly
// or equal a server name with its tag removed. A tagged candidate the
// server does not list is skipped so the bare-name fallback can run.
func modelListed(names []string, candidate string) bool {
	for _, n := range names {
		if n == candidate {
			return true
		}
		if i := strings.Index(n, ":"); i > 0 && n[:i] == candidate {
			return true
		}
	}
	return false
}

// probeDimension embeds a short probe text and adopts the returned
// vector length as the process-wide dimension.
func (c *Client) probeDimension(ctx context.Context) {
	vecs, err := c.embedWithFallback(ctx, []string{dimensionProbeText})
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		c.noteFailure(err)
		c.logger.Warn("dimension probe failed, keeping fallback dim", "dim", c.cfg.Dim, "error", err)
		return
	}
	c.mu.Lock()
	c.dim = len(vecs[0])
	c.mu.Unlock()
	c.logger.Info("embedding dimension probed", "dim", len(vecs[0]), "model", c.cfg.Model)
}

// finish pads or truncates to the expected count, adopts the observed
// dimension, and normalises when configured.
func (c *Client) finish(vecs [][]float32, want int) [][]float32 {
	dim := c.Dimension()
	for _, v := range vecs {
		if len(v) > 0 {
			if len(v) != dim {
				c.mu.Lock()
				c.dim = len(v)
				dim = len(v)
				c.mu.Unlock()
			}
			break
		}
	}

	out := make([][]float32, want)
	for i := 0; i < want; i++ {
		if i < len(vecs) && len(vecs[i]) == dim {
			if c.cfg.Normalize {
				out[i] = normalizeVector(vecs[i])
			} else {
				out[i] = vecs[i]
			}
		} else {
			out[i] = make([]float32, dim)
		}
	}
	return out
}

// noteFailure flags the model as absent-on-server when the error text
// says so; subsequent calls short-circuit to zero vectors.
func (c *Client) noteFailure(err error) {
	if err == nil {
		return
	}
	if absentRe.MatchString(err.Error()) {
		c.mu.Lock()
		c.modelAbsent = true
		c.mu.Unlock()
		c.logger.Warn("embedding model absent on server, disabling until reconfigure",
			"model", c.cfg.Model)
	}
}

func zeroVectors(n, dim int) [][]float32 {
	if dim <= 0 {
		dim = 1
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Embedder = (*Client)(nil)

// String implements fmt.Stringer for log lines.
func (c *Client) String() string {
	return fmt.Sprintf("embed.Client{provider=%s model=%s dim=%d}", c.cfg.Provider, c.cfg.Model, c.Dimension())
}
