package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Bezzdar/local-rag/internal/config"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
)

const defaultChatTimeout = 60 * time.Second

// maxStreamLineBytes bounds a single upstream frame line.
const maxStreamLineBytes = 1 << 20

// LLMClient talks to an Ollama-style or OpenAI-compatible chat
// endpoint. Requests carry per-call context timeouts; the underlying
// http.Client has none so long streams are not cut off.
type LLMClient struct {
	cfg    config.ChatConfig
	http   *http.Client
	debug  bool
	logger *slog.Logger
}

// StreamParams are per-request upstream settings. Empty fields fall
// back to the configured defaults.
type StreamParams struct {
	Provider string
	BaseURL  string
	Model    string
	Messages []Message
}

// NewLLMClient creates an upstream chat client.
func NewLLMClient(cfg config.ChatConfig, debug bool, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClient{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		debug:  debug,
		logger: logger,
	}
}

// resolve merges per-request params with configured defaults.
func (c *LLMClient) resolve(p StreamParams) (provider, baseURL, model string) {
	provider = strings.ToLower(strings.TrimSpace(p.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(c.cfg.Provider))
	}
	if provider == "" {
		provider = "none"
	}
	baseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	}
	model = strings.TrimSpace(p.Model)
	if model == "" {
		model = strings.TrimSpace(c.cfg.Model)
	}
	return provider, baseURL, model
}

// guidance returns a user-facing message when the upstream is not
// configured; empty string means the request can proceed.
func guidance(provider, baseURL, model string) string {
	switch {
	case provider == "none":
		return "Режим модели включен, но провайдер не настроен. Откройте Runtime Settings и выберите LLM-провайдера."
	case provider != "ollama" && provider != "openai":
		return fmt.Sprintf("Неподдерживаемый провайдер: %s. Сейчас доступны Ollama и OpenAI-compatible.", provider)
	case baseURL == "":
		return "Не указан base_url для LLM. Укажите адрес в Runtime Settings."
	case model == "":
		return "Не выбрана модель. Выберите модель в Runtime Settings."
	}
	return ""
}

func chatURL(provider, baseURL string) string {
	if provider == "ollama" {
		return baseURL + "/api/chat"
	}
	return baseURL + "/v1/chat/completions"
}

// Stream opens the upstream streaming endpoint and calls onToken for
// every delta. A misconfigured upstream yields its guidance text as a
// single token and returns nil; transport and HTTP failures return a
// typed upstream error.
func (c *LLMClient) Stream(ctx context.Context, p StreamParams, onToken func(string) error) error {
	provider, baseURL, model := c.resolve(p)
	if msg := guidance(provider, baseURL, model); msg != "" {
		return onToken(msg)
	}

	url := chatURL(provider, baseURL)
	if c.debug {
		c.logger.Info("llm_stream_request",
			slog.String("provider", provider),
			slog.String("url", url),
			slog.String("model", model))
	}

	resp, err := c.post(ctx, provider, url, model, p.Messages, true)
	if err != nil {
		return ragerrors.UpstreamError(fmt.Sprintf("Ошибка запроса к модели (%s)", model), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ragerrors.UpstreamError(
			fmt.Sprintf("Ошибка запроса к модели (%s): status=%d", model, resp.StatusCode), nil)
	}

	received := 0
	dropped := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var frame map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			dropped++
			continue
		}
		token := extractToken(provider, frame)
		if token == "" {
			continue
		}
		received++
		if err := onToken(token); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return ragerrors.UpstreamError(fmt.Sprintf("Ошибка запроса к модели (%s)", model), err)
	}

	c.logger.Info("llm_stream_completed",
		slog.String("provider", provider),
		slog.String("model", model),
		slog.Int("received_packets", received),
		slog.Int("dropped_packets", dropped))
	return nil
}

// Generate performs a non-streaming completion. Failures come back as
// user-facing text rather than errors, matching the /chat contract.
func (c *LLMClient) Generate(ctx context.Context, p StreamParams) string {
	provider, baseURL, model := c.resolve(p)
	if msg := guidance(provider, baseURL, model); msg != "" {
		return msg
	}

	resp, err := c.post(ctx, provider, chatURL(provider, baseURL), model, p.Messages, false)
	if err != nil {
		return fmt.Sprintf("Ошибка запроса к модели (%s): %v", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Ошибка запроса к модели (%s): status=%d", model, resp.StatusCode)
	}

	var body struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Sprintf("Ошибка запроса к модели (%s): %v", model, err)
	}
	if content := strings.TrimSpace(body.Message.Content); content != "" {
		return content
	}
	if len(body.Choices) > 0 {
		if content := strings.TrimSpace(body.Choices[0].Message.Content); content != "" {
			return content
		}
	}
	return "Модель вернула пустой ответ."
}

func (c *LLMClient) post(ctx context.Context, provider, url, model string, messages []Message, stream bool) (*http.Response, error) {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if provider == "openai" && c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelReadCloser ties the request context's cancel to body close so
// streaming reads stay valid until the caller is done.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

// extractToken pulls the incremental text out of a provider frame.
func extractToken(provider string, frame map[string]json.RawMessage) string {
	if provider == "ollama" {
		var msg struct {
			Content string `json:"content"`
		}
		if raw, ok := frame["message"]; ok {
			if err := json.Unmarshal(raw, &msg); err == nil {
				return msg.Content
			}
		}
		return ""
	}

	var choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	}
	if raw, ok := frame["choices"]; ok {
		if err := json.Unmarshal(raw, &choices); err == nil && len(choices) > 0 {
			return choices[0].Delta.Content
		}
	}
	return ""
}
