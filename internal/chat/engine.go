package chat

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Bezzdar/local-rag/internal/model"
	"github.com/Bezzdar/local-rag/internal/search"
)

// wordDelay paces synthetic word-by-word streams (agent answers and
// the rag no-sources message) so the client renders them like a real
// model stream.
const wordDelay = 40 * time.Millisecond

// retrievalTopN is how many fused candidates a chat turn requests.
const retrievalTopN = 5

// snippetRunes is the citation snippet length.
const snippetRunes = 280

// Retriever runs hybrid retrieval for one notebook.
type Retriever interface {
	Retrieve(ctx context.Context, notebookID, message string, selectedSourceIDs []string, topN int) ([]model.RetrievedChunk, error)
}

// HistoryStore persists and lists chat turns.
type HistoryStore interface {
	Append(notebookID, role, content string) (model.ChatMessage, error)
	List(notebookID string) ([]model.ChatMessage, error)
}

// VersionSource exposes the per-notebook chat version counter. The
// counter moves when history is cleared; a stream compares its
// snapshot against the current value before persisting.
type VersionSource interface {
	ChatVersion(notebookID string) int64
}

// SourceOrders maps source ids to their 1-based display numbers.
type SourceOrders interface {
	SourceOrderMap(notebookID string) map[string]int
}

// AgentResolver resolves an agent id to its card; ok is false when the
// id is unknown.
type AgentResolver interface {
	ResolveAgent(id string) (AgentInfo, bool)
}

// Event is one SSE-shaped frame produced by a chat stream.
type Event struct {
	Name    string
	Payload any
}

// Request is one chat turn.
type Request struct {
	NotebookID        string
	Message           string
	Mode              string
	AgentID           string
	SelectedSourceIDs []string
	Provider          string
	Model             string
	BaseURL           string
	MaxHistory        int
}

// CitationLocation points into a source document.
type CitationLocation struct {
	Page      *int    `json:"page"`
	Sheet     string  `json:"sheet,omitempty"`
	Paragraph *string `json:"paragraph"`
}

// Citation is one retrieval hit attached to an answer.
type Citation struct {
	ID         string           `json:"id"`
	NotebookID string           `json:"notebook_id"`
	SourceID   string           `json:"source_id"`
	Filename   string           `json:"filename"`
	Location   CitationLocation `json:"location"`
	Snippet    string           `json:"snippet"`
	Score      float64          `json:"score"`
	DocOrder   int              `json:"doc_order"`
}

// Result is the outcome of a non-streaming chat turn.
type Result struct {
	Message   model.ChatMessage `json:"message"`
	Citations []Citation        `json:"citations"`
}

// Engine is the chat engine: retrieval, prompt assembly, upstream
// streaming, staleness detection, persistence.
type Engine struct {
	llm       *LLMClient
	retriever Retriever
	history   HistoryStore
	versions  VersionSource
	orders    SourceOrders
	agents    AgentResolver
	logger    *slog.Logger

	// delay overrides wordDelay in tests.
	delay time.Duration
}

// NewEngine wires a chat engine.
func NewEngine(llm *LLMClient, retriever Retriever, history HistoryStore, versions VersionSource, orders SourceOrders, agents AgentResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:       llm,
		retriever: retriever,
		history:   history,
		versions:  versions,
		orders:    orders,
		agents:    agents,
		logger:    logger,
		delay:     wordDelay,
	}
}

// Stream runs one chat turn, emitting token / citations / error / done
// events. The returned error covers emit failures only; upstream
// failures are surfaced as error events.
func (e *Engine) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	mode := NormalizeMode(req.Mode)
	if _, err := e.history.Append(req.NotebookID, "user", req.Message); err != nil {
		return err
	}
	version := e.versions.ChatVersion(req.NotebookID)
	orderMap := e.orders.SourceOrderMap(req.NotebookID)

	e.logger.Info("chat_stream_open",
		slog.String("notebook_id", req.NotebookID),
		slog.String("mode", string(mode)),
		slog.Int("message_len", len(req.Message)))

	if mode == model.ModeAgent {
		info, _ := e.resolveAgent(req.AgentID)
		answer := BuildAgentAnswer(info, req.Message)
		if err := e.streamWords(ctx, answer, emit); err != nil {
			return err
		}
		if err := emit(Event{Name: "citations", Payload: []Citation{}}); err != nil {
			return err
		}
		return e.finish(req.NotebookID, version, answer, emit)
	}

	relevant, err := e.retrieveAndFilter(ctx, req, mode)
	if err != nil {
		e.logger.Warn("retrieval_failed", slog.String("error", err.Error()))
	}
	sourcesFound := len(relevant) > 0
	citations := e.buildCitations(req.NotebookID, relevant, orderMap)

	if mode == model.ModeRAG && !sourcesFound {
		// No relevant sources: fixed answer, no LLM call.
		if err := e.streamWords(ctx, NoSourcesMessage, emit); err != nil {
			return err
		}
		if err := emit(Event{Name: "citations", Payload: []Citation{}}); err != nil {
			return err
		}
		return e.finish(req.NotebookID, version, NoSourcesMessage, emit)
	}

	messages, err := e.assembleMessages(req, mode, relevant, orderMap, sourcesFound)
	if err != nil {
		return err
	}

	var assembled strings.Builder
	streamErr := e.llm.Stream(ctx, StreamParams{
		Provider: req.Provider,
		BaseURL:  req.BaseURL,
		Model:    req.Model,
		Messages: messages,
	}, func(token string) error {
		assembled.WriteString(token)
		return emit(Event{Name: "token", Payload: map[string]string{"text": token}})
	})
	if streamErr != nil {
		e.logger.Warn("llm_stream_interrupted", slog.String("error", streamErr.Error()))
		if err := emit(Event{Name: "error", Payload: map[string]string{"detail": streamErr.Error()}}); err != nil {
			return err
		}
		return emit(Event{Name: "done", Payload: map[string]string{"message_id": ""}})
	}

	if err := emit(Event{Name: "citations", Payload: citations}); err != nil {
		return err
	}
	return e.finish(req.NotebookID, version, strings.TrimSpace(assembled.String()), emit)
}

// Chat runs one non-streaming turn.
func (e *Engine) Chat(ctx context.Context, req Request) (Result, error) {
	mode := NormalizeMode(req.Mode)
	if _, err := e.history.Append(req.NotebookID, "user", req.Message); err != nil {
		return Result{}, err
	}
	orderMap := e.orders.SourceOrderMap(req.NotebookID)

	var answer string
	citations := []Citation{}

	if mode == model.ModeAgent {
		info, _ := e.resolveAgent(req.AgentID)
		answer = BuildAgentAnswer(info, req.Message)
	} else {
		relevant, err := e.retrieveAndFilter(ctx, req, mode)
		if err != nil {
			e.logger.Warn("retrieval_failed", slog.String("error", err.Error()))
		}
		sourcesFound := len(relevant) > 0
		citations = e.buildCitations(req.NotebookID, relevant, orderMap)

		if mode == model.ModeRAG && !sourcesFound {
			answer = NoSourcesMessage
		} else {
			messages, err := e.assembleMessages(req, mode, relevant, orderMap, sourcesFound)
			if err != nil {
				return Result{}, err
			}
			answer = e.llm.Generate(ctx, StreamParams{
				Provider: req.Provider,
				BaseURL:  req.BaseURL,
				Model:    req.Model,
				Messages: messages,
			})
		}
	}

	assistant, err := e.history.Append(req.NotebookID, "assistant", answer)
	if err != nil {
		return Result{}, err
	}
	return Result{Message: assistant, Citations: citations}, nil
}

func (e *Engine) resolveAgent(id string) (AgentInfo, bool) {
	if e.agents == nil {
		return AgentInfo{ID: id}, false
	}
	info, ok := e.agents.ResolveAgent(id)
	if !ok {
		info.ID = id
	}
	return info, ok
}

func (e *Engine) retrieveAndFilter(ctx context.Context, req Request, mode model.ChatMode) ([]model.RetrievedChunk, error) {
	if e.retriever == nil {
		return nil, nil
	}
	chunks, err := e.retriever.Retrieve(ctx, req.NotebookID, req.Message, req.SelectedSourceIDs, retrievalTopN)
	if err != nil {
		return nil, err
	}
	normalized := search.NormalizeScores(chunks)
	return search.FilterByMode(normalized, mode), nil
}

func (e *Engine) assembleMessages(req Request, mode model.ChatMode, relevant []model.RetrievedChunk, orderMap map[string]int, sourcesFound bool) ([]Message, error) {
	all, err := e.history.List(req.NotebookID)
	if err != nil {
		return nil, err
	}
	history := BuildHistory(all, req.MaxHistory)

	ragContext := ""
	if sourcesFound {
		ragContext = BuildRAGContext(relevant, orderMap)
	}
	return BuildMessages(mode, history, ragContext, sourcesFound), nil
}

func (e *Engine) buildCitations(notebookID string, chunks []model.RetrievedChunk, orderMap map[string]int) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for _, chunk := range chunks {
		filename := filepath.Base(chunk.Source)
		if filename == "" || filename == "." {
			filename = "unknown"
		}
		score := chunk.Score
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		page := chunk.Page
		section := chunk.SectionTitle
		if section == "" {
			section = chunk.SectionID
		}
		citations = append(citations, Citation{
			ID:         uuid.NewString(),
			NotebookID: notebookID,
			SourceID:   chunk.SourceID,
			Filename:   filename,
			Location:   CitationLocation{Page: &page, Sheet: section},
			Snippet:    truncateRunes(chunk.Text, snippetRunes),
			Score:      score,
			DocOrder:   orderMap[chunk.SourceID],
		})
	}
	return citations
}

// streamWords emits a fixed answer word-by-word with a small delay.
func (e *Engine) streamWords(ctx context.Context, answer string, emit func(Event) error) error {
	for _, word := range strings.Split(answer, " ") {
		token := word + " "
		if err := emit(Event{Name: "token", Payload: map[string]string{"text": token}}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.delay):
		}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// finish persists the assistant message unless the chat version moved
// during the stream; stale streams emit done with an empty message id
// and the answer is dropped.
func (e *Engine) finish(notebookID string, version int64, answer string, emit func(Event) error) error {
	if e.versions.ChatVersion(notebookID) != version {
		e.logger.Info("chat_stream_stale", slog.String("notebook_id", notebookID))
		return emit(Event{Name: "done", Payload: map[string]string{"message_id": ""}})
	}
	assistant, err := e.history.Append(notebookID, "assistant", answer)
	if err != nil {
		return err
	}
	return emit(Event{Name: "done", Payload: map[string]string{"message_id": assistant.ID}})
}
