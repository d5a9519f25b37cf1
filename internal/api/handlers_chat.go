package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Bezzdar/local-rag/internal/chat"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

func (s *Server) listMessages(c *gin.Context) {
	messages, err := s.orch.List(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// clearMessages wipes history and advances the chat version so
// in-flight streams drop their answers.
func (s *Server) clearMessages(c *gin.Context) {
	if err := s.orch.ClearMessages(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) deleteMessage(c *gin.Context) {
	if err := s.orch.DeleteMessage(c.Param("id"), c.Param("messageID")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type chatBody struct {
	NotebookID        string   `json:"notebook_id"`
	Message           string   `json:"message"`
	Mode              string   `json:"mode"`
	AgentID           string   `json:"agent_id"`
	SelectedSourceIDs []string `json:"selected_source_ids"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	BaseURL           string   `json:"base_url"`
	MaxHistory        int      `json:"max_history"`
}

func (b chatBody) request() chat.Request {
	return chat.Request{
		NotebookID:        b.NotebookID,
		Message:           b.Message,
		Mode:              b.Mode,
		AgentID:           b.AgentID,
		SelectedSourceIDs: b.SelectedSourceIDs,
		Provider:          b.Provider,
		Model:             b.Model,
		BaseURL:           b.BaseURL,
		MaxHistory:        b.MaxHistory,
	}
}

func (s *Server) chat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid request body", err))
		return
	}
	if body.NotebookID == "" || strings.TrimSpace(body.Message) == "" {
		s.abortError(c, ragerrors.ValidationError("notebook_id and message are required", nil))
		return
	}
	if _, err := s.orch.GetNotebook(body.NotebookID); err != nil {
		s.abortError(c, err)
		return
	}

	result, err := s.engine.Chat(c.Request.Context(), body.request())
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// chatStream runs one chat turn over SSE. Query parameters mirror the
// POST /chat body; selected_source_ids is comma-separated.
func (s *Server) chatStream(c *gin.Context) {
	req := chat.Request{
		NotebookID: c.Query("notebook_id"),
		Message:    c.Query("message"),
		Mode:       c.Query("mode"),
		AgentID:    c.Query("agent_id"),
		Provider:   c.Query("provider"),
		Model:      c.Query("model"),
		BaseURL:    c.Query("base_url"),
	}
	if raw := c.Query("selected_source_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.SelectedSourceIDs = append(req.SelectedSourceIDs, id)
			}
		}
	}
	if raw := c.Query("max_history"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			req.MaxHistory = n
		}
	}

	if req.NotebookID == "" || strings.TrimSpace(req.Message) == "" {
		s.abortError(c, ragerrors.ValidationError("notebook_id and message are required", nil))
		return
	}
	if _, err := s.orch.GetNotebook(req.NotebookID); err != nil {
		s.abortError(c, err)
		return
	}

	sse := newSSEWriter(c.Writer)
	if err := s.engine.Stream(c.Request.Context(), req, sse.Emit); err != nil {
		// The response already started; all we can do is log.
		s.logger.Warn("chat_stream_aborted", "error", err.Error())
	}
}
