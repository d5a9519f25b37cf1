package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Bezzdar/local-rag/internal/agents"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/notes"
)

func (s *Server) listAgents(c *gin.Context) {
	list := s.orch.Agents().List()
	if list == nil {
		list = []agents.Manifest{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

// Model name keywords that classify an upstream model list.
var (
	rerankKeywords    = []string{"rerank", "reranker"}
	embedOnlyKeywords = []string{"embed", "embedding", "bge-m3", "bge-large", "e5", "gte"}
	embedKeywords     = []string{"embed", "embedding", "bge", "e5", "gte", "nomic-embed", "mxbai-embed"}
)

func containsAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// listLLMModels proxies the ollama model list, filtered by purpose:
// chat drops embedding and rerank models, embedding keeps them.
func (s *Server) listLLMModels(c *gin.Context) {
	provider := strings.ToLower(c.DefaultQuery("provider", "ollama"))
	if provider != "ollama" {
		s.abortError(c, ragerrors.New(ragerrors.ErrCodeProviderUnsupported,
			"model listing is only supported for ollama", nil))
		return
	}

	baseURL := c.DefaultQuery("base_url", s.cfg.Chat.BaseURL)
	purpose := c.DefaultQuery("purpose", "chat")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		s.abortError(c, ragerrors.UpstreamError("build model list request", err))
		return
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.abortError(c, ragerrors.UpstreamError("model server unreachable", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.abortError(c, ragerrors.Newf(ragerrors.ErrCodeUpstreamUnavailable,
			"model server returned status %d", resp.StatusCode))
		return
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.abortError(c, ragerrors.UpstreamError("decode model list", err))
		return
	}

	models := []string{}
	for _, m := range payload.Models {
		name := strings.ToLower(m.Name)
		switch purpose {
		case "embedding":
			if containsAny(name, embedKeywords) && !containsAny(name, rerankKeywords) {
				models = append(models, m.Name)
			}
		default: // chat
			if !containsAny(name, embedOnlyKeywords) && !containsAny(name, rerankKeywords) {
				models = append(models, m.Name)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// updateEmbeddingSettings swaps the embedding client at runtime and
// rebuilds stored vectors in the background.
func (s *Server) updateEmbeddingSettings(c *gin.Context) {
	next := s.cfg.Embedding
	if err := c.ShouldBindJSON(&next); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid embedding settings", err))
		return
	}
	if next.Dim <= 0 || next.BatchSize <= 0 {
		s.abortError(c, ragerrors.ValidationError("dim and batch_size must be positive", nil))
		return
	}

	s.cfg.Embedding = next
	s.orch.ReconfigureEmbedding(next)
	c.JSON(http.StatusOK, gin.H{"status": "rebuilding"})
}

// serveFile returns an on-disk file verbatim.
func (s *Server) serveFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		s.abortError(c, ragerrors.ValidationError("path is required", nil))
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.abortError(c, ragerrors.NotFound("file", path))
		return
	}
	c.File(path)
}

// ============================================================================
// Saved citations and global notes
// ============================================================================

func (s *Server) listCitations(c *gin.Context) {
	citations, err := s.orch.Notes().ListCitations(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"citations": citations})
}

func (s *Server) saveCitation(c *gin.Context) {
	var in notes.SaveCitationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid citation body", err))
		return
	}
	saved, err := s.orch.Notes().SaveCitation(c.Param("id"), in)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) deleteCitation(c *gin.Context) {
	ok, err := s.orch.Notes().DeleteCitation(c.Param("id"), c.Param("citationID"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if !ok {
		s.abortError(c, ragerrors.NotFound("citation", c.Param("citationID")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) listNotes(c *gin.Context) {
	list, err := s.orch.Notes().ListNotes()
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": list})
}

func (s *Server) saveNote(c *gin.Context) {
	var body struct {
		Content             string           `json:"content"`
		SourceNotebookID    string           `json:"source_notebook_id"`
		SourceNotebookTitle string           `json:"source_notebook_title"`
		SourceRefs          []map[string]any `json:"source_refs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		s.abortError(c, ragerrors.ValidationError("content is required", err))
		return
	}
	note, err := s.orch.Notes().SaveNote(body.Content, body.SourceNotebookID, body.SourceNotebookTitle, body.SourceRefs)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (s *Server) deleteNote(c *gin.Context) {
	ok, err := s.orch.Notes().DeleteNote(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if !ok {
		s.abortError(c, ragerrors.NotFound("note", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
