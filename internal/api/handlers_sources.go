package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

// defaultUploadName stands in when the client sends no filename.
const defaultUploadName = "upload.bin"

func (s *Server) listSources(c *gin.Context) {
	sources, err := s.orch.ListSources(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

// uploadSource accepts a multipart upload. The body is read once and
// size-checked against the ceiling, then parsed with the standard
// reader; degenerate framings fall through to the manual parser,
// which FORCE_FALLBACK_MULTIPART selects unconditionally.
func (s *Server) uploadSource(c *gin.Context) {
	limit := s.cfg.MaxUploadBytes()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		s.abortError(c, ragerrors.New(ragerrors.ErrCodeMalformedMultipart, "read upload body", err))
		return
	}
	if int64(len(body)) > limit {
		s.abortError(c, ragerrors.New(ragerrors.ErrCodeUploadTooLarge, "upload exceeds size limit", nil))
		return
	}

	part, err := s.parseUpload(c, body)
	if err != nil {
		s.abortError(c, err)
		return
	}
	filename := part.Filename
	reader := bytes.NewReader(part.Data)

	// Only the last path component survives; browsers may send paths.
	filename = filepath.Base(filepath.ToSlash(filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = defaultUploadName
	}

	src, err := s.orch.AddSource(c.Param("id"), filename, reader)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, src)
}

// parseUpload tries the standard multipart reader first, then the
// manual fallback parser; FORCE_FALLBACK_MULTIPART skips straight to
// the fallback.
func (s *Server) parseUpload(c *gin.Context, body []byte) (filePart, error) {
	contentType := c.GetHeader("Content-Type")
	if !s.cfg.Server.ForceFallbackMultipart {
		if part, err := parseStandardMultipart(contentType, body); err == nil {
			return part, nil
		}
	}
	return parseMultipartFallback(contentType, body)
}

func (s *Server) addSourceFromPath(c *gin.Context) {
	var body struct {
		Path string `json:"path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Path == "" {
		s.abortError(c, ragerrors.ValidationError("path is required", err))
		return
	}
	src, err := s.orch.AddSourceFromPath(c.Param("id"), body.Path)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, src)
}

func (s *Server) reorderSources(c *gin.Context) {
	var body struct {
		SourceIDs []string `json:"source_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortError(c, ragerrors.ValidationError("source_ids is required", err))
		return
	}
	if err := s.orch.ReorderSources(c.Param("id"), body.SourceIDs); err != nil {
		s.abortError(c, err)
		return
	}
	s.listSources(c)
}

// patchSource toggles visibility and replaces the per-source parsing
// override. A JSON null override clears it back to notebook defaults.
func (s *Server) patchSource(c *gin.Context) {
	var body struct {
		IsEnabled *bool           `json:"is_enabled"`
		Override  json.RawMessage `json:"individual_parsing_config"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid request body", err))
		return
	}

	id := c.Param("id")
	if body.IsEnabled != nil {
		if err := s.orch.SetSourceEnabled(id, *body.IsEnabled); err != nil {
			s.abortError(c, err)
			return
		}
	}
	if len(body.Override) > 0 {
		var ov *model.ParsingOverride
		if !bytes.Equal(bytes.TrimSpace(body.Override), []byte("null")) {
			ov = &model.ParsingOverride{}
			if err := json.Unmarshal(body.Override, ov); err != nil {
				s.abortError(c, ragerrors.ValidationError("invalid individual_parsing_config", err))
				return
			}
		}
		if err := s.orch.SetSourceOverride(id, ov); err != nil {
			s.abortError(c, err)
			return
		}
	}

	src, err := s.orch.GetSource(id)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, src)
}

func (s *Server) reparseSource(c *gin.Context) {
	if err := s.orch.ReparseSource(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "indexing"})
}

func (s *Server) openSource(c *gin.Context) {
	path, err := s.orch.SourceFilePath(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) deleteSource(c *gin.Context) {
	if err := s.orch.DeleteSourceFully(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) eraseSource(c *gin.Context) {
	if err := s.orch.EraseSourceData(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "erased"})
}

func (s *Server) deleteSourceFile(c *gin.Context) {
	if err := s.orch.DeleteSourceFile(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "file_deleted"})
}

func (s *Server) deleteAllSourceFiles(c *gin.Context) {
	if err := s.orch.DeleteAllSourceFiles(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "files_deleted"})
}

func (s *Server) indexStatus(c *gin.Context) {
	st, err := s.orch.IndexStatus(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) estimateChunks(c *gin.Context) {
	estimates, err := s.orch.EstimateChunks(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if id := c.Query("source_id"); id != "" {
		for _, e := range estimates {
			if e.SourceID == id {
				c.JSON(http.StatusOK, e)
				return
			}
		}
		s.abortError(c, ragerrors.NotFound("source", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"estimates": estimates})
}
