package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/model"
)

func (s *Server) listNotebooks(c *gin.Context) {
	notebooks, err := s.orch.ListNotebooks()
	if err != nil {
		s.abortError(c, err)
		return
	}
	if notebooks == nil {
		notebooks = []model.Notebook{}
	}
	c.JSON(http.StatusOK, gin.H{"notebooks": notebooks})
}

func (s *Server) createNotebook(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid request body", err))
		return
	}
	nb, err := s.orch.CreateNotebook(body.Title)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, nb)
}

func (s *Server) getNotebook(c *gin.Context) {
	nb, err := s.orch.GetNotebook(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, nb)
}

func (s *Server) renameNotebook(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Title == "" {
		s.abortError(c, ragerrors.ValidationError("title is required", err))
		return
	}
	if err := s.orch.RenameNotebook(c.Param("id"), body.Title); err != nil {
		s.abortError(c, err)
		return
	}
	nb, err := s.orch.GetNotebook(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, nb)
}

func (s *Server) deleteNotebook(c *gin.Context) {
	if err := s.orch.DeleteNotebook(c.Param("id")); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) duplicateNotebook(c *gin.Context) {
	clone, err := s.orch.DuplicateNotebook(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, clone)
}

func (s *Server) getParsingSettings(c *gin.Context) {
	settings, err := s.orch.GetParsingSettings(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateParsingSettings is a partial update: fields absent from the
// body keep their current value.
func (s *Server) updateParsingSettings(c *gin.Context) {
	settings, err := s.orch.GetParsingSettings(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	if err := c.ShouldBindJSON(&settings); err != nil {
		s.abortError(c, ragerrors.ValidationError("invalid parsing settings", err))
		return
	}
	if err := s.orch.UpdateParsingSettings(c.Param("id"), settings); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
