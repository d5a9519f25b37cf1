// Package api exposes the service over HTTP: gin routing, SSE chat
// streaming, uploads with a streaming multipart fallback, and JSON
// error mapping.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Bezzdar/local-rag/internal/chat"
	"github.com/Bezzdar/local-rag/internal/config"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/orchestrator"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	orch   *orchestrator.Orchestrator
	engine *chat.Engine
	http   *http.Client
}

// NewServer wires the HTTP layer on top of an orchestrator.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	llm := chat.NewLLMClient(cfg.Chat, cfg.Server.DebugModelMode, logger)
	return &Server{
		cfg:    cfg,
		logger: logger,
		orch:   orch,
		engine: chat.NewEngine(llm, orch, orch, orch, orch, orch, logger),
		http:   &http.Client{},
	}
}

// Router builds the gin engine with all routes mounted under /api.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/health", s.health)

		api.GET("/notebooks", s.listNotebooks)
		api.POST("/notebooks", s.createNotebook)
		api.GET("/notebooks/:id", s.getNotebook)
		api.PATCH("/notebooks/:id", s.renameNotebook)
		api.DELETE("/notebooks/:id", s.deleteNotebook)
		api.POST("/notebooks/:id/duplicate", s.duplicateNotebook)

		api.GET("/notebooks/:id/parsing-settings", s.getParsingSettings)
		api.PATCH("/notebooks/:id/parsing-settings", s.updateParsingSettings)

		api.GET("/notebooks/:id/sources", s.listSources)
		api.POST("/notebooks/:id/sources/upload", s.uploadSource)
		api.POST("/notebooks/:id/sources/add-path", s.addSourceFromPath)
		api.PATCH("/notebooks/:id/sources/reorder", s.reorderSources)
		api.DELETE("/notebooks/:id/sources/files", s.deleteAllSourceFiles)
		api.GET("/notebooks/:id/sources/estimate", s.estimateChunks)
		api.GET("/notebooks/:id/index/status", s.indexStatus)

		api.PATCH("/sources/:id", s.patchSource)
		api.POST("/sources/:id/reparse", s.reparseSource)
		api.POST("/sources/:id/open", s.openSource)
		api.DELETE("/sources/:id", s.deleteSource)
		api.DELETE("/sources/:id/file", s.deleteSourceFile)
		api.DELETE("/sources/:id/erase", s.eraseSource)

		api.GET("/notebooks/:id/messages", s.listMessages)
		api.DELETE("/notebooks/:id/messages", s.clearMessages)
		api.DELETE("/notebooks/:id/messages/:messageID", s.deleteMessage)
		api.POST("/chat", s.chat)
		api.GET("/chat/stream", s.chatStream)

		api.GET("/notebooks/:id/citations", s.listCitations)
		api.POST("/notebooks/:id/citations", s.saveCitation)
		api.DELETE("/notebooks/:id/citations/:citationID", s.deleteCitation)
		api.GET("/notes", s.listNotes)
		api.POST("/notes", s.saveNote)
		api.DELETE("/notes/:id", s.deleteNote)

		api.GET("/agents", s.listAgents)
		api.GET("/llm/models", s.listLLMModels)
		api.POST("/settings/embedding", s.updateEmbeddingSettings)
		api.GET("/files", s.serveFile)
	}
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("http_listen", slog.String("addr", s.cfg.Server.Addr))
	return s.Router().Run(s.cfg.Server.Addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLog is a minimal slog access log.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

// abortError renders a typed error as {"detail": …} with its mapped
// HTTP status.
func (s *Server) abortError(c *gin.Context, err error) {
	status := ragerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request_failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": ragerrors.Detail(err)})
}
