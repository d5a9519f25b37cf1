package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/Bezzdar/local-rag/internal/api"
	"github.com/Bezzdar/local-rag/internal/config"
	ragerrors "github.com/Bezzdar/local-rag/internal/errors"
	"github.com/Bezzdar/local-rag/internal/logging"
	"github.com/Bezzdar/local-rag/internal/orchestrator"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command that runs the HTTP server.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local-rag HTTP server",
		Long: `Starts the HTTP API on the configured address, restores notebook
state from disk and serves until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return err
	}

	// One server per data directory. A stale lock from a crashed process
	// is released by the OS, so no cleanup file is needed.
	lock := flock.New(filepath.Join(cfg.Data.Dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return ragerrors.Wrap(ragerrors.ErrCodeDataDirLocked, err)
	}
	if !locked {
		return ragerrors.Newf(ragerrors.ErrCodeDataDirLocked,
			"data directory %s is in use by another local-rag instance", cfg.Data.Dir)
	}
	defer lock.Unlock() //nolint:errcheck

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go orch.Agents().Watch(ctx)

	server := api.NewServer(cfg, orch, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", slog.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown_started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_forced", slog.String("error", err.Error()))
	}
	orch.WaitForIndexing()
	logger.Info("shutdown_complete")
	return nil
}

// setupLogging builds the slog logger from config, falling back to a
// stderr-only logger when the log file cannot be opened.
func setupLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: logging.LevelFromString(cfg.LogLevel),
		}))
		return logger, func() {}, nil
	}
	return logger, cleanup, nil
}
