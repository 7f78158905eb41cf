package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/app"
	"github.com/kailas-cloud/pagedex/internal/config"
	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	"github.com/kailas-cloud/pagedex/internal/version"
)

func main() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagedex: load config for %q: %v\n", env, err)
		os.Exit(2)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagedex: create logger: %v\n", err)
		os.Exit(2)
	}

	code := 0
	if err := serve(cfg, logger); err != nil {
		logger.Error("Server failed", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	os.Exit(code)
}

// serve runs the HTTP API and the ingestion workers until SIGINT or
// SIGTERM, then drains both within the configured shutdown budget.
func serve(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting pagedex API server",
		zap.String("version", version.String()),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("documents_root", cfg.Documents.Root),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("keyword_backend", cfg.Keyword.Backend),
	)

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterIndexMetrics()

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("Failed to close stores", zap.Error(err))
		}
	}()
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start background work: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           engine.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ingestion queue did not drain", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
