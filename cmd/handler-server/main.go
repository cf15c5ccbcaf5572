package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eyegames/internal/config"
	"eyegames/internal/session"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := openArchive(ctx, cfg, logger)
	if err != nil {
		logger.Error("archive_unavailable", "error", err)
		os.Exit(1)
	}
	if archive != nil {
		defer archive.Close()
	}

	metrics := session.NewMetrics()
	server := session.NewServer(cfg.HandlerAddr(), session.Options{
		ReadTimeout: cfg.ReadTimeout,
		RateLimit:   rate.Limit(cfg.RateLimit),
		RateBurst:   cfg.RateBurst,
		Archive:     archive,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err := server.Listen(); err != nil {
		logger.Error("server_error", "error", err)
		os.Exit(1)
	}

	status := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.StatusPort),
		Handler:           session.NewStatusRouter(server, metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status_api_started", "addr", status.Addr)
		if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status_api_error", "error", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		if err != nil {
			logger.Error("server_error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status.Shutdown(shutdownCtx)
	server.Stop()
	logger.Info("server_stopped_gracefully")
}

// openArchive picks the archive from the configured backends: both gives the
// hybrid cache+store, one gives that backend, none disables archiving.
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Archive, error) {
	var (
		cache *session.RedisArchive
		store *session.PostgresArchive
		err   error
	)
	if cfg.RedisURL != "" {
		if cache, err = session.NewRedisArchive(ctx, cfg.RedisURL, cfg.ArchiveTTL); err != nil {
			return nil, err
		}
	}
	if cfg.DatabaseURL != "" {
		if store, err = session.NewPostgresArchive(ctx, cfg.DatabaseURL); err != nil {
			cache.Close()
			return nil, err
		}
	}

	switch {
	case cache != nil && store != nil:
		hybrid := session.NewHybridArchive(cache, store, session.HybridOptions{Logger: logger})
		go hybrid.StartBatchWriter(ctx)
		logger.Info("archive_enabled", "mode", "hybrid")
		return hybrid, nil
	case cache != nil:
		logger.Info("archive_enabled", "mode", "redis")
		return cache, nil
	case store != nil:
		logger.Info("archive_enabled", "mode", "postgres")
		return store, nil
	}
	logger.Info("archive_disabled")
	return nil, nil
}
