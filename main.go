// Package main provides the entry point for the audio split API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/audiosplit/audiosplit-api/internal/cleanup"
	"github.com/audiosplit/audiosplit-api/internal/config"
	"github.com/audiosplit/audiosplit-api/internal/media"
	"github.com/audiosplit/audiosplit-api/internal/server"
	"github.com/audiosplit/audiosplit-api/internal/session"
	"github.com/audiosplit/audiosplit-api/internal/split"
	"github.com/audiosplit/audiosplit-api/internal/storage"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting audio split API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("data_dir", cfg.DataDir),
		slog.Int("max_upload_mb", cfg.MaxUploadSizeMB),
		slog.Duration("session_ttl", cfg.SessionTTL),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize storage
	var store storage.Store
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(cfg.DataDir, s3Cfg)
		if err != nil {
			return fmt.Errorf("create S3 store: %w", err)
		}
		store = s3Store
		logger.Info("S3 archive delivery configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
	} else {
		localStore, err := storage.NewLocalStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("create local store: %w", err)
		}
		store = localStore
		logger.Info("local storage configured",
			slog.String("base_dir", localStore.BaseDir()),
		)
	}

	// Initialize media tooling and split engine
	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	engine := split.NewEngine(ffmpeg, cfg.MaxConcurrentExtracts)

	// Initialize session repository and service
	repo := session.NewMemoryRepository()
	sessions := session.NewService(repo, store, ffmpeg, engine, logger,
		session.WithSplitTimeout(cfg.SplitTimeout),
		session.WithSegmentLimits(float64(cfg.MaxSegmentSeconds), float64(cfg.MaxSegmentMB)),
	)

	// Initialize upload assembler
	uploads, err := upload.NewAssembler(filepath.Join(cfg.DataDir, "incoming"), cfg.MaxUploadBytes())
	if err != nil {
		return fmt.Errorf("create upload assembler: %w", err)
	}

	// Initialize and start the cleanup janitor
	janitor, err := cleanup.NewJanitor(sessions, uploads, cfg.SessionTTL, cfg.CleanupSchedule, logger)
	if err != nil {
		return fmt.Errorf("create cleanup janitor: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(sessions, uploads, cfg.MaxUploadBytes(), logger)
	router := server.NewRouter(handlers, logger, server.DefaultConfig())

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second, // Allow for large uploads and archive downloads
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
