// Package bootstrap provides dependency initialization for the audio split API.
package bootstrap

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/audiosplit/audiosplit-api/internal/cleanup"
	"github.com/audiosplit/audiosplit-api/internal/config"
	"github.com/audiosplit/audiosplit-api/internal/media"
	"github.com/audiosplit/audiosplit-api/internal/session"
	"github.com/audiosplit/audiosplit-api/internal/split"
	"github.com/audiosplit/audiosplit-api/internal/storage"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Sessions *session.Service
	Uploads  *upload.Assembler
	Janitor  *cleanup.Janitor
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	engine := split.NewEngine(ffmpeg, cfg.MaxConcurrentExtracts)

	repo := session.NewMemoryRepository()
	sessions := session.NewService(repo, store, ffmpeg, engine, logger,
		session.WithSplitTimeout(cfg.SplitTimeout),
		session.WithSegmentLimits(float64(cfg.MaxSegmentSeconds), float64(cfg.MaxSegmentMB)),
	)

	uploads, err := upload.NewAssembler(filepath.Join(cfg.DataDir, "incoming"), cfg.MaxUploadBytes())
	if err != nil {
		return nil, fmt.Errorf("create upload assembler: %w", err)
	}

	janitor, err := cleanup.NewJanitor(sessions, uploads, cfg.SessionTTL, cfg.CleanupSchedule, logger)
	if err != nil {
		return nil, fmt.Errorf("create cleanup janitor: %w", err)
	}

	logger.Info("dependencies initialized",
		slog.String("data_dir", cfg.DataDir),
		slog.Duration("session_ttl", cfg.SessionTTL),
		slog.Duration("split_timeout", cfg.SplitTimeout),
	)

	return &Dependencies{
		Sessions: sessions,
		Uploads:  uploads,
		Janitor:  janitor,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(cfg.DataDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 archive delivery configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	store, err := storage.NewLocalStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("base_dir", store.BaseDir()),
	)
	return store, nil
}
