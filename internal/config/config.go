// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Storage settings
	DataDir string `env:"DATA_DIR, default=/tmp/audiosplit" json:"data_dir"`

	// Upload settings
	MaxUploadSizeMB int `env:"MAX_UPLOAD_SIZE_MB, default=200" json:"max_upload_size_mb"`

	// Split settings
	MaxSegmentSeconds     int           `env:"MAX_SEGMENT_SECONDS, default=3600" json:"max_segment_seconds"`
	MaxSegmentMB          int           `env:"MAX_SEGMENT_MB, default=100" json:"max_segment_mb"`
	MaxConcurrentExtracts int           `env:"MAX_CONCURRENT_EXTRACTS, default=3" json:"max_concurrent_extracts"`
	SplitTimeout          time.Duration `env:"SPLIT_TIMEOUT, default=5m" json:"split_timeout"`

	// Lifecycle settings
	SessionTTL      time.Duration `env:"SESSION_TTL, default=30m" json:"session_ttl"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE, default=@every 5m" json:"cleanup_schedule"`

	// External tool settings
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Optional S3 settings for archive delivery
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// MaxUploadBytes returns the maximum accepted upload size in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, MaxUploadSizeMB: %d, MaxConcurrentExtracts: %d, SplitTimeout: %s, SessionTTL: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.MaxUploadSizeMB,
		c.MaxConcurrentExtracts,
		c.SplitTimeout,
		c.SessionTTL,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
