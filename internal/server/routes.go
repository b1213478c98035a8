package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /config", h.GetConfig)
	mux.HandleFunc("POST /upload", h.Upload)
	mux.HandleFunc("POST /upload-chunk", h.UploadChunk)
	mux.HandleFunc("GET /sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /sessions/{id}/split", h.Split)
	mux.HandleFunc("GET /sessions/{id}/segments/{index}", h.DownloadSegment)
	mux.HandleFunc("GET /sessions/{id}/archive", h.DownloadArchive)
	mux.HandleFunc("DELETE /sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /sessions/{id}/cleanup", h.CleanupSession)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
