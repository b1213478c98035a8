// Package storage provides the per-session filesystem layout and optional
// S3 delivery for bundled archives. It defines the Store interface (port)
// for hexagonal architecture with local disk and S3-backed implementations.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrS3NotConfigured is returned when S3 operations are attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// Store manages the files belonging to sessions. Every session owns exactly
// one directory, never shared, whose path is derived only from the
// server-generated session identifier.
type Store interface {
	// CreateSession creates the directory for a session and returns its path.
	CreateSession(ctx context.Context, sessionID string) (string, error)

	// AdoptSource moves a completely received upload into the session
	// directory under a server-controlled name and returns the new path.
	AdoptSource(ctx context.Context, sessionID, stagedPath, format string) (string, error)

	// SegmentDir returns the directory segment files are written to.
	SegmentDir(sessionID string) string

	// RemoveFiles removes the given files, continuing past individual
	// failures and returning the first error encountered.
	RemoveFiles(ctx context.Context, paths []string) error

	// RemoveSession deletes the session directory and everything in it.
	// Removing an absent directory is not an error.
	RemoveSession(ctx context.Context, sessionID string) error

	// UploadArchive uploads a bundled archive for delivery and returns its
	// URL. Returns ErrS3NotConfigured when no S3 backend is available.
	UploadArchive(ctx context.Context, key string, data io.Reader) (string, error)
}
