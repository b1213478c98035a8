package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// LocalStore implements the Store interface on local disk. Session
// directories live under <baseDir>/sessions/<id>; the original upload is
// stored as source.<format> and segment files sit alongside it.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new LocalStore rooted at baseDir.
// If baseDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "audiosplit")
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "sessions"), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	return &LocalStore{baseDir: baseDir}, nil
}

// BaseDir returns the root data directory.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// SessionDir returns the directory owned by one session.
func (s *LocalStore) SessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, "sessions", sessionID)
}

// SegmentDir returns the directory segment files are written to.
// Segments share the session directory with the source file.
func (s *LocalStore) SegmentDir(sessionID string) string {
	return s.SessionDir(sessionID)
}

// CreateSession creates the directory for a session and returns its path.
func (s *LocalStore) CreateSession(ctx context.Context, sessionID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}

// AdoptSource moves a staged upload into the session directory as
// source.<format>. A cross-device rename falls back to copy and remove.
func (s *LocalStore) AdoptSource(ctx context.Context, sessionID, stagedPath, format string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dst := filepath.Join(s.SessionDir(sessionID), "source."+format)
	if err := os.Rename(stagedPath, dst); err != nil {
		if err := copyFile(stagedPath, dst); err != nil {
			return "", fmt.Errorf("adopt source: %w", err)
		}
		_ = os.Remove(stagedPath)
	}
	return dst, nil
}

// RemoveFiles removes the specified files.
// It continues past individual failures, returning the first error encountered.
func (s *LocalStore) RemoveFiles(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// RemoveSession deletes the session directory and all files in it.
func (s *LocalStore) RemoveSession(ctx context.Context, sessionID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	return nil
}

// UploadArchive is not supported by LocalStore and returns ErrS3NotConfigured.
func (s *LocalStore) UploadArchive(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
