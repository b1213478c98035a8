package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/audiosplit/audiosplit-api/internal/media"
	"github.com/audiosplit/audiosplit-api/internal/split"
	"github.com/audiosplit/audiosplit-api/internal/storage"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

// Service orchestrates the session lifecycle: upload completion, split
// execution, downloads and cleanup. Both upload paths (single-shot and
// chunked) feed CreateFromUpload; all file locations flow through the
// injected storage.Store.
type Service struct {
	repo   Repository
	store  storage.Store
	prober media.Prober
	engine *split.Engine
	logger *slog.Logger

	splitTimeout      time.Duration
	maxSegmentSeconds float64
	maxSegmentMB      float64
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithSplitTimeout bounds a single split attempt, probe included.
func WithSplitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.splitTimeout = d
		}
	}
}

// WithSegmentLimits caps the accepted per-segment target per unit.
// Non-positive values disable the corresponding cap.
func WithSegmentLimits(maxSeconds, maxMB float64) Option {
	return func(s *Service) {
		s.maxSegmentSeconds = maxSeconds
		s.maxSegmentMB = maxMB
	}
}

// NewService creates a Service with the given dependencies.
func NewService(repo Repository, store storage.Store, prober media.Prober, engine *split.Engine, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:              repo,
		store:             store,
		prober:            prober,
		engine:            engine,
		logger:            logger,
		splitTimeout:      5 * time.Minute,
		maxSegmentSeconds: 3600,
		maxSegmentMB:      100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFromUpload creates a Session around a validated, completely received
// upload. This is the single session-creation entry point for both the
// chunked and the non-chunked path.
func (s *Service) CreateFromUpload(ctx context.Context, up *upload.File) (*Session, error) {
	sess := New(SourceFile{
		Name:   up.Name,
		Size:   up.Size,
		Format: up.Format,
	})

	if _, err := s.store.CreateSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}

	path, err := s.store.AdoptSource(ctx, sess.ID, up.Path, up.Format)
	if err != nil {
		_ = s.store.RemoveSession(ctx, sess.ID)
		return nil, fmt.Errorf("store source file: %w", err)
	}
	sess.Source.Path = path

	if err := s.repo.Save(ctx, sess); err != nil {
		_ = s.store.RemoveSession(ctx, sess.ID)
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("filename", up.Name),
		slog.Int64("size", up.Size),
		slog.String("format", up.Format),
	)

	return sess, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.repo.FindByID(ctx, sessionID)
}

// Split partitions the session's source into segments of the requested
// target size. The session is held in splitting for the duration; a second
// concurrent request fails with ErrBusy. Produced segments are registered
// atomically with the completed transition, and a failed attempt discards
// all of its output.
func (s *Service) Split(ctx context.Context, sessionID string, target float64, unit split.Unit) (*Session, error) {
	if !unit.IsValid() {
		return nil, fmt.Errorf("%w: %q", split.ErrInvalidUnit, unit)
	}
	if target <= 0 {
		return nil, fmt.Errorf("%w: got %g", split.ErrInvalidTarget, target)
	}
	if err := s.checkTargetBounds(target, unit); err != nil {
		return nil, err
	}

	var previous []Segment
	var source SourceFile
	err := s.repo.Update(ctx, sessionID, func(sess *Session) error {
		prev, err := sess.BeginSplit(target, string(unit))
		if err != nil {
			return err
		}
		previous = prev
		source = sess.Source
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Files of the previous split go first so a re-split never orphans storage.
	if len(previous) > 0 {
		paths := make([]string, len(previous))
		for i, seg := range previous {
			paths[i] = seg.Path
		}
		if err := s.store.RemoveFiles(ctx, paths); err != nil {
			s.logger.Warn("removing previous segments failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	started := time.Now()
	segments, err := s.executeSplit(ctx, sessionID, source, target, unit)
	if err != nil {
		s.failSplit(ctx, sessionID, err)
		return nil, err
	}

	err = s.repo.Update(ctx, sessionID, func(sess *Session) error {
		return sess.CompleteSplit(segments, time.Since(started).Seconds())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("split completed",
		slog.String("session_id", sessionID),
		slog.Int("segments", len(segments)),
		slog.Duration("duration", time.Since(started)),
	)

	return s.repo.FindByID(ctx, sessionID)
}

// executeSplit probes the source, plans the cut points and runs the engine.
func (s *Service) executeSplit(ctx context.Context, sessionID string, source SourceFile, target float64, unit split.Unit) (segments []Segment, err error) {
	// The session is already in splitting at this point; a panic that escaped
	// here would leave it wedged there with no way to retry or sweep it.
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("split aborted: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.splitTimeout)
	defer cancel()

	info, err := s.prober.Probe(ctx, source.Path)
	if err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}

	plan, err := split.Plan(info.DurationSec, source.Size, target, unit)
	if err != nil {
		return nil, err
	}

	files, err := s.engine.Execute(ctx, source.Path, s.store.SegmentDir(sessionID), source.Format, plan)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(source.Name, "."+source.Format)
	segments = make([]Segment, len(files))
	for i, f := range files {
		segments[i] = Segment{
			Index:        f.Index,
			Path:         f.Path,
			DownloadName: fmt.Sprintf("%s_part%03d.%s", base, f.Index, source.Format),
			Size:         f.Size,
			StartSec:     f.Start,
			EndSec:       f.End,
		}
	}
	return segments, nil
}

// failSplit rolls the session to error with a message safe for clients.
func (s *Service) failSplit(ctx context.Context, sessionID string, cause error) {
	msg := clientMessage(cause)
	err := s.repo.Update(ctx, sessionID, func(sess *Session) error {
		return sess.FailSplit(msg)
	})
	if err != nil {
		s.logger.Error("recording split failure failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Error("split failed",
		slog.String("session_id", sessionID),
		slog.String("error", cause.Error()),
	)
}

// clientMessage maps an internal failure to a message that leaks no paths
// or tool output.
func clientMessage(err error) string {
	var encErr *split.EncodingError
	if errors.As(err, &encErr) {
		return fmt.Sprintf("segment %d could not be encoded", encErr.Index)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "processing took too long"
	}
	return "audio processing failed"
}

// checkTargetBounds enforces the configured per-segment caps.
func (s *Service) checkTargetBounds(target float64, unit split.Unit) error {
	switch unit {
	case split.UnitSeconds:
		if s.maxSegmentSeconds > 0 && target > s.maxSegmentSeconds {
			return fmt.Errorf("%w: %g seconds, limit %g", split.ErrTargetTooLarge, target, s.maxSegmentSeconds)
		}
	case split.UnitMegabytes:
		if s.maxSegmentMB > 0 && target > s.maxSegmentMB {
			return fmt.Errorf("%w: %g MB, limit %g", split.ErrTargetTooLarge, target, s.maxSegmentMB)
		}
	}
	return nil
}

// DownloadSegment returns the segment with the given 1-based index,
// recording the download.
func (s *Service) DownloadSegment(ctx context.Context, sessionID string, index int) (Segment, error) {
	var seg Segment
	err := s.repo.Update(ctx, sessionID, func(sess *Session) error {
		got, err := sess.RecordDownload(index)
		if err != nil {
			return err
		}
		seg = got
		return nil
	})
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// Archive describes a bundled download of all segments of one session.
type Archive struct {
	// Name is the filename offered at download time.
	Name    string
	entries []storage.ArchiveEntry
}

// Archive validates that the session has a completed split and prepares the
// bundled download of all its segments.
func (s *Service) Archive(ctx context.Context, sessionID string) (*Archive, error) {
	sess, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != StateCompleted || len(sess.Segments) == 0 {
		return nil, ErrNotCompleted
	}

	entries := make([]storage.ArchiveEntry, len(sess.Segments))
	for i, seg := range sess.Segments {
		entries[i] = storage.ArchiveEntry{Path: seg.Path, Name: seg.DownloadName}
	}

	base := strings.TrimSuffix(sess.Source.Name, "."+sess.Source.Format)
	return &Archive{
		Name:    base + "_segments.zip",
		entries: entries,
	}, nil
}

// WriteArchive streams the archive to w.
func (s *Service) WriteArchive(ctx context.Context, sessionID string, a *Archive, w io.Writer) error {
	if err := storage.WriteArchive(w, a.entries); err != nil {
		return err
	}
	return s.Touch(ctx, sessionID)
}

// PushArchive uploads the session's bundled archive for external delivery
// and returns its URL. Fails with storage.ErrS3NotConfigured when no S3
// backend is wired.
func (s *Service) PushArchive(ctx context.Context, sessionID string) (string, error) {
	a, err := s.Archive(ctx, sessionID)
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(storage.WriteArchive(pw, a.entries))
	}()

	url, err := s.store.UploadArchive(ctx, sessionID+"/"+a.Name, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", err
	}

	if err := s.Touch(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return url, err
	}
	return url, nil
}

// Touch refreshes the session's last-accessed timestamp.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	return s.repo.Update(ctx, sessionID, func(sess *Session) error {
		sess.Touch()
		return nil
	})
}

// Cleanup deletes the session's files and record. It is idempotent: an
// unknown or already-cleaned session is success, because cleanup may be
// triggered redundantly by explicit user action, the page-unload signal and
// the inactivity sweep. File removal failures are logged, never fatal.
func (s *Service) Cleanup(ctx context.Context, sessionID string) error {
	if err := s.store.RemoveSession(ctx, sessionID); err != nil {
		s.logger.Warn("session file cleanup failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete session record: %w", err)
	}

	s.logger.Info("session cleaned up", slog.String("session_id", sessionID))
	return nil
}

// Delete removes a session on explicit user request. Unlike Cleanup it
// reports ErrNotFound for an unknown session.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.repo.FindByID(ctx, sessionID); err != nil {
		return err
	}
	return s.Cleanup(ctx, sessionID)
}

// SweepExpired cleans up every session idle longer than ttl.
// Returns the number of sessions removed.
func (s *Service) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, sess := range sessions {
		if sess.IdleSince(now) <= ttl {
			continue
		}
		// The listed snapshot is stale by the time we get here, so the
		// record is claimed with the expiry conditions re-checked under the
		// store lock. A session mid-split is active by definition; a split
		// cannot start on a session whose record is gone.
		claimed, err := s.repo.DeleteIf(ctx, sess.ID, func(stored *Session) bool {
			return stored.GetState() != StateSplitting && stored.IdleSince(now) > ttl
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.logger.Warn("expired session cleanup failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !claimed {
			continue
		}

		if err := s.store.RemoveSession(ctx, sess.ID); err != nil {
			s.logger.Warn("session file cleanup failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("session cleaned up", slog.String("session_id", sess.ID))
		removed++
	}
	return removed, nil
}
