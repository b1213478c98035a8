package session

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiosplit/audiosplit-api/internal/media"
	"github.com/audiosplit/audiosplit-api/internal/split"
	"github.com/audiosplit/audiosplit-api/internal/storage"
	"github.com/audiosplit/audiosplit-api/internal/upload"
)

// stubProber reports a fixed duration without touching ffprobe.
type stubProber struct {
	info media.Info
	err  error
}

func (p *stubProber) Probe(_ context.Context, _ string) (media.Info, error) {
	return p.info, p.err
}

// stubExtractor writes fixed bytes to dst, or fails for selected cut starts.
type stubExtractor struct {
	data   []byte
	failAt map[float64]error
}

func (s *stubExtractor) Extract(_ context.Context, _, dst string, startSec, _ float64) error {
	if err, ok := s.failAt[startSec]; ok {
		return err
	}
	return os.WriteFile(dst, s.data, 0o600)
}

// newTestService wires a Service against local disk with stubbed media tooling.
func newTestService(t *testing.T, extractor media.Extractor, durationSec float64) (*Service, *MemoryRepository, *storage.LocalStore) {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	repo := NewMemoryRepository()
	svc := NewService(repo, store, &stubProber{info: media.Info{DurationSec: durationSec, FormatName: "mp3"}}, split.NewEngine(extractor, 2), nil)
	return svc, repo, store
}

// stageUpload writes a fake received upload and returns its descriptor.
func stageUpload(t *testing.T, name string, content []byte) *upload.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "staged.part")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write staged upload: %v", err)
	}
	return &upload.File{
		Name:   name,
		Path:   path,
		Size:   int64(len(content)),
		Format: "mp3",
	}
}

func TestService_CreateFromUpload(t *testing.T) {
	svc, repo, store := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	if sess.State != StateUploaded {
		t.Errorf("expected state %s, got %s", StateUploaded, sess.State)
	}
	wantPath := filepath.Join(store.SessionDir(sess.ID), "source.mp3")
	if sess.Source.Path != wantPath {
		t.Errorf("source path = %s, want %s", sess.Source.Path, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("source file not adopted: %v", err)
	}
	if _, err := repo.FindByID(ctx, sess.ID); err != nil {
		t.Errorf("session not persisted: %v", err)
	}
}

func TestService_Split(t *testing.T) {
	svc, _, store := newTestService(t, &stubExtractor{data: []byte("segment bytes")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	got, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if got.State != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, got.State)
	}
	if len(got.Segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(got.Segments))
	}
	for i, seg := range got.Segments {
		if seg.Index != i+1 {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
		if _, err := os.Stat(seg.Path); err != nil {
			t.Errorf("segment file missing: %v", err)
		}
	}
	if got.Segments[0].DownloadName != "song_part001.mp3" {
		t.Errorf("download name = %s, want song_part001.mp3", got.Segments[0].DownloadName)
	}
	if got.Segments[2].EndSec != 90 {
		t.Errorf("last segment ends at %g, want 90", got.Segments[2].EndSec)
	}
	if got.ProcessingSec < 0 {
		t.Errorf("processing time = %g", got.ProcessingSec)
	}

	// Segment files live in the session directory under server names.
	if _, err := os.Stat(filepath.Join(store.SegmentDir(sess.ID), "part_003.mp3")); err != nil {
		t.Errorf("expected part_003.mp3 in segment dir: %v", err)
	}
}

func TestService_Split_ValidatesRequest(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	tests := []struct {
		name    string
		target  float64
		unit    split.Unit
		wantErr error
	}{
		{"unknown unit", 30, split.Unit("minutes"), split.ErrInvalidUnit},
		{"zero target", 0, split.UnitSeconds, split.ErrInvalidTarget},
		{"negative target", -1, split.UnitSeconds, split.ErrInvalidTarget},
		{"seconds above cap", 7200, split.UnitSeconds, split.ErrTargetTooLarge},
		{"megabytes above cap", 500, split.UnitMegabytes, split.ErrTargetTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Split(ctx, sess.ID, tt.target, tt.unit)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Split() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// A rejected request must not disturb the session state.
	got, _ := svc.Get(ctx, sess.ID)
	if got.State != StateUploaded {
		t.Errorf("expected state %s after rejected requests, got %s", StateUploaded, got.State)
	}
}

func TestService_Split_UnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	_, err := svc.Split(context.Background(), "missing", 30, split.UnitSeconds)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Split_Busy(t *testing.T) {
	svc, repo, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	// Simulate a split in flight.
	err = repo.Update(ctx, sess.ID, func(stored *Session) error {
		_, err := stored.BeginSplit(30, "seconds")
		return err
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	_, err = svc.Split(ctx, sess.ID, 30, split.UnitSeconds)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestService_Split_FailureDiscardsAndRecords(t *testing.T) {
	extractor := &stubExtractor{
		data:   []byte("seg"),
		failAt: map[float64]error{30: errors.New("codec exploded")},
	}
	svc, _, store := newTestService(t, extractor, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	_, err = svc.Split(ctx, sess.ID, 30, split.UnitSeconds)
	var encErr *split.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}

	got, _ := svc.Get(ctx, sess.ID)
	if got.State != StateError {
		t.Errorf("expected state %s, got %s", StateError, got.State)
	}
	if got.Error != "segment 2 could not be encoded" {
		t.Errorf("client message = %q", got.Error)
	}

	// No partial output survives a failed attempt.
	for i := 1; i <= 3; i++ {
		path := filepath.Join(store.SegmentDir(sess.ID), fmt.Sprintf("part_%03d.mp3", i))
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("expected %s to be discarded", path)
		}
	}
}

func TestService_Split_SubFrameTargetRecoverable(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	// A vanishingly small positive target passes the request validation but
	// yields no cuttable segment duration.
	_, err = svc.Split(ctx, sess.ID, 1e-300, split.UnitSeconds)
	if !errors.Is(err, split.ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}

	got, _ := svc.Get(ctx, sess.ID)
	if got.State != StateError {
		t.Fatalf("expected state %s, got %s", StateError, got.State)
	}

	// The session is not wedged: a sane retry succeeds.
	result, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds)
	if err != nil {
		t.Fatalf("retry Split() error = %v", err)
	}
	if result.State != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, result.State)
	}
}

// panicProber stands in for a probe dependency that blows up instead of
// returning an error.
type panicProber struct{}

func (panicProber) Probe(_ context.Context, _ string) (media.Info, error) {
	panic("probe blew up")
}

func TestService_Split_PanicDoesNotWedgeSession(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	repo := NewMemoryRepository()
	svc := NewService(repo, store, panicProber{}, split.NewEngine(&stubExtractor{data: []byte("seg")}, 2), nil)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	if _, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds); err == nil {
		t.Fatal("expected Split() to report the aborted run")
	}

	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != StateError {
		t.Errorf("expected state %s, got %s", StateError, got.State)
	}
	if got.Error != "audio processing failed" {
		t.Errorf("client message = %q", got.Error)
	}
}

func TestService_ReSplit(t *testing.T) {
	svc, _, store := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	if _, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds); err != nil {
		t.Fatalf("first Split() error = %v", err)
	}

	got, err := svc.Split(ctx, sess.ID, 45, split.UnitSeconds)
	if err != nil {
		t.Fatalf("second Split() error = %v", err)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(got.Segments))
	}

	// The third file of the first split must not linger.
	stale := filepath.Join(store.SegmentDir(sess.ID), "part_003.mp3")
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected previous split output %s to be removed", stale)
	}
}

func TestService_DownloadSegment(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	t.Run("before split", func(t *testing.T) {
		_, err := svc.DownloadSegment(ctx, sess.ID, 1)
		if !errors.Is(err, ErrNotCompleted) {
			t.Errorf("expected ErrNotCompleted, got %v", err)
		}
	})

	if _, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds); err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	t.Run("counts downloads", func(t *testing.T) {
		seg, err := svc.DownloadSegment(ctx, sess.ID, 2)
		if err != nil {
			t.Fatalf("DownloadSegment() error = %v", err)
		}
		if seg.Downloads != 1 {
			t.Errorf("downloads = %d, want 1", seg.Downloads)
		}

		seg, _ = svc.DownloadSegment(ctx, sess.ID, 2)
		if seg.Downloads != 2 {
			t.Errorf("downloads = %d, want 2 (count must persist)", seg.Downloads)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := svc.DownloadSegment(ctx, sess.ID, 9)
		if !errors.Is(err, ErrSegmentOutOfRange) {
			t.Errorf("expected ErrSegmentOutOfRange, got %v", err)
		}
	})
}

func TestService_Archive(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("segment bytes")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	t.Run("before split", func(t *testing.T) {
		_, err := svc.Archive(ctx, sess.ID)
		if !errors.Is(err, ErrNotCompleted) {
			t.Errorf("expected ErrNotCompleted, got %v", err)
		}
	})

	if _, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds); err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	archive, err := svc.Archive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if archive.Name != "song_segments.zip" {
		t.Errorf("archive name = %s, want song_segments.zip", archive.Name)
	}

	var buf bytes.Buffer
	if err := svc.WriteArchive(ctx, sess.ID, archive, &buf); err != nil {
		t.Fatalf("WriteArchive() error = %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("archive is not a readable zip: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("archive has %d entries, want 3", len(zr.File))
	}
	wantNames := []string{"song_part001.mp3", "song_part002.mp3", "song_part003.mp3"}
	for i, f := range zr.File {
		if f.Name != wantNames[i] {
			t.Errorf("entry %d named %s, want %s", i, f.Name, wantNames[i])
		}
	}
}

func TestService_PushArchive_NotConfigured(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}
	if _, err := svc.Split(ctx, sess.ID, 30, split.UnitSeconds); err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	_, err = svc.PushArchive(ctx, sess.ID)
	if !errors.Is(err, storage.ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func TestService_Cleanup_Idempotent(t *testing.T) {
	svc, _, store := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	if err := svc.Cleanup(ctx, sess.ID); err != nil {
		t.Fatalf("first Cleanup() error = %v", err)
	}
	if _, err := os.Stat(store.SessionDir(sess.ID)); !os.IsNotExist(err) {
		t.Error("expected session directory to be removed")
	}
	if _, err := svc.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after cleanup, got %v", err)
	}

	// Redundant triggers (page unload, sweep, user action) must all succeed.
	if err := svc.Cleanup(ctx, sess.ID); err != nil {
		t.Errorf("second Cleanup() error = %v, want nil", err)
	}
	if err := svc.Cleanup(ctx, "never-existed"); err != nil {
		t.Errorf("Cleanup() of unknown session error = %v, want nil", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, _, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	if err := svc.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown session, got %v", err)
	}

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}
	if err := svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestService_SweepExpired(t *testing.T) {
	svc, repo, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	fresh, err := svc.CreateFromUpload(ctx, stageUpload(t, "fresh.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}
	idle, err := svc.CreateFromUpload(ctx, stageUpload(t, "idle.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	backdate := func(id string) {
		err := repo.Update(ctx, id, func(stored *Session) error {
			stored.LastAccessedAt = time.Now().Add(-time.Hour)
			return nil
		})
		if err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}
	backdate(idle.ID)

	removed, err := svc.SweepExpired(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d sessions, want 1", removed)
	}
	if _, err := svc.Get(ctx, idle.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected idle session to be removed, got %v", err)
	}
	if _, err := svc.Get(ctx, fresh.ID); err != nil {
		t.Errorf("expected fresh session to survive, got %v", err)
	}
}

func TestService_SweepExpired_SkipsSplitting(t *testing.T) {
	svc, repo, _ := newTestService(t, &stubExtractor{data: []byte("seg")}, 90)
	ctx := context.Background()

	sess, err := svc.CreateFromUpload(ctx, stageUpload(t, "song.mp3", []byte("source bytes")))
	if err != nil {
		t.Fatalf("CreateFromUpload() error = %v", err)
	}

	err = repo.Update(ctx, sess.ID, func(stored *Session) error {
		if _, err := stored.BeginSplit(30, "seconds"); err != nil {
			return err
		}
		stored.LastAccessedAt = time.Now().Add(-time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	removed, err := svc.SweepExpired(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed %d sessions, want 0 (mid-split session is active)", removed)
	}
	if _, err := svc.Get(ctx, sess.ID); err != nil {
		t.Errorf("expected splitting session to survive, got %v", err)
	}
}
