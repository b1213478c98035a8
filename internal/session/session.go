// Package session provides the Session aggregate scoping one user's upload
// and its derived segments under one opaque identifier, together with the
// repository port for persistence and the service orchestrating uploads,
// splits, downloads and cleanup.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/audiosplit/audiosplit-api/internal/session/id"
)

// State represents the lifecycle state of a Session.
type State string

const (
	// StateUploaded indicates the source file is stored and no split has run.
	StateUploaded State = "uploaded"
	// StateSplitting indicates a split is in progress.
	StateSplitting State = "splitting"
	// StateCompleted indicates the last split attempt finished successfully.
	StateCompleted State = "completed"
	// StateError indicates the last split attempt failed.
	StateError State = "error"
)

// Static errors for session lifecycle.
var (
	// ErrNotFound is returned when a session cannot be found by ID.
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when a split is requested while one is running.
	ErrBusy = errors.New("session is busy splitting")
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotCompleted is returned when segments are requested before a split completed.
	ErrNotCompleted = errors.New("session has no completed split")
	// ErrSegmentOutOfRange is returned for an unknown segment index.
	ErrSegmentOutOfRange = errors.New("segment index out of range")
)

// validTransitions defines which state transitions are allowed.
// completed and error are terminal for a split attempt; a new attempt on the
// same source re-enters splitting.
var validTransitions = map[State][]State{
	StateUploaded:  {StateSplitting},
	StateSplitting: {StateCompleted, StateError},
	StateCompleted: {StateSplitting},
	StateError:     {StateSplitting},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceFile is the original uploaded file owned by a Session.
type SourceFile struct {
	// Name is the sanitized user-supplied filename. It is used only for
	// names offered at download time, never for storage paths.
	Name string
	// Path is the server-controlled stored location.
	Path string
	// Size is the file size in bytes.
	Size int64
	// Format is the audio format derived from the validated extension.
	Format string
}

// Segment is one produced output file, immutable once registered.
type Segment struct {
	// Index is the 1-based position in the split plan.
	Index int
	// Path is the server-controlled stored location.
	Path string
	// DownloadName is the filename offered at download time, derived from
	// the source's base name and the segment index.
	DownloadName string
	// Size is the file size in bytes.
	Size int64
	// StartSec and EndSec are the cut boundaries in seconds.
	StartSec float64
	EndSec   float64
	// Downloads counts how many times the segment was downloaded.
	Downloads int
}

// Session is the aggregate scoping one upload and its derived segments.
type Session struct {
	mu sync.RWMutex

	// ID is the opaque capability token identifying this session.
	ID string
	// State is the current lifecycle state.
	State State
	// Source is the original uploaded file. Exactly one per session.
	Source SourceFile
	// Segments is the ordered output of the last completed split.
	Segments []Segment
	// Error holds the failure message of the last split attempt.
	Error string
	// SegmentTarget and SplitUnit record the parameters of the last split request.
	SegmentTarget float64
	SplitUnit     string
	// ProcessingSec is how long the last completed split took.
	ProcessingSec float64

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
}

// New creates a Session wrapping an uploaded source file.
func New(source SourceFile) *Session {
	now := time.Now()
	return &Session{
		ID:             id.Generate(),
		State:          StateUploaded,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
}

// BeginSplit moves the session into splitting and returns the segments of
// any previous split so their files can be removed before new output is
// produced. Returns ErrBusy if a split is already running.
func (s *Session) BeginSplit(target float64, unit string) ([]Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateSplitting {
		return nil, ErrBusy
	}
	if !canTransition(s.State, StateSplitting) {
		return nil, ErrInvalidTransition
	}

	previous := s.Segments
	s.Segments = nil
	s.State = StateSplitting
	s.SegmentTarget = target
	s.SplitUnit = unit
	s.Error = ""
	s.touchLocked()
	return previous, nil
}

// CompleteSplit registers the produced segments and moves the session to
// completed in one step, so a session never observes a partially populated
// segment list.
func (s *Session) CompleteSplit(segments []Segment, processingSec float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.State, StateCompleted) {
		return ErrInvalidTransition
	}
	s.Segments = segments
	s.ProcessingSec = processingSec
	s.State = StateCompleted
	s.touchLocked()
	return nil
}

// FailSplit moves the session to error with a message safe for clients.
func (s *Session) FailSplit(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.State, StateError) {
		return ErrInvalidTransition
	}
	s.Error = msg
	s.State = StateError
	s.touchLocked()
	return nil
}

// SegmentByIndex returns the segment with the given 1-based index.
func (s *Session) SegmentByIndex(index int) (Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.State != StateCompleted {
		return Segment{}, ErrNotCompleted
	}
	if index < 1 || index > len(s.Segments) {
		return Segment{}, ErrSegmentOutOfRange
	}
	return s.Segments[index-1], nil
}

// RecordDownload increments the download counter of a segment and returns
// its updated value.
func (s *Session) RecordDownload(index int) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateCompleted {
		return Segment{}, ErrNotCompleted
	}
	if index < 1 || index > len(s.Segments) {
		return Segment{}, ErrSegmentOutOfRange
	}
	s.Segments[index-1].Downloads++
	s.touchLocked()
	return s.Segments[index-1], nil
}

// Touch refreshes the last-accessed timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) touchLocked() {
	now := time.Now()
	s.UpdatedAt = now
	s.LastAccessedAt = now
}

// IdleSince reports how long ago the session was last accessed.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastAccessedAt)
}

// GetState returns the current state (thread-safe).
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// Clone creates a deep copy of the session for safe reads.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := make([]Segment, len(s.Segments))
	copy(segments, s.Segments)

	return &Session{
		ID:             s.ID,
		State:          s.State,
		Source:         s.Source,
		Segments:       segments,
		Error:          s.Error,
		SegmentTarget:  s.SegmentTarget,
		SplitUnit:      s.SplitUnit,
		ProcessingSec:  s.ProcessingSec,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}
