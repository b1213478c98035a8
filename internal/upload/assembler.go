// Package upload validates incoming audio files and reconstructs chunked
// uploads. Both the single-shot and the chunked path produce the same File
// value, feeding one session-creation entry point downstream.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// File is a validated, completely received upload awaiting session creation.
type File struct {
	// Name is the sanitized user-supplied filename.
	Name string
	// Path is the server-controlled temporary location of the received bytes.
	Path string
	// Size is the file size in bytes.
	Size int64
	// Format is the audio format derived from the validated extension.
	Format string
}

// Result is the outcome of receiving one chunk.
type Result struct {
	// Complete is true once the final chunk has been received and verified.
	Complete bool
	// Received and Total report reassembly progress.
	Received int
	Total    int
	// File is set only when Complete is true.
	File *File
}

// partial tracks one in-flight chunked upload, keyed by sanitized filename.
// It exists only between the first and last chunk of one upload attempt.
type partial struct {
	// mu serializes chunk writes; a failed TryLock means the client sent
	// concurrent chunks, which the protocol forbids.
	mu           sync.Mutex
	path         string
	declaredSize int64
	totalChunks  int
	received     int
	written      int64
	lastActivity time.Time
}

// Assembler receives upload bytes into a staging directory. Chunks are
// appended to a partial file on disk as they arrive; no chunk is ever held
// only in memory across requests. On-disk names are server-generated, never
// echoing user filenames.
type Assembler struct {
	dir      string
	maxBytes int64

	mu       sync.Mutex
	partials map[string]*partial
}

// NewAssembler creates an Assembler staging files under dir.
// Uploads larger than maxBytes are rejected.
func NewAssembler(dir string, maxBytes int64) (*Assembler, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Assembler{
		dir:      dir,
		maxBytes: maxBytes,
		partials: make(map[string]*partial),
	}, nil
}

// SaveDirect receives a complete (non-chunked) upload. Validation happens
// before anything is persisted permanently: a rejected upload leaves no file
// behind.
func (a *Assembler) SaveDirect(ctx context.Context, filename string, r io.Reader) (*File, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromFilename(name)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path := a.stagingPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, a.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write staging file: %w", err)
	}

	file, err := a.finalize(path, name, format, written)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Receive accepts one chunk of a chunked upload. Chunks must arrive in
// strictly increasing index order for a given filename; the chunk with
// index totalChunks-1 completes the upload. On completion the reassembled
// size must equal declaredSize or the whole partial is discarded.
func (a *Assembler) Receive(ctx context.Context, filename string, chunkIndex, totalChunks int, declaredSize int64, chunk io.Reader) (Result, error) {
	name, err := SanitizeFilename(filename)
	if err != nil {
		return Result{}, err
	}
	format, err := FormatFromFilename(name)
	if err != nil {
		return Result{}, err
	}
	if totalChunks < 1 || chunkIndex < 0 || chunkIndex >= totalChunks {
		return Result{}, fmt.Errorf("%w: index %d of %d", ErrChunkOutOfOrder, chunkIndex, totalChunks)
	}
	if declaredSize > a.maxBytes {
		return Result{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFileTooLarge, declaredSize, a.maxBytes)
	}

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	p, err := a.lookup(name, chunkIndex)
	if err != nil {
		return Result{}, err
	}

	if !p.mu.TryLock() {
		return Result{}, fmt.Errorf("%w: %s", ErrConcurrentUpload, name)
	}
	defer p.mu.Unlock()

	if chunkIndex != p.received {
		a.drop(name, p)
		return Result{}, fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, chunkIndex, p.received)
	}

	if err := appendChunk(p.path, chunk, &p.written); err != nil {
		a.drop(name, p)
		return Result{}, err
	}
	if p.written > a.maxBytes {
		a.drop(name, p)
		return Result{}, fmt.Errorf("%w: limit %d", ErrFileTooLarge, a.maxBytes)
	}

	p.received++
	p.lastActivity = time.Now()

	if p.received < p.totalChunks {
		return Result{Received: p.received, Total: p.totalChunks}, nil
	}

	// Final chunk: the partial either becomes a complete upload or is discarded.
	a.remove(name)
	if p.written != p.declaredSize {
		_ = os.Remove(p.path)
		return Result{}, fmt.Errorf("%w: got %d bytes, declared %d", ErrIncompleteUpload, p.written, p.declaredSize)
	}

	file, err := a.finalize(p.path, name, format, p.written)
	if err != nil {
		return Result{}, err
	}
	return Result{Complete: true, Received: p.received, Total: p.totalChunks, File: file}, nil
}

// finalize runs the post-receive validations shared by both upload paths.
func (a *Assembler) finalize(path, name, format string, written int64) (*File, error) {
	if written == 0 {
		_ = os.Remove(path)
		return nil, ErrEmptyFile
	}
	if written > a.maxBytes {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: limit %d", ErrFileTooLarge, a.maxBytes)
	}
	if err := verifySignature(path, format); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &File{Name: name, Path: path, Size: written, Format: format}, nil
}

// lookup finds the partial for key, creating it when the first chunk arrives.
func (a *Assembler) lookup(key string, chunkIndex int) (*partial, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.partials[key]; ok {
		return p, nil
	}
	if chunkIndex != 0 {
		return nil, fmt.Errorf("%w: no upload in progress for %q", ErrChunkOutOfOrder, key)
	}
	p := &partial{
		path:         a.stagingPath(),
		lastActivity: time.Now(),
	}
	a.partials[key] = p
	return p, nil
}

// drop abandons a partial and removes its backing file. Caller holds p.mu.
func (a *Assembler) drop(key string, p *partial) {
	a.remove(key)
	_ = os.Remove(p.path)
}

func (a *Assembler) remove(key string) {
	a.mu.Lock()
	delete(a.partials, key)
	a.mu.Unlock()
}

// Discard removes a staged file that will not become a session, e.g. when
// session creation fails downstream.
func (a *Assembler) Discard(file *File) {
	if file != nil {
		_ = os.Remove(file.Path)
	}
}

// SweepStale garbage-collects partials whose chunk sequence stalled for
// longer than maxAge. Returns the number of partials removed.
func (a *Assembler) SweepStale(maxAge time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, p := range a.partials {
		if !p.mu.TryLock() {
			continue // chunk in flight
		}
		stale := now.Sub(p.lastActivity) > maxAge
		if stale {
			_ = os.Remove(p.path)
			delete(a.partials, key)
			removed++
		}
		p.mu.Unlock()
	}
	return removed
}

func (a *Assembler) stagingPath() string {
	return filepath.Join(a.dir, uuid.NewString()+".part")
}

// appendChunk appends the chunk bytes to the partial file on disk.
func appendChunk(path string, chunk io.Reader, written *int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	n, err := io.Copy(f, chunk)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	*written += n
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}
	return nil
}
