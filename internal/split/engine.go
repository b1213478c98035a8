package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/audiosplit/audiosplit-api/internal/media"
)

// EncodingError reports a failed extraction and the 1-based index of the
// segment that failed. Any partial output has been discarded by the time
// the caller sees it.
type EncodingError struct {
	Index int
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("split: encoding segment %d failed: %v", e.Index, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// SegmentFile is one produced output file, immutable once returned.
type SegmentFile struct {
	// Index is the 1-based position of the segment in the plan.
	Index int
	// Path is the server-controlled location of the output file.
	Path string
	// Size is the output file size in bytes.
	Size int64
	// Start and End are the cut boundaries in seconds.
	Start float64
	End   float64
}

// Engine executes a cut plan against a source file, producing one output
// file per cut point. Extractions run in parallel up to a configured limit;
// the returned slice always follows plan order. If any extraction fails the
// whole attempt is discarded: no partial result set is ever returned.
type Engine struct {
	extractor     media.Extractor
	maxConcurrent int
}

// NewEngine creates an Engine. maxConcurrent values below 1 fall back to 1.
func NewEngine(extractor media.Extractor, maxConcurrent int) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Engine{
		extractor:     extractor,
		maxConcurrent: maxConcurrent,
	}
}

// Execute runs every extraction of the plan. Output files are named from the
// 1-based segment index only ("part_001.<ext>"); user-facing names are a
// download-time concern.
func (e *Engine) Execute(ctx context.Context, source, outDir, ext string, plan []CutPoint) ([]SegmentFile, error) {
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	results := make([]SegmentFile, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrent)

	for i, cut := range plan {
		g.Go(func() error {
			dst := segmentPath(outDir, i+1, ext)

			if err := e.extractor.Extract(gctx, source, dst, cut.Start, cut.Duration()); err != nil {
				return &EncodingError{Index: i + 1, Err: err}
			}

			info, err := os.Stat(dst)
			if err != nil {
				return &EncodingError{Index: i + 1, Err: err}
			}
			if info.Size() == 0 {
				return &EncodingError{Index: i + 1, Err: fmt.Errorf("empty output file %s", dst)}
			}

			results[i] = SegmentFile{
				Index: i + 1,
				Path:  dst,
				Size:  info.Size(),
				Start: cut.Start,
				End:   cut.End,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.discard(outDir, ext, len(plan))
		return nil, err
	}

	return results, nil
}

// discard removes every output file this attempt may have produced.
func (e *Engine) discard(outDir, ext string, count int) {
	for i := 1; i <= count; i++ {
		_ = os.Remove(segmentPath(outDir, i, ext))
	}
}

func segmentPath(outDir string, index int, ext string) string {
	return filepath.Join(outDir, fmt.Sprintf("part_%03d.%s", index, ext))
}
