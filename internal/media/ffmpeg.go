package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for ffmpeg operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrSourceNotFound is returned when the input file does not exist.
	ErrSourceNotFound = errors.New("source file does not exist")
)

// FFmpeg implements Prober and Extractor using the ffmpeg and ffprobe CLIs.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg capability.
// Empty paths default to "ffmpeg" and "ffprobe" found in PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Probe returns duration, average bitrate and container format of an audio file.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Info{}, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration,bit_rate,format_name",
		"-of", "default=noprint_wrappers=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	info, err := parseProbeOutput(stdout.String())
	if err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	return info, nil
}

// parseProbeOutput parses "key=value" lines emitted by ffprobe.
func parseProbeOutput(output string) (Info, error) {
	var info Info

	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "duration":
			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Info{}, fmt.Errorf("parse duration %q: %w", value, err)
			}
			info.DurationSec = d
		case "bit_rate":
			// N/A for some containers; bitrate stays zero and callers
			// fall back to size/duration.
			if b, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.BitRate = b
			}
		case "format_name":
			// ffprobe may report a comma-separated list (e.g. "mov,mp4,m4a").
			info.FormatName, _, _ = strings.Cut(value, ",")
		}
	}

	if info.DurationSec <= 0 {
		return Info{}, fmt.Errorf("no duration in ffprobe output: %q", output)
	}

	return info, nil
}

// Extract copies one time range of the source into dst without re-encoding.
func (f *FFmpeg) Extract(ctx context.Context, src, dst string, startSec, durationSec float64) error {
	args := []string{
		"-y", // Overwrite output
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-i", src,
		"-c", "copy", // Copy without re-encoding
		dst,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
// The stderr detail is for server-side logs only and must not reach response bodies.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementations at compile time.
var (
	_ Prober    = (*FFmpeg)(nil)
	_ Extractor = (*FFmpeg)(nil)
)
