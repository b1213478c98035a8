// Package media provides the boundary with the external audio processing
// capability. It exposes probing (duration, bitrate, container format) and
// segment extraction as narrow interfaces implemented over the ffmpeg CLI.
package media

import "context"

// Info describes the probed properties of an audio file.
type Info struct {
	// DurationSec is the total playback duration in seconds.
	DurationSec float64
	// BitRate is the average bitrate in bits per second.
	BitRate int64
	// FormatName is the container format reported by the probe (e.g. "mp3").
	FormatName string
}

// Prober inspects an audio file and reports its properties.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// Extractor cuts one time range out of a source audio file.
// The output preserves the source container and codec (stream copy);
// cut accuracy is bounded by one encoder frame.
type Extractor interface {
	Extract(ctx context.Context, src, dst string, startSec, durationSec float64) error
}
