// Package split computes segment boundaries for an audio source and executes
// the resulting cut plan against the external extraction capability.
package split

import (
	"errors"
	"fmt"
	"math"
)

// Unit selects how the split target is interpreted.
type Unit string

const (
	// UnitSeconds splits into segments of a fixed duration.
	UnitSeconds Unit = "seconds"
	// UnitMegabytes splits into segments of an approximate output size,
	// estimated from the source's average bitrate.
	UnitMegabytes Unit = "megabytes"
)

// IsValid returns true if the unit is a known split unit.
func (u Unit) IsValid() bool {
	return u == UnitSeconds || u == UnitMegabytes
}

// Static errors for plan validation.
var (
	// ErrInvalidTarget is returned when the segment target is not positive.
	ErrInvalidTarget = errors.New("split: target must be positive")
	// ErrInvalidUnit is returned when the unit is not seconds or megabytes.
	ErrInvalidUnit = errors.New("split: unknown unit")
	// ErrInvalidSource is returned when the source duration or size is not positive.
	ErrInvalidSource = errors.New("split: source duration and size must be positive")
	// ErrTargetTooLarge is returned when the segment target exceeds the
	// configured per-segment limit.
	ErrTargetTooLarge = errors.New("split: target exceeds maximum segment size")
)

// frameEpsilon is roughly one encoder frame of audio in seconds. A trailing
// remainder shorter than this is merged into the previous segment instead of
// being emitted as a degenerate segment.
const frameEpsilon = 0.05

// CutPoint is one segment's extraction boundary in seconds from the start
// of the source. End is exclusive; Start of each cut equals End of the
// previous one, so a plan is gapless and non-overlapping by construction.
type CutPoint struct {
	Start float64
	End   float64
}

// Duration returns the length of the cut in seconds.
func (c CutPoint) Duration() float64 {
	return c.End - c.Start
}

// Plan computes the ordered list of cut points covering the full source.
//
// For UnitSeconds the boundaries are 0, target, 2*target, ... clipped to the
// source duration. For UnitMegabytes the target byte size is converted to an
// estimated duration using the source's average byte rate and the same
// boundary generation is applied; output sizes are approximate for
// variable-bitrate sources.
func Plan(durationSec float64, sizeBytes int64, target float64, unit Unit) ([]CutPoint, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidTarget, target)
	}
	if durationSec <= 0 || sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: duration=%g size=%d", ErrInvalidSource, durationSec, sizeBytes)
	}

	var segmentSec float64
	switch unit {
	case UnitSeconds:
		segmentSec = target
	case UnitMegabytes:
		targetBytes := target * 1024 * 1024
		bytesPerSec := float64(sizeBytes) / durationSec
		segmentSec = targetBytes / bytesPerSec
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}

	// Nothing shorter than one encoder frame can be extracted, and a
	// near-zero segment duration makes the boundary loop degenerate.
	if segmentSec < frameEpsilon {
		return nil, fmt.Errorf("%w: segment duration %g shorter than %g seconds", ErrInvalidTarget, segmentSec, frameEpsilon)
	}

	cuts := make([]CutPoint, 0, int(math.Ceil(durationSec/segmentSec)))
	for start := 0.0; start < durationSec; start += segmentSec {
		end := math.Min(start+segmentSec, durationSec)
		cuts = append(cuts, CutPoint{Start: start, End: end})
	}

	// A trailing sliver below one encoder frame would produce an effectively
	// empty output file; fold it into the previous segment.
	if n := len(cuts); n > 1 && cuts[n-1].Duration() < frameEpsilon {
		cuts[n-2].End = cuts[n-1].End
		cuts = cuts[:n-1]
	}

	return cuts, nil
}
