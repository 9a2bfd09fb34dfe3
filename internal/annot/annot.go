// Package annot models validated streams of inter-pausal unit (IPU)
// annotations for one speaker.
//
// A Stream is an ordered, non-overlapping sequence of timed intervals.
// Ordering and non-overlap are load-time contracts: the alignment engine's
// monotonic cursor depends on them, so violating input is rejected rather
// than repaired.
package annot

import (
	"fmt"
	"math"
	"sort"
)

// TimeLock selects which timestamp of an interval defines its reference
// instant. The same lock applies to both streams of a dyad.
type TimeLock string

const (
	TimeLockOnset  TimeLock = "onset"
	TimeLockOffset TimeLock = "offset"
)

// PlaceholderAnnotation marks silence rows in source tables. Such rows are
// bookkeeping in the annotation exports, not speech, and are dropped at load.
const PlaceholderAnnotation = "#"

// Features carries optional per-IPU speech features from the source table.
type Features struct {
	Syllables float64 // syllable count
	Rate      float64 // articulation rate (syllables/second)
}

// Interval is one detected IPU on one speaker's channel.
type Interval struct {
	Onset      float64 // seconds, >= 0
	Offset     float64 // seconds, > Onset
	Annotation string
	Duration   float64 // from the source table when present, Offset-Onset otherwise
	Features   *Features
}

// Stream is one speaker's annotation sequence plus the role label used in
// diagnostics ("self" or "partner").
type Stream struct {
	Role      string
	Intervals []Interval
}

// Len returns the number of intervals in the stream.
func (s Stream) Len() int { return len(s.Intervals) }

// MalformedError reports a record that fails schema or numeric validation.
// Row is the zero-based record index within the source stream.
type MalformedError struct {
	Stream string
	Row    int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s annotations: row %d: %s", e.Stream, e.Row, e.Reason)
}

// OverlapError reports two intervals in one stream that overlap in time.
// Overlap is a data-quality defect, never merged or deduplicated silently.
type OverlapError struct {
	Stream     string
	Index      int // index of the later interval, after sorting by onset
	PrevOffset float64
	NextOnset  float64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s annotations: interval %d starts at %g before previous interval ends at %g",
		e.Stream, e.Index, e.NextOnset, e.PrevOffset)
}

// Record is one raw annotation row before validation.
type Record struct {
	Onset      float64
	Offset     float64
	Annotation string
	Duration   *float64
	Features   *Features
}

// Load validates raw records and assembles a Stream. Placeholder (silence)
// rows are dropped. The result is not yet sorted; call Normalize before
// handing the stream to the alignment engine.
func Load(role string, records []Record) (Stream, error) {
	intervals := make([]Interval, 0, len(records))
	for i, r := range records {
		if !isFinite(r.Onset) || !isFinite(r.Offset) {
			return Stream{}, &MalformedError{Stream: role, Row: i, Reason: "onset/offset must be finite numbers"}
		}
		if r.Onset < 0 {
			return Stream{}, &MalformedError{Stream: role, Row: i,
				Reason: fmt.Sprintf("onset must be >= 0, got %g", r.Onset)}
		}
		if r.Offset <= r.Onset {
			return Stream{}, &MalformedError{Stream: role, Row: i,
				Reason: fmt.Sprintf("offset %g must be greater than onset %g", r.Offset, r.Onset)}
		}
		if r.Features != nil && (!isFinite(r.Features.Syllables) || !isFinite(r.Features.Rate)) {
			return Stream{}, &MalformedError{Stream: role, Row: i, Reason: "feature values must be finite numbers"}
		}
		if r.Annotation == PlaceholderAnnotation {
			continue
		}
		iv := Interval{
			Onset:      r.Onset,
			Offset:     r.Offset,
			Annotation: r.Annotation,
			Duration:   r.Offset - r.Onset,
			Features:   r.Features,
		}
		if r.Duration != nil {
			if !isFinite(*r.Duration) {
				return Stream{}, &MalformedError{Stream: role, Row: i, Reason: "duration must be a finite number"}
			}
			iv.Duration = *r.Duration
		}
		intervals = append(intervals, iv)
	}
	return Stream{Role: role, Intervals: intervals}, nil
}

// Normalize sorts a stream by onset and rejects overlapping intervals.
// The returned stream is safe for the cursor-based alignment sweep.
func Normalize(s Stream) (Stream, error) {
	sorted := make([]Interval, len(s.Intervals))
	copy(sorted, s.Intervals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Onset < sorted[j].Onset })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Onset < sorted[i-1].Offset {
			return Stream{}, &OverlapError{
				Stream:     s.Role,
				Index:      i,
				PrevOffset: sorted[i-1].Offset,
				NextOnset:  sorted[i].Onset,
			}
		}
	}
	return Stream{Role: s.Role, Intervals: sorted}, nil
}

// ReferenceTime returns the interval timestamp selected by the time lock.
// This is the only place lock interpretation happens; callers never switch
// on the lock themselves.
//
// Non-overlapping intervals sorted by onset have strictly increasing offsets
// too, so reference times are monotonic under either lock. The alignment
// engine's single-cursor sweep relies on that.
func ReferenceTime(iv Interval, lock TimeLock) float64 {
	switch lock {
	case TimeLockOnset:
		return iv.Onset
	case TimeLockOffset:
		return iv.Offset
	default:
		// Locks are validated at configuration time; reaching this is a defect.
		panic(fmt.Sprintf("annot: unknown time lock %q", lock))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
