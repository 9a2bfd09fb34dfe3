// Package metadata turns alignment results into the trial-level metadata
// table consumed by epoch extraction.
//
// Row order is part of the output contract: rows follow anchor onset order
// exactly as produced by the alignment engine. Unmatched anchors keep their
// row with null partner fields rather than being dropped.
package metadata

import (
	"fmt"

	"github.com/dyadlab/duet/internal/align"
	"github.com/dyadlab/duet/internal/annot"
)

// InvariantError reports an internal length or ordering mismatch between
// pipeline stages. Always fatal and always a defect, never retried.
type InvariantError struct {
	Stage string
	Want  int
	Got   int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: length invariant violated: want %d, got %d", e.Stage, e.Want, e.Got)
}

// Row is one metadata record per anchor interval.
//
// Timestamp is the anchor's reference instant under the configured time
// lock; the event emitter converts it to a sample index. Nullable fields are
// pointers and stay nil for unmatched anchors. Latency follows the engine's
// sign convention: positive means the partner event occurred after the
// anchor event.
type Row struct {
	Timestamp     float64
	AnchorOnset   float64
	AnchorOffset  float64
	PartnerOnset  *float64
	PartnerOffset *float64
	Latency       *float64
	Matched       bool

	AnchorDuration  float64
	PartnerDuration *float64

	AnchorSyllables  *float64
	AnchorRate       *float64
	PartnerSyllables *float64
	PartnerRate      *float64
	RateDiff         *float64 // |anchor rate - partner rate|, when both sides carry rate
}

// BuildRows maps each match onto a Row. matches must contain exactly one
// entry per anchor interval, in anchor order.
func BuildRows(anchor annot.Stream, matches []align.Match, lock annot.TimeLock) ([]Row, error) {
	if len(matches) != anchor.Len() {
		return nil, &InvariantError{Stage: "metadata rows", Want: anchor.Len(), Got: len(matches)}
	}

	rows := make([]Row, len(matches))
	for i, m := range matches {
		rows[i] = buildRow(anchor.Intervals[i], m, lock)
	}
	return rows, nil
}

// buildRow derives one Row from an anchor interval and its match result.
// Pure: no state beyond its arguments.
func buildRow(a annot.Interval, m align.Match, lock annot.TimeLock) Row {
	row := Row{
		Timestamp:      annot.ReferenceTime(a, lock),
		AnchorOnset:    a.Onset,
		AnchorOffset:   a.Offset,
		AnchorDuration: a.Duration,
		Matched:        m.Matched,
	}
	if a.Features != nil {
		row.AnchorSyllables = ptr(a.Features.Syllables)
		row.AnchorRate = ptr(a.Features.Rate)
	}
	if !m.Matched {
		return row
	}

	p := m.Partner
	row.PartnerOnset = ptr(p.Onset)
	row.PartnerOffset = ptr(p.Offset)
	row.PartnerDuration = ptr(p.Duration)
	row.Latency = ptr(m.Latency)
	if p.Features != nil {
		row.PartnerSyllables = ptr(p.Features.Syllables)
		row.PartnerRate = ptr(p.Features.Rate)
	}
	if a.Features != nil && p.Features != nil {
		d := a.Features.Rate - p.Features.Rate
		if d < 0 {
			d = -d
		}
		row.RateDiff = ptr(d)
	}
	return row
}

func ptr(v float64) *float64 { return &v }
