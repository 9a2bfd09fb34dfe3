// Package events converts metadata rows into the sample-indexed event array
// consumed by epoch extraction.
//
// The contract with the epoching stage is positional: entry i of the event
// array describes row i of the metadata table, with the event code telling
// matched and unmatched anchors apart. That correspondence is checked before
// the stage reports success and any violation is fatal.
package events

import (
	"fmt"
	"math"

	"github.com/dyadlab/duet/internal/metadata"
)

// Event codes. Downstream consumers separate epoch populations on these
// without re-deriving match state.
const (
	CodeMatched   int64 = 1
	CodeUnmatched int64 = 2
)

// Event is one fixed-width event record: the sample index of the anchor's
// reference instant and the integer event code.
type Event struct {
	Sample int64
	Code   int64
}

// FromRows derives one Event per metadata row.
//
// Seconds convert to samples with round-half-to-even, matching NumPy's rint
// used by the historical pipeline; ties like 2.5 round to 2 and 3.5 to 4.
// firstSamp is the recording's start-sample offset and is added after
// rounding.
func FromRows(rows []metadata.Row, samplingRate float64, firstSamp int64) ([]Event, error) {
	if math.IsNaN(samplingRate) || math.IsInf(samplingRate, 0) || samplingRate <= 0 {
		return nil, fmt.Errorf("sampling rate must be a finite positive number, got %g", samplingRate)
	}
	if firstSamp < 0 {
		return nil, fmt.Errorf("first sample offset must be >= 0, got %d", firstSamp)
	}

	evts := make([]Event, len(rows))
	for i, r := range rows {
		code := CodeUnmatched
		if r.Matched {
			code = CodeMatched
		}
		evts[i] = Event{
			Sample: int64(math.RoundToEven(r.Timestamp*samplingRate)) + firstSamp,
			Code:   code,
		}
	}

	if len(evts) != len(rows) {
		return nil, &metadata.InvariantError{Stage: "event array", Want: len(rows), Got: len(evts)}
	}
	return evts, nil
}
