// Package align pairs anchor IPU events with partner IPU events inside a
// bounded time window.
//
// The engine is purely functional: (anchor stream, partner stream, config)
// in, one Match per anchor out, in anchor order. Identical inputs must
// produce identical matches across runs and machines.
package align

import (
	"fmt"
	"math"

	"github.com/dyadlab/duet/internal/annot"
)

// Anchor selects which speaker's stream drives row enumeration.
type Anchor string

const (
	AnchorSelf    Anchor = "self"
	AnchorPartner Anchor = "partner"
)

// Config holds the per-run alignment settings. Constructed once per
// invocation and never mutated.
type Config struct {
	TimeLock annot.TimeLock
	Anchor   Anchor
	Margin   float64 // seconds, symmetric half-window, > 0
}

// ConfigError reports an invalid alignment setting. Fatal before any
// processing begins.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Validate checks all settings. Reported field names match the config file
// and CLI flag vocabulary.
func (c Config) Validate() error {
	switch c.TimeLock {
	case annot.TimeLockOnset, annot.TimeLockOffset:
	default:
		return &ConfigError{Field: "time_lock", Value: string(c.TimeLock), Reason: `must be "onset" or "offset"`}
	}
	switch c.Anchor {
	case AnchorSelf, AnchorPartner:
	default:
		return &ConfigError{Field: "anchor", Value: string(c.Anchor), Reason: `must be "self" or "partner"`}
	}
	if math.IsNaN(c.Margin) || math.IsInf(c.Margin, 0) || c.Margin <= 0 {
		return &ConfigError{Field: "margin", Value: c.Margin, Reason: "must be a finite positive number of seconds"}
	}
	return nil
}

// Match is the result for one anchor interval: either a paired partner
// interval plus a signed latency, or unmatched.
//
// Latency is partner reference time minus anchor reference time: positive
// means the partner event occurs after the anchor event. For matched
// results |Latency| <= Margin always holds. Latency is NaN when unmatched.
type Match struct {
	AnchorIndex int
	Partner     *annot.Interval
	Latency     float64
	Matched     bool
}

// Align produces exactly one Match per anchor interval.
//
// Both streams must already be normalized (sorted by onset, non-overlapping).
// The sweep keeps a single monotonic cursor into the partner stream: a
// partner event whose reference time falls below the current anchor's window
// can never match any later anchor, because anchors are processed in
// non-decreasing reference order and the margin is fixed. That argument
// makes the whole pass O(n + m).
//
// A partner interval may match any number of anchors. Partner utterances
// routinely span several listener backchannels, so matching is a stateless
// lookup, not a consuming assignment.
//
// An empty anchor stream is a valid input and yields an empty result.
func Align(anchor, partner annot.Stream, cfg Config) ([]Match, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, anchor.Len())
	cursor := 0
	for i, a := range anchor.Intervals {
		ta := annot.ReferenceTime(a, cfg.TimeLock)
		lo := ta - cfg.Margin
		hi := ta + cfg.Margin

		// Retire partner events that fell out of the window for good.
		for cursor < partner.Len() && annot.ReferenceTime(partner.Intervals[cursor], cfg.TimeLock) < lo {
			cursor++
		}

		// Scan the window for the candidate with the smallest absolute
		// latency. Candidates arrive in increasing reference time, so a
		// strict < comparison keeps the earlier event on ties.
		best := -1
		bestAbs := math.Inf(1)
		for j := cursor; j < partner.Len(); j++ {
			tp := annot.ReferenceTime(partner.Intervals[j], cfg.TimeLock)
			if tp > hi {
				break
			}
			if d := math.Abs(tp - ta); d < bestAbs {
				best = j
				bestAbs = d
			}
		}

		if best < 0 {
			matches = append(matches, Match{AnchorIndex: i, Latency: math.NaN()})
			continue
		}
		p := partner.Intervals[best]
		matches = append(matches, Match{
			AnchorIndex: i,
			Partner:     &p,
			Latency:     annot.ReferenceTime(p, cfg.TimeLock) - ta,
			Matched:     true,
		})
	}
	return matches, nil
}
