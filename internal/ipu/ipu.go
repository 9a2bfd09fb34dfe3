// Package ipu derives inter-pausal unit segments from token-level alignment
// tiers (e.g. a forced aligner's TokensAlign export).
//
// Tokens classify as speech or silence, contiguous speech runs become raw
// segments, runs separated by sub-threshold silence merge, and segments
// shorter than a minimum duration drop. RenderTier turns the result into a
// full-coverage tier with alternating silence/IPU labels.
package ipu

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Tier labels and special token labels.
const (
	SilenceLabel     = "#"
	IPULabel         = "IPU"
	laughterLabel    = "@"
	noiseLabel       = "*"
	filledPauseLabel = "fp"
)

// Defaults for segment construction.
const (
	DefaultMinIPU     = 0.01
	DefaultMinSilence = 0.20
)

// Token is one labeled interval from the alignment tier, assumed
// time-ordered.
type Token struct {
	Start float64
	End   float64
	Text  string
}

// Segment is one derived IPU span.
type Segment struct {
	Start float64
	End   float64
}

// Options controls token membership and duration thresholds.
type Options struct {
	IncludeLaughter    bool    // treat "@" as speech
	IncludeNoise       bool    // treat "*" as speech
	IncludeFilledPause bool    // treat "fp" as speech
	MinSilence         float64 // gaps shorter than this merge adjacent segments
	MinIPU             float64 // segments shorter than this are dropped
}

// DefaultOptions mirrors the historical aligner settings: filled pauses
// count as speech, laughter and noise do not.
func DefaultOptions() Options {
	return Options{
		IncludeFilledPause: true,
		MinSilence:         DefaultMinSilence,
		MinIPU:             DefaultMinIPU,
	}
}

// isSpeech decides whether a token label counts as speech. Labels are
// NFC-normalized before comparison so composed and decomposed forms of the
// same annotation classify identically.
//
// "#" and empty labels are always silence. Everything not excluded by the
// flags is speech.
func isSpeech(label string, opts Options) bool {
	t := strings.TrimSpace(norm.NFC.String(label))
	switch {
	case t == "" || t == SilenceLabel:
		return false
	case t == laughterLabel:
		return opts.IncludeLaughter
	case t == noiseLabel:
		return opts.IncludeNoise
	case strings.EqualFold(t, filledPauseLabel):
		return opts.IncludeFilledPause
	default:
		return true
	}
}

// BuildSegments builds IPU segments from token intervals.
func BuildSegments(tokens []Token, opts Options) ([]Segment, error) {
	if opts.MinSilence < 0 {
		return nil, fmt.Errorf("min silence must be >= 0, got %g", opts.MinSilence)
	}

	// First pass: contiguous speech runs based purely on token membership.
	var raw []Segment
	open := false
	var cur Segment
	for _, tok := range tokens {
		if isSpeech(tok.Text, opts) {
			if !open {
				cur = Segment{Start: tok.Start, End: tok.End}
				open = true
			} else if tok.End > cur.End {
				// max() keeps the run robust to tiny timestamp overlap.
				cur.End = tok.End
			}
			continue
		}
		if open {
			raw = append(raw, cur)
			open = false
		}
	}
	if open {
		raw = append(raw, cur)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	// Second pass: merge runs separated by less than the silence threshold.
	merged := []Segment{raw[0]}
	for _, seg := range raw[1:] {
		prev := &merged[len(merged)-1]
		if seg.Start-prev.End < opts.MinSilence {
			if seg.End > prev.End {
				prev.End = seg.End
			}
		} else {
			merged = append(merged, seg)
		}
	}
	return merged, nil
}

// LabeledInterval is one interval of the rendered tier.
type LabeledInterval struct {
	Start float64
	End   float64
	Label string
}

// RenderTier enforces the minimum IPU duration and renders a full-coverage
// tier from t0 to t1 with alternating silence/IPU labels. Segments are
// clamped to the timeline; sub-minimum or degenerate spans become silence.
func RenderTier(t0, t1 float64, segments []Segment, opts Options) ([]LabeledInterval, error) {
	if t1 < t0 {
		return nil, fmt.Errorf("tier end %g must be >= tier start %g", t1, t0)
	}
	if opts.MinIPU < 0 {
		return nil, fmt.Errorf("min IPU duration must be >= 0, got %g", opts.MinIPU)
	}

	var kept []Segment
	for _, seg := range segments {
		if seg.End <= seg.Start || seg.End-seg.Start < opts.MinIPU {
			continue
		}
		s, e := seg.Start, seg.End
		if s < t0 {
			s = t0
		}
		if e > t1 {
			e = t1
		}
		if e > s {
			kept = append(kept, Segment{Start: s, End: e})
		}
	}

	var out []LabeledInterval
	cursor := t0
	for _, seg := range kept {
		if seg.Start > cursor {
			out = append(out, LabeledInterval{Start: cursor, End: seg.Start, Label: SilenceLabel})
		}
		out = append(out, LabeledInterval{Start: seg.Start, End: seg.End, Label: IPULabel})
		cursor = seg.End
	}
	if cursor < t1 {
		out = append(out, LabeledInterval{Start: cursor, End: t1, Label: SilenceLabel})
	}
	return out, nil
}
