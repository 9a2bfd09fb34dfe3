package ipu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tok(start, end float64, text string) Token {
	return Token{Start: start, End: end, Text: text}
}

func TestBuildSegments_ContiguousSpeechBecomesOneSegment(t *testing.T) {
	tokens := []Token{
		tok(0.0, 0.3, "hello"),
		tok(0.3, 0.6, "there"),
		tok(0.6, 1.0, "#"),
		tok(1.0, 1.4, "again"),
	}

	segs, err := BuildSegments(tokens, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Start: 0.0, End: 0.6}, segs[0])
	assert.Equal(t, Segment{Start: 1.0, End: 1.4}, segs[1])
}

func TestBuildSegments_MergesShortSilenceGaps(t *testing.T) {
	// 0.1s of silence between runs is below the 0.2s threshold: one IPU.
	tokens := []Token{
		tok(0.0, 0.5, "one"),
		tok(0.5, 0.6, "#"),
		tok(0.6, 1.0, "two"),
	}

	segs, err := BuildSegments(tokens, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Start: 0.0, End: 1.0}, segs[0])
}

func TestBuildSegments_KeepsLongSilenceGaps(t *testing.T) {
	tokens := []Token{
		tok(0.0, 0.5, "one"),
		tok(0.5, 1.0, "#"),
		tok(1.0, 1.5, "two"),
	}

	segs, err := BuildSegments(tokens, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, segs, 2)
}

func TestBuildSegments_MembershipFlags(t *testing.T) {
	tokens := []Token{tok(0.0, 0.5, "@"), tok(0.5, 1.0, "*"), tok(1.0, 1.5, "FP")}

	segs, err := BuildSegments(tokens, DefaultOptions())
	require.NoError(t, err)
	// Default: laughter and noise are silence, filled pauses are speech.
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Start: 1.0, End: 1.5}, segs[0])

	opts := DefaultOptions()
	opts.IncludeLaughter = true
	opts.IncludeNoise = true
	segs, err = BuildSegments(tokens, opts)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{Start: 0.0, End: 1.5}, segs[0])

	opts = DefaultOptions()
	opts.IncludeFilledPause = false
	segs, err = BuildSegments(tokens, opts)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestBuildSegments_EmptyLabelsAreSilence(t *testing.T) {
	tokens := []Token{tok(0.0, 0.5, "word"), tok(0.5, 1.0, "  "), tok(1.0, 1.5, "word")}

	segs, err := BuildSegments(tokens, DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, segs, 2)
}

func TestBuildSegments_RejectsNegativeMinSilence(t *testing.T) {
	opts := DefaultOptions()
	opts.MinSilence = -0.1

	_, err := BuildSegments(nil, opts)
	assert.Error(t, err)
}

func TestBuildSegments_NoTokens(t *testing.T) {
	segs, err := BuildSegments(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestRenderTier_FullCoverageWithAlternatingLabels(t *testing.T) {
	segs := []Segment{{Start: 1.0, End: 2.0}, {Start: 3.0, End: 4.0}}

	tier, err := RenderTier(0.0, 5.0, segs, DefaultOptions())
	require.NoError(t, err)

	want := []LabeledInterval{
		{Start: 0.0, End: 1.0, Label: SilenceLabel},
		{Start: 1.0, End: 2.0, Label: IPULabel},
		{Start: 2.0, End: 3.0, Label: SilenceLabel},
		{Start: 3.0, End: 4.0, Label: IPULabel},
		{Start: 4.0, End: 5.0, Label: SilenceLabel},
	}
	assert.Equal(t, want, tier)
}

func TestRenderTier_DropsSubMinimumSegments(t *testing.T) {
	segs := []Segment{{Start: 1.0, End: 2.0}, {Start: 2.1, End: 2.105}}

	tier, err := RenderTier(0.0, 3.0, segs, DefaultOptions())
	require.NoError(t, err)

	// The 5ms blip is below the 10ms minimum and renders as silence.
	want := []LabeledInterval{
		{Start: 0.0, End: 1.0, Label: SilenceLabel},
		{Start: 1.0, End: 2.0, Label: IPULabel},
		{Start: 2.0, End: 3.0, Label: SilenceLabel},
	}
	assert.Equal(t, want, tier)
}

func TestRenderTier_ClampsToTimeline(t *testing.T) {
	segs := []Segment{{Start: -0.5, End: 0.5}, {Start: 4.5, End: 5.5}}

	tier, err := RenderTier(0.0, 5.0, segs, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, tier, 3)
	assert.Equal(t, LabeledInterval{Start: 0.0, End: 0.5, Label: IPULabel}, tier[0])
	assert.Equal(t, LabeledInterval{Start: 4.5, End: 5.0, Label: IPULabel}, tier[2])
}

func TestRenderTier_RejectsInvertedTimeline(t *testing.T) {
	_, err := RenderTier(5.0, 0.0, nil, DefaultOptions())
	assert.Error(t, err)
}

func TestParseTokens_ReadsTable(t *testing.T) {
	table := strings.Join([]string{
		"start,end,text",
		"0.0,0.3,hello",
		"0.3,0.6,#",
	}, "\n")

	tokens, err := ParseTokens(strings.NewReader(table))
	require.NoError(t, err)

	require.Len(t, tokens, 2)
	assert.Equal(t, tok(0.0, 0.3, "hello"), tokens[0])
	assert.Equal(t, "#", tokens[1].Text)
}

func TestParseTokens_MissingColumn(t *testing.T) {
	_, err := ParseTokens(strings.NewReader("start,end\n0,1\n"))
	assert.ErrorContains(t, err, `"text"`)
}

func TestWriteTier_CanonicalOutput(t *testing.T) {
	tier := []LabeledInterval{
		{Start: 0.0, End: 1.0, Label: SilenceLabel},
		{Start: 1.0, End: 2.5, Label: IPULabel},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTier(&buf, tier))

	assert.Equal(t, "start,end,label\n0,1,#\n1,2.5,IPU\n", buf.String())
}
