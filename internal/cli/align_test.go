package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadlab/duet/internal/events"
)

const (
	selfTable = `start,end,annotation,duration,n_syllables,rate
0.0,0.5,hello,0.5,2,4.0
1.0,1.5,again,0.5,3,6.0
5.0,5.5,late,0.5,1,2.5
`
	partnerTable = `start,end,annotation,duration,n_syllables,rate
0.25,0.75,yes,0.5,2,4.0
1.5,2.0,right,0.5,4,5.0
10.0,10.5,far,0.5,2,4.0
`
)

// runAlignCommand executes the align command against the fixture tables and
// returns the output artifact paths.
func runAlignCommand(t *testing.T, extraArgs ...string) (tsvPath, npyPath string) {
	t.Helper()
	dir := t.TempDir()

	selfPath := filepath.Join(dir, "sub-001_ipu.csv")
	partnerPath := filepath.Join(dir, "sub-002_ipu.csv")
	require.NoError(t, os.WriteFile(selfPath, []byte(selfTable), 0o644))
	require.NoError(t, os.WriteFile(partnerPath, []byte(partnerTable), 0o644))

	tsvPath = filepath.Join(dir, "metadata.tsv")
	npyPath = filepath.Join(dir, "events.npy")

	args := append([]string{
		"align",
		"--self", selfPath,
		"--partner", partnerPath,
		"--margin", "1.0",
		"--sfreq", "500",
		"--out-tsv", tsvPath,
		"--out-events", npyPath,
	}, extraArgs...)

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(new(bytes.Buffer))
	require.NoError(t, cmd.Execute())
	return tsvPath, npyPath
}

func TestAlignCommand_MetadataMatchesGolden(t *testing.T) {
	tsvPath, _ := runAlignCommand(t)

	got, err := os.ReadFile(tsvPath)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "align_metadata", got)
}

func TestAlignCommand_EventsMatchMetadataRows(t *testing.T) {
	_, npyPath := runAlignCommand(t)

	f, err := os.Open(npyPath)
	require.NoError(t, err)
	defer f.Close()

	evts, err := events.ReadNPY(f)
	require.NoError(t, err)

	// One event per metadata row, anchor order, matched/unmatched codes.
	require.Len(t, evts, 3)
	assert.Equal(t, events.Event{Sample: 0, Code: events.CodeMatched}, evts[0])
	assert.Equal(t, events.Event{Sample: 500, Code: events.CodeMatched}, evts[1])
	assert.Equal(t, events.Event{Sample: 2500, Code: events.CodeUnmatched}, evts[2])
}

func TestAlignCommand_RerunsAreByteIdentical(t *testing.T) {
	tsvA, npyA := runAlignCommand(t)
	tsvB, npyB := runAlignCommand(t)

	a, err := os.ReadFile(tsvA)
	require.NoError(t, err)
	b, err := os.ReadFile(tsvB)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	a, err = os.ReadFile(npyA)
	require.NoError(t, err)
	b, err = os.ReadFile(npyB)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAlignCommand_RecordsAndVerifiesRun(t *testing.T) {
	catalogPath := filepath.Join(t.TempDir(), "catalog.db")
	tsvPath, _ := runAlignCommand(t, "--catalog", catalogPath)

	verify := NewRootCommand()
	verify.SetArgs([]string{"verify", "--catalog", catalogPath})
	verify.SetOut(new(bytes.Buffer))
	require.NoError(t, verify.Execute())

	// Tampering with an artifact must turn verification into a failure.
	require.NoError(t, os.WriteFile(tsvPath, []byte("tampered\n"), 0o644))

	verify = NewRootCommand()
	verify.SetArgs([]string{"verify", "--catalog", catalogPath})
	verify.SetOut(new(bytes.Buffer))
	err := verify.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestAlignCommand_OverlappingInputFails(t *testing.T) {
	dir := t.TempDir()
	selfPath := filepath.Join(dir, "self.csv")
	partnerPath := filepath.Join(dir, "partner.csv")
	require.NoError(t, os.WriteFile(selfPath,
		[]byte("start,end\n0.0,1.0\n0.5,1.5\n"), 0o644))
	require.NoError(t, os.WriteFile(partnerPath,
		[]byte("start,end\n0.0,0.5\n"), 0o644))

	tsvPath := filepath.Join(dir, "metadata.tsv")
	npyPath := filepath.Join(dir, "events.npy")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"align", "--self", selfPath, "--partner", partnerPath,
		"--sfreq", "500", "--out-tsv", tsvPath, "--out-events", npyPath,
	})
	cmd.SetOut(new(bytes.Buffer))
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// No partial output survives a validation failure.
	_, statErr := os.Stat(tsvPath)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(npyPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAlignCommand_InvalidMarginFailsBeforeReadingInputs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"align", "--self", "absent.csv", "--partner", "absent.csv",
		"--margin", "-1", "--sfreq", "500",
		"--out-tsv", "out.tsv", "--out-events", "out.npy",
	})
	cmd.SetOut(new(bytes.Buffer))
	err := cmd.Execute()
	require.Error(t, err)
	// The config is rejected before any input file is opened.
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorContains(t, err, "margin")
}

func TestAlignCommand_ConfigFileSuppliesSettings(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath,
		[]byte("sampling_rate: 500\nmargin_s: 1.0\n"), 0o644))

	selfPath := filepath.Join(dir, "self.csv")
	partnerPath := filepath.Join(dir, "partner.csv")
	require.NoError(t, os.WriteFile(selfPath, []byte(selfTable), 0o644))
	require.NoError(t, os.WriteFile(partnerPath, []byte(partnerTable), 0o644))

	tsvPath := filepath.Join(dir, "metadata.tsv")
	npyPath := filepath.Join(dir, "events.npy")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{
		"align", "--config", configPath,
		"--self", selfPath, "--partner", partnerPath,
		"--out-tsv", tsvPath, "--out-events", npyPath,
	})
	cmd.SetOut(new(bytes.Buffer))
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(tsvPath)
	assert.NoError(t, err)
}
