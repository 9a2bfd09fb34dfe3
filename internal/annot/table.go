package annot

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Source table column names. start and end are required; the rest are
// carried through when present.
const (
	colStart      = "start"
	colEnd        = "end"
	colAnnotation = "annotation"
	colDuration   = "duration"
	colSyllables  = "n_syllables"
	colRate       = "rate"
)

// ReadTable reads one speaker's IPU table from a comma-separated file with a
// header row and returns the loaded (unsorted) stream. Use Normalize before
// alignment.
func ReadTable(path, role string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stream{}, fmt.Errorf("reading %s annotations: %w", role, err)
	}
	defer f.Close()

	s, err := ParseTable(f, role)
	if err != nil {
		return Stream{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseTable parses an IPU table from r. Exposed separately so tests and
// other ingest paths can parse without touching the filesystem.
func ParseTable(r io.Reader, role string) (Stream, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // length checked against the header below

	header, err := cr.Read()
	if err == io.EOF {
		return Stream{}, &MalformedError{Stream: role, Row: 0, Reason: "empty table: missing header row"}
	}
	if err != nil {
		return Stream{}, &MalformedError{Stream: role, Row: 0, Reason: err.Error()}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colStart, colEnd} {
		if _, ok := cols[required]; !ok {
			return Stream{}, &MalformedError{Stream: role, Row: 0,
				Reason: fmt.Sprintf("missing required column %q", required)}
		}
	}
	_, hasAnnotation := cols[colAnnotation]
	_, hasDuration := cols[colDuration]
	_, hasSyllables := cols[colSyllables]
	_, hasRate := cols[colRate]
	hasFeatures := hasSyllables && hasRate

	var records []Record
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
		}
		if len(fields) != len(header) {
			return Stream{}, &MalformedError{Stream: role, Row: row,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(fields))}
		}

		rec := Record{}
		if rec.Onset, err = parseField(fields[cols[colStart]], colStart); err != nil {
			return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
		}
		if rec.Offset, err = parseField(fields[cols[colEnd]], colEnd); err != nil {
			return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
		}
		if hasAnnotation {
			rec.Annotation = strings.TrimSpace(fields[cols[colAnnotation]])
		}
		if hasDuration {
			d, err := parseField(fields[cols[colDuration]], colDuration)
			if err != nil {
				return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
			}
			rec.Duration = &d
		}
		if hasFeatures {
			syl, err := parseField(fields[cols[colSyllables]], colSyllables)
			if err != nil {
				return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
			}
			rate, err := parseField(fields[cols[colRate]], colRate)
			if err != nil {
				return Stream{}, &MalformedError{Stream: role, Row: row, Reason: err.Error()}
			}
			rec.Features = &Features{Syllables: syl, Rate: rate}
		}
		records = append(records, rec)
	}

	return Load(role, records)
}

func parseField(raw, col string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: not a number: %q", col, strings.TrimSpace(raw))
	}
	return v, nil
}
