package ipu

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadTokens reads a token tier from a comma-separated file with a
// start,end,text header.
func ReadTokens(path string) ([]Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading token tier: %w", err)
	}
	defer f.Close()

	tokens, err := ParseTokens(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tokens, nil
}

// ParseTokens parses a token tier from r.
func ParseTokens(r io.Reader) ([]Token, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty token tier: missing header row")
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"start", "end", "text"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var tokens []Token
	for row := 0; ; row++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(fields[cols["start"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: start: %w", row, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(fields[cols["end"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: end: %w", row, err)
		}
		tokens = append(tokens, Token{Start: start, End: end, Text: fields[cols["text"]]})
	}
	return tokens, nil
}

// WriteTier serializes a rendered tier as a comma-separated table with a
// start,end,label header. Float formatting matches the metadata writer so
// tier artifacts are byte-reproducible too.
func WriteTier(w io.Writer, tier []LabeledInterval) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"start", "end", "label"}); err != nil {
		return err
	}
	for _, iv := range tier {
		record := []string{
			strconv.FormatFloat(iv.Start, 'g', -1, 64),
			strconv.FormatFloat(iv.End, 'g', -1, 64),
			iv.Label,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
