package metadata

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Fixed column order of the metadata table. Feature columns are appended
// only when at least one row carries features, so tables from feature-less
// annotation exports stay compact.
var (
	baseColumns = []string{
		"anchor_onset", "anchor_offset", "anchor_duration",
		"partner_onset", "partner_offset", "partner_duration",
		"latency_seconds", "matched",
	}
	featureColumns = []string{
		"anchor_syllables", "anchor_rate",
		"partner_syllables", "partner_rate", "rate_diff",
	}
)

// WriteTSV serializes rows as a tab-separated table.
//
// Serialization is canonical: floats use the shortest representation that
// round-trips, null cells are empty, and the byte output is a pure function
// of the rows. Reruns over identical inputs produce identical bytes, which
// is what the checksum-based regression baseline compares.
func WriteTSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	withFeatures := false
	for _, r := range rows {
		if r.AnchorSyllables != nil || r.PartnerSyllables != nil {
			withFeatures = true
			break
		}
	}

	header := baseColumns
	if withFeatures {
		header = append(append([]string{}, baseColumns...), featureColumns...)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			formatFloat(r.AnchorOnset),
			formatFloat(r.AnchorOffset),
			formatFloat(r.AnchorDuration),
			formatNullable(r.PartnerOnset),
			formatNullable(r.PartnerOffset),
			formatNullable(r.PartnerDuration),
			formatNullable(r.Latency),
			strconv.FormatBool(r.Matched),
		}
		if withFeatures {
			record = append(record,
				formatNullable(r.AnchorSyllables),
				formatNullable(r.AnchorRate),
				formatNullable(r.PartnerSyllables),
				formatNullable(r.PartnerRate),
				formatNullable(r.RateDiff),
			)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
