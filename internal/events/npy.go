package events

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The event array is stored as a NumPy .npy file holding an (n, 3) int64
// array in the layout MNE expects: [sample, 0, code] per row. The writer
// emits format version 1.0 by hand; the one candidate library (sbinet/npyio)
// only writes 1-D slices or float matrices and would break the integer
// contract.

var npyMagic = []byte("\x93NUMPY\x01\x00")

const npyAlign = 64 // header block padded to a multiple of this, per the format spec

// WriteNPY serializes events as an (n, 3) little-endian int64 .npy array.
// Output bytes are a pure function of the events.
func WriteNPY(w io.Writer, evts []Event) error {
	header := fmt.Sprintf("{'descr': '<i8', 'fortran_order': False, 'shape': (%d, 3), }", len(evts))

	// Pad with spaces so magic+length+header is 64-aligned, ending in newline.
	total := len(npyMagic) + 2 + len(header) + 1
	pad := (npyAlign - total%npyAlign) % npyAlign
	header += string(bytes.Repeat([]byte{' '}, pad)) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	row := make([]int64, 3)
	for _, e := range evts {
		row[0] = e.Sample
		row[1] = 0
		row[2] = e.Code
		if err := binary.Write(w, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	return nil
}

// ReadNPY parses an event array written by WriteNPY. Used by the catalog
// verifier and tests; this is not a general .npy reader.
func ReadNPY(r io.Reader) ([]Event, error) {
	magic := make([]byte, len(npyMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading npy magic: %w", err)
	}
	if !bytes.Equal(magic, npyMagic) {
		return nil, fmt.Errorf("not a v1.0 npy file")
	}

	var headerLen uint16
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("reading npy header length: %w", err)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}

	var n int
	if _, err := fmt.Sscanf(string(bytes.TrimSpace(header)),
		"{'descr': '<i8', 'fortran_order': False, 'shape': (%d, 3), }", &n); err != nil {
		return nil, fmt.Errorf("unexpected npy header: %q", string(header))
	}

	evts := make([]Event, n)
	row := make([]int64, 3)
	for i := 0; i < n; i++ {
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("reading event %d: %w", i, err)
		}
		evts[i] = Event{Sample: row[0], Code: row[2]}
	}
	return evts, nil
}
