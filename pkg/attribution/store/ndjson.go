package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 4 << 20

// LineError reports an NDJSON line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

// Error implements the error interface.
func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the decode error.
func (e *LineError) Unwrap() error {
	return e.Err
}

// ReadNDJSON decodes one record per line, e.g. attribution.Decision or
// attribution.Conversion exported as enriched events. Blank lines are ignored.
// Lines that fail to decode are returned as LineErrors and do not stop the
// read; the error result is reserved for failures of r itself.
func ReadNDJSON[T any](r io.Reader) ([]T, []*LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		records []T
		bad     []*LineError
		line    int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			bad = append(bad, &LineError{Line: line, Err: err})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, bad, fmt.Errorf("read ndjson: %w", err)
	}
	return records, bad, nil
}
