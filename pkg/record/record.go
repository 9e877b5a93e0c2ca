// Package record defines the archived observation type and its JSON decoding.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CaptureField is the timestamp every archived record carries.
const CaptureField = "timestamp_capture"

// Record is one observation at one capture moment. Numbers decode to float64
// and stay native until the store conversion boundary.
type Record map[string]any

// CaptureDate returns the YYYY-MM-DD prefix of the capture timestamp.
func (r Record) CaptureDate() (string, bool) {
	ts, ok := r[CaptureField].(string)
	if !ok || len(ts) < 10 {
		return "", false
	}
	return ts[:10], true
}

// String returns the field as a trimmed string if it is one.
func (r Record) String(field string) (string, bool) {
	s, ok := r[field].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Float returns the field as a float64 if it is numeric.
func (r Record) Float(field string) (float64, bool) {
	f, ok := r[field].(float64)
	return f, ok
}

// ErrNotArray is returned when a payload is not a JSON array.
var ErrNotArray = errors.New("payload is not a JSON array")

// DecodeError reports a malformed element inside an otherwise valid payload.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeBatch decodes a JSON array of records. Elements that are not JSON
// objects are dropped and reported as DecodeErrors; a payload that is not an
// array at all fails as a whole.
func DecodeBatch(r io.Reader) ([]Record, []*DecodeError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read payload: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, nil, ErrNotArray
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}

	records := make([]Record, 0, len(raw))
	var bad []*DecodeError
	for i, elem := range raw {
		var rec Record
		if err := json.Unmarshal(elem, &rec); err != nil {
			bad = append(bad, &DecodeError{Index: i, Err: err})
			continue
		}
		if rec == nil {
			bad = append(bad, &DecodeError{Index: i, Err: errors.New("null record")})
			continue
		}
		records = append(records, rec)
	}
	return records, bad, nil
}
