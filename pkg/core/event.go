package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Sentinel is stored in place of any field the capture source did not supply.
const Sentinel = "--"

// Field names in their fixed declared order. Every renderer (table, CSV, CLI)
// walks this list instead of iterating record keys.
const (
	FieldInitiator = "initiator"
	FieldMethod    = "method"
	FieldTimestamp = "timestamp"
	FieldType      = "type"
	FieldURL       = "url"
)

// Fields is the declared column order of an EventRecord.
var Fields = [5]string{FieldInitiator, FieldMethod, FieldTimestamp, FieldType, FieldURL}

// EventRecord is one captured outgoing request. Values are immutable once
// built; copies are handed out, never pointers into the log.
type EventRecord struct {
	Initiator string    `json:"initiator"`
	Method    string    `json:"method"`
	Timestamp Timestamp `json:"timestamp"`
	Type      string    `json:"type"`
	URL       string    `json:"url"`
}

// Values returns the record's fields as text, in Fields order.
func (r EventRecord) Values() [5]string {
	return [5]string{r.Initiator, r.Method, r.Timestamp.String(), r.Type, r.URL}
}

// WithSentinels returns r with every empty field set to the Sentinel. Slots
// edited by hand or written by older builds may omit keys.
func (r EventRecord) WithSentinels() EventRecord {
	for _, f := range []*string{&r.Initiator, &r.Method, &r.Type, &r.URL} {
		if *f == "" {
			*f = Sentinel
		}
	}
	if !r.Timestamp.numeric && r.Timestamp.text == "" {
		r.Timestamp = SentinelTimestamp()
	}
	return r
}

// Timestamp is the capture time of a request: either epoch milliseconds as
// reported by the source, or a text value (usually the Sentinel).
type Timestamp struct {
	num     float64
	text    string
	numeric bool
}

// NumericTimestamp returns a timestamp holding epoch milliseconds.
// Non-finite values collapse to the sentinel.
func NumericTimestamp(ms float64) Timestamp {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return SentinelTimestamp()
	}
	return Timestamp{num: ms, numeric: true}
}

// TextTimestamp returns a timestamp holding an opaque text value.
func TextTimestamp(s string) Timestamp {
	if s == "" {
		s = Sentinel
	}
	return Timestamp{text: s}
}

// SentinelTimestamp is the placeholder used when the source omitted a time.
func SentinelTimestamp() Timestamp {
	return Timestamp{text: Sentinel}
}

// Millis returns the numeric value and whether the timestamp is numeric.
func (t Timestamp) Millis() (float64, bool) {
	return t.num, t.numeric
}

// IsNumeric reports whether the timestamp holds a number.
func (t Timestamp) IsNumeric() bool { return t.numeric }

// String formats numbers with the shortest exact decimal representation.
func (t Timestamp) String() string {
	if t.numeric {
		return strconv.FormatFloat(t.num, 'f', -1, 64)
	}
	if t.text == "" {
		return Sentinel
	}
	return t.text
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.numeric {
		return []byte(t.String()), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts a number, a string or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = SentinelTimestamp()
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		*t = TextTimestamp(s)
		return nil
	default:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("timestamp: invalid number %q", data)
		}
		*t = NumericTimestamp(v)
		return nil
	}
}
