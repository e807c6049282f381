package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawEvent is the loosely-typed payload a capture source delivers for one
// observed request. Any of the five keys may be missing.
type RawEvent map[string]any

// Keys recognized in a RawEvent. Browsers report the capture time as
// "timeStamp"; "timestamp" is accepted as well.
const (
	RawInitiator    = "initiator"
	RawMethod       = "method"
	RawTimeStamp    = "timeStamp"
	RawTimestampAlt = "timestamp"
	RawType         = "type"
	RawURL          = "url"
)

// Normalize turns a raw payload into an EventRecord. Absent, nil, empty or
// zero values become the Sentinel.
func Normalize(raw RawEvent) EventRecord {
	ts, ok := raw[RawTimeStamp]
	if !ok || isEmpty(ts) {
		ts = raw[RawTimestampAlt]
	}
	return EventRecord{
		Initiator: textField(raw[RawInitiator]),
		Method:    textField(raw[RawMethod]),
		Timestamp: timestampField(ts),
		Type:      textField(raw[RawType]),
		URL:       textField(raw[RawURL]),
	}
}

// DecodeRawEvent parses one JSON object into a RawEvent, keeping numbers exact.
func DecodeRawEvent(line []byte) (RawEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw RawEvent
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode raw event: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode raw event: not an object")
	}
	return raw, nil
}

func textField(v any) string {
	if isEmpty(v) {
		return Sentinel
	}
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func timestampField(v any) Timestamp {
	if isEmpty(v) {
		return SentinelTimestamp()
	}
	switch x := v.(type) {
	case float64:
		return NumericTimestamp(x)
	case float32:
		return NumericTimestamp(float64(x))
	case int:
		return NumericTimestamp(float64(x))
	case int64:
		return NumericTimestamp(float64(x))
	case uint64:
		return NumericTimestamp(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return NumericTimestamp(f)
		}
		return TextTimestamp(x.String())
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return NumericTimestamp(f)
		}
		return TextTimestamp(x)
	default:
		return TextTimestamp(fmt.Sprint(x))
	}
}

// isEmpty mirrors the "missing or falsy" test applied by capture callbacks.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case float32:
		return x == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	case uint64:
		return x == 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	}
	return false
}
