package core

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeMissingFields(t *testing.T) {
	rec := Normalize(RawEvent{"method": "GET"})
	want := EventRecord{
		Initiator: Sentinel,
		Method:    "GET",
		Timestamp: SentinelTimestamp(),
		Type:      Sentinel,
		URL:       Sentinel,
	}
	if rec != want {
		t.Errorf("got %+v, want %+v", rec, want)
	}
}

func TestNormalizeFalsyValues(t *testing.T) {
	rec := Normalize(RawEvent{
		"initiator": "",
		"method":    nil,
		"timeStamp": 0.0,
		"type":      false,
		"url":       "http://example.com/",
	})
	if rec.Initiator != Sentinel || rec.Method != Sentinel || rec.Type != Sentinel {
		t.Errorf("expected sentinels, got %+v", rec)
	}
	if rec.Timestamp.String() != Sentinel {
		t.Errorf("timestamp: got %q, want sentinel", rec.Timestamp)
	}
	if rec.URL != "http://example.com/" {
		t.Errorf("url: got %q", rec.URL)
	}
}

func TestNormalizeTimestampForms(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawEvent
		want    string
		numeric bool
	}{
		{"float", RawEvent{"timeStamp": 1690000000000.25}, "1690000000000.25", true},
		{"int", RawEvent{"timeStamp": 1}, "1", true},
		{"alias", RawEvent{"timestamp": int64(42)}, "42", true},
		{"json number", RawEvent{"timeStamp": json.Number("17.5")}, "17.5", true},
		{"numeric string", RawEvent{"timeStamp": "12"}, "12", true},
		{"text", RawEvent{"timeStamp": "yesterday"}, "yesterday", false},
		{"missing", RawEvent{}, Sentinel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := Normalize(tt.raw).Timestamp
			if ts.String() != tt.want {
				t.Errorf("got %q, want %q", ts.String(), tt.want)
			}
			if ts.IsNumeric() != tt.numeric {
				t.Errorf("numeric: got %v, want %v", ts.IsNumeric(), tt.numeric)
			}
		})
	}
}

func TestValuesFollowFieldOrder(t *testing.T) {
	rec := EventRecord{
		Initiator: "a",
		Method:    "GET",
		Timestamp: NumericTimestamp(1),
		Type:      "script",
		URL:       "http://x",
	}
	got := rec.Values()
	want := [5]string{"a", "GET", "1", "script", "http://x"}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if Fields != [5]string{"initiator", "method", "timestamp", "type", "url"} {
		t.Errorf("unexpected field order %v", Fields)
	}
}

func TestEventRecordJSONRoundTrip(t *testing.T) {
	records := []EventRecord{
		Normalize(RawEvent{"initiator": "https://app.test", "method": "POST", "timeStamp": 1700000000123.5, "type": "xmlhttprequest", "url": "https://api.test/v1"}),
		Normalize(RawEvent{"method": "GET"}),
		{Initiator: "x", Method: "GET", Timestamp: TextTimestamp("later"), Type: "image", URL: "u"},
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	var back []EventRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back) != len(records) {
		t.Fatalf("got %d records, want %d", len(back), len(records))
	}
	for i := range records {
		if back[i] != records[i] {
			t.Errorf("record %d: got %+v, want %+v", i, back[i], records[i])
		}
	}
}

func TestWithSentinels(t *testing.T) {
	var zero EventRecord
	if got, want := zero.WithSentinels(), Normalize(RawEvent{}); got != want {
		t.Errorf("empty record: got %+v, want %+v", got, want)
	}

	full := Normalize(RawEvent{"method": "GET", "url": "https://a", "timeStamp": 5.0})
	if got := full.WithSentinels(); got != full {
		t.Errorf("complete record changed: got %+v, want %+v", got, full)
	}
}

func TestTimestampMarshalShape(t *testing.T) {
	num, _ := json.Marshal(NumericTimestamp(1))
	if string(num) != "1" {
		t.Errorf("numeric: got %s", num)
	}
	txt, _ := json.Marshal(SentinelTimestamp())
	if string(txt) != `"--"` {
		t.Errorf("sentinel: got %s", txt)
	}
}

func TestDecodeRawEvent(t *testing.T) {
	raw, err := DecodeRawEvent([]byte(`{"method":"GET","timeStamp":1700000000000,"url":"http://a"}`))
	if err != nil {
		t.Fatal(err)
	}
	rec := Normalize(raw)
	if rec.Timestamp.String() != "1700000000000" {
		t.Errorf("timestamp: got %q", rec.Timestamp)
	}
	if _, err := DecodeRawEvent([]byte(`null`)); err == nil {
		t.Error("expected error for null payload")
	}
	if _, err := DecodeRawEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestPersistenceErrorWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := NewPersistenceError(OpSave, base)
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != OpSave {
		t.Fatalf("expected PersistenceError with op save, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match base")
	}
	if NewPersistenceError(OpSave, nil) != nil {
		t.Error("nil error should stay nil")
	}
	if again := NewPersistenceError(OpClear, err); again != err {
		t.Error("already wrapped error should be returned as-is")
	}
}
