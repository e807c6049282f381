package csvexport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/modoterra/reqlog/pkg/core"
)

func TestToCSVQuotesDelimiter(t *testing.T) {
	records := []core.EventRecord{
		core.Normalize(core.RawEvent{
			"initiator": "a",
			"method":    "GET",
			"timeStamp": 1,
			"type":      "script",
			"url":       "http://x|y",
		}),
	}
	want := "initiator|method|timestamp|type|url\n" +
		"a|GET|1|script|\"http://x|y\"\n"
	assert.Equal(t, want, ToCSV(records))
}

func TestToCSVEmpty(t *testing.T) {
	assert.Equal(t, "", ToCSV(nil))
	assert.Equal(t, "", ToCSV([]core.EventRecord{}))
}

func TestToCSVSentinelsAndOrder(t *testing.T) {
	records := []core.EventRecord{
		core.Normalize(core.RawEvent{"method": "GET"}),
		core.Normalize(core.RawEvent{"method": "POST", "url": "https://api.test/items", "timeStamp": 1700000000000.5}),
	}
	want := "initiator|method|timestamp|type|url\n" +
		"--|GET|--|--|--\n" +
		"--|POST|1700000000000.5|--|https://api.test/items\n"
	assert.Equal(t, want, ToCSV(records))
}

func TestToCSVDoesNotEscapeQuotes(t *testing.T) {
	records := []core.EventRecord{{
		Initiator: `say "hi"|there`,
		Method:    "GET",
		Timestamp: core.TextTimestamp("a|b"),
		Type:      "other",
		URL:       "u",
	}}
	want := "initiator|method|timestamp|type|url\n" +
		"\"say \"hi\"|there\"|GET|\"a|b\"|other|u\n"
	assert.Equal(t, want, ToCSV(records))
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "http_requests_log-20260304-050607.csv", FileName(ts))
}
