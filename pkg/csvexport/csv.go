// Package csvexport renders a log snapshot as pipe-delimited text.
package csvexport

import (
	"strings"
	"time"

	"github.com/modoterra/reqlog/pkg/core"
)

const (
	Delimiter     = "|"
	LineDelimiter = "\n"
)

// ToCSV returns the header plus one row per record, or "" for no records.
// A string field containing the delimiter is wrapped in double quotes as-is;
// embedded quotes are not escaped.
func ToCSV(records []core.EventRecord) string {
	if len(records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(strings.Join(core.Fields[:], Delimiter))
	b.WriteString(LineDelimiter)

	for _, rec := range records {
		writeField(&b, rec.Initiator)
		b.WriteString(Delimiter)
		writeField(&b, rec.Method)
		b.WriteString(Delimiter)
		if rec.Timestamp.IsNumeric() {
			b.WriteString(rec.Timestamp.String())
		} else {
			writeField(&b, rec.Timestamp.String())
		}
		b.WriteString(Delimiter)
		writeField(&b, rec.Type)
		b.WriteString(Delimiter)
		writeField(&b, rec.URL)
		b.WriteString(LineDelimiter)
	}
	return b.String()
}

func writeField(b *strings.Builder, v string) {
	if strings.Contains(v, Delimiter) {
		b.WriteString(`"` + v + `"`)
		return
	}
	b.WriteString(v)
}

// FileName returns the export file name for a snapshot taken at t.
func FileName(t time.Time) string {
	return "http_requests_log-" + t.Format("20060102-150405") + ".csv"
}
