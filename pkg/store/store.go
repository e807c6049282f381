// Package store persists the event log in a single named slot of a durable
// key-value store, so the log survives daemon restarts.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modoterra/reqlog/pkg/core"
)

// SlotKey names the durable slot holding the serialized log.
const SlotKey = "http_requests_log"

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Store is the durable mirror of the event log.
type Store interface {
	// Save replaces the slot contents with records.
	Save(ctx context.Context, records []core.EventRecord) error

	// Load returns the stored records, or nil if the slot is absent.
	Load(ctx context.Context) ([]core.EventRecord, error)

	// Clear deletes the slot.
	Clear(ctx context.Context) error

	// Describe returns a short human-readable location, e.g. "file:/path".
	Describe() string

	Close() error
}

// Open returns the store for driver rooted at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Encode serializes records as a JSON array of objects.
func Encode(records []core.EventRecord) ([]byte, error) {
	if records == nil {
		records = []core.EventRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	return data, nil
}

// Decode parses the slot contents written by Encode. Missing keys are read
// back as the sentinel.
func Decode(data []byte) ([]core.EventRecord, error) {
	var records []core.EventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	for i := range records {
		records[i] = records[i].WithSentinels()
	}
	return records, nil
}
