package store

import (
	"context"
	"sync"

	"github.com/modoterra/reqlog/pkg/core"
)

// MemoryStore holds the slot in process memory. Used for ephemeral runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	present bool
	failErr error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes every Save and Clear return err until called again with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Present reports whether the slot currently exists.
func (s *MemoryStore) Present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

func (s *MemoryStore) Describe() string { return "memory" }

func (s *MemoryStore) Save(_ context.Context, records []core.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return core.NewPersistenceError(core.OpSave, s.failErr)
	}
	data, err := Encode(records)
	if err != nil {
		return core.NewPersistenceError(core.OpSave, err)
	}
	s.data = data
	s.present = true
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]core.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return nil, nil
	}
	records, err := Decode(s.data)
	if err != nil {
		return nil, core.NewPersistenceError(core.OpLoad, err)
	}
	return records, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return core.NewPersistenceError(core.OpClear, s.failErr)
	}
	s.data = nil
	s.present = false
	return nil
}

func (s *MemoryStore) Close() error { return nil }
