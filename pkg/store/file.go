package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modoterra/reqlog/pkg/core"
)

// FileStore keeps the slot as <dir>/<SlotKey>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the slot file path.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, SlotKey+".json")
}

func (s *FileStore) Describe() string { return "file:" + s.Path() }

// Save writes to a temp file and renames it over the slot.
func (s *FileStore) Save(_ context.Context, records []core.EventRecord) error {
	data, err := Encode(records)
	if err != nil {
		return core.NewPersistenceError(core.OpSave, err)
	}

	tmp, err := os.CreateTemp(s.dir, SlotKey+".*.tmp")
	if err != nil {
		return core.NewPersistenceError(core.OpSave, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return core.NewPersistenceError(core.OpSave, err)
	}
	if err := tmp.Close(); err != nil {
		return core.NewPersistenceError(core.OpSave, err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return core.NewPersistenceError(core.OpSave, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context) ([]core.EventRecord, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewPersistenceError(core.OpLoad, err)
	}
	records, err := Decode(data)
	if err != nil {
		return nil, core.NewPersistenceError(core.OpLoad, err)
	}
	return records, nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return core.NewPersistenceError(core.OpClear, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
