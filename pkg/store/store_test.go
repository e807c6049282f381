package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/reqlog/pkg/core"
)

func sampleRecords() []core.EventRecord {
	return []core.EventRecord{
		core.Normalize(core.RawEvent{
			"initiator": "https://app.test",
			"method":    "GET",
			"timeStamp": 1700000000000.25,
			"type":      "script",
			"url":       "https://cdn.test/app.js",
		}),
		core.Normalize(core.RawEvent{"method": "POST"}),
		{Initiator: "x", Method: "GET", Timestamp: core.TextTimestamp("soon"), Type: "image", URL: "http://x|y"},
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "reqlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"file":   fileStore,
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, sampleRecords()))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, sampleRecords(), got)
		})
	}
}

func TestStoreAbsentSlot(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreOverwriteAndClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, sampleRecords()))
			require.NoError(t, s.Save(ctx, sampleRecords()[:1]))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got, 1)

			require.NoError(t, s.Clear(ctx))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, got)

			// Clearing an absent slot is fine.
			require.NoError(t, s.Clear(ctx))
		})
	}
}

func TestStoreSaveEmpty(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, nil))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestFileStoreCorruptSlot(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{nope"), 0o644))

	_, err = s.Load(context.Background())
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.OpLoad, pe.Op)
}

func TestFileStoreFillsMissingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	slot := `[{"url":"https://a.test"},{"method":"GET","timestamp":null,"type":"","initiator":null}]`
	require.NoError(t, os.WriteFile(s.Path(), []byte(slot), 0o644))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, [5]string{"--", "--", "--", "--", "https://a.test"}, got[0].Values())
	assert.Equal(t, [5]string{"--", "GET", "--", "--", "--"}, got[1].Values())
	assert.Equal(t, core.Normalize(core.RawEvent{"url": "https://a.test"}), got[0])
}

func TestFileStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))
	// A regular file where the directory was makes every write fail.
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	err = s.Save(context.Background(), sampleRecords())
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.OpSave, pe.Op)
}

func TestMemoryStoreFailWith(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	quota := errors.New("quota exceeded")
	s.FailWith(quota)

	err := s.Save(ctx, sampleRecords())
	require.ErrorIs(t, err, quota)
	assert.False(t, s.Present())
	require.ErrorIs(t, s.Clear(ctx), quota)

	s.FailWith(nil)
	require.NoError(t, s.Save(ctx, sampleRecords()))
	assert.True(t, s.Present())
}

func TestSQLiteMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqlog.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleRecords()))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)
}

func TestSQLiteDirectoryPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	s, err := OpenSQLite(dir)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite:"+filepath.Join(dir, "reqlog.db"), s.Describe())
}

func TestOpenDrivers(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{DriverFile, DriverSQLite, DriverMemory, ""} {
		s, err := Open(driver, dir)
		require.NoError(t, err, driver)
		require.NoError(t, s.Close())
	}
	_, err := Open("redis", dir)
	assert.Error(t, err)
}
