package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mousedb/internal/snapshot"
	"mousedb/internal/snapshot/snapshottest"
)

var now = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func TestLoadMissingDocument(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "colony.json"))
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNotExist)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"colony.json", "colony.yaml"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := New(filepath.Join(t.TempDir(), "nested", name))
			first := snapshottest.Document(1, now)
			second := snapshottest.Document(2, now.Add(time.Hour))
			require.NoError(t, s.Save(ctx, first))
			require.NoError(t, s.Save(ctx, second))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, second.SaveID, got.SaveID)
			assert.Equal(t, int64(2), got.Clock)
			assert.Equal(t, second.Entities, got.Entities)

			entries, err := os.ReadDir(filepath.Dir(s.Path()))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp and lock files must be cleaned up")
			require.NoError(t, s.Close())
		})
	}
}

func TestSaveRespectsLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json")
	s := New(path)
	require.NoError(t, os.WriteFile(path+".lock", nil, 0o600))

	err := s.Save(context.Background(), snapshottest.Document(1, now))
	assert.ErrorIs(t, err, ErrLocked)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveTakesOverStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json")
	s := New(path)
	lock := path + ".lock"
	require.NoError(t, os.WriteFile(lock, []byte("pid 1\n"), 0o600))
	old := time.Now().Add(-2 * StaleLockAge)
	require.NoError(t, os.Chtimes(lock, old, old))

	require.NoError(t, s.Save(context.Background(), snapshottest.Document(1, now)))
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Clock)
	_, err = os.Stat(lock)
	assert.True(t, errors.Is(err, os.ErrNotExist), "lock released after save")
}

func TestLockedErrorNamesRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json")
	require.NoError(t, os.WriteFile(path+".lock", nil, 0o600))
	err := New(path).Save(context.Background(), snapshottest.Document(1, now))
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), path+".lock")
	assert.Contains(t, err.Error(), "remove it if no other mousedb process is running")
}

func TestCancelledSaveKeepsPreviousDocument(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "colony.json"))
	first := snapshottest.Document(1, now)
	require.NoError(t, s.Save(context.Background(), first))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, snapshottest.Document(2, now)), context.Canceled)

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.SaveID, got.SaveID)
}

func TestLoadRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 1, "entities": [{"id": ""}]}`), 0o644))
	_, err := New(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, snapshot.ErrNotExist)
}
