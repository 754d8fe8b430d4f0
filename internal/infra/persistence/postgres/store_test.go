package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mousedb/internal/infra/persistence/postgres/testutil"
	"mousedb/internal/snapshot"
	"mousedb/internal/snapshot/snapshottest"
)

var now = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "pgx", driver)
		assert.Equal(t, "postgres://localhost/mousedb?sslmode=disable", dsn)
		return db, nil
	})
	t.Cleanup(restore)
	s, err := Open(context.Background(), "")
	require.NoError(t, err)
	return s, conn
}

func TestOpenCreatesTable(t *testing.T) {
	_, conn := openStub(t)
	require.NotEmpty(t, conn.Execs)
	assert.Contains(t, conn.Execs[0], "CREATE TABLE IF NOT EXISTS snapshots")
}

func TestOpenPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	_, err := Open(context.Background(), "postgres://example/db")
	assert.ErrorContains(t, err, "ping postgres")
}

func TestOpenDriverFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	_, err := Open(context.Background(), "postgres://example/db")
	assert.ErrorContains(t, err, "open postgres")
}

func TestSaveLoadAndList(t *testing.T) {
	ctx := context.Background()
	s, conn := openStub(t)

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, snapshot.ErrNotExist)

	first := snapshottest.Document(1, now)
	second := snapshottest.Document(2, now.Add(time.Minute))
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	assert.Len(t, conn.Committed(), 2)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.SaveID, got.SaveID)

	saves, err := s.Saves(ctx)
	require.NoError(t, err)
	require.Len(t, saves, 2)
	assert.Equal(t, int64(1), saves[0].Seq)
	assert.Equal(t, first.SaveID, saves[0].SaveID)
	assert.True(t, saves[1].SavedAt.Equal(second.SavedAt))
}

func TestFailedCommitLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	s, conn := openStub(t)
	conn.FailCommit = true
	assert.ErrorContains(t, s.Save(ctx, snapshottest.Document(1, now)), "commit")
	assert.Empty(t, conn.Committed())

	conn.FailCommit = false
	conn.FailExec = true
	assert.ErrorContains(t, s.Save(ctx, snapshottest.Document(1, now)), "insert snapshot")
	assert.Empty(t, conn.Committed())
}

func TestCancelledSaveRollsBack(t *testing.T) {
	s, conn := openStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Save(ctx, snapshottest.Document(1, now)))
	assert.Empty(t, conn.Committed())
}

func TestSavesIterationError(t *testing.T) {
	ctx := context.Background()
	s, conn := openStub(t)
	require.NoError(t, s.Save(ctx, snapshottest.Document(1, now)))
	conn.RowsErr = errors.New("network reset")
	_, err := s.Saves(ctx)
	assert.ErrorContains(t, err, "iterate snapshots")
	require.NoError(t, s.Close())
}
