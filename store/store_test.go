package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T, session string) *Store {
	t.Helper()
	s, err := Open(":memory:", session)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, "session-1")
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	require.NoError(t, s.RecordStarted(ctx, Record{
		Index:   1,
		Address: "C_A*_W*_T1",
		SuiteID: "suite",
		TestID:  "map",
		Class:   "com.example.MapTest",
		Workers: []string{"C_A1_W1", "C_A1_W2", "C_A2_W1"},
	}))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "C_A*_W*_T1", got.Address)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, []string{"C_A1_W1", "C_A1_W2", "C_A2_W1"}, got.Workers)
	assert.Equal(t, int64(1_700_000_000_000), got.StartedAt.UnixMilli())
	assert.False(t, got.Status.Finished())

	_, err = s.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusKeepsFirstTerminalState(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, "session-1")

	require.NoError(t, s.RecordStarted(ctx, Record{Index: 1, Address: "C_A*_W*_T1", SuiteID: "s", TestID: "a", Class: "A"}))
	require.NoError(t, s.UpdateStatus(ctx, 1, StatusFailed, "worker C_A1_W1 died"))
	require.NoError(t, s.UpdateStatus(ctx, 1, StatusCompleted, ""))

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "worker C_A1_W1 died", got.Error)
	assert.Empty(t, got.Workers)
	assert.True(t, got.Status.Finished())

	err = s.UpdateStatus(ctx, 7, StatusStopped, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateIndexRejected(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, "session-1")

	r := Record{Index: 1, Address: "C_A*_W*_T1", SuiteID: "s", TestID: "a", Class: "A"}
	require.NoError(t, s.RecordStarted(ctx, r))
	assert.Error(t, s.RecordStarted(ctx, r))
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := Open(path, "first")
	require.NoError(t, err)
	require.NoError(t, first.RecordStarted(ctx, Record{Index: 1, Address: "C_A*_W*_T1", SuiteID: "s", TestID: "a", Class: "A"}))
	require.NoError(t, first.Close())

	second, err := Open(path, "second")
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, second.RecordStarted(ctx, Record{Index: 1, Address: "C_A*_W*_T1", SuiteID: "s", TestID: "b", Class: "B"}))
	got, err := second.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got.TestID)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t, "session-1")

	for _, i := range []int{3, 1, 2} {
		require.NoError(t, s.RecordStarted(ctx, Record{Index: i, Address: "x", SuiteID: "s", TestID: "t", Class: "C"}))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.Index)
	}
}
