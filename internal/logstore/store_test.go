package logstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendLogAssignsMonotonicContiguousUIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendLog(ctx, 1, int(20), "one"))
	require.NoError(t, s.AppendLog(ctx, 2, int(20), "two"))
	require.NoError(t, s.AppendLog(ctx, 3, int(40), "three"))

	entries, err := s.Logs()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.EqualValues(t, i+1, e.UID)
	}
}

func TestDuplicatePostedLogIsNotDeduped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendLog(ctx, 5, 20, "same"))
	require.NoError(t, s.AppendLog(ctx, 5, 20, "same"))

	entries, err := s.Logs()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUpsertMetricIsLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertMetric(ctx, "sub_total", 10, 1))
	require.NoError(t, s.UpsertMetric(ctx, "sub_total", 12, 2))

	metrics, err := s.Metrics()
	require.NoError(t, err)
	assert.EqualValues(t, 12, metrics["sub_total"])
}

func TestHasErrorOrAboveDetectsErrorSeverity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	has, err := s.HasErrorOrAbove()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.AppendLog(ctx, 1, 20, "info only"))
	has, err = s.HasErrorOrAbove()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.AppendLog(ctx, 2, 40, "an error"))
	has, err = s.HasErrorOrAbove()
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAppendResourceSample(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendResource(context.Background(), 1, 12.5, 1024))
}
