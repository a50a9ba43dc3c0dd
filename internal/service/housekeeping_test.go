package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/metabostore/internal/jobs"
	"github.com/bigkaa/metabostore/internal/storage/journal"
)

type fakeCleaner struct {
	before time.Time
	n      int
	err    error
}

func (c *fakeCleaner) Clean(olderThan time.Time) (int, error) {
	c.before = olderThan
	return c.n, c.err
}

// TestHousekeeping_RunOnce проверяет границы удаления задач и журнала.
func TestHousekeeping_RunOnce(t *testing.T) {
	runner := jobs.NewLocalRunner(1, testLogger())
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	id, err := runner.Submit("test", "MTBLS1", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, err = runner.Wait(context.Background(), id)
	require.NoError(t, err)

	cleaner := &fakeCleaner{n: 2}
	now := time.Now().Add(time.Hour)
	hk := NewHousekeepingService(runner, cleaner, HousekeepingOptions{
		JobRetention:     time.Minute,
		JournalRetention: 24 * time.Hour,
		Now:              func() time.Time { return now },
	}, testLogger())

	pruned, cleaned := hk.RunOnce()
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 2, cleaned)
	assert.Equal(t, now.Add(-24*time.Hour), cleaner.before)
	_, ok := runner.Get(id)
	assert.False(t, ok, "завершённая задача должна быть удалена")

	cleaner.err, cleaner.n = errors.New("диск недоступен"), 0
	_, cleaned = hk.RunOnce()
	assert.Zero(t, cleaned)
}

// TestHousekeeping_Journal проверяет очистку реального журнала.
func TestHousekeeping_Journal(t *testing.T) {
	j, err := journal.New(t.TempDir(), testLogger())
	require.NoError(t, err)
	e, err := j.Begin("MTBLS1", "metadata", "upload", "ftp")
	require.NoError(t, err)
	require.NoError(t, j.Commit(e.RunID, 0))

	hk := NewHousekeepingService(nil, j, HousekeepingOptions{
		JournalRetention: time.Millisecond,
		Now:              func() time.Time { return time.Now().Add(time.Hour) },
	}, testLogger())
	_, cleaned := hk.RunOnce()
	assert.Equal(t, 1, cleaned)

	hk.Start(context.Background())
	hk.Stop()
}
