package schedule

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetNextExecutionFirstSeenRecordsNow(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "schedules"))
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.GetNextExecution("app:root", "0 0 * * *", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), next)

	last, ok := s.GetLastExecution("app:root")
	require.True(t, ok)
	require.Equal(t, now, last)
}

func TestGetNextExecutionUsesRecordedExecution(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "schedules"))
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordExecution("app:root", base))

	next, err := s.GetNextExecution("app:root", "0 0 * * *", base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), next)
}

func TestGetNextExecutionInvalidCron(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "schedules"))
	require.NoError(t, err)
	_, err = s.GetNextExecution("app:root", "not a cron", time.Now())
	require.Error(t, err)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules")
	s1, err := New(path)
	require.NoError(t, err)

	when := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, s1.RecordExecution("app:mod", when))

	s2, err := New(path)
	require.NoError(t, err)
	last, ok := s2.GetLastExecution("app:mod")
	require.True(t, ok)
	require.True(t, when.Equal(last))
}

func TestMissingStateFileIsNotAnError(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nonexistent", "schedules"))
	// parent dir doesn't exist, but New itself should only fail to persist,
	// not to load - loading a nonexistent path is fine.
	require.NoError(t, err)
}
