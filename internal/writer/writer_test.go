package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/loghogd/internal/compress"
	"github.com/gravwell/loghogd/internal/dlog"
	"github.com/gravwell/loghogd/internal/facility"
	"github.com/gravwell/loghogd/internal/schedule"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func testEnv(t *testing.T) (*Writer, *schedule.Scheduler) {
	t.Helper()
	dir := t.TempDir()
	sched, err := schedule.New(filepath.Join(dir, "schedules"))
	require.NoError(t, err)
	comp, err := compress.New(compress.Gzip, 6, false, dlog.New(nopWriteCloser{}))
	require.NoError(t, err)
	t.Cleanup(comp.Shutdown)

	w := New(filepath.Join(dir, "logs"), sched, comp, dlog.New(nopWriteCloser{}))
	return w, sched
}

func facilityFor(t *testing.T, rotate string, maxSize int64, backupCount, flushEvery int, filePerHost bool) facility.Facility {
	t.Helper()
	f, err := facility.NewFacility("app", facility.ParseModuleID("mod"), rotate, backupCount, maxSize, nil, flushEvery, filePerHost)
	require.NoError(t, err)
	return f
}

func TestWriteCreatesFileAndAppendsLine(t *testing.T) {
	w, _ := testEnv(t)
	fac := facilityFor(t, "daily", 0, 5, 1, false)

	require.NoError(t, w.Write("host1", fac, "hello world"))
	require.NoError(t, w.CloseAll())

	path := w.filename("host1", fac)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(b), "host1 - hello world"))
}

func TestFilePerHostProducesDistinctFiles(t *testing.T) {
	w, _ := testEnv(t)
	fac := facilityFor(t, "daily", 0, 5, 1, true)

	require.NoError(t, w.Write("host1", fac, "a"))
	require.NoError(t, w.Write("host2", fac, "b"))
	require.NoError(t, w.CloseAll())

	require.NotEqual(t, w.filename("host1", fac), w.filename("host2", fac))
}

func TestSharedFileWithoutFilePerHost(t *testing.T) {
	w, _ := testEnv(t)
	fac := facilityFor(t, "daily", 0, 5, 1, false)
	require.Equal(t, w.filename("host1", fac), w.filename("host2", fac))
}

func TestSizeRotationTriggersAndPrunesBackups(t *testing.T) {
	w, _ := testEnv(t)
	fac := facilityFor(t, facility.RotateSize, 10, 2, 1, false)

	for i := 0; i < 20; i++ {
		require.NoError(t, w.Write("host1", fac, "0123456789"))
	}
	require.NoError(t, w.CloseAll())

	dir := filepath.Dir(w.filename("host1", fac))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var backups int
	for _, e := range entries {
		if e.Name() != "mod.log" {
			backups++
		}
	}
	require.LessOrEqual(t, backups, 2)
	require.Greater(t, backups, 0)
}

func TestCloseAllAllowsReopen(t *testing.T) {
	w, _ := testEnv(t)
	fac := facilityFor(t, "daily", 0, 5, 1, false)

	require.NoError(t, w.Write("host1", fac, "first"))
	require.NoError(t, w.CloseAll())
	require.NoError(t, w.Write("host1", fac, "second"))
	require.NoError(t, w.CloseAll())

	path := w.filename("host1", fac)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "first")
	require.Contains(t, string(b), "second")
}
