package dlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "test.log")
	l, err := NewFile(p)
	require.NoError(t, err)
	return l, p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestLevelFiltering(t *testing.T) {
	l, p := newTestLogger(t)
	require.NoError(t, l.SetLevel(WARN))

	l.Info("should be filtered")
	l.Warn("should appear")
	require.NoError(t, l.Close())

	s := readFile(t, p)
	require.NotContains(t, s, "should be filtered")
	require.Contains(t, s, "should appear")
}

func TestLevelOffSuppressesEverything(t *testing.T) {
	l, p := newTestLogger(t)
	require.NoError(t, l.SetLevel(OFF))
	l.Critical("nothing should appear")
	require.NoError(t, l.Close())
	require.Empty(t, readFile(t, p))
}

func TestKVAppearsInOutput(t *testing.T) {
	l, p := newTestLogger(t)
	l.Error("tester", KV("id", 99))
	require.NoError(t, l.Close())
	s := readFile(t, p)
	require.Contains(t, s, "tester")
	require.Contains(t, s, `id="99"`)
}

func TestAddWriterFansOut(t *testing.T) {
	l, p := newTestLogger(t)
	second := filepath.Join(t.TempDir(), "second.log")
	fout, err := os.Create(second)
	require.NoError(t, err)
	require.NoError(t, l.AddWriter(fout))

	l.Critical("fan out me")
	require.NoError(t, l.Close())

	require.Contains(t, readFile(t, p), "fan out me")
	require.Contains(t, readFile(t, second), "fan out me")
}

func TestSetLevelStringInvalid(t *testing.T) {
	l, _ := newTestLogger(t)
	defer l.Close()
	require.ErrorIs(t, l.SetLevelString("NOPE"), ErrInvalidLevel)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("warn")
	require.NoError(t, err)
	require.Equal(t, WARN, lvl)
}

func TestTrimLength(t *testing.T) {
	require.Equal(t, "twelve byt", trimLength(10, "twelve bytes"))
	require.Equal(t, "short", trimLength(10, "short"))
}

func TestTrimPathLength(t *testing.T) {
	input := "KafkaFederator/kafkaWriter.go:355"
	require.Equal(t, "kafkaWriter.go:355", trimPathLength(32, input))
}

func TestLoggerAfterCloseErrors(t *testing.T) {
	l, _ := newTestLogger(t)
	require.NoError(t, l.Close())
	_, err := l.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestWriteImplementsIOWriter(t *testing.T) {
	l, p := newTestLogger(t)
	n, err := l.Write([]byte("raw bytes\n"))
	require.NoError(t, err)
	require.Equal(t, len("raw bytes\n"), n)
	require.NoError(t, l.Close())
	require.True(t, strings.Contains(readFile(t, p), "raw bytes"))
}
