package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loghogd.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
[Global]
listen_ipv4 = 0.0.0.0
working_dir = /tmp/loghogd-work
log_dir = /tmp/loghogd-logs
run_dir = /tmp/loghogd-run
facilities_config = /tmp/loghogd-facilities.conf
`

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", c.ListenIPv4)
	require.Equal(t, defaultPort, c.DefaultPort)
	require.Equal(t, defaultTLSPort, c.DefaultTLSPort)
	require.EqualValues(t, "gzip", c.CompressionFormat)
}

func TestLoadRequiresAtLeastOneListener(t *testing.T) {
	path := writeConfig(t, `
[Global]
working_dir = /tmp/x
log_dir = /tmp/y
run_dir = /tmp/z
facilities_config = /tmp/f.conf
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadTLSRequiresReadablePEMAndCA(t *testing.T) {
	path := writeConfig(t, `
[Global]
listen_ipv4_ssl = 0.0.0.0
working_dir = /tmp/x
log_dir = /tmp/y
run_dir = /tmp/z
facilities_config = /tmp/f.conf
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestUnchangedDetectsEdits(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	c, err := Load(path)
	require.NoError(t, err)

	unchanged, err := c.Unchanged()
	require.NoError(t, err)
	require.True(t, unchanged)

	require.NoError(t, os.WriteFile(path, []byte(minimalConfig+"\n"), 0o644))
	unchanged, err = c.Unchanged()
	require.NoError(t, err)
	require.False(t, unchanged)
}
