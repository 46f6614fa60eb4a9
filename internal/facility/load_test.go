package facility

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[webapp]
rotate = daily
backup_count = 7
max_size = 1048576
secret = s3cr3t
flush_every = 10
file_per_host = true

[webapp:auth.login]
rotate = size
max_size = 2048
backup_count = 3

[webapp:auth]
rotate = hourly
backup_count = 7
`

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "facilities.conf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigInheritance(t *testing.T) {
	path := writeConf(t, sampleConfig)
	db, err := LoadConfig(path)
	require.NoError(t, err)

	root, ok := db.Lookup("webapp", "")
	require.True(t, ok)
	require.Equal(t, []byte("s3cr3t"), root.Secret)
	require.True(t, root.FilePerHost)
	require.Equal(t, 10, root.FlushEvery)

	login, ok := db.Lookup("webapp", "auth.login")
	require.True(t, ok)
	require.Equal(t, RotateSize, login.Rotate)
	require.Equal(t, int64(2048), login.MaxSize)
	// inherited from root, not overridden in the auth.login section
	require.Equal(t, []byte("s3cr3t"), login.Secret)
	require.True(t, login.FilePerHost)
	require.Equal(t, 10, login.FlushEvery)

	auth, ok := db.Lookup("webapp", "auth")
	require.True(t, ok)
	require.Equal(t, "0 * * * *", auth.Rotate)
	// auth's own max_size is unset, so it inherits the root's
	require.Equal(t, int64(1048576), auth.MaxSize)
}

func TestLoadConfigMissingRoot(t *testing.T) {
	path := writeConf(t, `
[webapp:auth]
rotate = daily
backup_count = 5
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	var missing ErrMissingRoot
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "webapp", missing.AppID)
}

func TestLoadConfigRequiresRotateAndBackupCount(t *testing.T) {
	path := writeConf(t, `
[webapp]
backup_count = 5
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}
