package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvDefaults(t *testing.T) {
	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, "info", e.LogLevel)
	assert.Equal(t, "fs", e.Storage.Provider)
	assert.Equal(t, 24, e.Storage.URLTTLHours)
	assert.Equal(t, 5*time.Second, e.DB.BusyTimeout)
	assert.Empty(t, e.DB.Path)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("TRADELINE_STORAGE_PROVIDER", "s3")
	t.Setenv("TRADELINE_S3_BUCKET", "uploads")
	t.Setenv("TRADELINE_ALLOW_ACTOR_HEADER", "true")
	t.Setenv("TRADELINE_DB_PATH", "/var/lib/tradeline/market.db")
	t.Setenv("TRADELINE_DB_BUSY_TIMEOUT", "1500ms")
	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tradeline/market.db", e.DB.Path)
	assert.Equal(t, 1500*time.Millisecond, e.DB.BusyTimeout)
	assert.Equal(t, "s3", e.Storage.Provider)
	assert.Equal(t, "uploads", e.Storage.Bucket)
	assert.True(t, e.AllowActorHeader)
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("TRADELINE_S3_URL_TTL_HOURS", "soon")
	_, err := ParseEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(dir), "missing .env is not an error")
	key := "TRADELINE_TEST_DOTENV_VALUE"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=from-file\n"), 0o644))
	t.Setenv(key, "")
	os.Unsetenv(key)
	require.NoError(t, LoadDotEnv(dir))
	assert.Equal(t, "from-file", os.Getenv(key))
	os.Unsetenv(key)
}
