package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("DELPHI_COEFFICIENT_FAIL_SOFT", "")
	t.Setenv("DELPHI_ACCESS_TTL_SECONDS", "")

	cfg := Load()

	assert.Equal(t, ":8787", cfg.Addr)
	assert.True(t, cfg.CoefficientFailSoft)
	assert.Equal(t, 900*time.Second, cfg.AccessTTL)
	assert.Equal(t, "panel-reports", cfg.MinioBucket)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DELPHI_COEFFICIENT_FAIL_SOFT", "false")
	t.Setenv("DELPHI_ACCESS_TTL_SECONDS", "60")
	t.Setenv("MINIO_USE_SSL", "not-a-bool")

	cfg := Load()

	assert.False(t, cfg.CoefficientFailSoft)
	assert.Equal(t, time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.MinioUseSSL)
}

func TestLoadWithFileOverlay(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("DELPHI_COEFFICIENT_FAIL_SOFT", "")
	t.Setenv("REDIS_URL", "")

	path := filepath.Join(t.TempDir(), "delphi.yaml")
	content := []byte(`
addr: ":7000"
log:
  level: debug
  pretty: true
coefficient:
  fail_soft: false
redis:
  url: redis://cache:6379/1
minio:
  endpoint: minio:9000
  bucket: archive
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr, "environment wins over file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogPretty)
	assert.False(t, cfg.CoefficientFailSoft)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "minio:9000", cfg.MinioEndpoint)
	assert.Equal(t, "archive", cfg.MinioBucket)
}

func TestLoadWithFileErrors(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o600))
	_, err = LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFileEmptyPath(t *testing.T) {
	cfg, err := LoadWithFile("  ")
	require.NoError(t, err)
	assert.Equal(t, Load(), cfg)
}
