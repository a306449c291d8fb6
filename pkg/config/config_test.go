package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/calipergo/pkg/config"
)

func TestLoadConfig_DefaultsWithNoFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Caliper.Automerge)
	assert.Equal(t, 1024, cfg.Caliper.BlockSize)
	assert.False(t, cfg.OTel.Enabled)
	assert.True(t, cfg.Table.Enabled)
	assert.Equal(t, 9464, cfg.Prometheus.Port)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "calipergo.yaml")

	content := []byte("caliper:\n  automerge: false\n  block_size: 512\notel:\n  enabled: true\n  endpoint: localhost:4317\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.False(t, cfg.Caliper.Automerge)
	assert.Equal(t, 512, cfg.Caliper.BlockSize)
	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTel.Endpoint)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("CALIPERGO_CALIPER_BLOCK_SIZE", "2048")

	path := filepath.Join(t.TempDir(), "calipergo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("caliper:\n  block_size: 512\n"), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Caliper.BlockSize)
}

func TestLoadConfig_RejectsInvalidBlockSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "calipergo.yaml")

	require.NoError(t, os.WriteFile(path, []byte("caliper:\n  block_size: 0\n"), 0o600))

	_, err := config.LoadConfig(path)
	require.ErrorIs(t, err, config.ErrInvalidBlockSize)
}

func TestLoadConfig_RejectsEndpointWithoutEnabling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "calipergo.yaml")

	require.NoError(t, os.WriteFile(path, []byte("otel:\n  endpoint: localhost:4317\n"), 0o600))

	_, err := config.LoadConfig(path)
	require.ErrorIs(t, err, config.ErrInvalidOTLPEndpoint)
}
