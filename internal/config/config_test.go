package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/internal/config"
)

func TestParseAcceptsKnownFields(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"workers": 4, "stack_limit": 64}`))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 64, cfg.StackLimit)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := config.Parse([]byte(`{"workers": 4, "graph_path": "x"}`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParseRejectsNonPositiveValues(t *testing.T) {
	_, err := config.Parse([]byte(`{"workers": 0}`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = config.Parse([]byte(`{"stack_limit": -1}`))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadOptionalMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, found, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, config.Config{}, cfg)
}

func TestLoadOptionalReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".peregrine"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".peregrine", "config.json"),
		[]byte(`{"workers": 2}`),
		0o644,
	))

	cfg, found, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, cfg.Workers)
}
