package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: submission
languages: [rust]
exclude: ["**/tests/**"]
workers: 2
publish:
  manifest: out/flags.json
watch:
  debounce: 50ms
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "submission", cfg.Root)
	assert.Equal(t, []string{"rust"}, cfg.Languages)
	assert.Equal(t, []string{"**/tests/**"}, cfg.Exclude)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "out/flags.json", cfg.Publish.Manifest)
	// Unset keys keep their defaults.
	assert.Equal(t, ".structgate/tags", cfg.Publish.Tags)
	assert.True(t, cfg.Gitignore)
	assert.Equal(t, "debug", cfg.Log.Level)

	d, err := cfg.DebounceDuration()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: a\n"), 0o644))

	t.Setenv("STRUCTGATE_ROOT", "b")
	t.Setenv("STRUCTGATE_LANGUAGES", "rust, go")
	t.Setenv("STRUCTGATE_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b", cfg.Root)
	assert.Equal(t, []string{"rust", "go"}, cfg.Languages)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Root = "" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }},
		{"negative cache", func(c *Config) { c.Watch.CacheSize = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "structgate.yaml")
	cfg := Default()
	cfg.Languages = []string{"go"}
	require.NoError(t, Write(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
