package flagstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/structgate/internal/naming"
)

func TestSetIdempotent(t *testing.T) {
	t.Parallel()

	s := New("b", "a")
	s.Add("a")
	s.Add("c")
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("d"))
}

func TestPresent(t *testing.T) {
	t.Parallel()

	sym := naming.DeclSymbol([]string{"geometry"}, "Point")
	s := New(sym.Flag())
	assert.True(t, s.Present(sym))
	assert.False(t, s.Present(naming.DeclSymbol([]string{"geometry"}, "Line")))
}

func TestManifestRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "flags.json")
	m := &Manifest{
		Version: ManifestVersion,
		Root:    "/src",
		Files:   []FileSummary{{Path: "geometry.rs", Language: "rust", Module: []string{"geometry"}, Decls: 2, Flags: 5}},
		Flags:   []string{"x", "y"},
	}
	require.NoError(t, Save(path, m))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.True(t, got.Set().Has("y"))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	old := filepath.Join(dir, "old.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"version": 0, "flags": []}`), 0o644))
	_, err = Load(old)
	assert.ErrorIs(t, err, ErrVersion)
}
