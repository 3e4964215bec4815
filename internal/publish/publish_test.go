package publish

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/structgate/internal/flagstore"
	"github.com/phobologic/structgate/internal/naming"
)

func sampleManifest() *flagstore.Manifest {
	return &flagstore.Manifest{
		Version: flagstore.ManifestVersion,
		Root:    "/src",
		Flags: []string{
			naming.DeclSymbol([]string{"geometry"}, "Point").Flag(),
			naming.MemberSymbol(naming.Field, []string{"geometry"}, "Point", "x").Flag(),
		},
	}
}

func TestPublishAllTargets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	opts := Options{
		ManifestPath: filepath.Join(dir, "out", "flags.json"),
		TagsPath:     filepath.Join(dir, "out", "tags"),
		EnvPath:      filepath.Join(dir, ".env"),
	}
	require.NoError(t, os.WriteFile(opts.EnvPath, []byte("OTHER=1\n"), 0o644))

	m := sampleManifest()
	require.NoError(t, New(opts, slog.New(slog.DiscardHandler)).Publish(m))

	got, err := flagstore.Load(opts.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, m.Flags, got.Flags)

	tags, err := os.ReadFile(opts.TagsPath)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(m.Flags, ",")+"\n", string(tags))

	env, err := os.ReadFile(opts.EnvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(env), "OTHER=1\n"))
	assert.Contains(t, string(env), "GOFLAGS=\"-tags="+m.Flags[0])

	set, err := ReadEnv(opts.EnvPath)
	require.NoError(t, err)
	assert.Equal(t, m.Flags, set.Sorted())
}

func TestPublishRepeatedReplacesSection(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	opts := Options{EnvPath: filepath.Join(dir, ".env")}
	p := New(opts, slog.New(slog.DiscardHandler))

	require.NoError(t, p.Publish(sampleManifest()))
	require.NoError(t, p.Publish(&flagstore.Manifest{Version: flagstore.ManifestVersion, Flags: []string{"sg.1.1_a.decl.1_b"}}))

	env, err := os.ReadFile(opts.EnvPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(env), sentinelStart))
	assert.NotContains(t, string(env), "Point")

	set, err := ReadEnv(opts.EnvPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"sg.1.1_a.decl.1_b"}, set.Sorted())
}

func TestApplySection(t *testing.T) {
	t.Parallel()

	section := sentinelStart + "\nnew\n" + sentinelEnd

	assert.Equal(t, section+"\n", ApplySection("", section))

	appended := ApplySection("A=1", section)
	assert.Equal(t, "A=1\n\n"+section+"\n", appended)

	before := "A=1\n\n"
	after := "\nB=2\n"
	old := before + sentinelStart + "\nold\n" + sentinelEnd + after
	assert.Equal(t, before+section+after, ApplySection(old, section))
}

func TestReadEnvMissingVar(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o644))

	_, err := ReadEnv(path)
	assert.ErrorContains(t, err, TagsVar)
}

func TestParseTags(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b"}, ParseTags(" b, a,,").Sorted())
	assert.Equal(t, 0, ParseTags("").Len())
}
