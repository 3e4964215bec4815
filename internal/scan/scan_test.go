package scan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/structgate/internal/discover"
	"github.com/phobologic/structgate/internal/extract"
	"github.com/phobologic/structgate/internal/naming"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newScanner(t *testing.T, opts Options) *Scanner {
	t.Helper()
	s, err := New(opts, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func writeSubmission(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "geometry.rs", `pub struct Point { pub x: f64, pub y: f64 }

pub trait Shape { fn area(&self) -> f64; }

impl Shape for Point {
    fn area(&self) -> f64 { 0.0 }
}
`)
	writeFile(t, dir, "sorting/bubble_sort.rs", `pub fn bubble_sort<T: Ord>(v: &mut [T]) {}
`)
	writeFile(t, dir, "stack/stack.go", `package stack

type Stack struct {
	items []int
}

func (s *Stack) Push(v int) { s.items = append(s.items, v) }
`)
}

func TestScanCollectsFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)

	res, err := newScanner(t, Options{}).Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Len(t, res.Files, 3)
	for _, sym := range []naming.Symbol{
		naming.DeclSymbol([]string{"geometry"}, "Point"),
		naming.MemberSymbol(naming.Field, []string{"geometry"}, "Point", "x"),
		naming.ImplSymbol([]string{"geometry"}, "Shape", "Point"),
		naming.DeclSymbol([]string{"sorting", "bubble_sort"}, "bubble_sort"),
		naming.MemberSymbol(naming.Field, []string{"stack", "stack"}, "Stack", "items"),
		naming.MemberSymbol(naming.Method, []string{"stack", "stack"}, "Stack", "Push"),
	} {
		assert.True(t, res.Flags.Present(sym), "missing %s", sym)
	}
	assert.False(t, res.Flags.Present(naming.DeclSymbol([]string{"geometry"}, "Circle")))

	assert.Contains(t, res.Triggers, res.Root)
	assert.Contains(t, res.Triggers, filepath.Join(res.Root, "sorting"))
}

func TestScanIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)

	first, err := newScanner(t, Options{Workers: 1}).Run(context.Background(), dir)
	require.NoError(t, err)
	second, err := newScanner(t, Options{Workers: 4}).Run(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, first.Flags.Sorted(), second.Flags.Sorted())
	assert.Equal(t, first.Manifest(), second.Manifest())
}

func TestScanManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)

	res, err := newScanner(t, Options{}).Run(context.Background(), dir)
	require.NoError(t, err)

	m := res.Manifest()
	assert.Equal(t, res.Root, m.Root)
	assert.Equal(t, res.Flags.Sorted(), m.Flags)
	require.Len(t, m.Files, 3)
	// Files are in walk order.
	assert.Equal(t, "geometry.rs", m.Files[0].Path)
	assert.Equal(t, []string{"geometry"}, m.Files[0].Module)
	assert.Equal(t, "sorting/bubble_sort.rs", m.Files[1].Path)
	assert.Equal(t, "stack/stack.go", m.Files[2].Path)
	assert.Equal(t, 1, m.Files[2].Decls)
}

func TestScanEmptyTree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "nothing to see")

	res, err := newScanner(t, Options{}).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.Equal(t, 0, res.Flags.Len())
}

func TestScanParseErrorAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)
	writeFile(t, dir, "broken.rs", "pub struct {")

	_, err := newScanner(t, Options{Workers: 2}).Run(context.Background(), dir)
	var perr *extract.ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "broken.rs", perr.Path)
}

func TestScanMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := newScanner(t, Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "gone"))
	var ioErr *discover.IOError
	assert.True(t, errors.As(err, &ioErr), "got %v", err)
}

func TestScanLanguageFilter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)

	res, err := newScanner(t, Options{Discover: discover.Options{Languages: []string{"go"}}}).Run(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "go", res.Files[0].Language)
}

func TestScanCacheTracksEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "shapes.rs", "pub struct Square;\n")

	s := newScanner(t, Options{CacheSize: 16})
	square := naming.DeclSymbol([]string{"shapes"}, "Square")
	circle := naming.DeclSymbol([]string{"shapes"}, "Circle")

	res, err := s.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Flags.Present(square))
	assert.Equal(t, 1, s.cache.Len())

	// Unchanged content is served from the cache.
	res, err = s.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Flags.Present(square))
	assert.Equal(t, 1, s.cache.Len())

	writeFile(t, dir, "shapes.rs", "pub struct Circle;\n")
	res, err = s.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, res.Flags.Present(circle))
	assert.False(t, res.Flags.Present(square))
}

func TestScanCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSubmission(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newScanner(t, Options{}).Run(ctx, dir)
	assert.Error(t, err)
}
