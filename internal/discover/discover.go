// Package discover walks a source tree and yields the files the extractor
// can parse.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/structgate/internal/lang"
)

// FileEntry represents a discovered source file.
type FileEntry struct {
	Path     string // Relative to the scan root
	Language string
}

// Options narrows what the walker yields.
type Options struct {
	// Languages restricts results to the listed languages; empty means all.
	Languages []string
	// Exclude holds glob patterns matched against root-relative, slash
	// separated paths. Matching directories are not descended into.
	Exclude []string
	// Gitignore skips files ignored by git (git ls-files, else .gitignore).
	Gitignore bool
}

// IOError reports a directory or file that could not be read. It aborts the
// whole scan: a missing flag must mean an absent declaration, never an
// incomplete scan.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ErrInvalidPattern indicates an exclude pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	"target":       {},
	"vendor":       {},
}

type walker struct {
	root     string
	langSet  map[string]struct{}
	excludes []glob.Glob
	gitFiles map[string]struct{}
	gi       *ignore.GitIgnore
}

func newWalker(root string, opts Options) (*walker, error) {
	w := &walker{root: root, langSet: make(map[string]struct{}, len(opts.Languages))}
	for _, l := range opts.Languages {
		w.langSet[l] = struct{}{}
	}
	for _, pattern := range opts.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %q", ErrInvalidPattern, pattern), err)
		}
		w.excludes = append(w.excludes, g)
	}
	if opts.Gitignore {
		w.gitFiles = gitLsFiles(root)
		if w.gitFiles == nil {
			w.gi = loadGitignore(root)
		}
	}
	return w, nil
}

func (w *walker) excluded(rel string) bool {
	slashed := filepath.ToSlash(rel)
	for _, g := range w.excludes {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// skipDir reports whether a directory below the root is pruned.
func (w *walker) skipDir(rel, name string) bool {
	if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
		return true
	}
	if w.excluded(rel) {
		return true
	}
	return w.gi != nil && w.gi.MatchesPath(rel+"/")
}

// visit classifies one directory entry. It returns the entry to yield (if
// any) and, for directories, whether to prune.
func (w *walker) visit(path string, d fs.DirEntry) (FileEntry, bool, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return FileEntry{}, false, err
	}
	name := d.Name()
	if d.IsDir() {
		if path == w.root {
			return FileEntry{}, false, nil
		}
		if w.skipDir(rel, name) {
			return FileEntry{}, false, filepath.SkipDir
		}
		return FileEntry{}, false, nil
	}
	if strings.HasPrefix(name, ".") {
		return FileEntry{}, false, nil
	}
	// Symlinks are never followed.
	if d.Type()&os.ModeSymlink != 0 {
		return FileEntry{}, false, nil
	}
	if w.gitFiles != nil {
		if _, ok := w.gitFiles[filepath.ToSlash(rel)]; !ok {
			return FileEntry{}, false, nil
		}
	} else if w.gi != nil && w.gi.MatchesPath(rel) {
		return FileEntry{}, false, nil
	}
	if w.excluded(rel) {
		return FileEntry{}, false, nil
	}
	langName := lang.ForExtension(filepath.Ext(name))
	if langName == "" {
		return FileEntry{}, false, nil
	}
	if len(w.langSet) > 0 {
		if _, ok := w.langSet[langName]; !ok {
			return FileEntry{}, false, nil
		}
	}
	return FileEntry{Path: rel, Language: langName}, true, nil
}

// Walk lazily yields the parseable files under root. The first unreadable
// directory is yielded as an *IOError and ends the sequence.
func Walk(root string, opts Options) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		w, err := newWalker(root, opts)
		if err != nil {
			yield(FileEntry{}, err)
			return
		}
		stopped := false
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return &IOError{Path: path, Err: err}
			}
			entry, ok, err := w.visit(path, d)
			if err != nil {
				return err
			}
			if ok && !yield(entry, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil && !stopped {
			yield(FileEntry{}, walkErr)
		}
	}
}

// Files discovers parseable source files under root, sorted by path.
func Files(root string, opts Options) ([]FileEntry, error) {
	var results []FileEntry
	for entry, err := range Walk(root, opts) {
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

// Directories returns root and every directory the walker descends into.
// These are the rebuild triggers: a change inside any of them invalidates
// the scan.
func Directories(root string, opts Options) ([]string, error) {
	w, err := newWalker(root, opts)
	if err != nil {
		return nil, err
	}
	var dirs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &IOError{Path: path, Err: err}
		}
		if !d.IsDir() {
			return nil
		}
		if _, _, err := w.visit(path, d); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil
	}
	return gi
}
