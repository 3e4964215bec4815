// Package watch re-runs a scan when files under its rebuild triggers change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/phobologic/structgate/internal/lang"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// ErrInvalidPattern indicates an exclude pattern that does not compile.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period after the last change before rebuilding.
	Debounce time.Duration
	// Exclude holds glob patterns for paths whose changes are ignored.
	Exclude []string
}

// RebuildFunc re-runs the scan for the changed paths and returns the new
// rebuild triggers.
type RebuildFunc func(ctx context.Context, changed []string) ([]string, error)

// Watcher watches trigger directories and calls a RebuildFunc on changes.
type Watcher struct {
	opts     Options
	excludes []glob.Glob
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	watched map[string]struct{}
}

// New creates a Watcher. Call Close when done.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	excludes := make([]glob.Glob, 0, len(opts.Exclude))
	for _, p := range opts.Exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, p, err)
		}
		excludes = append(excludes, g)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Watcher{
		opts:     opts,
		excludes: excludes,
		logger:   logger,
		fsw:      fsw,
		watched:  make(map[string]struct{}),
	}, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run watches triggers until ctx is done. Rebuild errors are logged and
// watching continues, so a file saved mid-edit does not end the session.
func (w *Watcher) Run(ctx context.Context, triggers []string, rebuild RebuildFunc) error {
	if err := w.sync(triggers); err != nil {
		return err
	}
	w.logger.Info("watching", "dirs", len(w.watched), "debounce", w.opts.Debounce.String())

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			pending[event.Name] = struct{}{}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)

			next, err := rebuild(ctx, changed)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("rebuild failed", "error", err, "changed", len(changed))
				continue
			}
			if err := w.sync(next); err != nil {
				w.logger.Warn("updating watched directories", "error", err)
			}
		}
	}
}

// sync makes the watched set equal to triggers.
func (w *Watcher) sync(triggers []string) error {
	want := make(map[string]struct{}, len(triggers))
	for _, dir := range triggers {
		want[dir] = struct{}{}
		if _, ok := w.watched[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.watched[dir] = struct{}{}
	}
	for dir := range w.watched {
		if _, ok := want[dir]; !ok {
			_ = w.fsw.Remove(dir)
			delete(w.watched, dir)
		}
	}
	return nil
}

// relevant reports whether event may change the scan result: a source file
// in a supported language, or a directory appearing or disappearing. Hidden
// paths are ignored, which also keeps published outputs such as .env from
// retriggering the scan.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") || w.excluded(event.Name) {
		return false
	}
	if lang.ForExtension(filepath.Ext(event.Name)) != "" {
		return true
	}
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		return err == nil && info.IsDir()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		_, ok := w.watched[event.Name]
		return ok
	}
	return false
}

// excluded matches the path and each of its suffixes against the patterns.
func (w *Watcher) excluded(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, g := range w.excludes {
		for i := range parts {
			if g.Match(strings.Join(parts[i:], "/")) {
				return true
			}
		}
	}
	return false
}
