// Package scan runs the extraction phase: discover files, extract their
// declarations concurrently, and collect the resulting flags. The returned
// Result is the only hand-off to the gate phase.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/structgate/internal/discover"
	"github.com/phobologic/structgate/internal/extract"
	"github.com/phobologic/structgate/internal/flagstore"
	"github.com/phobologic/structgate/internal/model"
)

// Options configures a Scanner.
type Options struct {
	Discover discover.Options
	// Workers bounds concurrent extraction; 0 means GOMAXPROCS.
	Workers int
	// CacheSize is the number of parsed files kept between runs of the same
	// Scanner, keyed by path and content; 0 disables the cache.
	CacheSize int
}

// Result is the outcome of one scan.
type Result struct {
	Root     string
	Files    []model.File
	Flags    *flagstore.Set
	Triggers []string
}

// Manifest converts r to its on-disk form.
func (r *Result) Manifest() *flagstore.Manifest {
	m := &flagstore.Manifest{
		Version: flagstore.ManifestVersion,
		Root:    r.Root,
		Flags:   r.Flags.Sorted(),
		Files:   make([]flagstore.FileSummary, 0, len(r.Files)),
	}
	for _, f := range r.Files {
		m.Files = append(m.Files, flagstore.FileSummary{
			Path:     filepath.ToSlash(f.Path),
			Language: f.Language,
			Module:   f.Module,
			Decls:    len(f.Decls),
			Flags:    len(extract.Flags(f)),
		})
	}
	return m
}

// Scanner extracts flags from a source tree. A Scanner may be reused for
// successive scans (watch mode) but must not run two scans at once.
type Scanner struct {
	opts   Options
	logger *slog.Logger
	cache  *lru.Cache[string, model.File]
}

// New creates a Scanner.
func New(opts Options, logger *slog.Logger) (*Scanner, error) {
	s := &Scanner{opts: opts, logger: logger}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, model.File](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating parse cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Run scans root. Any unreadable path or unparseable file aborts the scan
// with its error; partial results are never returned.
func (s *Scanner) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, &discover.IOError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	entries, err := discover.Files(root, s.opts.Discover)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	triggers, err := discover.Directories(root, s.opts.Discover)
	if err != nil {
		return nil, fmt.Errorf("collecting rebuild triggers: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Warn("no parseable files found", "root", root)
	}

	files, err := s.extractAll(ctx, root, entries)
	if err != nil {
		return nil, err
	}

	// Flags are collected only after every file is extracted.
	flags := flagstore.New()
	for _, f := range files {
		for _, flag := range extract.Flags(f) {
			flags.Add(flag)
		}
	}

	s.logger.Info("scan complete",
		"root", root,
		"files", len(files),
		"flags", flags.Len(),
		"elapsed", time.Since(start).String(),
	)

	return &Result{
		Root:     root,
		Files:    files,
		Flags:    flags,
		Triggers: triggers,
	}, nil
}

func (s *Scanner) extractAll(ctx context.Context, root string, entries []discover.FileEntry) ([]model.File, error) {
	files := make([]model.File, len(entries))
	if len(entries) == 0 {
		return files, nil
	}

	numWorkers := s.opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > len(entries) {
		numWorkers = len(entries)
	}

	g, ctx := errgroup.WithContext(ctx)
	work := make(chan int)

	g.Go(func() error {
		defer close(work)
		for i := range entries {
			select {
			case work <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range numWorkers {
		g.Go(func() error {
			// Each goroutine gets its own parsers
			ex := extract.New()
			for idx := range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				f, err := s.extractOne(ctx, ex, root, entries[idx])
				if err != nil {
					return err
				}
				files[idx] = f
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *Scanner) extractOne(ctx context.Context, ex *extract.Extractor, root string, entry discover.FileEntry) (model.File, error) {
	absPath := filepath.Join(root, entry.Path)
	source, err := os.ReadFile(absPath)
	if err != nil {
		return model.File{}, &discover.IOError{Path: absPath, Err: err}
	}

	key := cacheKey(entry, source)
	if s.cache != nil {
		if f, ok := s.cache.Get(key); ok {
			s.logger.Debug("parse cache hit", "path", entry.Path)
			return f, nil
		}
	}

	f, err := ex.File(ctx, entry.Language, entry.Path, source)
	if err != nil {
		return model.File{}, err
	}
	s.logger.Debug("file extracted", "path", entry.Path, "language", entry.Language, "decls", len(f.Decls), "impls", len(f.Impls))

	if s.cache != nil {
		s.cache.Add(key, f)
	}
	return f, nil
}

// cacheKey identifies a file by language, path (the module path depends on
// it) and content.
func cacheKey(entry discover.FileEntry, source []byte) string {
	h := sha256.New()
	h.Write([]byte(entry.Language))
	h.Write([]byte{0})
	h.Write([]byte(filepath.ToSlash(entry.Path)))
	h.Write([]byte{0})
	h.Write(source)
	return hex.EncodeToString(h.Sum(nil))
}
