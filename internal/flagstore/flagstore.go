// Package flagstore holds the set of published flags. A Set is built once by
// the scan phase and handed to the gate phase explicitly; there is no
// process-wide store.
package flagstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/phobologic/structgate/internal/naming"
)

// ManifestVersion is written to and required of every manifest.
const ManifestVersion = 1

// ErrVersion indicates a manifest written by an incompatible version.
var ErrVersion = errors.New("unsupported manifest version")

// Set is an append-only set of flag names. Adding a flag twice is a no-op.
type Set struct {
	flags map[string]struct{}
}

// New returns a set holding flags.
func New(flags ...string) *Set {
	s := &Set{flags: make(map[string]struct{}, len(flags))}
	for _, f := range flags {
		s.Add(f)
	}
	return s
}

// Add records flag.
func (s *Set) Add(flag string) {
	s.flags[flag] = struct{}{}
}

// Has reports whether flag was published.
func (s *Set) Has(flag string) bool {
	_, ok := s.flags[flag]
	return ok
}

// Present reports whether the fact named by sym was published.
func (s *Set) Present(sym naming.Symbol) bool {
	return s.Has(sym.Flag())
}

// Len returns the number of distinct flags.
func (s *Set) Len() int {
	return len(s.flags)
}

// Sorted returns the flags in lexical order.
func (s *Set) Sorted() []string {
	out := make([]string, 0, len(s.flags))
	for f := range s.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FileSummary records what one scanned file contributed.
type FileSummary struct {
	Path     string   `json:"path"`
	Language string   `json:"language"`
	Module   []string `json:"module"`
	Decls    int      `json:"decls"`
	Flags    int      `json:"flags"`
}

// Manifest is the on-disk hand-off between the scan and gate phases.
type Manifest struct {
	Version int           `json:"version"`
	Root    string        `json:"root"`
	Files   []FileSummary `json:"files"`
	Flags   []string      `json:"flags"`
}

// Set returns the manifest's flags as a Set.
func (m *Manifest) Set() *Set {
	return New(m.Flags...)
}

// Save writes m to path as indented JSON, creating parent directories.
func Save(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Load reads a manifest written by Save.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%s: %w %d", path, ErrVersion, m.Version)
	}
	return &m, nil
}
