// Package publish writes scanned flags into the build configuration: a JSON
// manifest for the gate phase, a build-tag list, and a sentinel-wrapped
// block in an env file exporting GOFLAGS.
package publish

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/phobologic/structgate/internal/flagstore"
)

const (
	sentinelStart = "# structgate:start"
	sentinelEnd   = "# structgate:end"

	// TagsVar is the env variable holding the comma-separated flag list.
	TagsVar = "STRUCTGATE_TAGS"
)

// Options selects the publication targets. Empty paths are skipped.
type Options struct {
	ManifestPath string
	TagsPath     string
	EnvPath      string
}

// Publisher writes a manifest to every configured target.
type Publisher struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Publisher for opts.
func New(opts Options, logger *slog.Logger) *Publisher {
	return &Publisher{opts: opts, logger: logger}
}

// Publish writes m to the configured targets.
func (p *Publisher) Publish(m *flagstore.Manifest) error {
	if p.opts.ManifestPath != "" {
		if err := flagstore.Save(p.opts.ManifestPath, m); err != nil {
			return err
		}
		p.logger.Info("manifest written", "path", p.opts.ManifestPath, "flags", len(m.Flags))
	}
	if p.opts.TagsPath != "" {
		if err := writeFile(p.opts.TagsPath, []byte(Tags(m.Flags)+"\n")); err != nil {
			return fmt.Errorf("writing tags: %w", err)
		}
		p.logger.Info("build tags written", "path", p.opts.TagsPath)
	}
	if p.opts.EnvPath != "" {
		existing, err := os.ReadFile(p.opts.EnvPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", p.opts.EnvPath, err)
		}
		updated := ApplySection(string(existing), EnvSection(m.Flags))
		if err := writeFile(p.opts.EnvPath, []byte(updated)); err != nil {
			return fmt.Errorf("writing %s: %w", p.opts.EnvPath, err)
		}
		p.logger.Info("env section written", "path", p.opts.EnvPath)
	}
	return nil
}

// Tags joins flags into a -tags argument value.
func Tags(flags []string) string {
	return strings.Join(flags, ",")
}

// EnvSection returns the sentinel-wrapped env block for flags.
func EnvSection(flags []string) string {
	tags := Tags(flags)
	var b strings.Builder
	b.WriteString("# Generated by structgate scan; do not edit.\n")
	fmt.Fprintf(&b, "%s=%q\n", TagsVar, tags)
	fmt.Fprintf(&b, "GOFLAGS=%q", "-tags="+tags)
	return Wrap(b.String())
}

// Wrap encloses body in the structgate sentinel comments. The sentinels are
// '#' comments, valid in env files and .gitignore alike.
func Wrap(body string) string {
	return sentinelStart + "\n" + strings.TrimRight(body, "\n") + "\n" + sentinelEnd
}

// ApplySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func ApplySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) > 0 {
		content += "\n"
	}
	return content + section + "\n"
}

// ReadEnv loads the flags published into an env file.
func ReadEnv(path string) (*flagstore.Set, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	raw, ok := vars[TagsVar]
	if !ok {
		return nil, fmt.Errorf("%s: %s not set", path, TagsVar)
	}
	return ParseTags(raw), nil
}

// ParseTags splits a comma-separated tag list into a Set.
func ParseTags(raw string) *flagstore.Set {
	set := flagstore.New()
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			set.Add(tag)
		}
	}
	return set
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
