// Package config loads structgate settings from a YAML file, the process
// environment (optionally seeded from a .env file) and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "structgate.yaml"

// ErrInvalid indicates a config value that fails validation.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Root      string        `yaml:"root"`
	Languages []string      `yaml:"languages,omitempty"`
	Exclude   []string      `yaml:"exclude,omitempty"`
	Gitignore bool          `yaml:"gitignore"`
	Workers   int           `yaml:"workers"`
	Publish   PublishConfig `yaml:"publish"`
	Gate      GateConfig    `yaml:"gate"`
	Watch     WatchConfig   `yaml:"watch"`
	Log       LogConfig     `yaml:"log"`
}

type PublishConfig struct {
	Manifest string `yaml:"manifest"`
	Tags     string `yaml:"tags"`
	EnvFile  string `yaml:"env_file"`
}

type GateConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

type WatchConfig struct {
	Debounce  string `yaml:"debounce"`
	CacheSize int    `yaml:"cache_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:      ".",
		Gitignore: true,
		Publish: PublishConfig{
			Manifest: ".structgate/flags.json",
			Tags:     ".structgate/tags",
		},
		Gate: GateConfig{
			Input:  "gated",
			Output: ".structgate/gen",
		},
		Watch: WatchConfig{
			Debounce:  "200ms",
			CacheSize: 4096,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path falls back to
// DefaultPath, which may be absent. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from STRUCTGATE_* variables.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("STRUCTGATE_ROOT")); v != "" {
		cfg.Root = v
	}
	if v := strings.TrimSpace(os.Getenv("STRUCTGATE_LANGUAGES")); v != "" {
		cfg.Languages = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("STRUCTGATE_MANIFEST")); v != "" {
		cfg.Publish.Manifest = v
	}
	if v := strings.TrimSpace(os.Getenv("STRUCTGATE_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("STRUCTGATE_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: root is empty", ErrInvalid)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalid, c.Workers)
	}
	if _, err := c.DebounceDuration(); err != nil {
		return err
	}
	if c.Watch.CacheSize < 0 {
		return fmt.Errorf("%w: watch.cache_size must be >= 0", ErrInvalid)
	}
	return nil
}

// DebounceDuration parses Watch.Debounce.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: watch.debounce %q", ErrInvalid, c.Watch.Debounce)
	}
	return d, nil
}

// Encode renders cfg as YAML.
func Encode(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// Write saves cfg as YAML to path, creating parent directories.
func Write(path string, cfg *Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
