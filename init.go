package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/structgate/internal/config"
	"github.com/phobologic/structgate/internal/publish"
)

// initCommand implements `structgate init`, which writes a starter config and
// keeps generated outputs out of git through a sentinel block in .gitignore.
func (a *app) initCommand() *cobra.Command {
	var (
		dryRun    bool
		force     bool
		gitignore bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter " + config.DefaultPath,
		Long: `Write a starter config file with the default settings. path defaults to
./` + config.DefaultPath + `. An existing file is left alone unless --force is given.

With --gitignore, a structgate block listing the generated outputs is added
to the .gitignore next to the config, or updated in place on later runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath
			if len(args) > 0 {
				path = args[0]
			}
			cfg := config.Default()

			if dryRun {
				data, err := config.Encode(cfg)
				if err != nil {
					return err
				}
				_, _ = a.stdout.Write(data)
				return nil
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, cfg); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			a.logger.Info("config written", "path", path)

			if gitignore {
				ignorePath := filepath.Join(filepath.Dir(path), ".gitignore")
				existing, err := os.ReadFile(ignorePath)
				if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("reading %s: %w", ignorePath, err)
				}
				updated := publish.ApplySection(string(existing), gitignoreSection(cfg))
				if err := os.WriteFile(ignorePath, []byte(updated), 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", ignorePath, err)
				}
				a.logger.Info("gitignore updated", "path", ignorePath)
			}

			_, _ = fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the config instead of writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().BoolVar(&gitignore, "gitignore", false, "add generated outputs to .gitignore")
	return cmd
}

// gitignoreSection lists the top-level output locations of cfg.
func gitignoreSection(cfg *config.Config) string {
	seen := make(map[string]bool)
	var body string
	for _, p := range []string{cfg.Publish.Manifest, cfg.Publish.Tags, cfg.Gate.Output} {
		if p == "" {
			continue
		}
		top := filepath.ToSlash(filepath.Clean(p))
		if i := strings.IndexByte(top, '/'); i > 0 {
			top = top[:i+1]
		}
		if seen[top] {
			continue
		}
		seen[top] = true
		body += "/" + top + "\n"
	}
	return publish.Wrap(body)
}
