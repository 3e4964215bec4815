// structgate publishes structural presence flags for a source tree and gates
// Go test code on them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phobologic/structgate/internal/config"
	"github.com/phobologic/structgate/internal/discover"
	"github.com/phobologic/structgate/internal/flagstore"
	"github.com/phobologic/structgate/internal/gate"
	"github.com/phobologic/structgate/internal/lang"
	"github.com/phobologic/structgate/internal/logging"
	"github.com/phobologic/structgate/internal/naming"
	"github.com/phobologic/structgate/internal/publish"
	"github.com/phobologic/structgate/internal/scan"
	"github.com/phobologic/structgate/internal/toon"
	"github.com/phobologic/structgate/internal/watch"
)

var version = "dev"

// Output formats for scan and gate.
const (
	formatText = "text"
	formatTOON = "toon"
)

// errAbsent is returned by check --strict when a symbol is absent.
var errAbsent = errors.New("symbols absent")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr, closeLog: func() {}}
	defer func() { a.closeLog() }()

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(context.Background())
}

// app holds state shared by the subcommands of one invocation.
type app struct {
	stdout, stderr io.Writer

	configPath string
	logLevel   string
	logFile    string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "structgate",
		Short: "Publish structural presence flags and gate Go code on them",
		Long: `structgate scans a source tree (Rust or Go), records which declarations,
fields, members, methods, supertypes and trait impls exist as flags, and
publishes them as a manifest, a build-tag list and a GOFLAGS env section.

Go test code annotated with //gate: directives is then rewritten so that
code referring to absent symbols is omitted or fails at run time instead of
breaking the build.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetVersionTemplate("structgate {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultPath+" if present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFile, "log-file", "", "also append JSON logs to this file")

	root.AddCommand(
		a.scanCommand(),
		a.gateCommand(),
		a.checkCommand(),
		a.watchCommand(),
		a.initCommand(),
	)
	return root
}

// setup loads configuration and the logger before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "init" {
		a.cfg = config.Default()
	} else {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		a.cfg.Log.File = a.logFile
	}

	level, err := logging.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.Setup(a.stderr, level, a.cfg.Log.File)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// scanFlags are shared by scan and watch.
type scanFlags struct {
	languages   []string
	exclude     []string
	noGitignore bool
	workers     int
	manifest    string
	tagsFile    string
	envFile     string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.languages, "langs", "l", nil, "languages to scan ("+strings.Join(sortedLanguages(), ", ")+")")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "glob patterns of paths to skip")
	fl.BoolVar(&f.noGitignore, "no-gitignore", false, "scan files ignored by git")
	fl.IntVar(&f.workers, "workers", 0, "concurrent extraction workers (0 = GOMAXPROCS)")
	fl.StringVar(&f.manifest, "manifest", "", "manifest output path")
	fl.StringVar(&f.tagsFile, "tags-file", "", "build-tag list output path")
	fl.StringVar(&f.envFile, "env-file", "", "env file to update with STRUCTGATE_TAGS and GOFLAGS")
}

// apply overlays explicitly set flags on cfg.
func (f *scanFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("langs") {
		cfg.Languages = f.languages
	}
	if fl.Changed("exclude") {
		cfg.Exclude = f.exclude
	}
	if fl.Changed("no-gitignore") {
		cfg.Gitignore = !f.noGitignore
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("manifest") {
		cfg.Publish.Manifest = f.manifest
	}
	if fl.Changed("tags-file") {
		cfg.Publish.Tags = f.tagsFile
	}
	if fl.Changed("env-file") {
		cfg.Publish.EnvFile = f.envFile
	}
}

func (a *app) scanCommand() *cobra.Command {
	var (
		flags  scanFlags
		list   bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Extract presence flags from a source tree and publish them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			flags.apply(cmd, a.cfg)
			root := a.root(args)

			s, err := a.newScanner(0)
			if err != nil {
				return err
			}
			res, err := a.scanAndPublish(cmd.Context(), s, root)
			if err != nil {
				return err
			}

			switch {
			case format == formatTOON:
				out, err := toon.EncodeScan(res.Root, res.Files, res.Flags.Sorted())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(a.stdout, out)
				return nil
			case list:
				for _, flag := range res.Flags.Sorted() {
					sym, err := naming.Decode(flag)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(a.stdout, "%-6s %s\n", sym.Fact, sym)
				}
				return nil
			}
			_, _ = fmt.Fprintf(a.stdout, "%d flags from %d files\n", res.Flags.Len(), len(res.Files))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&list, "list", false, "print every published symbol")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or toon")
	return cmd
}

func (a *app) gateCommand() *cobra.Command {
	var (
		manifest string
		scanRoot string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "gate [input] [output]",
		Short: "Rewrite gated Go sources according to published flags",
		Long: `Rewrite every .go file under input into output, honouring //gate:
directives:

  //gate:item.<fact> <spec>   omit the declaration when the flag is absent
  //gate:func.<fact> <spec>   replace the function body with a failure

Flags come from the manifest written by scan, or from a fresh scan with
--scan, in which case nothing is published.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			in, out := a.cfg.Gate.Input, a.cfg.Gate.Output
			if len(args) > 0 {
				in = args[0]
			}
			if len(args) > 1 {
				out = args[1]
			}
			if cmd.Flags().Changed("manifest") {
				a.cfg.Publish.Manifest = manifest
			}

			var set *flagstore.Set
			if scanRoot != "" {
				s, err := a.newScanner(0)
				if err != nil {
					return err
				}
				res, err := s.Run(cmd.Context(), scanRoot)
				if err != nil {
					return err
				}
				set = res.Flags
			} else {
				m, err := flagstore.Load(a.cfg.Publish.Manifest)
				if err != nil {
					return fmt.Errorf("loading flags (run scan first or pass --scan): %w", err)
				}
				set = m.Set()
			}

			report, err := gate.New(set, a.logger).ProcessDir(in, out)
			if err != nil {
				return err
			}
			if format == formatTOON {
				_, _ = fmt.Fprintln(a.stdout, toon.EncodeGate(report))
				return nil
			}
			printReport(a.stdout, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or toon")
	cmd.Flags().StringVar(&manifest, "manifest", "", "manifest to read flags from")
	cmd.Flags().StringVar(&scanRoot, "scan", "", "scan this root first instead of reading the manifest")
	return cmd
}

func checkFormat(format string) error {
	if format != formatText && format != formatTOON {
		return fmt.Errorf("unknown format %q (valid: %s, %s)", format, formatText, formatTOON)
	}
	return nil
}

func printReport(w io.Writer, r *gate.Report) {
	for _, d := range r.Decisions {
		if d.Action == gate.Kept {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:%d: %s %s (%s)\n", d.File, d.Line, d.Action, d.Name, strings.Join(d.Missing, "; "))
	}
	_, _ = fmt.Fprintf(w, "gated %d files: %d kept, %d omitted, %d replaced\n",
		r.Files, r.Count(gate.Kept), r.Count(gate.Omitted), r.Count(gate.Replaced))
}

func (a *app) checkCommand() *cobra.Command {
	var (
		factName string
		manifest string
		envFile  string
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "check <spec>...",
		Short: "Report whether symbols are present in the published flags",
		Long: `Report whether each symbol path is present. The path grammar depends on
--fact:

  decl                  ` + naming.DeclGrammar + `
  field, member, method ` + naming.MemberGrammar + `
  super                 ` + naming.SuperGrammar + `
  impl                  ` + naming.ImplGrammar,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fact, err := naming.ParseFact(factName)
			if err != nil {
				return err
			}

			var set *flagstore.Set
			if envFile != "" {
				set, err = publish.ReadEnv(envFile)
			} else {
				if cmd.Flags().Changed("manifest") {
					a.cfg.Publish.Manifest = manifest
				}
				var m *flagstore.Manifest
				m, err = flagstore.Load(a.cfg.Publish.Manifest)
				if m != nil {
					set = m.Set()
				}
			}
			if err != nil {
				return fmt.Errorf("loading flags: %w", err)
			}

			g := gate.New(set, a.logger)
			absent := 0
			for _, spec := range args {
				sym, ok, err := g.Present(fact, spec)
				if err != nil {
					return err
				}
				state := "present"
				if !ok {
					state = "absent"
					absent++
				}
				_, _ = fmt.Fprintf(a.stdout, "%-7s %s %s\n", state, fact, sym)
			}
			if strict && absent > 0 {
				return fmt.Errorf("%w: %d of %d", errAbsent, absent, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&factName, "fact", string(naming.Decl), "fact to check: decl, field, member, method, super, impl")
	cmd.Flags().StringVar(&manifest, "manifest", "", "manifest to read flags from")
	cmd.Flags().StringVar(&envFile, "env-file", "", "read flags from an env file written by scan instead")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when any symbol is absent")
	return cmd
}

func (a *app) watchCommand() *cobra.Command {
	var (
		flags    scanFlags
		debounce string
		gateDirs bool
	)
	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Scan, then rescan and republish whenever sources change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, a.cfg)
			if cmd.Flags().Changed("debounce") {
				a.cfg.Watch.Debounce = debounce
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			wait, _ := a.cfg.DebounceDuration()
			root := a.root(args)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.newScanner(a.cfg.Watch.CacheSize)
			if err != nil {
				return err
			}
			rebuild := func(ctx context.Context, changed []string) ([]string, error) {
				if len(changed) > 0 {
					a.logger.Info("rescanning", "changed", len(changed))
				}
				res, err := a.scanAndPublish(ctx, s, root)
				if err != nil {
					return nil, err
				}
				if gateDirs {
					if _, err := gate.New(res.Flags, a.logger).ProcessDir(a.cfg.Gate.Input, a.cfg.Gate.Output); err != nil {
						return nil, err
					}
				}
				_, _ = fmt.Fprintf(a.stdout, "%d flags from %d files\n", res.Flags.Len(), len(res.Files))
				return res.Triggers, nil
			}

			triggers, err := rebuild(ctx, nil)
			if err != nil {
				return err
			}

			w, err := watch.New(watch.Options{Debounce: wait, Exclude: a.cfg.Exclude}, a.logger)
			if err != nil {
				return err
			}
			defer w.Close()
			return w.Run(ctx, triggers, rebuild)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&debounce, "debounce", "", "quiet period before rescanning, e.g. 200ms")
	cmd.Flags().BoolVar(&gateDirs, "gate", false, "also regenerate gated sources after every scan")
	return cmd
}

// root returns the scan root from args or config.
func (a *app) root(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.cfg.Root
}

func (a *app) newScanner(cacheSize int) (*scan.Scanner, error) {
	for _, name := range a.cfg.Languages {
		if _, ok := lang.Languages[name]; !ok {
			return nil, fmt.Errorf("unsupported language %q", name)
		}
	}
	return scan.New(scan.Options{
		Discover: discover.Options{
			Languages: a.cfg.Languages,
			Exclude:   a.cfg.Exclude,
			Gitignore: a.cfg.Gitignore,
		},
		Workers:   a.cfg.Workers,
		CacheSize: cacheSize,
	}, a.logger)
}

// scanAndPublish runs the full extraction stage. Publication happens only
// after every file has been extracted.
func (a *app) scanAndPublish(ctx context.Context, s *scan.Scanner, root string) (*scan.Result, error) {
	res, err := s.Run(ctx, root)
	if err != nil {
		return nil, err
	}
	p := publish.New(publish.Options{
		ManifestPath: a.cfg.Publish.Manifest,
		TagsPath:     a.cfg.Publish.Tags,
		EnvPath:      a.cfg.Publish.EnvFile,
	}, a.logger)
	if err := p.Publish(res.Manifest()); err != nil {
		return nil, fmt.Errorf("publishing flags: %w", err)
	}
	return res, nil
}

func sortedLanguages() []string {
	names := lang.Names()
	slices.Sort(names)
	return names
}
