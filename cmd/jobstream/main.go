package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openclaude/jobstream/internal/config"
	"github.com/openclaude/jobstream/internal/render"
	"github.com/openclaude/jobstream/internal/stream"
)

// version is the CLI build version.
const version = "0.1.0"

// options holds the global CLI flags.
type options struct {
	// ConfigPath overrides ~/.jobstream/config.json.
	ConfigPath string
	// LogLevel overrides the configured log level.
	LogLevel string
	// OutputFormat is text or stream-json; empty defers to settings.
	OutputFormat string
	// Settings provides a path or inline JSON for settings overrides.
	Settings string
	// SettingSources limits which settings files are loaded.
	SettingSources []string
	// MetricsAddr serves Prometheus metrics while a run is active.
	MetricsAddr string
	// IdleTimeout overrides idle_timeout_ms when positive.
	IdleTimeout time.Duration
	// NoRecord disables transcript recording.
	NoRecord bool
	// NoTUI forces plain output on a terminal.
	NoTUI bool
	// Version prints the CLI version.
	Version bool
}

// app carries the process environment so commands can be driven by tests.
type app struct {
	opts   *options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	// interactive reports whether the live viewer may be used.
	interactive func() bool
	// baseDir overrides the transcript directory.
	baseDir string
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// main wires Cobra and executes the CLI.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	application := &app{
		opts:   &options{},
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		interactive: func() bool {
			return render.IsTerminal(os.Stdin) && render.IsTerminal(os.Stdout)
		},
	}
	err := newRootCommand(application).ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, stream.ErrCancelled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

// newRootCommand builds the command tree.
func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jobstream",
		Short:         "Follow job consoles and agent chats streamed over Server-Sent Events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.Version {
				fmt.Fprintln(a.stdout, version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	applyFlags(rootCmd.PersistentFlags(), a.opts)
	rootCmd.Flags().BoolVarP(&a.opts.Version, "version", "v", false, "Output the version number")

	rootCmd.AddCommand(watchCommand(a))
	rootCmd.AddCommand(chatCommand(a))
	rootCmd.AddCommand(replayCommand(a))
	rootCmd.AddCommand(runsCommand(a))
	rootCmd.AddCommand(doctorCommand(a))
	return rootCmd
}

// applyFlags defines the global flags.
func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.SetNormalizeFunc(normalizeFlagName)

	flags.StringVar(&opts.ConfigPath, "config", "", "Config file path (default ~/.jobstream/config.json)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	flags.StringVar(&opts.OutputFormat, "output-format", "", "Output format (text|stream-json)")
	flags.StringVar(&opts.Settings, "settings", "", "Settings file path or JSON")
	flags.StringSliceVar(&opts.SettingSources, "setting-sources", nil, "Setting sources (user,project,local)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during a run")
	flags.DurationVar(&opts.IdleTimeout, "idle-timeout", 0, "Fail a stream after this long without data")
	flags.BoolVar(&opts.NoRecord, "no-record", false, "Do not record a run transcript")
	flags.BoolVar(&opts.NoTUI, "no-tui", false, "Print plain output even on a terminal")
}

// normalizeFlagName accepts underscore spellings of dashed flags.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// setup validates global flags and installs the logger.
func (a *app) setup() error {
	switch a.opts.OutputFormat {
	case "", config.OutputText, config.OutputStreamJSON:
	default:
		return fmt.Errorf("unknown --output-format %q (expected text or stream-json)", a.opts.OutputFormat)
	}
	level, err := parseLogLevel(a.opts.LogLevel)
	if err != nil {
		return err
	}
	a.logger = newLogger(a.stderr, level)
	slog.SetDefault(a.logger)
	return nil
}

// applyConfigLogLevel raises or lowers logging to the config's level unless
// --log-level was given.
func (a *app) applyConfigLogLevel(cfg *config.Config) {
	if a.opts.LogLevel != "" || cfg == nil {
		return
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return
	}
	a.logger = newLogger(a.stderr, level)
	slog.SetDefault(a.logger)
}

// parseLogLevel maps a level name to a slog level; empty means warn.
func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("unknown log level %q", value)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the backend config with a hint when it is missing.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigMissing) {
			return nil, fmt.Errorf("config missing; create %s", a.configPath())
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	a.applyConfigLogLevel(cfg)
	return cfg, nil
}

// configPath returns the config path in effect.
func (a *app) configPath() string {
	if a.opts.ConfigPath != "" {
		return a.opts.ConfigPath
	}
	path, err := config.Path()
	if err != nil {
		return "~/.jobstream/config.json"
	}
	return path
}

// loadSettings reads layered display settings.
func (a *app) loadSettings() (*config.Settings, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get cwd: %w", err)
	}
	settings, err := config.LoadSettings(cwd, a.opts.SettingSources, a.opts.Settings)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// outputFormat resolves the flag, then settings, then text.
func (a *app) outputFormat(settings *config.Settings) string {
	if a.opts.OutputFormat != "" {
		return a.opts.OutputFormat
	}
	if settings != nil && settings.OutputFormat != "" {
		return settings.OutputFormat
	}
	return config.OutputText
}

// startMetricsServer serves /metrics until the returned stop is called.
func (a *app) startMetricsServer() func() {
	if a.opts.MetricsAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: a.opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "addr", a.opts.MetricsAddr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.opts.MetricsAddr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// outcomeError converts a non-completed outcome into a command error.
func outcomeError(outcome stream.Outcome, snapshot stream.Snapshot) error {
	switch outcome.Kind {
	case stream.OutcomeCompleted:
		return nil
	case stream.OutcomeAborted:
		return &exitError{code: 130, err: stream.ErrCancelled}
	default:
		code := 1
		if snapshot.ExitCode != nil && *snapshot.ExitCode > 0 && *snapshot.ExitCode < 256 {
			code = *snapshot.ExitCode
		}
		err := outcome.Err
		if err == nil {
			err = errors.New(outcome.Message)
		}
		return &exitError{code: code, err: err}
	}
}
