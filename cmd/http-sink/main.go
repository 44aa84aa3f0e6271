package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/developingchet/http-sink/internal/config"
	"github.com/developingchet/http-sink/internal/flusher"
	"github.com/developingchet/http-sink/internal/logger"
	"github.com/developingchet/http-sink/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// runtimeSink is the subset of *flusher.Flusher the commands drive.
type runtimeSink interface {
	Run(ctx context.Context, r io.Reader) error
	Replay(ctx context.Context) (flusher.ReplayStats, error)
	Close()
}

// Seams replaced by tests.
var (
	loadConfig      = config.Load
	registerMetrics = metrics.Register

	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	}

	newRuntime = func(cfg *config.Config) (runtimeSink, error) {
		return flusher.New(cfg)
	}

	checkEndpoint = flusher.CheckEndpoint

	openInput = func(path string) (io.ReadCloser, error) {
		if path == "" || path == "-" {
			return os.Stdin, nil
		}
		return os.Open(path)
	}
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

// newRootCmd builds and returns the root cobra command. Extracted from main so
// that tests can invoke it directly without spawning a subprocess.
func newRootCmd() *cobra.Command {
	var input string

	rootCmd := &cobra.Command{
		Use:   "http-sink",
		Short: "Deliver JSON records to an HTTP endpoint",
		Long: `A standalone HTTP sink that reads newline-delimited JSON records,
delivers them to a configured endpoint one per call or as JSON array batches,
and spools records the endpoint rejects for later replay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSink(cmd, input)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&input, "input", "i", "", "read records from this file instead of stdin")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the sink (same as running without a subcommand)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSink(cmd, input)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Redeliver records held in the spool",
		RunE:  runReplay,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Check sink endpoint connectivity (for Docker HEALTHCHECK)",
		RunE:  runHealthcheck,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "http-sink %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	return rootCmd
}

func runSink(cmd *cobra.Command, input string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging(cfg.LogLevel, cfg.LogFormat)

	registerMetrics()

	in, err := openInput(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	rt, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("sink init: %w", err)
	}
	defer rt.Close()

	return rt.Run(ctx, in)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := newSignalContext(context.Background())
	defer cancel()

	rt, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("sink init: %w", err)
	}
	defer rt.Close()

	stats, err := rt.Replay(ctx)
	if err != nil {
		return err
	}
	if cmd != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d record(s), %d failed\n", stats.Delivered, stats.Failed)
	}
	return nil
}

// runHealthcheck only dials the sink endpoint. It must not open the spool,
// which a running sink holds locked.
func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	initLogging("error", cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return checkEndpoint(ctx, cfg.URL)
}

func initLogging(level string, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	redacted := logger.NewRedactWriter(os.Stderr)
	if format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: redacted})
	} else {
		log.Logger = zerolog.New(redacted).With().Timestamp().Logger()
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
