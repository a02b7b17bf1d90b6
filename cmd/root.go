package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/keyframer/internal/config"
	"github.com/andresmejia3/keyframer/internal/logging"
	"github.com/andresmejia3/keyframer/internal/metrics"
	"github.com/andresmejia3/keyframer/internal/store"
	"github.com/andresmejia3/keyframer/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	// cfg is resolved once per invocation in PersistentPreRunE
	cfg *config.Config
	// logger is the process logger; status lines for humans still go straight to stderr
	logger = slog.New(slog.DiscardHandler)
	// DB is opened lazily by the commands that need it
	DB *store.Store

	cfgFile        string
	shutdownTracer = func(context.Context) error { return nil }
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "keyframer",
	Short:   "Video keyframe extraction and description",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile,
			config.FlagSet{Flags: cmd.Root().PersistentFlags()},
			config.FlagSet{Prefix: cmd.Name(), Flags: cmd.LocalNonPersistentFlags()},
		)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		logger, err = logging.New(os.Stderr, c.LogLevel, c.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		shutdown, err := telemetry.InitTracer(cmd.Context(), c.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		shutdownTracer = shutdown

		if c.MetricsAddr != "" {
			metrics.StartMetricsServer(cmd.Context(), c.MetricsAddr, logger)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and spans still need to be flushed.
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "err", err)
		}
	},
}

// openStore connects to PostgreSQL on first use.
func openStore(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	s, err := store.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./keyframer.yaml or ~/.keyframer/keyframer.yaml)")
	pf.String("db", "", "PostgreSQL connection string (default: POSTGRES_* env or "+config.DefaultDatabaseURL+")")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	pf.String("otlp-endpoint", "", "OTLP/HTTP endpoint for traces (e.g. http://localhost:4318)")
}
