package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	billing "github.com/goliatone/go-billing"
	"github.com/goliatone/go-billing/adapters/gologger"
	"github.com/goliatone/go-billing/adapters/prommetrics"
	"github.com/goliatone/go-billing/core"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	envFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "billing-worker",
	Short:         "Stripe event processor and webhook dispatcher",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workers and the HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("billing-worker %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading BILLING_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("BILLING_LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("BILLING_LOG_FORMAT", "json"), "log format (json, console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	logger := newLogger()
	recorder := prommetrics.NewRecorder()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	infra, options, err := openInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	infra.Metrics = recorder.Handler()

	options = append(options,
		billing.WithLoggerProvider(logger),
		billing.WithLogger(logger.GetLogger("billing")),
		billing.WithMetricsRecorder(recorder),
	)
	svc, err := billing.NewService(cfg, options...)
	if err != nil {
		closeAll(infra.Closers)
		return fmt.Errorf("billing-worker: build service: %w", err)
	}

	rt, err := billing.NewRuntime(svc, infra)
	if err != nil {
		closeAll(infra.Closers)
		return fmt.Errorf("billing-worker: build runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("runtime close failed", "error", closeErr)
		}
	}()

	logger.Info("billing worker starting",
		"version", Version,
		"addr", svc.Config().HTTP.Addr,
		"store", svc.Config().Store.Driver,
		"redis", svc.Config().Redis.Enabled,
	)
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("billing-worker: %w", err)
	}
	logger.Info("billing worker stopped")
	return nil
}

func runMigrate(ctx context.Context) error {
	logger := newLogger()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	client, err := openPersistence(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("migrations applied", "driver", cfg.Store.Driver)
	return nil
}

func newLogger() *gologger.ZerologLogger {
	return gologger.NewZerologLogger(gologger.ZerologConfig{
		Format: logFormat,
		Level:  logLevel,
	})
}

func loadConfig(ctx context.Context) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(core.NewEnvRawConfigLoader(core.DefaultEnvPrefix))
	cfg, err := provider.Load(ctx, billing.DefaultConfig())
	if err != nil {
		return core.Config{}, fmt.Errorf("billing-worker: load config: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("billing-worker: load %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}
