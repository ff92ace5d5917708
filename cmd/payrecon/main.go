package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/payrecon/pkg/cancellation"
	"github.com/cuemby/payrecon/pkg/config"
	"github.com/cuemby/payrecon/pkg/log"
	"github.com/cuemby/payrecon/pkg/metrics"
	"github.com/cuemby/payrecon/pkg/orders"
	"github.com/cuemby/payrecon/pkg/payments"
	"github.com/cuemby/payrecon/pkg/reconciler"
	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, fatalMessage(err))
		os.Exit(1)
	}
}

// options holds the command-line flags
type options struct {
	configFile string
	envFile    string
	logLevel   string
	dateFrom   string
	dateTo     string

	envFileRequired bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "payrecon",
		Short: "Cancel leftover payments of cancelled orders",
		Long: `payrecon finds cancelled orders that were paid more than once, looks up
their payments that are still active and cancels them through the payment API.

Every outcome is recorded in a progress store, so the command can be run
again at any time: finished orders are skipped and failed cancellations are
retried.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.envFileRequired = cmd.Flags().Changed("env-file")
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.SetVersionTemplate(fmt.Sprintf(
		"payrecon version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	cmd.Flags().StringVar(&opts.configFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file with configuration variables")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	cmd.Flags().StringVar(&opts.dateFrom, "date-from", "", "First order creation date (YYYY-MM-DD); overrides DATE_FROM")
	cmd.Flags().StringVar(&opts.dateTo, "date-to", "", "Last order creation date (YYYY-MM-DD); overrides DATE_TO")

	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return types.NewComponentError(types.ComponentConfig, err)
	}
	dateRange, err := cfg.DateRange()
	if err != nil {
		return types.NewComponentError(types.ComponentConfig, err)
	}

	logCloser, err := log.Init(log.Config{
		Level:      cfg.LogLevel(),
		JSONOutput: cfg.Log.JSON,
		File:       cfg.Log.File,
	})
	if err != nil {
		return types.NewComponentError(types.ComponentConfig, err)
	}
	defer logCloser.Close()

	logger := log.WithComponent("payrecon")
	logger.Info().
		Str("version", Version).
		Str("date_range", dateRange.String()).
		Str("order_db", cfg.OrderDB.String()).
		Str("payment_db", cfg.PaymentDB.String()).
		Str("api", cfg.API.BaseURL).
		Msg("Starting payment cancellation")

	store, err := storage.Open(cfg.Backend(), cfg.Progress.Path, log.WithComponent("storage"))
	if err != nil {
		return types.NewComponentError(types.ComponentProgressStore, err)
	}
	defer store.Close()

	orderSource, err := orders.Open(ctx, cfg.OrderDB, log.WithComponent("orders"))
	if err != nil {
		return types.NewComponentError(types.ComponentOrderDB, err)
	}
	defer orderSource.Close()

	paymentSource, err := payments.Open(ctx, cfg.PaymentDB.Config, cfg.PaymentDB.BatchSize, log.WithComponent("payments"))
	if err != nil {
		return types.NewComponentError(types.ComponentPaymentDB, err)
	}
	defer paymentSource.Close()

	r := reconciler.New(reconciler.Options{
		Store:     store,
		Orders:    orderSource,
		Payments:  paymentSource,
		Canceller: cancellation.NewClient(cfg.Cancellation(), log.WithComponent("cancellation")),
		Logger:    log.WithComponent("reconciler"),
	})

	summary, runErr := r.Run(ctx, dateRange)
	if err := summary.Render(out); err != nil {
		logger.Warn().Err(err).Msg("Failed to print summary")
	}
	summary.Log(log.WithRunID(logger, summary.RunID))

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("Failed to write metrics file")
		}
	}

	return runErr
}

// loadConfig merges the configuration sources with the command-line flags
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:      opts.configFile,
		EnvFile:         opts.envFile,
		EnvFileRequired: opts.envFileRequired,
	})
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.dateFrom != "" {
		cfg.DateFrom = opts.dateFrom
	}
	if opts.dateTo != "" {
		cfg.DateTo = opts.dateTo
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fatalMessage renders the single line printed before exiting non-zero
func fatalMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "fatal: interrupted, progress saved; run again to continue"
	}
	return fmt.Sprintf("fatal: %v", err)
}
