package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/payrecon/pkg/log"
	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	from   string
	in     string
	to     string
	out    string
	dryRun bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "payrecon-migrate",
		Short: "Copy a payrecon progress store between backends",
		Long: `Copy every progress record from one store to another, for example from
the CSV file to a BoltDB database. The source is never modified and the
destination must be empty.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := log.Init(log.Config{Level: log.InfoLevel, Output: cmd.ErrOrStderr()}); err != nil {
				return err
			}
			_, err := migrate(opts, log.WithComponent("migrate"), cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", string(storage.BackendCSV), "Source backend (csv or bolt)")
	cmd.Flags().StringVar(&opts.in, "in", "", "Source store path")
	cmd.Flags().StringVar(&opts.to, "to", string(storage.BackendBolt), "Destination backend (csv or bolt)")
	cmd.Flags().StringVar(&opts.out, "out", "", "Destination store path")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be migrated without writing anything")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")

	return cmd
}

// migrate copies all records and returns how many were written
func migrate(opts *options, logger zerolog.Logger, out io.Writer) (int, error) {
	fromBackend, err := storage.ParseBackend(opts.from)
	if err != nil {
		return 0, err
	}
	toBackend, err := storage.ParseBackend(opts.to)
	if err != nil {
		return 0, err
	}
	if opts.in == opts.out {
		return 0, errors.New("source and destination must differ")
	}
	records, err := storage.ReadRecords(fromBackend, opts.in)
	if err != nil {
		return 0, fmt.Errorf("source store: %w", err)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("source store %s has no records", opts.in)
	}

	fmt.Fprintf(out, "Source: %s (%s), %d records\n", opts.in, fromBackend, len(records))
	counts := make(map[types.Status]int)
	for _, r := range records {
		counts[r.Status]++
	}
	for _, status := range types.AllStatuses {
		fmt.Fprintf(out, "  %-26s %d\n", status, counts[status])
	}

	existing, err := storage.ReadRecords(toBackend, opts.out)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return 0, fmt.Errorf("destination store: %w", err)
	case len(existing) > 0:
		return 0, fmt.Errorf("destination %s already holds %d records, refusing to overwrite", opts.out, len(existing))
	}

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run completed. No changes made.")
		return 0, nil
	}

	dst, err := storage.Open(toBackend, opts.out, logger)
	if err != nil {
		return 0, fmt.Errorf("failed to open destination: %w", err)
	}
	defer dst.Close()

	if err := dst.Import(records); err != nil {
		return 0, fmt.Errorf("import into destination: %w", err)
	}

	logger.Info().Int("records", len(records)).Str("from", opts.in).Str("to", opts.out).Msg("Migration completed")
	fmt.Fprintf(out, "✓ Migrated %d records to %s (%s)\n", len(records), opts.out, toBackend)
	return len(records), nil
}
