/*
Package log provides structured logging for payrecon using zerolog.

The package keeps one process-wide base logger, configured once by Init from
the CLI. Components never log through the global directly: they receive a
child logger (WithComponent, WithRunID, WithOrderID) in their constructor so
every line carries the fields needed to trace a single order through a run.

# Outputs

	stdout ── console (RFC3339 timestamps) or JSON, depending on JSONOutput
	File   ── JSON, appended; kept across runs as the operator audit trail

Both outputs share the global level set by Init.

# Usage

	closer, err := log.Init(log.Config{
		Level: log.InfoLevel,
		File:  "cancel_payments.log",
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	logger := log.WithComponent("reconciler")
	logger.Info().Int("orders", 42).Msg("Discovered cancelled orders")
*/
package log
