package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"archivist/internal/daemon"
	"archivist/internal/ingest"
	"archivist/internal/ledger"
	"archivist/internal/logging"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the worker daemon in the foreground",
		Long: "Run the job runner under the single-instance lock and, when api.enabled is set,\n" +
			"serve the admin API. SIGINT or SIGTERM lets the job in flight finish before exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer interruptible(cmd)()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return ctx.withService(cmd, true, func(c context.Context, store *ledger.Store, svc *ingest.Service, logger *slog.Logger) error {
				runner, err := newRunner(ctx, store, svc, logger)
				if err != nil {
					return err
				}
				d, err := daemon.New(cfg, store, runner, logger)
				if err != nil {
					return fmt.Errorf("create daemon: %w", err)
				}
				if err := d.Run(c); err != nil {
					return err
				}
				logger.Info("archivist daemon shutting down", logging.Event("daemon_shutdown"))
				return nil
			})
		},
	}
}
