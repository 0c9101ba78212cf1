package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"archivist/internal/ingest"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/workflow"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job runner without the daemon lock or admin API",
	}
	workerCmd.AddCommand(newWorkerRunCommand(ctx))
	return workerCmd
}

func newWorkerRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var drain bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			withFile := !once && !drain
			return ctx.withService(cmd, withFile, func(c context.Context, store *ledger.Store, svc *ingest.Service, logger *slog.Logger) error {
				runner, err := newRunner(ctx, store, svc, logger)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case once:
					n, err := runner.RunOnce(c)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Processed %d job(s)\n", n)
					return nil
				case drain:
					total := 0
					for {
						n, err := runner.RunOnce(c)
						if err != nil {
							return err
						}
						if n == 0 {
							break
						}
						total += n
					}
					status := runner.Status(c)
					fmt.Fprintf(out, "Processed %d job(s), %d failed\n", total, status.Failed)
					return nil
				}

				signalCtx, cancel := signal.NotifyContext(c, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				logger.Info("worker started", logging.Event("worker_started"))
				return runner.Run(signalCtx)
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Poll the queue once and exit")
	cmd.Flags().BoolVar(&drain, "drain", false, "Process until the queue is empty, then exit")
	cmd.MarkFlagsMutuallyExclusive("once", "drain")
	return cmd
}

func newRunner(ctx *commandContext, store *ledger.Store, svc *ingest.Service, logger *slog.Logger) (*workflow.Runner, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	runner := workflow.NewRunner(cfg, store, logger)
	if err := runner.Register(svc.Handlers()...); err != nil {
		return nil, err
	}
	return runner, nil
}
