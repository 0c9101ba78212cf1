package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"archivist/internal/ingest"
	"archivist/internal/ledger"
	"archivist/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var network bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, ledger, content store, and templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withService(cmd, false, func(c context.Context, store *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				results := preflight.RunAll(c, cfg, preflight.Targets{
					Ledger:  store,
					Store:   svc.Store(),
					Network: network,
				})
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
				} else {
					rows := make([][]string, 0, len(results))
					for _, r := range results {
						status := "ok"
						if !r.Passed {
							status = "FAIL"
						}
						rows = append(rows, []string{r.Name, status, r.Detail})
					}
					printTable(cmd, "No checks ran", []string{"Check", "Status", "Detail"}, rows, nil)
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d check(s) failed", len(failed))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&network, "network", false, "Also check remote APIs")
	return cmd
}
