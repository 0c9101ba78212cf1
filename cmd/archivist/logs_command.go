package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"archivist/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var filter logs.Filter
	var level string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show records from the daemon log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if level != "" {
				parsed, err := logs.ParseLevel(level)
				if err != nil {
					return err
				}
				filter.MinLevel = parsed
				filter.HasMinLevel = true
			}

			runCtx := cmd.Context()
			if follow {
				var stop context.CancelFunc
				runCtx, stop = signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
			}

			path := cfg.LogFilePath()
			result, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			printEntries(cmd, ctx.jsonOutput(), result.Entries)
			if !follow {
				if len(result.Entries) == 0 && !ctx.jsonOutput() {
					fmt.Fprintf(cmd.ErrOrStderr(), "No log records in %s\n", path)
				}
				return nil
			}

			offset := result.Offset
			for {
				next, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second, Filter: filter})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				offset = next.Offset
				printEntries(cmd, ctx.jsonOutput(), next.Entries)
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing records to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing records as they are written")
	cmd.Flags().StringVar(&filter.JobID, "job", "", "Only show records for this job ID")
	cmd.Flags().StringVar(&filter.Component, "component", "", "Only show records from this component")
	cmd.Flags().StringVar(&filter.EventType, "event", "", "Only show records with this event type")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

// printEntries writes console lines, or the raw JSON records with --json.
func printEntries(cmd *cobra.Command, raw bool, entries []logs.Entry) {
	out := cmd.OutOrStdout()
	for _, entry := range entries {
		if raw {
			fmt.Fprintln(out, entry.Raw)
			continue
		}
		fmt.Fprintln(out, entry.Format())
	}
}
