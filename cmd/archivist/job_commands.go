package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/api"
	"archivist/internal/ingest"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Inspect and manage the job ledger",
	}

	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobStatsCommand(ctx))
	jobCmd.AddCommand(newJobRetryCommand(ctx))
	jobCmd.AddCommand(newJobEnqueueCommand(ctx))

	return jobCmd
}

func (c *commandContext) withJobs(cmd *cobra.Command, fn func(context.Context, *api.JobService) error) error {
	return c.withLedger(cmd, func(ctx context.Context, store *ledger.Store) error {
		return fn(ctx, api.NewJobService(store))
	})
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var kind string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in FIFO order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, jobs *api.JobService) error {
				list, err := jobs.List(c, api.ListFilter{Statuses: statuses, Kind: kind, Limit: limit})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobListResponse{Jobs: list})
				}
				printTable(cmd, "No jobs",
					[]string{"ID", "Kind", "Status", "Target", "Attempts", "Created", "Error"},
					buildJobRows(list),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (queued, running, success, failed)")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (discover, ingest)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to show")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its input and output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, jobs *api.JobService) error {
				job, err := jobs.Describe(c, args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobResponse{Job: *job})
				}
				printJobDetail(cmd, *job)
				return nil
			})
		},
	}
}

func newJobStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, jobs *api.JobService) error {
				counts, err := jobs.Stats(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobStatsResponse{Counts: counts})
				}
				rows := make([][]string, 0, len(counts))
				for _, status := range ledger.AllJobStatuses() {
					rows = append(rows, []string{string(status), strconv.Itoa(counts[string(status)])})
				}
				printTable(cmd, "No jobs", []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				return nil
			})
		},
	}
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("pass job ids or --all")
			}
			return ctx.withJobs(cmd, func(c context.Context, jobs *api.JobService) error {
				out := cmd.OutOrStdout()
				if all {
					updated, err := jobs.Retry(c, nil)
					if err != nil {
						return err
					}
					if ctx.jsonOutput() {
						return writeJSON(cmd, api.RetryJobsResult{UpdatedCount: updated, Jobs: []api.RetryJobResult{}})
					}
					fmt.Fprintf(out, "Requeued %d failed job(s)\n", updated)
					return nil
				}
				result, err := api.RetryFailedJobsByID(c, jobs, args)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				for _, job := range result.Jobs {
					switch job.Outcome {
					case api.RetryJobUpdated:
						fmt.Fprintf(out, "Job %s requeued\n", job.ID)
					case api.RetryJobNotFound:
						fmt.Fprintf(out, "Job %s not found\n", job.ID)
					case api.RetryJobNotFailed:
						fmt.Fprintf(out, "Job %s is %s; only failed jobs can be retried\n", job.ID, job.PriorStatus)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Requeue every failed job")
	return cmd
}

func newJobEnqueueCommand(ctx *commandContext) *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a job for the worker",
	}
	enqueueCmd.AddCommand(newEnqueueDiscoverCommand(ctx))
	enqueueCmd.AddCommand(newEnqueueIngestCommand(ctx))
	enqueueCmd.AddCommand(newEnqueueRawCommand(ctx))
	return enqueueCmd
}

func newEnqueueDiscoverCommand(ctx *commandContext) *cobra.Command {
	var flags discoverFlags

	cmd := &cobra.Command{
		Use:   "discover <work-id> <source-url>",
		Short: "Queue a discovery job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, false, func(c context.Context, store *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				in, err := flags.input(svc.Catalog(), args[0], args[1])
				if err != nil {
					return err
				}
				return enqueuePayload(c, cmd, ctx, api.NewJobService(store), in)
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newEnqueueIngestCommand(ctx *commandContext) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest <segment-id>",
		Short: "Queue an ingestion job for one segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, false, func(c context.Context, store *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				in, err := flags.input(c, store, svc.Catalog(), args[0])
				if err != nil {
					return err
				}
				return enqueuePayload(c, cmd, ctx, api.NewJobService(store), in)
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newEnqueueRawCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <json>",
		Short: "Queue a job from a tagged JSON payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(c context.Context, jobs *api.JobService) error {
				job, err := jobs.Enqueue(c, []byte(args[0]))
				if err != nil {
					return err
				}
				return reportEnqueued(cmd, ctx, job)
			})
		},
	}
}

func enqueuePayload(c context.Context, cmd *cobra.Command, ctx *commandContext, jobs *api.JobService, payload jobspec.Payload) error {
	raw, err := jobspec.Encode(payload)
	if err != nil {
		return err
	}
	job, err := jobs.Enqueue(c, raw)
	if err != nil {
		return err
	}
	return reportEnqueued(cmd, ctx, job)
}

func reportEnqueued(cmd *cobra.Command, ctx *commandContext, job *api.Job) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, api.JobResponse{Job: *job})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", job.Kind, job.ID)
	return nil
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.Kind,
			job.Status,
			jobTarget(job),
			strconv.Itoa(job.Attempts),
			job.CreatedAt,
			truncate(job.ErrorMessage, 60),
		})
	}
	return rows
}

func jobTarget(job api.Job) string {
	switch {
	case job.SegmentID != "":
		return "segment " + job.SegmentID
	case job.WorkID != "":
		return "work " + job.WorkID
	case job.EditionID != "":
		return "edition " + job.EditionID
	default:
		return job.SourceURL
	}
}

func printJobDetail(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:        %s\n", job.ID)
	fmt.Fprintf(out, "Kind:      %s\n", job.Kind)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	fmt.Fprintf(out, "Attempts:  %d\n", job.Attempts)
	fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt)
	if job.StartedAt != "" {
		fmt.Fprintf(out, "Started:   %s\n", job.StartedAt)
	}
	if job.FinishedAt != "" {
		fmt.Fprintf(out, "Finished:  %s\n", job.FinishedAt)
	}
	if job.SourceURL != "" {
		fmt.Fprintf(out, "Source:    %s\n", job.SourceURL)
	}
	if job.SegmentID != "" {
		fmt.Fprintf(out, "Segment:   %s\n", job.SegmentID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "Input:     %s\n", compactJSON(job.Input))
	if len(job.Output) > 0 {
		fmt.Fprintf(out, "Output:    %s\n", compactJSON(job.Output))
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimSpace(buf.String())
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
