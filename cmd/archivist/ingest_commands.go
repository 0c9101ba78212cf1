package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/ingest"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/services"
	"archivist/internal/templates"
)

type discoverFlags struct {
	title      string
	media      string
	provider   string
	template   string
	official   bool
	enqueue    bool
	noDownload bool
}

func (f *discoverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Work title (defaults to the title found on the source page)")
	cmd.Flags().StringVar(&f.media, "media", string(ledger.MediaManhwa), "Media kind: novel, manhwa, or anime")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Provider name (defaults to the source host)")
	cmd.Flags().StringVar(&f.template, "template", "", "Extraction template (defaults to a host match, then a generic template)")
	cmd.Flags().BoolVar(&f.official, "official", false, "Mark the edition as an official release")
	cmd.Flags().BoolVar(&f.enqueue, "enqueue", false, "Queue an ingestion job for every segment without assets")
	cmd.Flags().BoolVar(&f.noDownload, "no-download", false, "Queued ingestion jobs write manifests only")
}

func (f *discoverFlags) input(catalog *templates.Catalog, workID, sourceURL string) (jobspec.DiscoverUnitsInput, error) {
	media, err := ledger.ParseMediaKind(f.media)
	if err != nil {
		return jobspec.DiscoverUnitsInput{}, services.Wrap(services.ErrValidation, "cli", "discover", err.Error(), nil)
	}
	provider := strings.TrimSpace(f.provider)
	if provider == "" {
		provider = hostOf(sourceURL)
	}
	tmpl, err := resolveTemplate(catalog, f.template, sourceURL, media)
	if err != nil {
		return jobspec.DiscoverUnitsInput{}, err
	}
	in := jobspec.DiscoverUnitsInput{
		ScriptType:    jobspec.KindDiscoverUnits,
		WorkID:        strings.TrimSpace(workID),
		WorkTitle:     strings.TrimSpace(f.title),
		SourceURL:     strings.TrimSpace(sourceURL),
		Provider:      provider,
		MediaKind:     media,
		Official:      f.official,
		Template:      tmpl,
		EnqueueIngest: f.enqueue,
		Download:      !f.noDownload,
	}
	return in, in.Validate()
}

type ingestFlags struct {
	template   string
	sourceURL  string
	noDownload bool
}

func (f *ingestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.template, "template", "", "Extraction template (defaults to a match on the edition URL)")
	cmd.Flags().StringVar(&f.sourceURL, "source-url", "", "Override the segment's canonical URL")
	cmd.Flags().BoolVar(&f.noDownload, "no-download", false, "Write the manifest without fetching payloads")
}

func (f *ingestFlags) input(ctx context.Context, store *ledger.Store, catalog *templates.Catalog, segmentID string) (jobspec.IngestSegmentInput, error) {
	segment, err := store.GetSegment(ctx, segmentID)
	if err != nil {
		return jobspec.IngestSegmentInput{}, err
	}
	if segment == nil {
		return jobspec.IngestSegmentInput{}, services.Wrap(services.ErrNotFound, "cli", "ingest", fmt.Sprintf("segment %s not found", segmentID), nil)
	}
	tmpl, err := editionTemplate(ctx, store, catalog, f.template, segment.EditionID)
	if err != nil {
		return jobspec.IngestSegmentInput{}, err
	}
	in := jobspec.IngestSegmentInput{
		ScriptType: jobspec.KindIngestSegment,
		SegmentID:  segment.ID,
		SourceURL:  strings.TrimSpace(f.sourceURL),
		Template:   tmpl,
		Download:   !f.noDownload,
	}
	return in, in.Validate()
}

// resolveTemplate prefers an explicit name, then a template whose hosts match
// sourceURL, then the generic template for the media kind.
func resolveTemplate(catalog *templates.Catalog, explicit, sourceURL string, media ledger.MediaKind) (string, error) {
	if name := strings.TrimSpace(explicit); name != "" {
		if _, err := catalog.Get(name); err != nil {
			return "", err
		}
		return name, nil
	}
	if tmpl, ok := catalog.ForURL(sourceURL); ok {
		return tmpl.Name, nil
	}
	if media == ledger.MediaNovel {
		return "generic-novel", nil
	}
	return "generic-comic", nil
}

func editionTemplate(ctx context.Context, store *ledger.Store, catalog *templates.Catalog, explicit, editionID string) (string, error) {
	edition, err := store.GetEdition(ctx, editionID)
	if err != nil {
		return "", err
	}
	if edition == nil {
		return "", services.Wrap(services.ErrNotFound, "cli", "ingest", fmt.Sprintf("edition %s not found", editionID), nil)
	}
	return resolveTemplate(catalog, explicit, edition.CanonicalURL, edition.MediaKind)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var flags discoverFlags

	cmd := &cobra.Command{
		Use:   "discover <work-id> <source-url>",
		Short: "Read a work's unit list from its source and record it in the catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer interruptible(cmd)()
			return ctx.withService(cmd, false, func(c context.Context, _ *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				in, err := flags.input(svc.Catalog(), args[0], args[1])
				if err != nil {
					return err
				}
				job, out, runErr := svc.Discovery.DiscoverNow(c, in)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, map[string]any{"job": jobID(job), "output": out}); err != nil {
						return err
					}
					return runErr
				}
				if runErr != nil {
					return fmt.Errorf("discovery job %s failed: %w", jobID(job), runErr)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Discovery job %s succeeded\n", jobID(job))
				fmt.Fprintf(w, "Work:      %s\n", out.WorkID)
				fmt.Fprintf(w, "Edition:   %s\n", out.EditionID)
				fmt.Fprintf(w, "Segments:  %d (%d new, %d updated)\n", out.SegmentCount, out.Created, out.Updated)
				if in.EnqueueIngest {
					fmt.Fprintf(w, "Enqueued:  %d ingestion job(s)\n", out.Enqueued)
				}
				fmt.Fprintf(w, "Manifest:  %s\n", out.ManifestKey)
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and store segment payloads",
	}
	ingestCmd.AddCommand(newIngestSegmentCommand(ctx))
	ingestCmd.AddCommand(newIngestEditionCommand(ctx))
	return ingestCmd
}

func newIngestSegmentCommand(ctx *commandContext) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "segment <segment-id>",
		Short: "Ingest one segment now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer interruptible(cmd)()
			return ctx.withService(cmd, false, func(c context.Context, store *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				in, err := flags.input(c, store, svc.Catalog(), args[0])
				if err != nil {
					return err
				}
				job, out, runErr := svc.Segments.IngestNow(c, in)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, map[string]any{"job": jobID(job), "output": out}); err != nil {
						return err
					}
					return runErr
				}
				if runErr != nil {
					return fmt.Errorf("ingestion job %s failed: %w", jobID(job), runErr)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Ingestion job %s succeeded\n", jobID(job))
				if !out.Downloaded {
					fmt.Fprintf(w, "Manifest written without download: %s\n", out.ManifestKey)
					return nil
				}
				printTable(cmd, "Nothing to ingest",
					[]string{"Group", "Expected", "Stored", "Failed"},
					[][]string{
						groupRow("images", out.Images),
						groupRow("subtitles", out.Subtitles),
						groupRow("texts", out.Texts),
					},
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				)
				for _, group := range []struct {
					name   string
					counts jobspec.GroupCounts
				}{{"images", out.Images}, {"subtitles", out.Subtitles}, {"texts", out.Texts}} {
					for _, reason := range group.counts.Errors {
						fmt.Fprintf(w, "  %s %s\n", group.name, reason)
					}
				}
				fmt.Fprintf(w, "Manifest: %s\n", out.ManifestKey)
				return nil
			})
		},
	}

	flags.register(cmd)
	return cmd
}

func newIngestEditionCommand(ctx *commandContext) *cobra.Command {
	var (
		template   string
		inline     bool
		noDownload bool
		limit      int
		from       float64
		to         float64
	)

	cmd := &cobra.Command{
		Use:   "edition <edition-id>",
		Short: "Ingest every segment of an edition that has no assets yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer interruptible(cmd)()
			return ctx.withService(cmd, false, func(c context.Context, store *ledger.Store, svc *ingest.Service, _ *slog.Logger) error {
				tmpl, err := editionTemplate(c, store, svc.Catalog(), template, args[0])
				if err != nil {
					return err
				}
				opts := ingest.BatchOptions{
					Template: tmpl,
					Download: !noDownload,
					Limit:    limit,
				}
				if cmd.Flags().Changed("from") {
					opts.From = &from
				}
				if cmd.Flags().Changed("to") {
					opts.To = &to
				}

				var result ingest.BatchResult
				if inline {
					result, err = svc.Batch.RunInline(c, args[0], opts)
				} else {
					result, err = svc.Batch.Enqueue(c, args[0], opts)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
				} else {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "Considered %d segment(s), skipped %d with assets\n", result.Considered, result.Skipped)
					if inline {
						fmt.Fprintf(w, "Ingested %d, failed %d\n", result.Ingested, result.Failed)
					} else {
						fmt.Fprintf(w, "Queued %d ingestion job(s)\n", result.Enqueued)
					}
				}
				if result.Failed > 0 {
					return fmt.Errorf("%d segment(s) failed; see `archivist job list --status failed`", result.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "Extraction template (defaults to a match on the edition URL)")
	cmd.Flags().BoolVar(&inline, "inline", false, "Ingest now instead of queueing jobs")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Write manifests without fetching payloads")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of segments to process")
	cmd.Flags().Float64Var(&from, "from", 0, "Lowest ordinal to include")
	cmd.Flags().Float64Var(&to, "to", 0, "Highest ordinal to include")
	return cmd
}

func groupRow(name string, counts jobspec.GroupCounts) []string {
	return []string{name, strconv.Itoa(counts.Expected), strconv.Itoa(counts.Succeeded), strconv.Itoa(counts.Failed)}
}

func jobID(job *ledger.Job) string {
	if job == nil {
		return "(not recorded)"
	}
	return job.ID
}
