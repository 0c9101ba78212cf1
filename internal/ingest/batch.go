package ingest

import (
	"context"
	"log/slog"
	"strings"

	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/services"
)

// BatchOptions selects and parameterises the segments of one edition.
type BatchOptions struct {
	Template string
	Download bool
	// Limit caps how many segments are enqueued or ingested. Zero means all.
	Limit int
	// From and To bound the ordinal range, inclusive. Nil leaves a side open.
	From *float64
	To   *float64
}

// BatchResult tallies a batch run.
type BatchResult struct {
	Considered int      `json:"considered"`
	Skipped    int      `json:"skipped"`
	Enqueued   int      `json:"enqueued"`
	Ingested   int      `json:"ingested"`
	Failed     int      `json:"failed"`
	JobIDs     []string `json:"jobIds,omitempty"`
}

// Batch walks an edition's segments in ordinal order and ingests the ones
// that have no assets yet, either by enqueueing jobs or inline.
type Batch struct {
	ledger   Ledger
	segments *Orchestrator
	logger   *slog.Logger
}

// Enqueue creates one ingest_segment job per pending segment.
func (b *Batch) Enqueue(ctx context.Context, editionID string, opts BatchOptions) (BatchResult, error) {
	return b.walk(ctx, editionID, opts, func(ctx context.Context, in jobspec.IngestSegmentInput, segment *ledger.Segment, result *BatchResult) error {
		spec, err := jobspec.NewJob(in)
		if err != nil {
			return err
		}
		spec.EditionID = segment.EditionID
		job, err := b.ledger.CreateJob(ctx, spec)
		if err != nil {
			return err
		}
		result.Enqueued++
		result.JobIDs = append(result.JobIDs, job.ID)
		return nil
	})
}

// RunInline ingests each pending segment in turn. A failed segment is
// counted and the walk continues.
func (b *Batch) RunInline(ctx context.Context, editionID string, opts BatchOptions) (BatchResult, error) {
	return b.walk(ctx, editionID, opts, func(ctx context.Context, in jobspec.IngestSegmentInput, segment *ledger.Segment, result *BatchResult) error {
		job, _, err := b.segments.IngestNow(ctx, in)
		if job != nil {
			result.JobIDs = append(result.JobIDs, job.ID)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			result.Failed++
			b.logger.Warn("segment ingestion failed",
				logging.SegmentID(segment.ID),
				logging.Ordinal(segment.Ordinal),
				logging.Error(err),
				logging.Event("batch_segment_failed"),
				logging.String(logging.FieldImpact, "batch continues with the next segment"),
			)
			return nil
		}
		result.Ingested++
		return nil
	})
}

type batchStep func(ctx context.Context, in jobspec.IngestSegmentInput, segment *ledger.Segment, result *BatchResult) error

func (b *Batch) walk(ctx context.Context, editionID string, opts BatchOptions, step batchStep) (BatchResult, error) {
	var result BatchResult
	if strings.TrimSpace(opts.Template) == "" {
		return result, services.Wrap(services.ErrValidation, "batch", "options", "template is required", nil)
	}
	if opts.From != nil && opts.To != nil && *opts.From > *opts.To {
		return result, services.Wrap(services.ErrValidation, "batch", "options", "from must not exceed to", nil)
	}
	edition, err := b.ledger.GetEdition(ctx, editionID)
	if err != nil {
		return result, err
	}
	if edition == nil {
		return result, services.Wrap(services.ErrNotFound, "batch", "load edition", editionID, nil)
	}
	segments, err := b.ledger.ListSegments(ctx, editionID)
	if err != nil {
		return result, err
	}

	for _, segment := range segments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.Limit > 0 && result.Enqueued+result.Ingested+result.Failed >= opts.Limit {
			break
		}
		if !opts.inRange(segment.Ordinal) {
			continue
		}
		result.Considered++
		has, err := b.ledger.SegmentHasAssets(ctx, segment.ID)
		if err != nil {
			return result, err
		}
		if has {
			result.Skipped++
			continue
		}
		in := jobspec.IngestSegmentInput{
			SegmentID: segment.ID,
			Template:  opts.Template,
			Download:  opts.Download,
		}
		if err := step(ctx, in, segment, &result); err != nil {
			return result, err
		}
	}
	b.logger.Info("batch finished",
		logging.Event("batch_finished"),
		logging.String("edition_id", editionID),
		logging.Int("considered", result.Considered),
		logging.Int("skipped", result.Skipped),
		logging.Int("enqueued", result.Enqueued),
		logging.Int("ingested", result.Ingested),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

func (o BatchOptions) inRange(ordinal float64) bool {
	if o.From != nil && ordinal < *o.From {
		return false
	}
	if o.To != nil && ordinal > *o.To {
		return false
	}
	return true
}
