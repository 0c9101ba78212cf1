package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"archivist/internal/blob"
	"archivist/internal/jobspec"
	"archivist/internal/keys"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
	"archivist/internal/sources"
	"archivist/internal/templates"
)

// Discoverer mirrors a work's unit list into the catalog.
type Discoverer struct {
	ledger  Ledger
	store   blob.Store
	fetcher sources.Fetcher
	catalog *templates.Catalog
	batch   *Batch
	policy  retry.Policy
	now     func() time.Time
	logger  *slog.Logger
}

type editionManifest struct {
	WorkID       string           `json:"workId"`
	EditionID    string           `json:"editionId"`
	Title        string           `json:"title"`
	MediaKind    ledger.MediaKind `json:"mediaKind"`
	Provider     string           `json:"provider"`
	SourceURL    string           `json:"sourceUrl"`
	Template     string           `json:"template"`
	DiscoveredAt time.Time        `json:"discoveredAt"`
	Segments     []manifestUnit   `json:"segments"`
}

type manifestUnit struct {
	SegmentID string             `json:"segmentId"`
	Kind      ledger.SegmentKind `json:"kind"`
	Ordinal   float64            `json:"ordinal"`
	Title     string             `json:"title,omitempty"`
	URL       string             `json:"url"`
}

// Discover reads the unit list at the input's source URL, upserts the work,
// edition, and one segment per unit, and writes the edition manifest. With
// EnqueueIngest set, segments without assets get ingest_segment jobs.
//
// The source is read before anything is written so that a broken template or
// unreachable site leaves no empty work behind.
func (d *Discoverer) Discover(ctx context.Context, in jobspec.DiscoverUnitsInput) (jobspec.DiscoverUnitsOutput, error) {
	var out jobspec.DiscoverUnitsOutput
	if err := in.Validate(); err != nil {
		return out, err
	}
	logger := logging.WithContext(ctx, d.logger).With(logging.String("source_url", in.SourceURL))

	tmpl, err := d.catalog.Get(in.Template)
	if err != nil {
		return out, err
	}
	discovery, err := d.fetcher.DiscoverUnits(ctx, in.SourceURL, tmpl)
	if err != nil {
		return out, fmt.Errorf("discover units: %w", err)
	}

	work, err := d.upsertWork(ctx, in, discovery.Title)
	if err != nil {
		return out, err
	}
	edition, err := d.ledger.UpsertEdition(ctx, ledger.Edition{
		WorkID:       work.ID,
		MediaKind:    in.MediaKind,
		Provider:     in.Provider,
		CanonicalURL: in.SourceURL,
		Official:     in.Official,
	})
	if err != nil {
		return out, err
	}
	out.WorkID = work.ID
	out.EditionID = edition.ID

	kind := ledger.DefaultSegmentKind(edition.MediaKind)
	manifest := editionManifest{
		WorkID:       work.ID,
		EditionID:    edition.ID,
		Title:        work.Title,
		MediaKind:    edition.MediaKind,
		Provider:     edition.Provider,
		SourceURL:    in.SourceURL,
		Template:     tmpl.Name,
		DiscoveredAt: d.now().UTC(),
		Segments:     make([]manifestUnit, 0, len(discovery.Units)),
	}
	for _, unit := range discovery.Units {
		segment, created, err := d.ledger.UpsertSegment(ctx, ledger.Segment{
			EditionID:    edition.ID,
			Kind:         kind,
			Ordinal:      unit.Ordinal,
			Title:        unit.Title,
			CanonicalURL: unit.URL,
		})
		if err != nil {
			return out, err
		}
		if created {
			out.Created++
		} else {
			out.Updated++
		}
		manifest.Segments = append(manifest.Segments, manifestUnit{
			SegmentID: segment.ID,
			Kind:      segment.Kind,
			Ordinal:   segment.Ordinal,
			Title:     segment.Title,
			URL:       segment.CanonicalURL,
		})
	}
	out.SegmentCount = len(manifest.Segments)

	out.ManifestKey = keys.Edition{Media: string(edition.MediaKind), WorkID: work.ID, EditionID: edition.ID}.Manifest()
	if err := putJSON(ctx, d.store, d.policy, logger, out.ManifestKey, manifest); err != nil {
		return out, fmt.Errorf("store edition manifest: %w", err)
	}

	logger.Info("units discovered",
		logging.Event("units_discovered"),
		logging.String("work_id", work.ID),
		logging.String("edition_id", edition.ID),
		logging.Int("segments", out.SegmentCount),
		logging.Int("created", out.Created),
		logging.Int("updated", out.Updated),
	)

	if in.EnqueueIngest {
		result, err := d.batch.Enqueue(ctx, edition.ID, BatchOptions{Template: in.Template, Download: in.Download})
		if err != nil {
			return out, fmt.Errorf("enqueue ingestion: %w", err)
		}
		out.Enqueued = result.Enqueued
	}
	return out, nil
}

// RunDiscoverJob executes a claimed discover_units job and records its outcome.
func (d *Discoverer) RunDiscoverJob(ctx context.Context, job *ledger.Job, in jobspec.DiscoverUnitsInput) (jobspec.DiscoverUnitsOutput, error) {
	ctx = services.WithJobID(ctx, job.ID)
	out, err := d.Discover(ctx, in)
	return out, finishJob(ctx, d.ledger, job, out, err)
}

// DiscoverNow records a discover_units job and runs it inline.
func (d *Discoverer) DiscoverNow(ctx context.Context, in jobspec.DiscoverUnitsInput) (*ledger.Job, jobspec.DiscoverUnitsOutput, error) {
	job, err := createAndClaim(ctx, d.ledger, in, "")
	if err != nil {
		return nil, jobspec.DiscoverUnitsOutput{}, err
	}
	out, runErr := d.RunDiscoverJob(ctx, job, in)
	final, err := d.ledger.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil || final == nil {
		final = job
	}
	return final, out, runErr
}

// upsertWork keeps an existing title unless the input names a new one.
func (d *Discoverer) upsertWork(ctx context.Context, in jobspec.DiscoverUnitsInput, discoveredTitle string) (*ledger.Work, error) {
	title := strings.TrimSpace(in.WorkTitle)
	if title == "" && in.WorkID != "" {
		existing, err := d.ledger.GetWork(ctx, in.WorkID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	if title == "" {
		title = sources.CleanTitle(discoveredTitle)
	}
	if title == "" {
		title = in.WorkID
	}
	return d.ledger.UpsertWork(ctx, ledger.Work{ID: in.WorkID, Title: title})
}
