package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

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

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "gif": true, "avif": true, "bmp": true,
}

// Orchestrator ingests one segment: it reads the unit page, records what was
// seen, then downloads and uploads each payload in order.
type Orchestrator struct {
	ledger        Ledger
	store         blob.Store
	fetcher       sources.Fetcher
	catalog       *templates.Catalog
	uploader      *Uploader
	policy        retry.Policy
	imageDelay    time.Duration
	minImageBytes int
	now           func() time.Time
	logger        *slog.Logger
}

type segmentManifest struct {
	SegmentID   string             `json:"segmentId"`
	EditionID   string             `json:"editionId"`
	WorkID      string             `json:"workId"`
	MediaKind   ledger.MediaKind   `json:"mediaKind"`
	SegmentKind ledger.SegmentKind `json:"segmentKind"`
	Ordinal     float64            `json:"ordinal"`
	Title       string             `json:"title,omitempty"`
	SourceURL   string             `json:"sourceUrl"`
	Template    string             `json:"template"`
	Download    bool               `json:"download"`
	FetchedAt   time.Time          `json:"fetchedAt"`
	Images      []string           `json:"images"`
	Subtitles   []string           `json:"subtitles"`
	Texts       []string           `json:"texts"`
}

// IngestSegment fetches the segment's payloads and stores them. The manifest
// is always written; with Download unset nothing else is. The run fails only
// when images were expected and none could be stored.
func (o *Orchestrator) IngestSegment(ctx context.Context, in jobspec.IngestSegmentInput) (jobspec.IngestSegmentOutput, error) {
	var out jobspec.IngestSegmentOutput
	if err := in.Validate(); err != nil {
		return out, err
	}
	logger := logging.WithContext(ctx, o.logger).With(logging.SegmentID(in.SegmentID))

	segment, edition, err := o.loadSegment(ctx, in.SegmentID)
	if err != nil {
		return out, err
	}
	tmpl, err := o.catalog.Get(in.Template)
	if err != nil {
		return out, err
	}
	sourceURL := strings.TrimSpace(in.SourceURL)
	if sourceURL == "" {
		sourceURL = segment.CanonicalURL
	}
	if sourceURL == "" {
		return out, services.Wrap(services.ErrStructural, "ingest", "resolve source", fmt.Sprintf("segment %s has no source url", segment.ID), nil)
	}

	payloads, err := o.fetcher.FetchUnitPayloads(ctx, sourceURL, tmpl)
	if err != nil {
		return out, fmt.Errorf("fetch unit payloads: %w", err)
	}

	segKeys := keys.Edition{
		Media:     string(edition.MediaKind),
		WorkID:    edition.WorkID,
		EditionID: edition.ID,
	}.Segment(string(segment.Kind), segment.Ordinal)

	out.ImageCount = len(payloads.Images)
	out.SubtitleCount = len(payloads.Subtitles)
	out.TextCount = len(payloads.Texts)
	out.Images.Expected = out.ImageCount
	out.Subtitles.Expected = out.SubtitleCount
	out.Texts.Expected = out.TextCount
	out.ManifestKey = segKeys.Manifest()

	manifest := segmentManifest{
		SegmentID:   segment.ID,
		EditionID:   edition.ID,
		WorkID:      edition.WorkID,
		MediaKind:   edition.MediaKind,
		SegmentKind: segment.Kind,
		Ordinal:     segment.Ordinal,
		Title:       segment.Title,
		SourceURL:   sourceURL,
		Template:    tmpl.Name,
		Download:    in.Download,
		FetchedAt:   o.now().UTC(),
		Images:      nonNil(payloads.Images),
		Subtitles:   nonNil(payloads.Subtitles),
		Texts:       nonNil(payloads.Texts),
	}
	if err := putJSON(ctx, o.store, o.policy, logger, out.ManifestKey, manifest); err != nil {
		return out, fmt.Errorf("store segment manifest: %w", err)
	}
	logger.Info("segment manifest stored",
		logging.Event("segment_manifest_stored"),
		logging.StorageKey(out.ManifestKey),
		logging.Int("images", out.ImageCount),
		logging.Int("subtitles", out.SubtitleCount),
		logging.Int("texts", out.TextCount),
		logging.Bool("download", in.Download),
	)
	if !in.Download {
		return out, nil
	}
	out.Downloaded = true

	limiter := o.imageLimiter()
	for i, imageURL := range payloads.Images {
		if err := limiter.Wait(ctx); err != nil {
			return out, fmt.Errorf("image pacing: %w", err)
		}
		tally(&out.Images, i+1, o.ingestImage(ctx, logger, segment.ID, segKeys, i+1, imageURL))
	}
	for i, subtitleURL := range payloads.Subtitles {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tally(&out.Subtitles, i+1, o.ingestSubtitle(ctx, logger, segment.ID, segKeys, i+1, subtitleURL))
	}
	for i, text := range payloads.Texts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		tally(&out.Texts, i+1, o.ingestText(ctx, logger, segment.ID, segKeys, i+1, text))
	}

	out.SuccessCount = out.Images.Succeeded + out.Subtitles.Succeeded + out.Texts.Succeeded
	out.FailedCount = out.Images.Failed + out.Subtitles.Failed + out.Texts.Failed

	logger.Info("segment ingested",
		logging.Event("segment_ingested"),
		logging.Int("succeeded", out.SuccessCount),
		logging.Int("failed", out.FailedCount),
	)
	if out.Images.Expected > 0 && out.Images.Succeeded == 0 {
		return out, services.Wrap(services.ErrStructural, "ingest", "images",
			fmt.Sprintf("0 of %d images stored for segment %s", out.Images.Expected, segment.ID), nil)
	}
	return out, nil
}

// RunIngestJob executes a claimed ingest_segment job and records its outcome.
func (o *Orchestrator) RunIngestJob(ctx context.Context, job *ledger.Job, in jobspec.IngestSegmentInput) (jobspec.IngestSegmentOutput, error) {
	ctx = services.WithJobID(ctx, job.ID)
	out, err := o.IngestSegment(ctx, in)
	return out, finishJob(ctx, o.ledger, job, out, err)
}

// IngestNow records an ingest_segment job and runs it inline. The returned
// job reflects the terminal state.
func (o *Orchestrator) IngestNow(ctx context.Context, in jobspec.IngestSegmentInput) (*ledger.Job, jobspec.IngestSegmentOutput, error) {
	var editionID string
	if segment, err := o.ledger.GetSegment(ctx, in.SegmentID); err == nil && segment != nil {
		editionID = segment.EditionID
	}
	job, err := createAndClaim(ctx, o.ledger, in, editionID)
	if err != nil {
		return nil, jobspec.IngestSegmentOutput{}, err
	}
	out, runErr := o.RunIngestJob(ctx, job, in)
	final, err := o.ledger.GetJob(context.WithoutCancel(ctx), job.ID)
	if err != nil || final == nil {
		final = job
	}
	return final, out, runErr
}

func (o *Orchestrator) loadSegment(ctx context.Context, segmentID string) (*ledger.Segment, *ledger.Edition, error) {
	segment, err := o.ledger.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, nil, err
	}
	if segment == nil {
		return nil, nil, services.Wrap(services.ErrStructural, "ingest", "load segment", fmt.Sprintf("segment %s not found", segmentID), nil)
	}
	edition, err := o.ledger.GetEdition(ctx, segment.EditionID)
	if err != nil {
		return nil, nil, err
	}
	if edition == nil {
		return nil, nil, services.Wrap(services.ErrStructural, "ingest", "load edition", fmt.Sprintf("edition %s not found", segment.EditionID), nil)
	}
	return segment, edition, nil
}

func (o *Orchestrator) imageLimiter() *rate.Limiter {
	if o.imageDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.imageDelay), 1)
}

func (o *Orchestrator) ingestImage(ctx context.Context, logger *slog.Logger, segmentID string, segKeys keys.Segment, index int, imageURL string) error {
	itemLogger := logger.With(logging.String("group", "images"), logging.Int("index", index), logging.String("url", imageURL))
	data, err := o.fetcher.FetchBytes(ctx, imageURL)
	if err != nil {
		logging.WarnWithContext(itemLogger, "image fetch failed", "image_fetch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "image counted as failed"),
			logging.String(logging.FieldErrorHint, "rerun the segment once the source recovers"),
		)
		return fmt.Errorf("image_fetch_failed: %w", err)
	}
	if len(data) < o.minImageBytes {
		logging.WarnWithContext(itemLogger, "image below minimum size", "image_too_small",
			logging.Int("bytes", len(data)),
			logging.Int("min_bytes", o.minImageBytes),
			logging.String(logging.FieldImpact, "image counted as failed"),
			logging.String(logging.FieldErrorHint, "the source may be serving a placeholder"),
		)
		return fmt.Errorf("image_too_small: %d bytes, minimum %d", len(data), o.minImageBytes)
	}
	result := o.uploader.Upload(ctx, UploadRequest{
		Data:      data,
		Key:       segKeys.Page(index, imageExtension(imageURL, data)),
		Kind:      ledger.AssetRawImage,
		SegmentID: segmentID,
		Role:      ledger.RolePage,
	})
	return uploadFailure(result)
}

func (o *Orchestrator) ingestSubtitle(ctx context.Context, logger *slog.Logger, segmentID string, segKeys keys.Segment, index int, subtitleURL string) error {
	data, err := o.fetcher.FetchBytes(ctx, subtitleURL)
	if err != nil {
		logging.WarnWithContext(logger, "subtitle fetch failed", "subtitle_fetch_failed",
			logging.String("url", subtitleURL),
			logging.Int("index", index),
			logging.Error(err),
			logging.String(logging.FieldImpact, "subtitle counted as failed"),
		)
		return fmt.Errorf("subtitle_fetch_failed: %w", err)
	}
	result := o.uploader.Upload(ctx, UploadRequest{
		Data:      data,
		Key:       segKeys.Subtitle(index, keys.ExtensionFromURL(subtitleURL)),
		Kind:      ledger.AssetRawSubtitle,
		SegmentID: segmentID,
		Role:      ledger.RoleSubtitle,
	})
	return uploadFailure(result)
}

func (o *Orchestrator) ingestText(ctx context.Context, logger *slog.Logger, segmentID string, segKeys keys.Segment, index int, text string) error {
	if strings.TrimSpace(text) == "" {
		logger.Debug("skipping blank text block", logging.Int("index", index))
		return errors.New("blank_text")
	}
	result := o.uploader.Upload(ctx, UploadRequest{
		Data:      []byte(text),
		Key:       segKeys.Text(index),
		Kind:      ledger.AssetCleanedText,
		SegmentID: segmentID,
		Role:      ledger.RoleText,
	})
	return uploadFailure(result)
}

// imageExtension prefers a recognised URL extension, then sniffed bytes.
func imageExtension(imageURL string, data []byte) string {
	if ext := keys.ExtensionFromURL(imageURL); imageExtensions[ext] {
		return ext
	}
	return blob.ExtensionForContentType(blob.DetectContentType("", data))
}

func tally(counts *jobspec.GroupCounts, index int, err error) {
	if err == nil {
		counts.Succeeded++
		return
	}
	counts.Failed++
	counts.Errors = append(counts.Errors, fmt.Sprintf("%d: %v", index, err))
}

func uploadFailure(result UploadResult) error {
	if result.OK() {
		return nil
	}
	return fmt.Errorf("upload_failed at %s: %w", result.FailedStep, result.Err)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
