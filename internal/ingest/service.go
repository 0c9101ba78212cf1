package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"archivist/internal/blob"
	"archivist/internal/config"
	"archivist/internal/digest"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
	"archivist/internal/sources"
	"archivist/internal/templates"
	"archivist/internal/workflow"
)

// Ledger is the metadata store surface used by the ingestion pipeline.
// *ledger.Store satisfies it.
type Ledger interface {
	AssetLedger
	UpsertWork(ctx context.Context, work ledger.Work) (*ledger.Work, error)
	GetWork(ctx context.Context, id string) (*ledger.Work, error)
	UpsertEdition(ctx context.Context, edition ledger.Edition) (*ledger.Edition, error)
	GetEdition(ctx context.Context, id string) (*ledger.Edition, error)
	UpsertSegment(ctx context.Context, segment ledger.Segment) (*ledger.Segment, bool, error)
	GetSegment(ctx context.Context, id string) (*ledger.Segment, error)
	ListSegments(ctx context.Context, editionID string) ([]*ledger.Segment, error)
	SegmentHasAssets(ctx context.Context, segmentID string) (bool, error)

	CreateJob(ctx context.Context, spec ledger.NewJob) (*ledger.Job, error)
	ClaimJob(ctx context.Context, id string) (*ledger.Job, bool, error)
	GetJob(ctx context.Context, id string) (*ledger.Job, error)
	CompleteJob(ctx context.Context, id string, output json.RawMessage) error
	FailJob(ctx context.Context, id string, message string, output json.RawMessage) error

	Ping(ctx context.Context) error
}

// Deps are the collaborators shared by every ingestion component.
type Deps struct {
	Ledger  Ledger
	Store   blob.Store
	Fetcher sources.Fetcher
	Catalog *templates.Catalog
	Logger  *slog.Logger
}

// Service bundles the uploader, segment orchestrator, discoverer, and batch
// driver over one set of collaborators.
type Service struct {
	Uploader  *Uploader
	Segments  *Orchestrator
	Discovery *Discoverer
	Batch     *Batch

	deps Deps
}

// NewService wires the ingestion components from cfg.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("ingest: config is required")
	}
	if deps.Ledger == nil || deps.Store == nil || deps.Fetcher == nil || deps.Catalog == nil {
		return nil, errors.New("ingest: ledger, store, fetcher, and template catalog are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	hasher, err := digest.New(cfg.Storage.Digest)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "digest", "unsupported digest", err)
	}

	uploader := NewUploader(deps.Store, deps.Ledger, hasher, UploadPolicy(cfg), deps.Logger)
	segments := &Orchestrator{
		ledger:        deps.Ledger,
		store:         deps.Store,
		fetcher:       deps.Fetcher,
		catalog:       deps.Catalog,
		uploader:      uploader,
		policy:        UploadPolicy(cfg),
		imageDelay:    time.Duration(cfg.Fetch.ImageDelayMS) * time.Millisecond,
		minImageBytes: cfg.Fetch.MinImageBytes,
		now:           time.Now,
		logger:        logging.NewComponentLogger(deps.Logger, "segment-ingest"),
	}
	batch := &Batch{
		ledger:   deps.Ledger,
		segments: segments,
		logger:   logging.NewComponentLogger(deps.Logger, "batch"),
	}
	discovery := &Discoverer{
		ledger:  deps.Ledger,
		store:   deps.Store,
		fetcher: deps.Fetcher,
		catalog: deps.Catalog,
		batch:   batch,
		policy:  UploadPolicy(cfg),
		now:     time.Now,
		logger:  logging.NewComponentLogger(deps.Logger, "discovery"),
	}
	return &Service{
		Uploader:  uploader,
		Segments:  segments,
		Discovery: discovery,
		Batch:     batch,
		deps:      deps,
	}, nil
}

// Open builds a Service over an already opened ledger with the configured
// content store, source router, and template catalog. The caller keeps
// ownership of the ledger; Close releases only the content store.
func Open(ctx context.Context, cfg *config.Config, store Ledger, logger *slog.Logger) (*Service, error) {
	objects, err := blob.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	catalog, err := templates.Load(cfg.Paths.TemplateDir)
	if err != nil {
		_ = blob.Close(objects)
		return nil, err
	}
	svc, err := NewService(cfg, Deps{
		Ledger:  store,
		Store:   objects,
		Fetcher: sources.NewRouterFromConfig(cfg, logger),
		Catalog: catalog,
		Logger:  logger,
	})
	if err != nil {
		_ = blob.Close(objects)
		return nil, err
	}
	return svc, nil
}

// Close releases the content store when it holds resources.
func (s *Service) Close() error {
	return blob.Close(s.deps.Store)
}

// Ledger exposes the metadata store the service writes to.
func (s *Service) Ledger() Ledger { return s.deps.Ledger }

// Store exposes the content store the service writes to.
func (s *Service) Store() blob.Store { return s.deps.Store }

// Catalog exposes the template catalog.
func (s *Service) Catalog() *templates.Catalog { return s.deps.Catalog }

// Handlers returns the workflow handlers for every job kind.
func (s *Service) Handlers() []workflow.Handler {
	return []workflow.Handler{
		&discoverHandler{svc: s},
		&segmentHandler{svc: s},
	}
}

// UploadPolicy is the retry policy for uploads and manifest writes.
func UploadPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		Attempts:  cfg.Upload.Attempts,
		BaseDelay: time.Duration(cfg.Upload.BaseDelayMS) * time.Millisecond,
		MaxDelay:  retry.DefaultMaxDelay,
	}
}

// createAndClaim records a job for payload and moves it to running so the
// caller can execute it inline.
func createAndClaim(ctx context.Context, store Ledger, payload jobspec.Payload, editionID string) (*ledger.Job, error) {
	spec, err := jobspec.NewJob(payload)
	if err != nil {
		return nil, err
	}
	if spec.EditionID == "" {
		spec.EditionID = editionID
	}
	job, err := store.CreateJob(ctx, spec)
	if err != nil {
		return nil, err
	}
	claimed, ok, err := store.ClaimJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("job %s was claimed by a runner before it could start", job.ID)
	}
	return claimed, nil
}

// finishJob records the terminal state of a running job. A failed run stores
// no output. The write survives cancellation so an interrupted run is marked
// failed rather than left running.
func finishJob(ctx context.Context, store Ledger, job *ledger.Job, output any, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	if runErr != nil {
		if err := store.FailJob(ctx, job.ID, services.FailureMessage(runErr), nil); err != nil {
			return errors.Join(runErr, fmt.Errorf("record job failure: %w", err))
		}
		return runErr
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}
	if err := store.CompleteJob(ctx, job.ID, raw); err != nil {
		return fmt.Errorf("record job success: %w", err)
	}
	return nil
}

// putJSON writes a manifest document under the retry policy.
func putJSON(ctx context.Context, store blob.Store, policy retry.Policy, logger *slog.Logger, key string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return retry.Do(ctx, policy, logger, "manifest put", func(ctx context.Context, _ int) error {
		_, err := store.Put(ctx, key, data, "application/json")
		return err
	})
}
