package api

import (
	"context"
	"fmt"
	"strings"

	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/services"
)

// JobStore abstracts the ledger operations the API needs.
type JobStore interface {
	ListJobs(ctx context.Context, filter ledger.JobFilter) ([]*ledger.Job, error)
	GetJob(ctx context.Context, id string) (*ledger.Job, error)
	Stats(ctx context.Context) (map[ledger.JobStatus]int, error)
	CreateJob(ctx context.Context, spec ledger.NewJob) (*ledger.Job, error)
	RetryFailed(ctx context.Context, ids ...string) (int64, error)
	GetSegment(ctx context.Context, id string) (*ledger.Segment, error)
	ListSegmentAssets(ctx context.Context, segmentID string) ([]*ledger.SegmentAsset, error)
	Ping(ctx context.Context) error
}

// JobService exposes ledger operations returning API DTOs. The CLI uses it
// directly and the HTTP server wraps it.
type JobService struct {
	store JobStore
}

// NewJobService constructs a JobService around the provided store.
func NewJobService(store JobStore) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// ListFilter narrows List.
type ListFilter struct {
	Statuses []string
	Kind     string
	Limit    int
}

// List returns jobs in FIFO order filtered by status and kind.
func (s *JobService) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	ledgerFilter := ledger.JobFilter{Limit: filter.Limit}
	for _, value := range filter.Statuses {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, err := ledger.ParseJobStatus(value)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "list jobs", err.Error(), nil)
		}
		ledgerFilter.Statuses = append(ledgerFilter.Statuses, status)
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		parsed, err := jobspec.ParseKind(kind)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "list jobs", err.Error(), nil)
		}
		ledgerFilter.Kind = string(parsed)
	}
	jobs, err := s.store.ListJobs(ctx, ledgerFilter)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe fetches a single job. It returns nil when the job is unknown.
func (s *JobService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeJobStats(stats), nil
}

// Enqueue decodes and validates a tagged payload and creates a queued job.
func (s *JobService) Enqueue(ctx context.Context, raw []byte) (*Job, error) {
	payload, err := jobspec.Decode(raw)
	if err != nil {
		return nil, err
	}
	spec, err := jobspec.NewJob(payload)
	if err != nil {
		return nil, err
	}
	if in, ok := payload.(jobspec.IngestSegmentInput); ok {
		segment, err := s.store.GetSegment(ctx, in.SegmentID)
		if err != nil {
			return nil, err
		}
		if segment == nil {
			return nil, services.Wrap(services.ErrNotFound, "api", "enqueue", fmt.Sprintf("segment %s not found", in.SegmentID), nil)
		}
		spec.EditionID = segment.EditionID
	}
	job, err := s.store.CreateJob(ctx, spec)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Retry requeues failed jobs and returns how many changed.
func (s *JobService) Retry(ctx context.Context, ids []string) (int64, error) {
	return s.store.RetryFailed(ctx, ids...)
}

// SegmentAssets lists the assets attached to a segment. It returns nil when
// the segment is unknown.
func (s *JobService) SegmentAssets(ctx context.Context, segmentID string) ([]Asset, error) {
	segment, err := s.store.GetSegment(ctx, segmentID)
	if err != nil || segment == nil {
		return nil, err
	}
	assets, err := s.store.ListSegmentAssets(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	return FromSegmentAssets(assets), nil
}

// Ping reports whether the ledger is reachable.
func (s *JobService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
