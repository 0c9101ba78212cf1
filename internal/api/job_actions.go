package api

import (
	"context"

	"archivist/internal/ledger"
)

// JobActionService captures the operations needed by per-job retry workflows.
type JobActionService interface {
	Describe(ctx context.Context, id string) (*Job, error)
	Retry(ctx context.Context, ids []string) (int64, error)
}

type RetryJobOutcome string

const (
	RetryJobUpdated   RetryJobOutcome = "retried"
	RetryJobNotFound  RetryJobOutcome = "not_found"
	RetryJobNotFailed RetryJobOutcome = "not_failed"
)

type RetryJobResult struct {
	ID          string          `json:"id"`
	Outcome     RetryJobOutcome `json:"outcome"`
	PriorStatus string          `json:"priorStatus,omitempty"`
}

type RetryJobsResult struct {
	UpdatedCount int64            `json:"updatedCount"`
	Jobs         []RetryJobResult `json:"jobs"`
}

// RetryFailedJobsByID validates IDs and requeues only failed jobs.
func RetryFailedJobsByID(ctx context.Context, service JobActionService, ids []string) (RetryJobsResult, error) {
	result := RetryJobsResult{Jobs: make([]RetryJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Describe(ctx, id)
		if err != nil {
			return RetryJobsResult{}, err
		}
		if job == nil {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFound})
			continue
		}
		if job.Status != string(ledger.JobFailed) {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed, PriorStatus: job.Status})
			continue
		}
		updated, err := service.Retry(ctx, []string{id})
		if err != nil {
			return RetryJobsResult{}, err
		}
		if updated > 0 {
			result.UpdatedCount += updated
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobUpdated, PriorStatus: job.Status})
			continue
		}
		// Another caller requeued it first.
		result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed, PriorStatus: job.Status})
	}
	return result, nil
}
