package workflow

import (
	"context"
	"encoding/json"
	"time"

	"archivist/internal/jobspec"
	"archivist/internal/ledger"
)

// Handler executes one kind of job. The job passed to Handle is already in
// the running state; Handle is expected to complete or fail it.
type Handler interface {
	Kind() jobspec.Kind
	Handle(ctx context.Context, job *ledger.Job, payload jobspec.Payload) error
	HealthCheck(ctx context.Context) Health
}

// JobStore is the slice of the ledger the runner needs.
type JobStore interface {
	NextQueued(ctx context.Context, limit int) ([]*ledger.Job, error)
	ClaimJob(ctx context.Context, id string) (*ledger.Job, bool, error)
	GetJob(ctx context.Context, id string) (*ledger.Job, error)
	FailJob(ctx context.Context, id string, message string, output json.RawMessage) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (map[ledger.JobStatus]int, error)
}
