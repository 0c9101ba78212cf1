package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, kind, status, source_url, work_id, edition_id, segment_id, input_json, output_json,
    attempts, error_message, created_at, started_at, finished_at`

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job                                     Job
		status                                  string
		sourceURL, workID, editionID, segmentID sql.NullString
		input                                   string
		output, errMsg                          sql.NullString
		createdRaw                              string
		startedRaw, finishedRaw                 sql.NullString
	)
	if err := scanner.Scan(&job.ID, &job.Kind, &status, &sourceURL, &workID, &editionID, &segmentID,
		&input, &output, &job.Attempts, &errMsg, &createdRaw, &startedRaw, &finishedRaw); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.SourceURL = sourceURL.String
	job.WorkID = workID.String
	job.EditionID = editionID.String
	job.SegmentID = segmentID.String
	job.Input = json.RawMessage(input)
	if output.Valid && output.String != "" {
		job.Output = json.RawMessage(output.String)
	}
	job.ErrorMessage = errMsg.String
	job.CreatedAt = parseTimeString(createdRaw)
	job.StartedAt = parseNullTime(startedRaw)
	job.FinishedAt = parseNullTime(finishedRaw)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CreateJob enqueues a job in the queued state.
func (s *Store) CreateJob(ctx context.Context, spec NewJob) (*Job, error) {
	spec.Kind = strings.TrimSpace(spec.Kind)
	if spec.Kind == "" {
		return nil, errors.New("create job: kind is required")
	}
	input := spec.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if !json.Valid(input) {
		return nil, errors.New("create job: input is not valid JSON")
	}
	var out *Job
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanJob(row)
		return err
	},
		`INSERT INTO jobs (id, kind, status, source_url, work_id, edition_id, segment_id, input_json, attempts, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
         RETURNING `+jobColumns,
		uuid.NewString(), spec.Kind, string(JobQueued),
		nullableString(spec.SourceURL), nullableString(spec.WorkID), nullableString(spec.EditionID), nullableString(spec.SegmentID),
		string(input), formatTime(s.stamp()),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return out, nil
}

// GetJob fetches a job by ID. It returns nil, nil when absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var out *Job
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanJob(row)
		return err
	}, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return out, nil
}

// ListJobs returns jobs matching filter, oldest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.queryWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// NextQueued returns up to limit queued jobs in FIFO order without claiming them.
func (s *Store) NextQueued(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.ListJobs(ctx, JobFilter{Statuses: []JobStatus{JobQueued}, Limit: limit})
}

// ClaimJob moves a queued job to running. The update only matches while the
// job is still queued, so at most one runner wins a race; losers get
// claimed=false and should skip the job.
func (s *Store) ClaimJob(ctx context.Context, id string) (*Job, bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, finished_at = NULL, error_message = NULL, attempts = attempts + 1
         WHERE id = ? AND status = ?`,
		string(JobRunning), formatTime(s.stamp()), id, string(JobQueued),
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim job rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// CompleteJob marks a running job successful and stores its output.
func (s *Store) CompleteJob(ctx context.Context, id string, output json.RawMessage) error {
	return s.finishJob(ctx, id, JobSuccess, output, "", []JobStatus{JobRunning})
}

// FailJob marks a queued or running job failed. Output is optional.
func (s *Store) FailJob(ctx context.Context, id string, message string, output json.RawMessage) error {
	return s.finishJob(ctx, id, JobFailed, output, message, []JobStatus{JobQueued, JobRunning})
}

func (s *Store) finishJob(ctx context.Context, id string, status JobStatus, output json.RawMessage, message string, from []JobStatus) error {
	var outputArg any
	if len(output) > 0 {
		if !json.Valid(output) {
			return fmt.Errorf("finish job %s: output is not valid JSON", id)
		}
		outputArg = string(output)
	}
	args := []any{string(status), outputArg, nullableString(message), formatTime(s.stamp()), id}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, output_json = ?, error_message = ?, finished_at = ?
         WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s cannot become %s", ErrInvalidTransition, id, status)
	}
	return nil
}

// RetryFailed requeues failed jobs. With no IDs every failed job is requeued.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE jobs SET status = ?, error_message = NULL, output_json = NULL, started_at = NULL, finished_at = NULL
         WHERE status = ?`
	args := []any{string(JobQueued), string(JobFailed)}
	if len(ids) > 0 {
		query += " AND id IN (" + makePlaceholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStale returns running jobs started before cutoff to the queue. It
// recovers jobs orphaned by a runner that exited without finishing them.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, started_at = NULL
         WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		string(JobQueued), string(JobRunning), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns job counts keyed by status. Every status is present.
func (s *Store) Stats(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.queryWithRetry(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[JobStatus]int, len(allJobStatuses))
	for _, status := range allJobStatuses {
		stats[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		stats[JobStatus(status)] = count
	}
	return stats, rows.Err()
}
