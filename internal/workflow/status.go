package workflow

import (
	"context"

	"archivist/internal/ledger"
	"archivist/internal/logging"
)

// StatusSummary represents lightweight runner diagnostics.
type StatusSummary struct {
	Running       bool                     `json:"running"`
	LastError     string                   `json:"last_error,omitempty"`
	LastJob       *ledger.Job              `json:"last_job,omitempty"`
	Processed     int                      `json:"processed"`
	Failed        int                      `json:"failed"`
	JobStats      map[ledger.JobStatus]int `json:"job_stats,omitempty"`
	HandlerHealth map[string]Health        `json:"handler_health"`
}

// Ready reports whether every registered handler is healthy.
func (s StatusSummary) Ready() bool {
	for _, h := range s.HandlerHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}

// Status returns the latest runner information.
func (r *Runner) Status(ctx context.Context) StatusSummary {
	r.mu.RLock()
	summary := StatusSummary{
		Running:   r.running,
		Processed: r.processed,
		Failed:    r.failed,
	}
	if r.lastErr != nil {
		summary.LastError = r.lastErr.Error()
	}
	if r.lastJob != nil {
		clone := *r.lastJob
		summary.LastJob = &clone
	}
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	stats, err := r.store.Stats(ctx)
	if err != nil {
		r.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats

	summary.HandlerHealth = make(map[string]Health, len(handlers))
	for _, h := range handlers {
		summary.HandlerHealth[string(h.Kind())] = h.HealthCheck(ctx)
	}
	return summary
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) setLastJob(job *ledger.Job) {
	r.mu.Lock()
	if job != nil {
		clone := *job
		r.lastJob = &clone
	} else {
		r.lastJob = nil
	}
	r.mu.Unlock()
}

func (r *Runner) countResult(failed bool) {
	r.mu.Lock()
	r.processed++
	if failed {
		r.failed++
	}
	r.mu.Unlock()
}

func (r *Runner) incrementPollFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollFailures++
	return r.pollFailures
}

func (r *Runner) resetPollFailures() {
	r.mu.Lock()
	r.pollFailures = 0
	r.mu.Unlock()
}
