package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/notifications"
	"archivist/internal/services"
)

// PollOnce claims and runs up to the configured number of queued jobs in FIFO
// order. Jobs claimed by another runner are skipped. It returns the number of
// jobs this runner processed; an error means the queue itself could not be
// read or claimed.
func (r *Runner) PollOnce(ctx context.Context) (int, error) {
	jobs, err := r.store.NextQueued(ctx, r.pollLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch queued jobs: %w", err)
	}

	processed := 0
	for _, candidate := range jobs {
		if ctx.Err() != nil {
			break
		}
		job, claimed, err := r.store.ClaimJob(ctx, candidate.ID)
		if err != nil {
			return processed, fmt.Errorf("claim job %s: %w", candidate.ID, err)
		}
		if !claimed {
			r.logger.Debug("job claimed by another runner",
				logging.JobID(candidate.ID),
				logging.Event("job_claim_lost"),
			)
			continue
		}
		// Shutdown must not interrupt a claimed job.
		r.process(context.WithoutCancel(ctx), job)
		processed++
	}
	return processed, nil
}

func (r *Runner) process(ctx context.Context, job *ledger.Job) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger).With(logging.JobKind(job.Kind))

	logger.Info("job claimed",
		logging.Event("job_claimed"),
		logging.Attempt(job.Attempts),
		logging.SegmentID(job.SegmentID),
		logging.String("source_url", job.SourceURL),
	)
	r.setLastJob(job)

	start := time.Now()
	handleErr := r.dispatch(ctx, job)
	final := r.settle(ctx, logger, job, handleErr)
	r.report(ctx, logger, final, handleErr, time.Since(start))
}

func (r *Runner) dispatch(ctx context.Context, job *ledger.Job) error {
	payload, err := jobspec.Decode(job.Input)
	if err != nil {
		return err
	}
	if string(payload.Kind()) != job.Kind {
		return services.Wrap(services.ErrValidation, "workflow", "dispatch",
			fmt.Sprintf("job kind %q does not match payload %q", job.Kind, payload.Kind()), nil)
	}
	handler, ok := r.handler(payload.Kind())
	if !ok {
		return services.Wrap(services.ErrConfiguration, "workflow", "dispatch",
			fmt.Sprintf("no handler registered for %s", payload.Kind()), nil)
	}
	return handler.Handle(ctx, job, payload)
}

// settle makes sure the job left the running state and returns its final row.
func (r *Runner) settle(ctx context.Context, logger *slog.Logger, job *ledger.Job, handleErr error) *ledger.Job {
	current, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		logger.Error("failed to reload job after handler", logging.Error(err))
		current = nil
	}
	if current != nil && current.Status.IsTerminal() {
		if handleErr != nil && current.Status == ledger.JobSuccess {
			logger.Warn("handler returned an error after finishing job",
				logging.Error(handleErr),
				logging.String("status", string(current.Status)),
				logging.Event("job_handler_error"),
			)
		}
		return current
	}

	message := services.FailureMessage(handleErr)
	if message == "" {
		message = "handler returned without finishing the job"
	}
	if err := r.store.FailJob(ctx, job.ID, message, nil); err != nil {
		if !errors.Is(err, ledger.ErrInvalidTransition) {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}
	reloaded, err := r.store.GetJob(ctx, job.ID)
	if err != nil || reloaded == nil {
		fallback := *job
		fallback.Status = ledger.JobFailed
		fallback.ErrorMessage = message
		return &fallback
	}
	return reloaded
}

func (r *Runner) report(ctx context.Context, logger *slog.Logger, job *ledger.Job, handleErr error, elapsed time.Duration) {
	r.setLastJob(job)
	switch job.Status {
	case ledger.JobSuccess:
		r.countResult(false)
		logger.Info("job completed",
			logging.Event("job_completed"),
			logging.Duration("job_duration", elapsed),
			logging.Int("output_bytes", len(job.Output)),
		)
		r.publish(ctx, notifications.EventJobCompleted, notifications.Payload{
			"jobID":   job.ID,
			"kind":    job.Kind,
			"summary": fmt.Sprintf("finished in %s", elapsed.Round(time.Millisecond)),
		})
	default:
		r.countResult(true)
		cause := handleErr
		if cause == nil {
			cause = errors.New(job.ErrorMessage)
		}
		r.setLastError(cause)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(cause),
			logging.String("status", string(job.Status)),
			logging.String("error_message", job.ErrorMessage),
			logging.Duration("job_duration", elapsed),
			logging.String(logging.FieldErrorHint, failureHint(cause)),
			logging.Alert("job_failure"),
		)
		r.publish(ctx, notifications.EventJobFailed, notifications.Payload{
			"jobID": job.ID,
			"kind":  job.Kind,
			"error": job.ErrorMessage,
		})
	}
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return "fix the job payload and enqueue a new job"
	case errors.Is(err, services.ErrConfiguration):
		return "register a handler for this kind or check config"
	case errors.Is(err, services.ErrStructural):
		return "check the segment, edition, and template referenced by the job"
	case errors.Is(err, services.ErrNotFound):
		return "the source no longer serves this content"
	default:
		return "retry with `archivist job retry` once the source recovers"
	}
}

func (r *Runner) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug("shutting down, could not send notification")
			return
		}
		r.logger.Debug("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}
