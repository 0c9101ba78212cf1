// Package retry runs fallible operations under a bounded exponential backoff.
//
// Every remote fetch, content store write, and ledger registration in
// archivist goes through Do so attempt counting, backoff, and per-attempt
// warnings behave the same everywhere. A Policy carries no mutable state and
// may be shared between goroutines.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"archivist/internal/logging"
	"archivist/internal/services"
)

// DefaultMaxDelay caps the exponential backoff.
const DefaultMaxDelay = 32 * time.Second

// Policy bounds a retried operation.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Sleep replaces the wait between attempts. Tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait after the given zero-based failed attempt:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, or the policy's
// attempts are exhausted. attempt is zero-based. The last error is returned
// unchanged apart from the Permanent marker being stripped.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, operation string, fn func(ctx context.Context, attempt int) error) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	total := policy.attempts()
	var lastErr error
	for attempt := 0; attempt < total; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, services.ErrStructural) {
			return err
		}
		lastErr = err

		if attempt == total-1 {
			logging.WarnWithContext(logger, "operation failed; attempts exhausted", "retry_exhausted",
				logging.String("operation", operation),
				logging.Attempt(attempt+1),
				logging.Int("max_attempts", total),
				logging.Error(err),
				logging.String(logging.FieldImpact, "operation abandoned"),
			)
			break
		}

		delay := policy.Delay(attempt)
		logging.WarnWithContext(logger, "operation failed; retrying", "retry_attempt",
			logging.String("operation", operation),
			logging.Attempt(attempt+1),
			logging.Int("max_attempts", total),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		if werr := policy.wait(ctx, delay); werr != nil {
			return errors.Join(lastErr, werr)
		}
	}
	return lastErr
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, policy Policy, logger *slog.Logger, operation string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, logger, operation, func(ctx context.Context, attempt int) error {
		value, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}
