package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"archivist/internal/config"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/notifications"
)

// Runner claims queued jobs and dispatches them to handlers by kind.
type Runner struct {
	store    JobStore
	logger   *slog.Logger
	notifier notifications.Service
	now      func() time.Time

	pollInterval  time.Duration
	errorInterval time.Duration
	staleTimeout  time.Duration
	pollLimit     int

	handlers map[jobspec.Kind]Handler

	mu           sync.RWMutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastErr      error
	lastJob      *ledger.Job
	processed    int
	failed       int
	pollFailures int
}

// Option configures optional Runner behavior.
type Option func(*Runner)

// WithNotifier overrides the notifier built from config.
func WithNotifier(notifier notifications.Service) Option {
	return func(r *Runner) {
		if notifier != nil {
			r.notifier = notifier
		}
	}
}

// WithPollInterval overrides the idle and error sleeps. Tests use it to
// poll faster than the one-second config granularity allows.
func WithPollInterval(idle, onError time.Duration) Option {
	return func(r *Runner) {
		r.pollInterval = idle
		r.errorInterval = onError
	}
}

// WithClock replaces the clock used for stale-job cutoffs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a runner over store. Handlers are added with Register.
func NewRunner(cfg *config.Config, store JobStore, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		store:         store,
		logger:        logging.NewComponentLogger(logger, "workflow-runner"),
		notifier:      notifications.NewService(cfg),
		now:           time.Now,
		pollInterval:  cfg.PollInterval(),
		errorInterval: cfg.ErrorRetryInterval(),
		staleTimeout:  cfg.StaleJobTimeout(),
		pollLimit:     cfg.Workflow.PollLimit,
		handlers:      make(map[jobspec.Kind]Handler),
	}
	if r.pollLimit <= 0 {
		r.pollLimit = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler. Each kind may only be registered once.
func (r *Runner) Register(handlers ...Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			return errors.New("workflow: nil handler")
		}
		kind := h.Kind()
		if _, exists := r.handlers[kind]; exists {
			return fmt.Errorf("workflow: handler for %s already registered", kind)
		}
		r.handlers[kind] = h
	}
	return nil
}

// Kinds lists the registered job kinds in name order.
func (r *Runner) Kinds() []jobspec.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]jobspec.Kind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Runner) handler(kind jobspec.Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// RunOnce performs a single poll and returns the number of jobs processed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if len(r.Kinds()) == 0 {
		return 0, errors.New("workflow: no job handlers registered")
	}
	n, err := r.PollOnce(ctx)
	if err != nil {
		r.setLastError(err)
	}
	return n, err
}

// Run polls until ctx is cancelled or Stop is called. The job in flight when
// shutdown is requested runs to completion before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, done, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer r.end(done)
	r.loop(runCtx)
	return nil
}

// Start launches the polling loop in the background. Stop ends it.
func (r *Runner) Start(ctx context.Context) error {
	runCtx, done, err := r.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer r.end(done)
		r.loop(runCtx)
	}()
	return nil
}

func (r *Runner) begin(ctx context.Context) (context.Context, chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, nil, errors.New("workflow: runner already running")
	}
	if len(r.handlers) == 0 {
		return nil, nil, errors.New("workflow: no job handlers registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	return runCtx, r.done, nil
}

func (r *Runner) end(done chan struct{}) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
	r.cancel = nil
	r.mu.Unlock()
	close(done)
}

func (r *Runner) loop(ctx context.Context) {
	r.logger.Info("job runner started",
		logging.Event("runner_started"),
		logging.Duration("poll_interval", r.pollInterval),
		logging.Int("poll_limit", r.pollLimit),
		logging.Any("kinds", r.Kinds()),
	)
	for {
		if ctx.Err() != nil {
			r.logger.Info("job runner stopped", logging.Event("runner_stopped"))
			return
		}

		r.reclaimStale(ctx)

		n, err := r.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.handlePollError(ctx, err)
			continue
		}
		r.resetPollFailures()
		if n == 0 {
			r.wait(ctx, r.pollInterval)
		}
	}
}

// Stop requests shutdown and waits for the in-flight job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Runner) handlePollError(ctx context.Context, err error) {
	r.setLastError(err)
	logging.ErrorWithContext(r.logger, "failed to fetch queued jobs", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check ledger database access"),
	)
	if r.incrementPollFailures() == 1 {
		r.publish(ctx, notifications.EventRunnerError, notifications.Payload{
			"context": "queue poll",
			"error":   err,
		})
	}
	r.wait(ctx, r.errorInterval)
}

func (r *Runner) reclaimStale(ctx context.Context) {
	if r.staleTimeout <= 0 {
		return
	}
	cutoff := r.now().Add(-r.staleTimeout)
	reclaimed, err := r.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(r.logger, "reclaim stale jobs failed; stuck jobs may remain", "stale_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
			logging.String(logging.FieldImpact, "jobs left running by a crashed worker stay stuck"),
		)
		return
	}
	if reclaimed > 0 {
		r.logger.Info("reclaimed stale jobs",
			logging.Int64("count", reclaimed),
			logging.Duration("stale_after", r.staleTimeout),
			logging.Event("jobs_reclaimed"),
		)
	}
}

func (r *Runner) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		select {
		case <-ctx.Done():
		default:
		}
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
