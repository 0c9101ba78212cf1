package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"archivist/internal/api"
	"archivist/internal/config"
	"archivist/internal/logging"
	"archivist/internal/notifications"
	"archivist/internal/preflight"
	"archivist/internal/workflow"
)

// Daemon runs the job runner and admin API and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	runner *workflow.Runner
	jobs   *api.JobService
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	LedgerDriver string                 `json:"ledger_driver"`
	LockFilePath string                 `json:"lock_file_path"`
	APIAddress   string                 `json:"api_address,omitempty"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// New constructs a daemon. store backs the admin API; runner must already
// have its handlers registered.
func New(cfg *config.Config, store api.JobStore, runner *workflow.Runner, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || runner == nil {
		return nil, errors.New("daemon requires config, ledger, and job runner")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		runner:   runner,
		jobs:     api.NewJobService(store),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, launches the runner, and starts the admin
// API when it is enabled.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another archivist daemon instance holds %s", d.lockPath)
	}

	d.preflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start job runner: %w", err)
	}

	if d.cfg.API.Enabled {
		srv, err := newAPIServer(d.cfg, d.jobs, d.runner, d.logger)
		if err == nil {
			err = srv.start(runCtx)
		}
		if err != nil {
			cancel()
			d.runner.Stop()
			_ = d.lock.Unlock()
			return err
		}
		d.api = srv
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("archivist daemon started",
		logging.Event("daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

// preflight logs every failed readiness check. Failures do not block start;
// the jobs that depend on the failed resource fail on their own.
func (d *Daemon) preflight(ctx context.Context) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, d.cfg, preflight.Targets{Ledger: d.jobs})) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run archivist doctor for details"),
			logging.String(logging.FieldImpact, "jobs that depend on this resource will fail"),
		)
	}
}

// Stop stops background processing and releases the daemon lock. The job in
// flight finishes first.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.api = nil
	d.runner.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("archivist daemon stopped", logging.Event("daemon_stopped"))
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

// APIAddress returns the admin API listen address, or "" when it is not
// serving.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LedgerDriver: d.cfg.Ledger.Driver,
		LockFilePath: d.lockPath,
		APIAddress:   d.APIAddress(),
		Workflow:     d.runner.Status(ctx),
	}
}

// SendTestNotification publishes a test notification using cfg.
func SendTestNotification(ctx context.Context, cfg *config.Config) (bool, string, error) {
	if cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, notifications.Payload{"message": "archivist test notification"}); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
