package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/config"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/notifications"
	"archivist/internal/testsupport"
	"archivist/internal/workflow"
)

type stubHandler struct {
	kind   jobspec.Kind
	store  *ledger.Store
	health workflow.Health

	mu       sync.Mutex
	seen     []string
	finish   func(ctx context.Context, job *ledger.Job) error
	returned error
}

func newStubHandler(kind jobspec.Kind, store *ledger.Store) *stubHandler {
	h := &stubHandler{kind: kind, store: store, health: workflow.Healthy(string(kind))}
	h.finish = func(ctx context.Context, job *ledger.Job) error {
		return store.CompleteJob(ctx, job.ID, json.RawMessage(`{"ok":true}`))
	}
	return h
}

func (h *stubHandler) Kind() jobspec.Kind { return h.kind }

func (h *stubHandler) Handle(ctx context.Context, job *ledger.Job, payload jobspec.Payload) error {
	h.mu.Lock()
	h.seen = append(h.seen, job.ID)
	h.mu.Unlock()
	if payload.Kind() != h.kind {
		return errors.New("wrong payload dispatched")
	}
	if h.finish != nil {
		if err := h.finish(ctx, job); err != nil {
			return err
		}
	}
	return h.returned
}

func (h *stubHandler) HealthCheck(context.Context) workflow.Health { return h.health }

func (h *stubHandler) Seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

func newRunnerEnv(t *testing.T) (*config.Config, *ledger.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollLimit = 10
	cfg.Workflow.StaleJobTimeout = 0
	return cfg, testsupport.MustOpenLedger(t, cfg)
}

func enqueueIngest(t *testing.T, store *ledger.Store, segmentID string) *ledger.Job {
	t.Helper()
	spec, err := jobspec.NewJob(jobspec.IngestSegmentInput{SegmentID: segmentID, Template: "generic-comic"})
	require.NoError(t, err)
	job, err := store.CreateJob(context.Background(), spec)
	require.NoError(t, err)
	return job
}

func fixedClock(store *ledger.Store) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
}

func TestPollOnceDispatchesInFIFOOrder(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	fixedClock(store)
	ctx := context.Background()

	first := enqueueIngest(t, store, "seg-1")
	second := enqueueIngest(t, store, "seg-2")
	third := enqueueIngest(t, store, "seg-3")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	n, err := runner.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, handler.Seen())

	for _, id := range []string{first.ID, second.ID, third.ID} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.JobSuccess, job.Status)
		assert.Equal(t, 1, job.Attempts)
	}
}

func TestPollOnceHonoursPollLimit(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	cfg.Workflow.PollLimit = 1
	fixedClock(store)

	first := enqueueIngest(t, store, "seg-1")
	enqueueIngest(t, store, "seg-2")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	n, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{first.ID}, handler.Seen())
}

func TestRunOnceIdleQueue(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(newStubHandler(jobspec.KindIngestSegment, store)))

	n, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceRequiresHandlers(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	_, err := runner.RunOnce(context.Background())
	require.Error(t, err)
	require.Error(t, runner.Run(context.Background()))
}

func TestRegisterRejectsDuplicateKinds(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(newStubHandler(jobspec.KindIngestSegment, store)))
	require.Error(t, runner.Register(newStubHandler(jobspec.KindIngestSegment, store)))
	require.NoError(t, runner.Register(newStubHandler(jobspec.KindDiscoverUnits, store)))
	assert.Equal(t, []jobspec.Kind{jobspec.KindDiscoverUnits, jobspec.KindIngestSegment}, runner.Kinds())
}

func TestHandlerErrorWithoutTerminalStateFailsJob(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	handler.finish = nil
	handler.returned = errors.New("source exploded")
	notifier := &recordingNotifier{}
	runner := workflow.NewRunner(cfg, store, logging.NewNop(), workflow.WithNotifier(notifier))
	require.NoError(t, runner.Register(handler))

	_, err := runner.PollOnce(ctx)
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobFailed, stored.Status)
	assert.Equal(t, "source exploded", stored.ErrorMessage)
	assert.NotNil(t, stored.FinishedAt)
	assert.Equal(t, []notifications.Event{notifications.EventJobFailed}, notifier.Events())

	status := runner.Status(ctx)
	assert.Equal(t, 1, status.Processed)
	assert.Equal(t, 1, status.Failed)
	assert.Contains(t, status.LastError, "source exploded")
}

func TestHandlerReturningNilWhileRunningFailsJob(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	handler.finish = nil
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	_, err := runner.PollOnce(ctx)
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "without finishing")
}

func TestRunnerKeepsTerminalStateSetByHandler(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	handler.returned = errors.New("late notification failure")
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	_, err := runner.PollOnce(ctx)
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, stored.Status)
	assert.JSONEq(t, `{"ok":true}`, string(stored.Output))
}

func TestUndecodablePayloadFailsJob(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job, err := store.CreateJob(ctx, ledger.NewJob{Kind: "ingest_segment", Input: json.RawMessage(`{"scriptType":"bogus"}`)})
	require.NoError(t, err)

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	n, err := runner.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, handler.Seen())

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "bogus")
}

func TestUnregisteredKindFailsJob(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(newStubHandler(jobspec.KindDiscoverUnits, store)))

	_, err := runner.PollOnce(ctx)
	require.NoError(t, err)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "no handler registered")
}

type lostClaimStore struct {
	*ledger.Store
}

func (s lostClaimStore) ClaimJob(context.Context, string) (*ledger.Job, bool, error) {
	return nil, false, nil
}

func TestLostClaimIsSkipped(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, lostClaimStore{store}, logging.NewNop())
	require.NoError(t, runner.Register(handler))

	n, err := runner.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, handler.Seen())

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobQueued, stored.Status)
}

type brokenQueueStore struct {
	*ledger.Store
	mu    sync.Mutex
	calls int
}

func (s *brokenQueueStore) NextQueued(context.Context, int) ([]*ledger.Job, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil, errors.New("database is locked")
}

func (s *brokenQueueStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRunKeepsPollingAfterQueueErrors(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	broken := &brokenQueueStore{Store: store}
	notifier := &recordingNotifier{}
	runner := workflow.NewRunner(cfg, broken, logging.NewNop(),
		workflow.WithNotifier(notifier),
		workflow.WithPollInterval(time.Millisecond, time.Millisecond),
	)
	require.NoError(t, runner.Register(newStubHandler(jobspec.KindIngestSegment, store)))

	require.NoError(t, runner.Start(context.Background()))
	require.Eventually(t, func() bool { return broken.Calls() >= 3 }, 5*time.Second, time.Millisecond)
	runner.Stop()

	status := runner.Status(context.Background())
	assert.False(t, status.Running)
	assert.Contains(t, status.LastError, "database is locked")
	assert.Equal(t, []notifications.Event{notifications.EventRunnerError}, notifier.Events(),
		"only the first of consecutive poll failures notifies")
}

func TestRunProcessesJobsUntilStopped(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, store, logging.NewNop(), workflow.WithPollInterval(5*time.Millisecond, 5*time.Millisecond))
	require.NoError(t, runner.Register(handler))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	job := enqueueIngest(t, store, "seg-1")
	require.Eventually(t, func() bool {
		stored, err := store.GetJob(ctx, job.ID)
		return err == nil && stored.Status == ledger.JobSuccess
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return runner.Status(ctx).Running }, time.Second, time.Millisecond)
	runner.Stop()
	require.NoError(t, <-done)
}

func TestStopLetsInFlightJobFinish(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ctx := context.Background()
	job := enqueueIngest(t, store, "seg-1")

	started := make(chan struct{})
	release := make(chan struct{})
	handler := newStubHandler(jobspec.KindIngestSegment, store)
	handler.finish = func(ctx context.Context, job *ledger.Job) error {
		close(started)
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return store.CompleteJob(ctx, job.ID, json.RawMessage(`{"ok":true}`))
	}

	runner := workflow.NewRunner(cfg, store, logging.NewNop(), workflow.WithPollInterval(time.Millisecond, time.Millisecond))
	require.NoError(t, runner.Register(handler))
	require.NoError(t, runner.Start(ctx))

	<-started
	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, stored.Status)
}

func TestRunReclaimsStaleJobs(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	cfg.Workflow.StaleJobTimeout = 1
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })
	job := enqueueIngest(t, store, "seg-1")
	_, claimed, err := store.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	store.SetClock(time.Now)

	handler := newStubHandler(jobspec.KindIngestSegment, store)
	runner := workflow.NewRunner(cfg, store, logging.NewNop(), workflow.WithPollInterval(time.Millisecond, time.Millisecond))
	require.NoError(t, runner.Register(handler))
	require.NoError(t, runner.Start(ctx))
	defer runner.Stop()

	require.Eventually(t, func() bool {
		stored, err := store.GetJob(ctx, job.ID)
		return err == nil && stored.Status == ledger.JobSuccess
	}, 5*time.Second, 5*time.Millisecond)

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
}

func TestStatusReportsHandlerHealth(t *testing.T) {
	cfg, store := newRunnerEnv(t)
	ingest := newStubHandler(jobspec.KindIngestSegment, store)
	discover := newStubHandler(jobspec.KindDiscoverUnits, store)
	discover.health = workflow.Unhealthy(string(jobspec.KindDiscoverUnits), "template catalog empty")

	runner := workflow.NewRunner(cfg, store, logging.NewNop())
	require.NoError(t, runner.Register(ingest, discover))

	status := runner.Status(context.Background())
	assert.False(t, status.Running)
	assert.False(t, status.Ready())
	assert.True(t, status.HandlerHealth["ingest_segment"].Ready)
	assert.Equal(t, "template catalog empty", status.HandlerHealth["discover_units"].Detail)
	assert.Equal(t, 0, status.JobStats[ledger.JobQueued])
}
