package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/ingest"
	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/sources"
	"archivist/internal/workflow"
)

func newRunner(t *testing.T, env *testEnv) *workflow.Runner {
	t.Helper()
	runner := workflow.NewRunner(env.cfg, env.ledger, logging.NewNop())
	require.NoError(t, runner.Register(env.svc.Handlers()...))
	return runner
}

func TestRunnerDrivesDiscoveryThenIngestion(t *testing.T) {
	env := newTestEnv(t)
	seedDiscovery(env)
	for _, unit := range env.fetcher.Discovery.Units {
		env.fetcher.Payloads[unit.URL] = sources.Payloads{Texts: []string{"Text of " + unit.Title}}
	}
	in := discoverInput()
	in.EnqueueIngest = true
	spec, err := jobspec.NewJob(in)
	require.NoError(t, err)
	discoverJob, err := env.ledger.CreateJob(context.Background(), spec)
	require.NoError(t, err)

	runner := newRunner(t, env)
	assert.ElementsMatch(t, []jobspec.Kind{jobspec.KindDiscoverUnits, jobspec.KindIngestSegment}, runner.Kinds())

	total := 0
	for {
		n, err := runner.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	assert.Equal(t, 4, total)

	finished, err := env.ledger.GetJob(context.Background(), discoverJob.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.JobSuccess, finished.Status)

	stats, err := env.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats[ledger.JobSuccess])
	assert.Zero(t, stats[ledger.JobFailed])
}

func TestRunnerRecordsIngestFailure(t *testing.T) {
	env := newTestEnv(t)
	edition, segments := seedNovel(t, env, 1)
	delete(env.fetcher.Payloads, segments[0].CanonicalURL)
	_, err := env.svc.Batch.Enqueue(context.Background(), edition.ID, ingest.BatchOptions{Template: "generic-novel", Download: true})
	require.NoError(t, err)

	n, err := newRunner(t, env).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := env.ledger.ListJobs(context.Background(), ledger.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ledger.JobFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorMessage, "no payloads")
}

func TestHandlersReportHealth(t *testing.T) {
	env := newTestEnv(t)
	for _, handler := range env.svc.Handlers() {
		health := handler.HealthCheck(context.Background())
		assert.True(t, health.Ready, "%s: %s", health.Name, health.Detail)
	}

	require.NoError(t, env.ledger.Close())
	for _, handler := range env.svc.Handlers() {
		assert.False(t, handler.HealthCheck(context.Background()).Ready)
	}
}
