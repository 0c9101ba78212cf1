package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobActions struct {
	jobs      map[string]*Job
	retried   []string
	retryErr  error
	noUpdates bool
}

func (f *fakeJobActions) Describe(_ context.Context, id string) (*Job, error) {
	return f.jobs[id], nil
}

func (f *fakeJobActions) Retry(_ context.Context, ids []string) (int64, error) {
	if f.retryErr != nil {
		return 0, f.retryErr
	}
	f.retried = append(f.retried, ids...)
	if f.noUpdates {
		return 0, nil
	}
	return int64(len(ids)), nil
}

func TestRetryFailedJobsByID(t *testing.T) {
	svc := &fakeJobActions{jobs: map[string]*Job{
		"a": {ID: "a", Status: "failed"},
		"b": {ID: "b", Status: "running"},
	}}
	result, err := RetryFailedJobsByID(context.Background(), svc, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.UpdatedCount)
	assert.Equal(t, []RetryJobResult{
		{ID: "a", Outcome: RetryJobUpdated, PriorStatus: "failed"},
		{ID: "b", Outcome: RetryJobNotFailed, PriorStatus: "running"},
		{ID: "c", Outcome: RetryJobNotFound},
	}, result.Jobs)
	assert.Equal(t, []string{"a"}, svc.retried)
}

func TestRetryFailedJobsByIDLostRace(t *testing.T) {
	svc := &fakeJobActions{jobs: map[string]*Job{"a": {ID: "a", Status: "failed"}}, noUpdates: true}
	result, err := RetryFailedJobsByID(context.Background(), svc, []string{"a"})
	require.NoError(t, err)
	assert.Zero(t, result.UpdatedCount)
	assert.Equal(t, RetryJobNotFailed, result.Jobs[0].Outcome)
}

func TestRetryFailedJobsByIDPropagatesErrors(t *testing.T) {
	svc := &fakeJobActions{jobs: map[string]*Job{"a": {ID: "a", Status: "failed"}}, retryErr: errors.New("db down")}
	_, err := RetryFailedJobsByID(context.Background(), svc, []string{"a"})
	assert.EqualError(t, err, "db down")
}
