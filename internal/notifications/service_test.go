package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/config"
	"archivist/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	require.NoError(t, svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"jobID": "x"}))
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "job failed",
			event: notifications.EventJobFailed,
			payload: notifications.Payload{
				"jobID": "job-1",
				"kind":  "ingest_segment",
				"error": errors.New("0 of 3 images ingested"),
			},
			expectTitle:    "Archivist - Job Failed",
			expectMessage:  "Job failed: ingest_segment job-1\n0 of 3 images ingested",
			expectTags:     "archivist,job,failed",
			expectPriority: "high",
		},
		{
			name:  "job completed",
			event: notifications.EventJobCompleted,
			payload: notifications.Payload{
				"jobID":   "job-2",
				"kind":    "ingest_segment",
				"summary": "2 succeeded, 1 failed",
			},
			expectTitle:   "Archivist - Job Complete",
			expectMessage: "Job complete: ingest_segment job-2\n2 succeeded, 1 failed",
			expectTags:    "archivist,job,completed",
		},
		{
			name:  "discovery completed",
			event: notifications.EventDiscoveryCompleted,
			payload: notifications.Payload{
				"workID":   "solo-leveling",
				"segments": 12,
			},
			expectTitle:   "Archivist - Discovery Complete",
			expectMessage: "Discovered 12 segments for solo-leveling",
			expectTags:    "archivist,discover,completed",
		},
		{
			name:  "runner error",
			event: notifications.EventRunnerError,
			payload: notifications.Payload{
				"context": "queue poll",
				"error":   "database is locked",
			},
			expectTitle:    "Archivist - Error",
			expectMessage:  "Error with queue poll: database is locked",
			expectTags:     "archivist,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Archivist - Test",
			expectMessage:  "Notification system test",
			expectTags:     "archivist,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title     string
				tags      string
				priority  string
				userAgent string
				body      string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				captured.userAgent = r.Header.Get("User-Agent")
				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.JobCompletions = true

			svc := notifications.NewService(&cfg)
			require.NoError(t, svc.Publish(context.Background(), tc.event, tc.payload))

			assert.Equal(t, tc.expectTitle, captured.title)
			assert.Equal(t, tc.expectMessage, captured.body)
			assert.Equal(t, tc.expectTags, captured.tags)
			assert.Equal(t, tc.expectPriority, captured.priority)
			assert.Contains(t, captured.userAgent, "archivist")
		})
	}
}

func TestNtfyServiceHonoursEventToggles(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobFailures = false
	cfg.Notifications.JobCompletions = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventJobFailed,
		notifications.EventJobCompleted,
		notifications.EventDiscoveryCompleted,
		notifications.Event("unknown"),
	} {
		require.NoError(t, svc.Publish(context.Background(), event, notifications.Payload{"jobID": "ignored"}))
	}
	assert.Zero(t, calls.Load())
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ntfy returned 403")
	assert.Contains(t, err.Error(), "topic disabled")
}
