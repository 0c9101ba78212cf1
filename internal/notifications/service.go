package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"archivist/internal/config"
)

const userAgent = "archivist/0.1.0"

// Event identifies a notification-worthy milestone.
type Event string

const (
	EventJobCompleted       Event = "job_completed"
	EventJobFailed          Event = "job_failed"
	EventDiscoveryCompleted Event = "discovery_completed"
	EventRunnerError        Event = "runner_error"
	EventTest               Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes workflow events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:       topic,
		client:         &http.Client{Timeout: timeout},
		jobFailures:    cfg.Notifications.JobFailures,
		jobCompletions: cfg.Notifications.JobCompletions,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint       string
	client         *http.Client
	jobFailures    bool
	jobCompletions bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventJobCompleted:
		if !n.jobCompletions {
			return message{}, false
		}
		body := fmt.Sprintf("Job complete: %s %s", str(payload, "kind"), str(payload, "jobID"))
		if summary := str(payload, "summary"); summary != "" {
			body += "\n" + summary
		}
		return message{
			title: "Archivist - Job Complete",
			body:  body,
			tags:  []string{"archivist", "job", "completed"},
		}, true
	case EventDiscoveryCompleted:
		if !n.jobCompletions {
			return message{}, false
		}
		return message{
			title: "Archivist - Discovery Complete",
			body:  fmt.Sprintf("Discovered %s segments for %s", str(payload, "segments"), str(payload, "workID")),
			tags:  []string{"archivist", "discover", "completed"},
		}, true
	case EventJobFailed:
		if !n.jobFailures {
			return message{}, false
		}
		return message{
			title:    "Archivist - Job Failed",
			body:     fmt.Sprintf("Job failed: %s %s\n%s", str(payload, "kind"), str(payload, "jobID"), orUnknown(str(payload, "error"))),
			tags:     []string{"archivist", "job", "failed"},
			priority: "high",
		}, true
	case EventRunnerError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := str(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		builder.WriteString(orUnknown(str(payload, "error")))
		return message{
			title:    "Archivist - Error",
			body:     builder.String(),
			tags:     []string{"archivist", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Archivist - Test",
			body:     "Notification system test",
			tags:     []string{"archivist", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func str(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
