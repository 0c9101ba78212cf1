// Package notifications delivers job events via ntfy.
//
// NewService returns a no-op publisher when no topic is configured. Job
// failures and completions are gated by the notifications.job_failures and
// notifications.job_completions settings; runner errors and test messages are
// always sent when a topic exists.
package notifications
