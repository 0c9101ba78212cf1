package api

import (
	"slices"
	"time"

	"archivist/internal/ledger"
	"archivist/internal/workflow"
)

// FromJob converts a ledger job into its API representation.
func FromJob(job *ledger.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:           job.ID,
		Kind:         job.Kind,
		Status:       string(job.Status),
		SourceURL:    job.SourceURL,
		WorkID:       job.WorkID,
		EditionID:    job.EditionID,
		SegmentID:    job.SegmentID,
		Attempts:     job.Attempts,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    FormatTime(job.CreatedAt),
		StartedAt:    formatTimePtr(job.StartedAt),
		FinishedAt:   formatTimePtr(job.FinishedAt),
		DurationMS:   job.Duration().Milliseconds(),
	}
	if len(job.Input) > 0 {
		dto.Input = job.Input
	}
	if len(job.Output) > 0 {
		dto.Output = job.Output
	}
	return dto
}

// FromJobs converts a slice of ledger jobs.
func FromJobs(jobs []*ledger.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromSegmentAssets converts attached assets.
func FromSegmentAssets(assets []*ledger.SegmentAsset) []Asset {
	out := make([]Asset, 0, len(assets))
	for _, sa := range assets {
		if sa == nil {
			continue
		}
		out = append(out, Asset{
			ID:          sa.Asset.ID,
			Role:        string(sa.Role),
			StorageKey:  sa.Asset.StorageKey,
			Kind:        string(sa.Asset.Kind),
			ByteLength:  sa.Asset.ByteLength,
			ContentHash: sa.Asset.ContentHash,
			ContentType: sa.Asset.ContentType,
			Provenance:  string(sa.Asset.Provenance),
			AttachedAt:  FormatTime(sa.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts workflow diagnostics into the API shape.
func FromStatusSummary(summary workflow.StatusSummary) RunnerStatus {
	status := RunnerStatus{
		Running:       summary.Running,
		Processed:     summary.Processed,
		Failed:        summary.Failed,
		JobStats:      MergeJobStats(summary.JobStats),
		LastError:     summary.LastError,
		HandlerHealth: HandlerHealthSlice(summary.HandlerHealth),
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		status.LastJob = &last
	}
	return status
}

// MergeJobStats normalizes job stats into a string-keyed map with every
// status present.
func MergeJobStats(stats map[ledger.JobStatus]int) map[string]int {
	out := make(map[string]int, len(ledger.AllJobStatuses()))
	for _, status := range ledger.AllJobStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

// HandlerHealthSlice converts a health map into a slice ordered by name.
func HandlerHealthSlice(health map[string]workflow.Health) []HandlerHealth {
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]HandlerHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, HandlerHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
