package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a ledger job in a transport-friendly format.
type Job struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	SourceURL    string          `json:"sourceUrl,omitempty"`
	WorkID       string          `json:"workId,omitempty"`
	EditionID    string          `json:"editionId,omitempty"`
	SegmentID    string          `json:"segmentId,omitempty"`
	Attempts     int             `json:"attempts"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	StartedAt    string          `json:"startedAt,omitempty"`
	FinishedAt   string          `json:"finishedAt,omitempty"`
	DurationMS   int64           `json:"durationMs,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
}

// Asset describes a stored payload attached to a segment.
type Asset struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	StorageKey  string `json:"storageKey"`
	Kind        string `json:"kind"`
	ByteLength  int64  `json:"byteLength"`
	ContentHash string `json:"contentHash"`
	ContentType string `json:"contentType"`
	Provenance  string `json:"provenance"`
	AttachedAt  string `json:"attachedAt,omitempty"`
}

// HandlerHealth mirrors readiness reporting for job handlers.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// RunnerStatus summarizes job runner state.
type RunnerStatus struct {
	Running       bool            `json:"running"`
	Processed     int             `json:"processed"`
	Failed        int             `json:"failed"`
	JobStats      map[string]int  `json:"jobStats"`
	LastError     string          `json:"lastError,omitempty"`
	LastJob       *Job            `json:"lastJob,omitempty"`
	HandlerHealth []HandlerHealth `json:"handlerHealth"`
}

// HealthResponse is served by GET /health.
type HealthResponse struct {
	Ready  bool         `json:"ready"`
	Ledger string       `json:"ledger"`
	Runner RunnerStatus `json:"runner"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobStatsResponse provides normalized job counts.
type JobStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// AssetListResponse wraps the assets of one segment.
type AssetListResponse struct {
	SegmentID string  `json:"segmentId"`
	Assets    []Asset `json:"assets"`
}

// TokenResponse is returned when a token is issued.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
