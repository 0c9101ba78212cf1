package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when a job status change does not match the
// job's current status.
var ErrInvalidTransition = errors.New("ledger: invalid job status transition")

// MediaKind is the medium an edition renders a work in.
type MediaKind string

const (
	MediaNovel  MediaKind = "novel"
	MediaManhwa MediaKind = "manhwa"
	MediaAnime  MediaKind = "anime"
)

// SegmentKind distinguishes chapters from episodes.
type SegmentKind string

const (
	SegmentChapter SegmentKind = "chapter"
	SegmentEpisode SegmentKind = "episode"
)

// AssetKind classifies a stored payload.
type AssetKind string

const (
	AssetRawImage    AssetKind = "raw_image"
	AssetRawSubtitle AssetKind = "raw_subtitle"
	AssetRawHTML     AssetKind = "raw_html"
	AssetCleanedText AssetKind = "cleaned_text"
	AssetOther       AssetKind = "other"
)

// Role tags how an asset relates to its segment.
type Role string

const (
	RolePage     Role = "page"
	RoleSubtitle Role = "subtitle"
	RoleText     Role = "text"
	RoleContent  Role = "content"
)

// Provenance records how an asset entered the store.
type Provenance string

const (
	ProvenancePipeline Provenance = "pipeline"
	ProvenanceManual   Provenance = "manual"
	ProvenanceImport   Provenance = "import"
)

// JobStatus represents the lifecycle of a job: queued -> running -> success|failed.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

var allJobStatuses = []JobStatus{JobQueued, JobRunning, JobSuccess, JobFailed}

// AllJobStatuses returns every job status in lifecycle order.
func AllJobStatuses() []JobStatus {
	out := make([]JobStatus, len(allJobStatuses))
	copy(out, allJobStatuses)
	return out
}

// ParseJobStatus normalizes a user supplied status name.
func ParseJobStatus(value string) (JobStatus, error) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allJobStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed
}

// ParseMediaKind validates a media kind name.
func ParseMediaKind(value string) (MediaKind, error) {
	switch kind := MediaKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case MediaNovel, MediaManhwa, MediaAnime:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", value)
	}
}

// ParseSegmentKind validates a segment kind name.
func ParseSegmentKind(value string) (SegmentKind, error) {
	switch kind := SegmentKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case SegmentChapter, SegmentEpisode:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown segment kind %q", value)
	}
}

// DefaultSegmentKind returns the natural sub-unit for a medium.
func DefaultSegmentKind(media MediaKind) SegmentKind {
	if media == MediaAnime {
		return SegmentEpisode
	}
	return SegmentChapter
}

// Work is a titled creative property independent of source.
type Work struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edition is one provider's rendition of a work for one media kind.
type Edition struct {
	ID           string    `json:"id"`
	WorkID       string    `json:"work_id"`
	MediaKind    MediaKind `json:"media_kind"`
	Provider     string    `json:"provider"`
	CanonicalURL string    `json:"canonical_url,omitempty"`
	Official     bool      `json:"official"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Segment is one chapter or episode of an edition.
type Segment struct {
	ID           string      `json:"id"`
	EditionID    string      `json:"edition_id"`
	Kind         SegmentKind `json:"segment_kind"`
	Ordinal      float64     `json:"ordinal"`
	Title        string      `json:"title,omitempty"`
	CanonicalURL string      `json:"canonical_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Asset is one stored payload. StorageKey is unique; ContentHash is not.
type Asset struct {
	ID          string     `json:"id"`
	StorageKey  string     `json:"storage_key"`
	Kind        AssetKind  `json:"asset_kind"`
	ByteLength  int64      `json:"byte_length"`
	ContentHash string     `json:"content_hash"`
	ContentType string     `json:"content_type"`
	Provenance  Provenance `json:"provenance"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SegmentAsset is an asset attached to a segment with its role.
type SegmentAsset struct {
	SegmentID string    `json:"segment_id"`
	Role      Role      `json:"role"`
	Asset     Asset     `json:"asset"`
	CreatedAt time.Time `json:"attached_at"`
}

// Job is one tracked attempt at an ingestion operation.
type Job struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Status       JobStatus       `json:"status"`
	SourceURL    string          `json:"source_url,omitempty"`
	WorkID       string          `json:"work_id,omitempty"`
	EditionID    string          `json:"edition_id,omitempty"`
	SegmentID    string          `json:"segment_id,omitempty"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Attempts     int             `json:"attempts"`
	ErrorMessage string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// NewJob describes a job to enqueue.
type NewJob struct {
	Kind      string
	SourceURL string
	WorkID    string
	EditionID string
	SegmentID string
	Input     json.RawMessage
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Statuses []JobStatus
	Kind     string
	Limit    int
}

// Duration returns how long the job ran, or zero when it has not finished.
func (j *Job) Duration() time.Duration {
	if j == nil || j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}
