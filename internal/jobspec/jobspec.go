// Package jobspec defines the typed payloads carried by ledger jobs.
//
// A job's input is a JSON object tagged by "scriptType". Decode reads the tag,
// unmarshals into the matching struct with unknown fields rejected, and
// validates it, so handlers only ever see well-formed parameters.
package jobspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"archivist/internal/ledger"
	"archivist/internal/services"
)

// Kind tags a job payload.
type Kind string

const (
	KindDiscoverUnits Kind = "discover_units"
	KindIngestSegment Kind = "ingest_segment"
)

// Kinds returns every registered job kind.
func Kinds() []Kind {
	return []Kind{KindDiscoverUnits, KindIngestSegment}
}

// ParseKind accepts a kind name or one of the short CLI aliases.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(KindDiscoverUnits), "discover":
		return KindDiscoverUnits, nil
	case string(KindIngestSegment), "ingest":
		return KindIngestSegment, nil
	default:
		return "", fmt.Errorf("unknown job kind %q", value)
	}
}

// Payload is implemented by every job input.
type Payload interface {
	Kind() Kind
	Validate() error
}

// DiscoverUnitsInput asks for a work's unit list to be read from a source
// and mirrored into the catalog.
type DiscoverUnitsInput struct {
	ScriptType    Kind             `json:"scriptType"`
	WorkID        string           `json:"workId,omitempty"`
	WorkTitle     string           `json:"workTitle,omitempty"`
	SourceURL     string           `json:"sourceUrl"`
	Provider      string           `json:"provider"`
	MediaKind     ledger.MediaKind `json:"mediaKind"`
	Official      bool             `json:"official,omitempty"`
	Template      string           `json:"template"`
	EnqueueIngest bool             `json:"enqueueIngest,omitempty"`
	Download      bool             `json:"download"`
}

// Kind implements Payload.
func (DiscoverUnitsInput) Kind() Kind { return KindDiscoverUnits }

// Validate implements Payload.
func (in DiscoverUnitsInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.WorkID) == "" && strings.TrimSpace(in.WorkTitle) == "" {
		problems = append(problems, "workId or workTitle is required")
	}
	if err := validateURL(in.SourceURL); err != nil {
		problems = append(problems, "sourceUrl "+err.Error())
	}
	if strings.TrimSpace(in.Provider) == "" {
		problems = append(problems, "provider is required")
	}
	if _, err := ledger.ParseMediaKind(string(in.MediaKind)); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(in.Template) == "" {
		problems = append(problems, "template is required")
	}
	return joinProblems(KindDiscoverUnits, problems)
}

// DiscoverUnitsOutput summarises a discovery run.
type DiscoverUnitsOutput struct {
	WorkID       string `json:"workId"`
	EditionID    string `json:"editionId"`
	SegmentCount int    `json:"segmentCount"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Enqueued     int    `json:"enqueued"`
	ManifestKey  string `json:"manifestKey,omitempty"`
}

// IngestSegmentInput asks for one segment's payloads to be fetched and stored.
type IngestSegmentInput struct {
	ScriptType Kind   `json:"scriptType"`
	SegmentID  string `json:"segmentId"`
	// SourceURL overrides the segment's canonical URL when set.
	SourceURL string `json:"sourceUrl,omitempty"`
	Template  string `json:"template"`
	Download  bool   `json:"download"`
}

// Kind implements Payload.
func (IngestSegmentInput) Kind() Kind { return KindIngestSegment }

// Validate implements Payload.
func (in IngestSegmentInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.SegmentID) == "" {
		problems = append(problems, "segmentId is required")
	}
	if in.SourceURL != "" {
		if err := validateURL(in.SourceURL); err != nil {
			problems = append(problems, "sourceUrl "+err.Error())
		}
	}
	if strings.TrimSpace(in.Template) == "" {
		problems = append(problems, "template is required")
	}
	return joinProblems(KindIngestSegment, problems)
}

// GroupCounts tallies one payload group.
type GroupCounts struct {
	Expected  int `json:"expected"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Errors holds one "<index>: <reason>" line per failed item.
	Errors []string `json:"errors,omitempty"`
}

// IngestSegmentOutput is stored on the job when ingestion finishes.
type IngestSegmentOutput struct {
	ImageCount    int         `json:"imageCount"`
	SubtitleCount int         `json:"subtitleCount"`
	TextCount     int         `json:"textCount"`
	SuccessCount  int         `json:"successCount"`
	FailedCount   int         `json:"failedCount"`
	Images        GroupCounts `json:"images"`
	Subtitles     GroupCounts `json:"subtitles"`
	Texts         GroupCounts `json:"texts"`
	Downloaded    bool        `json:"downloaded"`
	ManifestKey   string      `json:"manifestKey,omitempty"`
}

// Encode stamps the payload's tag and marshals it.
func Encode(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, errors.New("jobspec: payload is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch in := p.(type) {
	case DiscoverUnitsInput:
		in.ScriptType = KindDiscoverUnits
		return json.Marshal(in)
	case *DiscoverUnitsInput:
		clone := *in
		clone.ScriptType = KindDiscoverUnits
		return json.Marshal(clone)
	case IngestSegmentInput:
		in.ScriptType = KindIngestSegment
		return json.Marshal(in)
	case *IngestSegmentInput:
		clone := *in
		clone.ScriptType = KindIngestSegment
		return json.Marshal(clone)
	default:
		return nil, fmt.Errorf("jobspec: unsupported payload %T", p)
	}
}

// Decode reads a tagged payload. Download defaults to true when the field is
// absent.
func Decode(raw json.RawMessage) (Payload, error) {
	var tag struct {
		ScriptType Kind `json:"scriptType"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, services.Wrap(services.ErrValidation, "jobspec", "decode", "payload is not a JSON object", err)
	}
	switch tag.ScriptType {
	case KindDiscoverUnits:
		in := DiscoverUnitsInput{Download: true}
		if err := strictUnmarshal(raw, &in); err != nil {
			return nil, err
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return in, nil
	case KindIngestSegment:
		in := IngestSegmentInput{Download: true}
		if err := strictUnmarshal(raw, &in); err != nil {
			return nil, err
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return in, nil
	case "":
		return nil, services.Wrap(services.ErrValidation, "jobspec", "decode", "scriptType is missing", nil)
	default:
		return nil, services.Wrap(services.ErrValidation, "jobspec", "decode", fmt.Sprintf("unknown scriptType %q", tag.ScriptType), nil)
	}
}

// NewJob builds the ledger row for p, copying its references into the
// indexed job columns.
func NewJob(p Payload) (ledger.NewJob, error) {
	raw, err := Encode(p)
	if err != nil {
		return ledger.NewJob{}, err
	}
	job := ledger.NewJob{Kind: string(p.Kind()), Input: raw}
	switch in := p.(type) {
	case DiscoverUnitsInput:
		job.SourceURL = in.SourceURL
		job.WorkID = in.WorkID
	case *DiscoverUnitsInput:
		job.SourceURL = in.SourceURL
		job.WorkID = in.WorkID
	case IngestSegmentInput:
		job.SourceURL = in.SourceURL
		job.SegmentID = in.SegmentID
	case *IngestSegmentInput:
		job.SourceURL = in.SourceURL
		job.SegmentID = in.SegmentID
	}
	return job, nil
}

func strictUnmarshal(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "jobspec", "decode", "invalid payload", err)
	}
	return nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	return nil
}

func joinProblems(kind Kind, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrValidation, "jobspec", string(kind), strings.Join(problems, "; "), nil)
}
