package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"archivist/internal/logging"
)

// Entry is one decoded log record.
type Entry struct {
	Time      time.Time
	Level     slog.Level
	Message   string
	Component string
	JobID     string
	EventType string
	Fields    map[string]any
	// Raw is the line as written.
	Raw string
	// Valid is false when the line was not a JSON record.
	Valid bool
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects come
// back with Valid unset and the text in Message.
func ParseEntry(line string) Entry {
	entry := Entry{Raw: line, Message: line, Level: slog.LevelInfo}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return entry
	}
	entry.Valid = true
	entry.Message = takeString(fields, "msg")
	if ts := takeString(fields, "ts"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	if level := takeString(fields, "level"); level != "" {
		_ = entry.Level.UnmarshalText([]byte(level))
	}
	entry.Component = takeString(fields, logging.FieldComponent)
	entry.JobID = takeString(fields, logging.FieldJobID)
	entry.EventType = takeString(fields, logging.FieldEventType)
	entry.Fields = fields
	return entry
}

func takeString(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Format renders the entry as one console line with attributes sorted by key.
func (e Entry) Format() string {
	if !e.Valid {
		return e.Raw
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", e.Level.String())
	if e.Component != "" {
		fmt.Fprintf(&b, "[%s] ", e.Component)
	}
	b.WriteString(e.Message)
	if e.JobID != "" {
		fmt.Fprintf(&b, " %s=%s", logging.FieldJobID, e.JobID)
	}
	if e.EventType != "" {
		fmt.Fprintf(&b, " %s=%s", logging.FieldEventType, e.EventType)
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, e.Fields[key])
	}
	return b.String()
}

// Filter narrows entries. Zero values match everything.
type Filter struct {
	JobID     string
	Component string
	EventType string
	MinLevel  slog.Level
	// HasMinLevel enables the MinLevel comparison.
	HasMinLevel bool
}

// Match reports whether e passes every set criterion. Non-JSON lines only
// pass an empty filter.
func (f Filter) Match(e Entry) bool {
	if f == (Filter{}) {
		return true
	}
	if !e.Valid {
		return false
	}
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.HasMinLevel && e.Level < f.MinLevel {
		return false
	}
	return true
}

// ParseLevel reads a level name for Filter.MinLevel.
func ParseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}
