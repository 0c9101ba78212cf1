package logs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(level, msg, jobID, event string) string {
	line := `{"ts":"2026-10-18T09:00:00Z","level":"` + level + `","msg":"` + msg + `","component":"runner"`
	if jobID != "" {
		line += `,"job_id":"` + jobID + `"`
	}
	if event != "" {
		line += `,"event_type":"` + event + `"`
	}
	return line + "}\n"
}

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archivist.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644))
	return path
}

func messages(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Message)
	}
	return out
}

func TestTailLastEntries(t *testing.T) {
	path := writeLog(t,
		record("info", "one", "", ""),
		record("info", "two", "", ""),
		record("info", "three", "", ""),
	)

	result, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, messages(result.Entries))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), result.Offset)
}

func TestTailFromOffsetSkipsPartialLine(t *testing.T) {
	path := writeLog(t, record("info", "one", "", ""))
	first, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 10})
	require.NoError(t, err)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(record("info", "two", "", "") + `{"ts":"2026-10-18T09:00:00Z","msg":"par`)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	next, err := Tail(context.Background(), path, TailOptions{Offset: first.Offset})
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, messages(next.Entries))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, next.Offset, info.Size())
}

func TestTailResetsAfterTruncation(t *testing.T) {
	path := writeLog(t, record("info", "fresh", "", ""))

	result, err := Tail(context.Background(), path, TailOptions{Offset: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, messages(result.Entries))
}

func TestTailMissingFile(t *testing.T) {
	result, err := Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), TailOptions{Offset: -1, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, result.Entries)
	assert.Zero(t, result.Offset)
}

func TestTailAppliesFilter(t *testing.T) {
	path := writeLog(t,
		record("info", "claimed", "job-1", "job_claimed"),
		record("warn", "retrying", "job-1", "fetch_retry"),
		record("error", "failed", "job-2", "job_failed"),
		"plain text line\n",
	)

	result, err := Tail(context.Background(), path, TailOptions{
		Offset: -1,
		Limit:  10,
		Filter: Filter{JobID: "job-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"claimed", "retrying"}, messages(result.Entries))

	result, err = Tail(context.Background(), path, TailOptions{
		Offset: -1,
		Limit:  10,
		Filter: Filter{MinLevel: slog.LevelWarn, HasMinLevel: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"retrying", "failed"}, messages(result.Entries))
}

func TestTailFollowWaitsForAppend(t *testing.T) {
	path := writeLog(t, record("info", "start", "", ""))
	first, err := Tail(context.Background(), path, TailOptions{Offset: -1, Limit: 1})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		_, _ = file.WriteString(record("info", "appended", "", ""))
		_ = file.Close()
	}()

	next, err := Tail(context.Background(), path, TailOptions{Offset: first.Offset, Follow: true, Wait: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"appended"}, messages(next.Entries))
}

func TestTailFollowHonorsContext(t *testing.T) {
	path := writeLog(t, record("info", "start", "", ""))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	info, err := os.Stat(path)
	require.NoError(t, err)
	result, err := Tail(ctx, path, TailOptions{Offset: info.Size(), Follow: true, Wait: time.Minute})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, result.Entries)
	assert.Equal(t, info.Size(), result.Offset)
}
