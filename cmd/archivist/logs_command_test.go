package main

import (
	"os"
	"strings"
	"testing"
)

func TestLogsCommandFiltersRecords(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "logs")
	if strings.TrimSpace(out) != "" {
		t.Fatalf("expected no records, got %q", out)
	}

	records := strings.Join([]string{
		`{"ts":"2026-10-18T09:00:00Z","level":"info","msg":"job claimed","component":"runner","job_id":"job-a"}`,
		`{"ts":"2026-10-18T09:00:01Z","level":"warn","msg":"image skipped","component":"segment-ingest","job_id":"job-a","event_type":"image_failed"}`,
		`{"ts":"2026-10-18T09:00:02Z","level":"info","msg":"job claimed","component":"runner","job_id":"job-b"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(env.cfg.LogFilePath(), []byte(records), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out = env.mustRun(t, "logs", "--job", "job-a")
	requireContains(t, out, "image skipped")
	if strings.Contains(out, "job-b") {
		t.Fatalf("expected job-b to be filtered out: %q", out)
	}

	out = env.mustRun(t, "logs", "--level", "warn")
	if got := strings.Count(strings.TrimSpace(out), "\n") + 1; got != 1 {
		t.Fatalf("expected one warn record, got %d: %q", got, out)
	}
	requireContains(t, out, "event_type=image_failed")

	out = env.mustRun(t, "logs", "-n", "1", "--json")
	requireContains(t, out, `"job_id":"job-b"`)

	if _, _, err := env.run(t, "logs", "--level", "loud"); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}
