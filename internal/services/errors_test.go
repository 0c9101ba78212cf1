package services_test

import (
	"errors"
	"strings"
	"testing"

	"archivist/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "ingest", "upload", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"ingest", "upload", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("io"), true},
		{"transient", services.Wrap(services.ErrTransient, "fetch", "get", "503", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "fetch", "get", "deadline", nil), true},
		{"validation", services.Wrap(services.ErrValidation, "jobspec", "decode", "bad", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "ingest", "load", "segment", nil), false},
		{"structural", services.Wrap(services.ErrStructural, "ingest", "images", "none", nil), false},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFailureMessageFlattensWhitespace(t *testing.T) {
	err := errors.New("line one\n\tline   two")
	if got := services.FailureMessage(err); got != "line one line two" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := services.FailureMessage(nil); got != "" {
		t.Fatalf("expected empty message, got %q", got)
	}
	long := errors.New(strings.Repeat("x", 5000))
	if got := services.FailureMessage(long); len(got) != 2000 {
		t.Fatalf("expected truncated message, got %d bytes", len(got))
	}
}
