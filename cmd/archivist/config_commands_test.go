package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.mustRun(t, "config", "validate")
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Ledger: sqlite")

	target := filepath.Join(t.TempDir(), "config.toml")
	out = env.mustRun(t, "config", "init", "--path", target)
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse an existing file")
	}
	env.mustRun(t, "config", "init", "--path", target, "--overwrite")
}

func TestConfigValidateReportsMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.toml")
	t.Setenv("HOME", t.TempDir())
	out, _, err := runCLI(t, []string{"config", "validate"}, missing)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "defaults were used")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	const secret = "0123456789abcdef-secret"
	env := setupCLITestEnv(t, testsupport.WithAPISecret(secret))

	out := env.mustRun(t, "config", "show")
	if strings.Contains(out, secret) {
		t.Fatalf("secret leaked into config show output:\n%s", out)
	}
	requireContains(t, out, redacted)
	requireContains(t, out, env.cfg.Storage.Root)
}

func TestConfigLoadErrorFailsCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("unknown_key = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := runCLI(t, []string{"job", "stats"}, path); err == nil {
		t.Fatal("expected unknown config keys to fail")
	}
}
