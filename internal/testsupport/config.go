package testsupport

import (
	"path/filepath"
	"testing"

	"archivist/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Fetch and upload pacing is zeroed so tests never sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.TemplateDir = filepath.Join(base, "templates")
	cfgVal.Ledger.Driver = config.LedgerSQLite
	cfgVal.Ledger.Path = filepath.Join(base, "state", "ledger.db")
	cfgVal.Storage.Backend = config.StorageLocal
	cfgVal.Storage.Root = filepath.Join(base, "objects")
	cfgVal.Fetch.BaseDelayMS = 0
	cfgVal.Fetch.ImageDelayMS = 0
	cfgVal.Fetch.RequestsPerSecond = 0
	cfgVal.Upload.BaseDelayMS = 0
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMemoryStorage switches the content store to the in-process backend.
func WithMemoryStorage() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = config.StorageMemory
	}
}

// WithAPISecret enables the admin API with the given signing secret.
func WithAPISecret(secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Enabled = true
		b.cfg.API.JWTSecret = secret
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
