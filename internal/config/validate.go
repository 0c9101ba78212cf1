package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Driver {
	case LedgerSQLite:
		if strings.TrimSpace(c.Ledger.Path) == "" {
			return errors.New("ledger.path must be set for the sqlite driver")
		}
	case LedgerPostgres:
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return errors.New("ledger.dsn is required for the postgres driver. Set ARCHIVIST_DATABASE_URL or edit the config file")
		}
	default:
		return fmt.Errorf("ledger.driver: unsupported value %q (want sqlite or postgres)", c.Ledger.Driver)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return errors.New("storage.root must be set for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.New("storage.bucket is required for the gcs backend. Set ARCHIVIST_GCS_BUCKET or edit the config file")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want local, gcs, or memory)", c.Storage.Backend)
	}
	switch c.Storage.Digest {
	case "sha256", "blake3":
	default:
		return fmt.Errorf("storage.digest: unsupported value %q (want sha256 or blake3)", c.Storage.Digest)
	}
	return nil
}

func (c *Config) validateFetch() error {
	if err := ensurePositiveMap(map[string]int{
		"fetch.request_timeout": c.Fetch.RequestTimeout,
		"fetch.attempts":        c.Fetch.Attempts,
		"upload.attempts":       c.Upload.Attempts,
	}); err != nil {
		return err
	}
	if c.Fetch.BaseDelayMS < 0 {
		return errors.New("fetch.base_delay_ms must be zero or positive")
	}
	if c.Upload.BaseDelayMS < 0 {
		return errors.New("upload.base_delay_ms must be zero or positive")
	}
	if c.Fetch.ImageDelayMS < 0 {
		return errors.New("fetch.image_delay_ms must be zero or positive")
	}
	if c.Fetch.MinImageBytes < 0 {
		return errors.New("fetch.min_image_bytes must be zero or positive")
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return errors.New("fetch.requests_per_second must be zero or positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval": c.Workflow.PollInterval,
		"workflow.poll_limit":    c.Workflow.PollLimit,
	}); err != nil {
		return err
	}
	if c.Workflow.ErrorRetryInterval < 0 {
		return errors.New("workflow.error_retry_interval must be zero or positive")
	}
	if c.Workflow.StaleJobTimeout < 0 {
		return errors.New("workflow.stale_job_timeout must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if len(c.API.JWTSecret) < 16 {
		return errors.New("api.jwt_secret must be at least 16 characters when the api is enabled. Set ARCHIVIST_API_SECRET or edit the config file")
	}
	if c.API.TokenTTL <= 0 {
		return errors.New("api.token_ttl must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
