package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeFetch()
	c.normalizeAPI()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TemplateDir, err = expandPath(c.Paths.TemplateDir); err != nil {
		return fmt.Errorf("paths.template_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLedger() error {
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerSQLite
	}
	if c.Ledger.Driver == "postgresql" || c.Ledger.Driver == "pgx" {
		c.Ledger.Driver = LedgerPostgres
	}
	if c.Ledger.DSN == "" {
		if value, ok := os.LookupEnv("ARCHIVIST_DATABASE_URL"); ok {
			c.Ledger.DSN = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = defaultLedgerPath
	}
	var err error
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if c.Storage.Bucket == "" {
		if value, ok := os.LookupEnv("ARCHIVIST_GCS_BUCKET"); ok {
			c.Storage.Bucket = strings.TrimSpace(value)
		}
	}
	if c.Storage.CredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.Storage.CredentialsFile = strings.TrimSpace(value)
		}
	}
	c.Storage.Digest = strings.ToLower(strings.TrimSpace(c.Storage.Digest))
	if c.Storage.Digest == "" {
		c.Storage.Digest = defaultDigest
	}
	if c.Storage.OperationTimeout <= 0 {
		c.Storage.OperationTimeout = defaultStorageTimeout
	}
	var err error
	if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	if c.Storage.CredentialsFile, err = expandPath(c.Storage.CredentialsFile); err != nil {
		return fmt.Errorf("storage.credentials_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeFetch() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}
	c.Fetch.MangaDexBaseURL = strings.TrimRight(strings.TrimSpace(c.Fetch.MangaDexBaseURL), "/")
	if c.Fetch.MangaDexBaseURL == "" {
		c.Fetch.MangaDexBaseURL = defaultMangaDexBaseURL
	}
	if c.Fetch.MaxDelay <= 0 {
		c.Fetch.MaxDelay = defaultFetchMaxDelay
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.JWTSecret == "" {
		if value, ok := os.LookupEnv("ARCHIVIST_API_SECRET"); ok {
			c.API.JWTSecret = value
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
