package config

import "time"

const (
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"

	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

const (
	defaultStateDir             = "~/.local/share/archivist"
	defaultLogDir               = "~/.local/share/archivist/logs"
	defaultTemplateDir          = "~/.config/archivist/templates"
	defaultLedgerPath           = "~/.local/share/archivist/ledger.db"
	defaultStorageRoot          = "~/.local/share/archivist/objects"
	defaultStorageTimeout       = 120
	defaultDigest               = "sha256"
	defaultUserAgent            = "archivist/dev (+https://github.com/archivist)"
	defaultFetchTimeout         = 30
	defaultFetchAttempts        = 3
	defaultFetchBaseDelayMS     = 1000
	defaultFetchMaxDelay        = 32
	defaultImageDelayMS         = 500
	defaultRequestsPerSecond    = 2
	defaultMinImageBytes        = 512
	defaultMangaDexBaseURL      = "https://api.mangadex.org"
	defaultUploadAttempts       = 3
	defaultUploadBaseDelayMS    = 1000
	defaultPollInterval         = 10
	defaultPollLimit            = 1
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultTokenTTL             = 3600
	defaultNotifyRequestTimeout = 10
	defaultNotifyJobFailures    = true
	defaultNotifyJobCompletions = false
	defaultErrorRetryInterval   = 0
	defaultStaleJobTimeout      = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			TemplateDir: defaultTemplateDir,
		},
		Ledger: Ledger{
			Driver: LedgerSQLite,
			Path:   defaultLedgerPath,
		},
		Storage: Storage{
			Backend:          StorageLocal,
			Root:             defaultStorageRoot,
			OperationTimeout: defaultStorageTimeout,
			Digest:           defaultDigest,
		},
		Fetch: Fetch{
			UserAgent:         defaultUserAgent,
			RequestTimeout:    defaultFetchTimeout,
			Attempts:          defaultFetchAttempts,
			BaseDelayMS:       defaultFetchBaseDelayMS,
			MaxDelay:          defaultFetchMaxDelay,
			ImageDelayMS:      defaultImageDelayMS,
			RequestsPerSecond: defaultRequestsPerSecond,
			MinImageBytes:     defaultMinImageBytes,
			MangaDexBaseURL:   defaultMangaDexBaseURL,
		},
		Upload: Upload{
			Attempts:    defaultUploadAttempts,
			BaseDelayMS: defaultUploadBaseDelayMS,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			PollLimit:          defaultPollLimit,
			StaleJobTimeout:    defaultStaleJobTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		API: API{
			Bind:     defaultAPIBind,
			TokenTTL: defaultTokenTTL,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFailures:    defaultNotifyJobFailures,
			JobCompletions: defaultNotifyJobCompletions,
		},
	}
}

// PollInterval returns the idle sleep between job polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// ErrorRetryInterval returns the sleep after a failed poll. It falls back to
// the poll interval when unset.
func (c *Config) ErrorRetryInterval() time.Duration {
	if c.Workflow.ErrorRetryInterval <= 0 {
		return c.PollInterval()
	}
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

// StaleJobTimeout returns how long a job may stay running before the daemon
// returns it to the queue. Zero disables reclaiming.
func (c *Config) StaleJobTimeout() time.Duration {
	return time.Duration(c.Workflow.StaleJobTimeout) * time.Minute
}

// FetchTimeout returns the absolute timeout applied to each remote request.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.RequestTimeout) * time.Second
}

// StorageTimeout returns the absolute timeout applied to each content store call.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.OperationTimeout) * time.Second
}

// TokenTTL returns the lifetime of issued admin API tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTL) * time.Second
}
