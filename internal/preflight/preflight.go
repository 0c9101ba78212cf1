package preflight

import (
	"context"

	"archivist/internal/blob"
	"archivist/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Pinger is satisfied by the ledger store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets are the live collaborators RunAll probes. Nil entries are skipped.
type Targets struct {
	Ledger Pinger
	Store  blob.Store
	// Network enables checks that contact remote services.
	Network bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Storage root", cfg.Storage.Root))
	}
	if targets.Ledger != nil {
		results = append(results, CheckLedger(ctx, cfg.Ledger.Driver, targets.Ledger))
	}
	if targets.Store != nil {
		results = append(results, CheckStore(ctx, cfg.Storage.Backend, targets.Store))
	}
	results = append(results, CheckTemplates(cfg.Paths.TemplateDir))
	if targets.Network {
		results = append(results, CheckMangaDex(ctx, cfg.Fetch.MangaDexBaseURL, cfg.Fetch.UserAgent))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
