package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"archivist/internal/blob"
	"archivist/internal/config"
	"archivist/internal/ingest"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/sources"
	"archivist/internal/templates"
	"archivist/internal/testsupport"
)

type testEnv struct {
	cfg     *config.Config
	ledger  *ledger.Store
	blobs   *blob.Memory
	fetcher *testsupport.FakeFetcher
	svc     *ingest.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake := testsupport.NewFakeFetcher()
	env := newTestEnvWithFetcher(t, fake)
	env.fetcher = fake
	return env
}

func newTestEnvWithFetcher(t *testing.T, fetcher sources.Fetcher, tweaks ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryStorage())
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	catalog, err := templates.NewCatalog()
	require.NoError(t, err)

	svc, err := ingest.NewService(cfg, ingest.Deps{
		Ledger:  store,
		Store:   blobs,
		Fetcher: fetcher,
		Catalog: catalog,
		Logger:  logging.NewNop(),
	})
	require.NoError(t, err)
	return &testEnv{cfg: cfg, ledger: store, blobs: blobs, svc: svc}
}

func (e *testEnv) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := e.blobs.List(context.Background(), prefix)
	require.NoError(t, err)
	return keys
}

func (e *testEnv) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := e.blobs.Get(context.Background(), key)
	return err == nil
}
