package testsupport

import (
	"context"
	"testing"

	"archivist/internal/config"
	"archivist/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedEdition creates a work and one edition for tests.
func SeedEdition(t testing.TB, store *ledger.Store, media ledger.MediaKind) (*ledger.Work, *ledger.Edition) {
	t.Helper()

	ctx := context.Background()
	work, err := store.UpsertWork(ctx, ledger.Work{Title: "Test Work"})
	if err != nil {
		t.Fatalf("UpsertWork: %v", err)
	}
	edition, err := store.UpsertEdition(ctx, ledger.Edition{WorkID: work.ID, MediaKind: media, Provider: "test"})
	if err != nil {
		t.Fatalf("UpsertEdition: %v", err)
	}
	return work, edition
}

// SeedSegment creates one segment in the edition.
func SeedSegment(t testing.TB, store *ledger.Store, editionID string, kind ledger.SegmentKind, ordinal float64) *ledger.Segment {
	t.Helper()

	segment, _, err := store.UpsertSegment(context.Background(), ledger.Segment{EditionID: editionID, Kind: kind, Ordinal: ordinal})
	if err != nil {
		t.Fatalf("UpsertSegment: %v", err)
	}
	return segment
}
