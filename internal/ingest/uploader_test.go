package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/blob"
	"archivist/internal/digest"
	"archivist/internal/ingest"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
	"archivist/internal/testsupport"
)

// flakyLedger fails the first registerFailures RegisterAsset calls and the
// first attachFailures AttachAsset calls.
type flakyLedger struct {
	*ledger.Store

	mu               sync.Mutex
	registerFailures int
	attachFailures   int
	registerCalls    int
	attachCalls      int
}

func (f *flakyLedger) RegisterAsset(ctx context.Context, asset ledger.Asset) (*ledger.Asset, bool, error) {
	f.mu.Lock()
	f.registerCalls++
	fail := f.registerCalls <= f.registerFailures
	f.mu.Unlock()
	if fail {
		return nil, false, errors.New("connection reset")
	}
	return f.Store.RegisterAsset(ctx, asset)
}

func (f *flakyLedger) AttachAsset(ctx context.Context, segmentID, assetID string, role ledger.Role) (bool, error) {
	f.mu.Lock()
	f.attachCalls++
	fail := f.attachCalls <= f.attachFailures
	f.mu.Unlock()
	if fail {
		return false, errors.New("deadlock detected")
	}
	return f.Store.AttachAsset(ctx, segmentID, assetID, role)
}

func newUploader(t *testing.T, assets ingest.AssetLedger, blobs blob.Store) *ingest.Uploader {
	t.Helper()
	hasher, err := digest.New("sha256")
	require.NoError(t, err)
	return ingest.NewUploader(blobs, assets, hasher, retry.Policy{Attempts: 3}, logging.NewNop())
}

func seedSegment(t *testing.T, store *ledger.Store) *ledger.Segment {
	t.Helper()
	_, edition := testsupport.SeedEdition(t, store, ledger.MediaManhwa)
	return testsupport.SeedSegment(t, store, edition.ID, ledger.SegmentChapter, 1)
}

func TestUploadStoresRegistersAndAttaches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	segment := seedSegment(t, store)
	uploader := newUploader(t, store, blobs)
	ctx := context.Background()

	data := testsupport.JPEG(2048)
	result := uploader.Upload(ctx, ingest.UploadRequest{
		Data:      data,
		Key:       "raw/manhwa/w/e/chapter-1/page-001.jpg",
		Kind:      ledger.AssetRawImage,
		SegmentID: segment.ID,
		Role:      ledger.RolePage,
	})
	require.True(t, result.OK(), "upload error: %v", result.Err)
	assert.True(t, result.Uploaded)
	assert.True(t, result.Created)
	assert.True(t, result.Attached)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, int64(2048), result.Bytes)
	assert.Equal(t, "image/jpeg", blobs.ContentType(result.Key))

	expectedHash, _ := digest.Sum(data)
	asset, err := store.GetAssetByKey(ctx, result.Key)
	require.NoError(t, err)
	require.NotNil(t, asset)
	assert.Equal(t, result.AssetID, asset.ID)
	assert.Equal(t, expectedHash, asset.ContentHash)
	assert.Equal(t, ledger.ProvenancePipeline, asset.Provenance)

	attached, err := store.ListSegmentAssets(ctx, segment.ID)
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.Equal(t, ledger.RolePage, attached[0].Role)
}

func TestUploadIsIdempotentAcrossCalls(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	segment := seedSegment(t, store)
	uploader := newUploader(t, store, blobs)
	ctx := context.Background()

	req := ingest.UploadRequest{
		Data:      []byte("1\n00:00:01,000 --> 00:00:02,000\nHello\n"),
		Key:       "raw/anime/w/e/episode-1/sub-01.srt",
		Kind:      ledger.AssetRawSubtitle,
		SegmentID: segment.ID,
		Role:      ledger.RoleSubtitle,
	}
	first := uploader.Upload(ctx, req)
	second := uploader.Upload(ctx, req)
	require.True(t, first.OK())
	require.True(t, second.OK())

	assert.Equal(t, first.AssetID, second.AssetID)
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.True(t, first.Attached)
	assert.False(t, second.Attached, "second attach is a no-op")
	assert.Equal(t, "text/plain", first.ContentType)

	attached, err := store.ListSegmentAssets(ctx, segment.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 1)
}

func TestUploadRetriesLedgerStepsWithoutReuploading(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	segment := seedSegment(t, store)
	flaky := &flakyLedger{Store: store, registerFailures: 1, attachFailures: 1}
	uploader := newUploader(t, flaky, blobs)

	result := uploader.Upload(context.Background(), ingest.UploadRequest{
		Data:      testsupport.JPEG(1024),
		Key:       "raw/manhwa/w/e/chapter-1/page-002.jpg",
		Kind:      ledger.AssetRawImage,
		SegmentID: segment.ID,
		Role:      ledger.RolePage,
	})
	require.True(t, result.OK(), "upload error: %v", result.Err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 1, result.Puts)
	assert.Equal(t, 1, blobs.PutCount(result.Key))
	assert.True(t, result.Created, "creation on an earlier attempt is still reported")
	assert.Equal(t, 3, flaky.registerCalls)
	assert.Equal(t, 2, flaky.attachCalls)
}

func TestUploadReturnsFailureAsValue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	segment := seedSegment(t, store)
	flaky := &flakyLedger{Store: store, registerFailures: 10}
	uploader := newUploader(t, flaky, blobs)

	result := uploader.Upload(context.Background(), ingest.UploadRequest{
		Data:      testsupport.JPEG(1024),
		Key:       "raw/manhwa/w/e/chapter-1/page-003.jpg",
		SegmentID: segment.ID,
		Role:      ledger.RolePage,
	})
	require.False(t, result.OK())
	assert.Equal(t, ingest.StepRegister, result.FailedStep)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 1, result.Puts)
	assert.True(t, result.Uploaded)
	assert.Contains(t, result.Err.Error(), "connection reset")
}

func TestUploadRejectsMissingKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	uploader := newUploader(t, store, blob.NewMemory())

	result := uploader.Upload(context.Background(), ingest.UploadRequest{Data: []byte("x"), SegmentID: "seg"})
	require.False(t, result.OK())
	assert.True(t, errors.Is(result.Err, services.ErrValidation))
	assert.Zero(t, result.Attempts)
}

func TestUploadHonoursExplicitContentType(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	blobs := blob.NewMemory()
	segment := seedSegment(t, store)
	uploader := newUploader(t, store, blobs)

	result := uploader.Upload(context.Background(), ingest.UploadRequest{
		Data:        []byte("WEBVTT\n"),
		Key:         "raw/anime/w/e/episode-1/sub-01.bin",
		SegmentID:   segment.ID,
		Role:        ledger.RoleSubtitle,
		ContentType: "text/vtt",
	})
	require.True(t, result.OK())
	assert.Equal(t, "text/vtt", blobs.ContentType(result.Key))
}
