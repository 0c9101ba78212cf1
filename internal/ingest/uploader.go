package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"archivist/internal/blob"
	"archivist/internal/digest"
	"archivist/internal/ledger"
	"archivist/internal/logging"
	"archivist/internal/retry"
	"archivist/internal/services"
)

// AssetLedger is the part of the ledger the uploader writes to.
type AssetLedger interface {
	RegisterAsset(ctx context.Context, asset ledger.Asset) (*ledger.Asset, bool, error)
	AttachAsset(ctx context.Context, segmentID, assetID string, role ledger.Role) (bool, error)
}

// Upload steps, reported in UploadResult.FailedStep and in logs.
const (
	StepStore    = "store"
	StepRegister = "register"
	StepAttach   = "attach"
)

// UploadRequest describes one payload to persist and link.
type UploadRequest struct {
	Data       []byte
	Key        string
	Kind       ledger.AssetKind
	SegmentID  string
	Role       ledger.Role
	Provenance ledger.Provenance
	// ContentType overrides sniffing when set.
	ContentType string
}

// UploadResult reports the outcome of Upload. Err is nil on success.
type UploadResult struct {
	AssetID     string
	Key         string
	ContentType string
	Hash        string
	Bytes       int64
	Attempts    int
	Puts        int
	Uploaded    bool
	Created     bool
	Attached    bool
	FailedStep  string
	Err         error
}

// OK reports whether all three steps completed.
func (r UploadResult) OK() bool { return r.Err == nil }

// Uploader stores a payload, registers it by storage key, and attaches it
// to a segment. Each step is safe to repeat, so a failed call may be retried
// as a whole.
type Uploader struct {
	store  blob.Store
	ledger AssetLedger
	hasher digest.Hasher
	policy retry.Policy
	logger *slog.Logger
}

// NewUploader wires an Uploader.
func NewUploader(store blob.Store, assets AssetLedger, hasher digest.Hasher, policy retry.Policy, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Uploader{
		store:  store,
		ledger: assets,
		hasher: hasher,
		policy: policy,
		logger: logger.With(logging.String(logging.FieldComponent, "uploader")),
	}
}

// Upload runs store, register, and attach under the retry policy. Once the
// store has accepted the bytes they are not sent again within this call; only
// the ledger steps repeat. Failure is returned in the result, never panicked.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) UploadResult {
	result := UploadResult{Key: strings.TrimSpace(req.Key)}
	if result.Key == "" || strings.TrimSpace(req.SegmentID) == "" {
		result.Err = services.Wrap(services.ErrValidation, "upload", "validate", "key and segment id are required", nil)
		return result
	}

	result.Hash, result.Bytes = u.hasher.Sum(req.Data)
	result.ContentType = req.ContentType
	if result.ContentType == "" {
		result.ContentType = blob.DetectContentType(path.Base(result.Key), req.Data)
	}
	kind := req.Kind
	if kind == "" {
		kind = ledger.AssetOther
	}
	provenance := req.Provenance
	if provenance == "" {
		provenance = ledger.ProvenancePipeline
	}
	logger := logging.WithContext(ctx, u.logger).With(
		logging.StorageKey(result.Key),
		logging.SegmentID(req.SegmentID),
	)

	err := retry.Do(ctx, u.policy, logger, "asset upload", func(ctx context.Context, attempt int) error {
		result.Attempts = attempt + 1
		step, err := u.attempt(ctx, &result, req, kind, provenance)
		if err != nil {
			result.FailedStep = step
			logger.Debug("asset upload step failed",
				logging.Event("asset_upload_retry"),
				logging.String("step", step),
				logging.Attempt(attempt+1),
				logging.Bool("uploaded", result.Uploaded),
				logging.Error(err),
			)
			return fmt.Errorf("%s: %w", step, err)
		}
		result.FailedStep = ""
		return nil
	})
	if err != nil {
		result.Err = err
		logging.WarnWithContext(logger, "asset upload failed", "asset_upload_failed",
			logging.String("step", result.FailedStep),
			logging.Int("attempts", result.Attempts),
			logging.Bool("uploaded", result.Uploaded),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item counted as failed"),
		)
		return result
	}
	return result
}

func (u *Uploader) attempt(ctx context.Context, result *UploadResult, req UploadRequest, kind ledger.AssetKind, provenance ledger.Provenance) (string, error) {
	if !result.Uploaded {
		result.Puts++
		if _, err := u.store.Put(ctx, result.Key, req.Data, result.ContentType); err != nil {
			return StepStore, err
		}
		result.Uploaded = true
	}

	asset, created, err := u.ledger.RegisterAsset(ctx, ledger.Asset{
		StorageKey:  result.Key,
		Kind:        kind,
		ByteLength:  result.Bytes,
		ContentHash: result.Hash,
		ContentType: result.ContentType,
		Provenance:  provenance,
	})
	if err != nil {
		return StepRegister, err
	}
	if asset == nil {
		return StepRegister, errors.New("ledger returned no asset")
	}
	result.AssetID = asset.ID
	result.Created = result.Created || created

	attached, err := u.ledger.AttachAsset(ctx, req.SegmentID, asset.ID, req.Role)
	if err != nil {
		return StepAttach, err
	}
	result.Attached = attached
	return "", nil
}
