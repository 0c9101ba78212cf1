package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const assetColumns = "id, storage_key, asset_kind, byte_length, content_hash, content_type, provenance, created_at"

func scanAsset(scanner rowScanner) (*Asset, error) {
	var (
		a                      Asset
		kind, prov, createdRaw string
	)
	if err := scanner.Scan(&a.ID, &a.StorageKey, &kind, &a.ByteLength, &a.ContentHash, &a.ContentType, &prov, &createdRaw); err != nil {
		return nil, err
	}
	a.Kind = AssetKind(kind)
	a.Provenance = Provenance(prov)
	a.CreatedAt = parseTimeString(createdRaw)
	return &a, nil
}

// RegisterAsset records an asset by storage key. When the key is already
// registered the existing row is returned unchanged and created is false.
func (s *Store) RegisterAsset(ctx context.Context, asset Asset) (*Asset, bool, error) {
	asset.StorageKey = strings.TrimSpace(asset.StorageKey)
	if asset.StorageKey == "" {
		return nil, false, errors.New("register asset: storage key is required")
	}
	if asset.ContentHash == "" {
		return nil, false, errors.New("register asset: content hash is required")
	}
	if asset.Kind == "" {
		asset.Kind = AssetOther
	}
	if asset.Provenance == "" {
		asset.Provenance = ProvenancePipeline
	}
	if asset.ContentType == "" {
		asset.ContentType = "application/octet-stream"
	}
	proposedID := asset.ID
	if strings.TrimSpace(proposedID) == "" {
		proposedID = uuid.NewString()
	}
	var out *Asset
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanAsset(row)
		return err
	},
		`INSERT INTO assets (id, storage_key, asset_kind, byte_length, content_hash, content_type, provenance, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (storage_key) DO UPDATE SET storage_key = excluded.storage_key
         RETURNING `+assetColumns,
		proposedID, asset.StorageKey, string(asset.Kind), asset.ByteLength, asset.ContentHash,
		asset.ContentType, string(asset.Provenance), formatTime(s.stamp()),
	)
	if err != nil {
		return nil, false, fmt.Errorf("register asset: %w", err)
	}
	return out, out.ID == proposedID, nil
}

// GetAssetByKey fetches an asset by storage key. It returns nil, nil when absent.
func (s *Store) GetAssetByKey(ctx context.Context, key string) (*Asset, error) {
	var out *Asset
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanAsset(row)
		return err
	}, "SELECT "+assetColumns+" FROM assets WHERE storage_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return out, nil
}

// FindAssetsByHash lists assets sharing a content hash, oldest first.
func (s *Store) FindAssetsByHash(ctx context.Context, hash string) ([]*Asset, error) {
	rows, err := s.queryWithRetry(ctx, "SELECT "+assetColumns+" FROM assets WHERE content_hash = ? ORDER BY created_at, id", hash)
	if err != nil {
		return nil, fmt.Errorf("find assets: %w", err)
	}
	defer rows.Close()
	var out []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

// AttachAsset links an asset to a segment. Attaching the same pair twice is a
// no-op; attached reports whether a new link was written.
func (s *Store) AttachAsset(ctx context.Context, segmentID, assetID string, role Role) (bool, error) {
	if segmentID == "" || assetID == "" {
		return false, errors.New("attach asset: segment id and asset id are required")
	}
	if role == "" {
		role = RoleContent
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO segment_assets (segment_id, asset_id, role, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (segment_id, asset_id) DO NOTHING`,
		segmentID, assetID, string(role), formatTime(s.stamp()),
	)
	if err != nil {
		return false, fmt.Errorf("attach asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach asset rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListSegmentAssets returns the assets attached to a segment in storage key order.
func (s *Store) ListSegmentAssets(ctx context.Context, segmentID string) ([]*SegmentAsset, error) {
	rows, err := s.queryWithRetry(ctx,
		`SELECT sa.segment_id, sa.role, sa.created_at,
                a.id, a.storage_key, a.asset_kind, a.byte_length, a.content_hash, a.content_type, a.provenance, a.created_at
         FROM segment_assets sa JOIN assets a ON a.id = sa.asset_id
         WHERE sa.segment_id = ?
         ORDER BY a.storage_key`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment assets: %w", err)
	}
	defer rows.Close()
	var out []*SegmentAsset
	for rows.Next() {
		var (
			sa                     SegmentAsset
			role, attachedRaw      string
			kind, prov, createdRaw string
		)
		if err := rows.Scan(&sa.SegmentID, &role, &attachedRaw,
			&sa.Asset.ID, &sa.Asset.StorageKey, &kind, &sa.Asset.ByteLength, &sa.Asset.ContentHash,
			&sa.Asset.ContentType, &prov, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan segment asset: %w", err)
		}
		sa.Role = Role(role)
		sa.CreatedAt = parseTimeString(attachedRaw)
		sa.Asset.Kind = AssetKind(kind)
		sa.Asset.Provenance = Provenance(prov)
		sa.Asset.CreatedAt = parseTimeString(createdRaw)
		out = append(out, &sa)
	}
	return out, rows.Err()
}
