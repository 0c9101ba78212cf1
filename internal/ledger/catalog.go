package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	workColumns    = "id, title, created_at, updated_at"
	editionColumns = "id, work_id, media_kind, provider, canonical_url, official, created_at, updated_at"
	segmentColumns = "id, edition_id, segment_kind, ordinal, title, canonical_url, created_at, updated_at"
)

type rowScanner interface{ Scan(dest ...any) error }

func scanWork(scanner rowScanner) (*Work, error) {
	var (
		w                  Work
		createdRaw, updRaw string
	)
	if err := scanner.Scan(&w.ID, &w.Title, &createdRaw, &updRaw); err != nil {
		return nil, err
	}
	w.CreatedAt = parseTimeString(createdRaw)
	w.UpdatedAt = parseTimeString(updRaw)
	return &w, nil
}

func scanEdition(scanner rowScanner) (*Edition, error) {
	var (
		e                  Edition
		media              string
		canonical          sql.NullString
		createdRaw, updRaw string
	)
	if err := scanner.Scan(&e.ID, &e.WorkID, &media, &e.Provider, &canonical, &e.Official, &createdRaw, &updRaw); err != nil {
		return nil, err
	}
	e.MediaKind = MediaKind(media)
	e.CanonicalURL = canonical.String
	e.CreatedAt = parseTimeString(createdRaw)
	e.UpdatedAt = parseTimeString(updRaw)
	return &e, nil
}

func scanSegment(scanner rowScanner) (*Segment, error) {
	var (
		seg                Segment
		kind               string
		title, canonical   sql.NullString
		createdRaw, updRaw string
	)
	if err := scanner.Scan(&seg.ID, &seg.EditionID, &kind, &seg.Ordinal, &title, &canonical, &createdRaw, &updRaw); err != nil {
		return nil, err
	}
	seg.Kind = SegmentKind(kind)
	seg.Title = title.String
	seg.CanonicalURL = canonical.String
	seg.CreatedAt = parseTimeString(createdRaw)
	seg.UpdatedAt = parseTimeString(updRaw)
	return &seg, nil
}

// UpsertWork inserts the work or corrects the title of the existing row.
// An empty ID is assigned a new UUID.
func (s *Store) UpsertWork(ctx context.Context, work Work) (*Work, error) {
	work.Title = strings.TrimSpace(work.Title)
	if work.Title == "" {
		return nil, errors.New("upsert work: title is required")
	}
	if strings.TrimSpace(work.ID) == "" {
		work.ID = uuid.NewString()
	}
	now := formatTime(s.stamp())
	var out *Work
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanWork(row)
		return err
	},
		`INSERT INTO works (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
         RETURNING `+workColumns,
		work.ID, work.Title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert work: %w", err)
	}
	return out, nil
}

// GetWork fetches a work by ID. It returns nil, nil when absent.
func (s *Store) GetWork(ctx context.Context, id string) (*Work, error) {
	var out *Work
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanWork(row)
		return err
	}, "SELECT "+workColumns+" FROM works WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work: %w", err)
	}
	return out, nil
}

// UpsertEdition creates the edition for (work, provider, media kind) on first
// discovery and returns the existing row afterwards, refreshing its URL and
// official flag.
func (s *Store) UpsertEdition(ctx context.Context, edition Edition) (*Edition, error) {
	edition.Provider = strings.TrimSpace(edition.Provider)
	if edition.WorkID == "" || edition.Provider == "" || edition.MediaKind == "" {
		return nil, errors.New("upsert edition: work id, provider, and media kind are required")
	}
	if strings.TrimSpace(edition.ID) == "" {
		edition.ID = uuid.NewString()
	}
	now := formatTime(s.stamp())
	var out *Edition
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanEdition(row)
		return err
	},
		`INSERT INTO editions (id, work_id, media_kind, provider, canonical_url, official, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (work_id, provider, media_kind) DO UPDATE SET
             canonical_url = COALESCE(excluded.canonical_url, editions.canonical_url),
             official = excluded.official,
             updated_at = excluded.updated_at
         RETURNING `+editionColumns,
		edition.ID, edition.WorkID, string(edition.MediaKind), edition.Provider,
		nullableString(edition.CanonicalURL), edition.Official, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert edition: %w", err)
	}
	return out, nil
}

// GetEdition fetches an edition by ID. It returns nil, nil when absent.
func (s *Store) GetEdition(ctx context.Context, id string) (*Edition, error) {
	var out *Edition
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanEdition(row)
		return err
	}, "SELECT "+editionColumns+" FROM editions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get edition: %w", err)
	}
	return out, nil
}

// ListEditions returns the editions of a work ordered by provider.
func (s *Store) ListEditions(ctx context.Context, workID string) ([]*Edition, error) {
	rows, err := s.queryWithRetry(ctx, "SELECT "+editionColumns+" FROM editions WHERE work_id = ? ORDER BY provider, media_kind", workID)
	if err != nil {
		return nil, fmt.Errorf("list editions: %w", err)
	}
	defer rows.Close()
	var out []*Edition
	for rows.Next() {
		edition, err := scanEdition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edition: %w", err)
		}
		out = append(out, edition)
	}
	return out, rows.Err()
}

// UpsertSegment inserts the segment or, when (edition, kind, ordinal) already
// exists, corrects its title and URL in place. created reports whether a new
// row was written.
func (s *Store) UpsertSegment(ctx context.Context, segment Segment) (*Segment, bool, error) {
	if segment.EditionID == "" || segment.Kind == "" {
		return nil, false, errors.New("upsert segment: edition id and kind are required")
	}
	if segment.Ordinal < 0 {
		return nil, false, fmt.Errorf("upsert segment: ordinal %v must not be negative", segment.Ordinal)
	}
	proposedID := segment.ID
	if strings.TrimSpace(proposedID) == "" {
		proposedID = uuid.NewString()
	}
	now := formatTime(s.stamp())
	var out *Segment
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanSegment(row)
		return err
	},
		`INSERT INTO segments (id, edition_id, segment_kind, ordinal, title, canonical_url, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (edition_id, segment_kind, ordinal) DO UPDATE SET
             title = COALESCE(excluded.title, segments.title),
             canonical_url = COALESCE(excluded.canonical_url, segments.canonical_url),
             updated_at = excluded.updated_at
         RETURNING `+segmentColumns,
		proposedID, segment.EditionID, string(segment.Kind), segment.Ordinal,
		nullableString(segment.Title), nullableString(segment.CanonicalURL), now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert segment: %w", err)
	}
	return out, out.ID == proposedID, nil
}

// GetSegment fetches a segment by ID. It returns nil, nil when absent.
func (s *Store) GetSegment(ctx context.Context, id string) (*Segment, error) {
	var out *Segment
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanSegment(row)
		return err
	}, "SELECT "+segmentColumns+" FROM segments WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return out, nil
}

// FindSegment looks a segment up by its natural key. It returns nil, nil when absent.
func (s *Store) FindSegment(ctx context.Context, editionID string, kind SegmentKind, ordinal float64) (*Segment, error) {
	var out *Segment
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		var err error
		out, err = scanSegment(row)
		return err
	}, "SELECT "+segmentColumns+" FROM segments WHERE edition_id = ? AND segment_kind = ? AND ordinal = ?",
		editionID, string(kind), ordinal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find segment: %w", err)
	}
	return out, nil
}

// ListSegments returns an edition's segments ordered by ordinal.
func (s *Store) ListSegments(ctx context.Context, editionID string) ([]*Segment, error) {
	rows, err := s.queryWithRetry(ctx, "SELECT "+segmentColumns+" FROM segments WHERE edition_id = ? ORDER BY ordinal, segment_kind", editionID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()
	var out []*Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, segment)
	}
	return out, rows.Err()
}

// SegmentHasAssets reports whether at least one asset is attached to the segment.
func (s *Store) SegmentHasAssets(ctx context.Context, segmentID string) (bool, error) {
	var exists int
	err := s.queryRowWithRetry(ctx, func(row *sql.Row) error {
		return row.Scan(&exists)
	}, "SELECT COUNT(1) FROM (SELECT 1 FROM segment_assets WHERE segment_id = ? LIMIT 1) AS attached", segmentID)
	if err != nil {
		return false, fmt.Errorf("check segment assets: %w", err)
	}
	return exists > 0, nil
}
