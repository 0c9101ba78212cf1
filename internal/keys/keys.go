// Package keys builds content store object keys.
//
// Layout:
//
//	raw/<media>/<workId>/<editionId>/segments.json
//	raw/<media>/<workId>/<editionId>/<segmentKind>-<ordinal>/manifest.json
//	raw/<media>/<workId>/<editionId>/<segmentKind>-<ordinal>/page-001.jpg
//	raw/<media>/<workId>/<editionId>/<segmentKind>-<ordinal>/sub-01.vtt
//	raw/<media>/<workId>/<editionId>/<segmentKind>-<ordinal>/text-01.txt
package keys

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

const (
	rootPrefix       = "raw"
	editionManifest  = "segments.json"
	segmentManifest  = "manifest.json"
	defaultExtension = "bin"
)

// Edition addresses the key space of one edition.
type Edition struct {
	Media     string
	WorkID    string
	EditionID string
}

// Prefix returns raw/<media>/<workId>/<editionId>.
func (e Edition) Prefix() string {
	return path.Join(rootPrefix, e.Media, e.WorkID, e.EditionID)
}

// Manifest returns the key of the edition's discovered-segments listing.
func (e Edition) Manifest() string {
	return e.Prefix() + "/" + editionManifest
}

// Segment scopes e to one segment.
func (e Edition) Segment(kind string, ordinal float64) Segment {
	return Segment{Edition: e, Kind: kind, Ordinal: ordinal}
}

// Segment addresses the key space of one segment.
type Segment struct {
	Edition
	Kind    string
	Ordinal float64
}

// Dir returns raw/<media>/<workId>/<editionId>/<kind>-<ordinal>.
func (s Segment) Dir() string {
	return s.Edition.Prefix() + "/" + s.Kind + "-" + FormatOrdinal(s.Ordinal)
}

// Manifest returns the key of the segment's payload listing.
func (s Segment) Manifest() string {
	return s.Dir() + "/" + segmentManifest
}

// Page returns the key of the 1-based image index.
func (s Segment) Page(index int, ext string) string {
	return fmt.Sprintf("%s/page-%03d.%s", s.Dir(), index, cleanExtension(ext))
}

// Subtitle returns the key of the 1-based subtitle index.
func (s Segment) Subtitle(index int, ext string) string {
	return fmt.Sprintf("%s/sub-%02d.%s", s.Dir(), index, cleanExtension(ext))
}

// Text returns the key of the 1-based text block index.
func (s Segment) Text(index int) string {
	return fmt.Sprintf("%s/text-%02d.txt", s.Dir(), index)
}

// FormatOrdinal renders an ordinal without padding or trailing zeros:
// 5 -> "5", 5.5 -> "5.5".
func FormatOrdinal(ordinal float64) string {
	return strconv.FormatFloat(ordinal, 'f', -1, 64)
}

// ExtensionFromURL returns the lowercase extension of the URL path without the
// dot, or "" when there is none.
func ExtensionFromURL(rawURL string) string {
	trimmed := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		trimmed = u.Path
	} else if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.ToLower(path.Ext(trimmed))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/:") {
		return ""
	}
	return ext
}

func cleanExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return defaultExtension
	}
	return ext
}
