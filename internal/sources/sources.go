// Package sources reads unit lists and unit payloads from remote sites.
//
// A Fetcher is driven by an extraction template: the template's strategy
// picks the implementation (HTML scraping or the MangaDex API) and its rules
// tell that implementation what to select. Strategies only read; storage and
// bookkeeping belong to the ingest package.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"archivist/internal/config"
	"archivist/internal/fetch"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/templates"
)

// Unit is one discovered chapter or episode.
type Unit struct {
	Ordinal float64 `json:"ordinal"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url"`
}

// Discovery is the unit list read from a work's source page.
type Discovery struct {
	Title string `json:"title,omitempty"`
	Units []Unit `json:"units"`
}

// Payloads are the items found on one unit page.
type Payloads struct {
	Images    []string `json:"images"`
	Subtitles []string `json:"subtitles"`
	Texts     []string `json:"texts"`
}

// Empty reports whether no group has any item.
func (p Payloads) Empty() bool {
	return len(p.Images) == 0 && len(p.Subtitles) == 0 && len(p.Texts) == 0
}

// Fetcher retrieves unit lists, unit payloads, and raw bytes.
type Fetcher interface {
	DiscoverUnits(ctx context.Context, sourceURL string, tmpl *templates.Template) (Discovery, error)
	FetchUnitPayloads(ctx context.Context, unitURL string, tmpl *templates.Template) (Payloads, error)
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

// Strategy is one site access method.
type Strategy interface {
	DiscoverUnits(ctx context.Context, sourceURL string, tmpl *templates.Template) (Discovery, error)
	FetchUnitPayloads(ctx context.Context, unitURL string, tmpl *templates.Template) (Payloads, error)
}

// Router dispatches to the strategy named by each template.
type Router struct {
	client     *fetch.Client
	strategies map[templates.Strategy]Strategy
	logger     *slog.Logger
}

// NewRouter wires the HTML and MangaDex strategies over client.
func NewRouter(client *fetch.Client, mangaDexBaseURL string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "sources"))
	return &Router{
		client: client,
		strategies: map[templates.Strategy]Strategy{
			templates.StrategyHTML:     NewHTML(client, logger),
			templates.StrategyMangaDex: NewMangaDex(client, mangaDexBaseURL, logger),
		},
		logger: logger,
	}
}

// NewRouterFromConfig builds the fetch client and router from cfg.
func NewRouterFromConfig(cfg *config.Config, logger *slog.Logger) *Router {
	return NewRouter(fetch.NewFromConfig(cfg, logger), cfg.Fetch.MangaDexBaseURL, logger)
}

func (r *Router) strategy(tmpl *templates.Template) (Strategy, error) {
	if tmpl == nil {
		return nil, services.Wrap(services.ErrValidation, "sources", "route", "template is required", nil)
	}
	s, ok := r.strategies[tmpl.Strategy]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "sources", "route", fmt.Sprintf("no strategy %q", tmpl.Strategy), nil)
	}
	return s, nil
}

// DiscoverUnits implements Fetcher. Units come back sorted by ordinal with
// duplicate ordinals removed; the first occurrence wins.
func (r *Router) DiscoverUnits(ctx context.Context, sourceURL string, tmpl *templates.Template) (Discovery, error) {
	s, err := r.strategy(tmpl)
	if err != nil {
		return Discovery{}, err
	}
	discovery, err := s.DiscoverUnits(ctx, sourceURL, tmpl)
	if err != nil {
		return Discovery{}, err
	}
	discovery.Title = CleanTitle(discovery.Title)
	discovery.Units = dedupeUnits(discovery.Units)
	if len(discovery.Units) == 0 {
		return Discovery{}, services.Wrap(services.ErrValidation, "sources", "discover", fmt.Sprintf("template %s matched no units at %s", tmpl.Name, sourceURL), nil)
	}
	r.logger.Debug("units discovered",
		logging.String("template", tmpl.Name),
		logging.String("source_url", sourceURL),
		logging.Int("units", len(discovery.Units)),
	)
	return discovery, nil
}

// FetchUnitPayloads implements Fetcher. A page with no items in any group is
// a validation failure since it usually means the template no longer fits.
func (r *Router) FetchUnitPayloads(ctx context.Context, unitURL string, tmpl *templates.Template) (Payloads, error) {
	s, err := r.strategy(tmpl)
	if err != nil {
		return Payloads{}, err
	}
	payloads, err := s.FetchUnitPayloads(ctx, unitURL, tmpl)
	if err != nil {
		return Payloads{}, err
	}
	payloads.Images = dedupeStrings(payloads.Images)
	payloads.Subtitles = dedupeStrings(payloads.Subtitles)
	if payloads.Empty() {
		return Payloads{}, services.Wrap(services.ErrValidation, "sources", "payloads", fmt.Sprintf("template %s matched no payloads at %s", tmpl.Name, unitURL), nil)
	}
	return payloads, nil
}

// FetchBytes implements Fetcher.
func (r *Router) FetchBytes(ctx context.Context, rawURL string) ([]byte, error) {
	return r.client.Get(ctx, rawURL)
}

// CleanTitle normalizes a scraped title to NFC with collapsed whitespace.
func CleanTitle(title string) string {
	return strings.Join(strings.Fields(norm.NFC.String(title)), " ")
}

func dedupeUnits(units []Unit) []Unit {
	seen := make(map[float64]struct{}, len(units))
	out := make([]Unit, 0, len(units))
	for _, unit := range units {
		if unit.Ordinal < 0 || strings.TrimSpace(unit.URL) == "" {
			continue
		}
		if _, ok := seen[unit.Ordinal]; ok {
			continue
		}
		seen[unit.Ordinal] = struct{}{}
		unit.Title = CleanTitle(unit.Title)
		out = append(out, unit)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
