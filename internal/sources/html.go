package sources

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"archivist/internal/fetch"
	"archivist/internal/logging"
	"archivist/internal/services"
	"archivist/internal/templates"
)

// HTML scrapes pages with template selectors.
type HTML struct {
	client *fetch.Client
	logger *slog.Logger
}

// NewHTML returns the HTML strategy.
func NewHTML(client *fetch.Client, logger *slog.Logger) *HTML {
	return &HTML{client: client, logger: logger}
}

// DiscoverUnits reads the anchors selected by tmpl.Discover.Links and turns
// each one whose text or href yields an ordinal into a Unit.
func (h *HTML) DiscoverUnits(ctx context.Context, sourceURL string, tmpl *templates.Template) (Discovery, error) {
	doc, base, err := h.load(ctx, sourceURL)
	if err != nil {
		return Discovery{}, err
	}
	ordinalRE, err := compileOptional(tmpl.Discover.Ordinal)
	if err != nil {
		return Discovery{}, services.Wrap(services.ErrValidation, "sources", "discover", "ordinal pattern", err)
	}
	if ordinalRE == nil {
		ordinalRE = defaultOrdinalPattern
	}

	links := tmpl.Discover.Links
	if links.Attr == "" {
		links.Attr = "href"
	}
	var discovery Discovery
	for _, match := range selectNodes(doc, links) {
		href := resolveURL(base, attrValue(match, links.Attr))
		if href == "" {
			continue
		}
		text := nodeText(match)
		if !matchesPattern(links.Pattern, text, href) {
			continue
		}
		ordinal, ok := extractOrdinal(ordinalRE, text, href)
		if !ok {
			h.logger.Debug("link skipped; no ordinal", logging.String("href", href))
			continue
		}
		discovery.Units = append(discovery.Units, Unit{Ordinal: ordinal, Title: text, URL: href})
	}
	if tmpl.Discover.Title != nil {
		if nodes := selectNodes(doc, *tmpl.Discover.Title); len(nodes) > 0 {
			discovery.Title = readValue(base, nodes[0], tmpl.Discover.Title.Attr)
		}
	}
	return discovery, nil
}

// FetchUnitPayloads reads images, subtitle links, and text blocks from a
// unit page.
func (h *HTML) FetchUnitPayloads(ctx context.Context, unitURL string, tmpl *templates.Template) (Payloads, error) {
	doc, base, err := h.load(ctx, unitURL)
	if err != nil {
		return Payloads{}, err
	}
	var payloads Payloads
	if sel := tmpl.Payloads.Images; sel != nil {
		payloads.Images = collectURLs(doc, base, *sel, "src")
	}
	if sel := tmpl.Payloads.Subtitles; sel != nil {
		payloads.Subtitles = collectURLs(doc, base, *sel, "href")
	}
	if sel := tmpl.Payloads.Texts; sel != nil {
		for _, node := range selectNodes(doc, *sel) {
			text := nodeText(node)
			if text == "" || !matchesPattern(sel.Pattern, text, "") {
				continue
			}
			payloads.Texts = append(payloads.Texts, text)
		}
	}
	return payloads, nil
}

func (h *HTML) load(ctx context.Context, pageURL string) (*html.Node, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "sources", "parse url", pageURL, err)
	}
	body, err := h.client.Get(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, services.Wrap(services.ErrValidation, "sources", "parse html", pageURL, err)
	}
	if baseHref := findBaseHref(doc); baseHref != "" {
		if resolved, err := base.Parse(baseHref); err == nil {
			base = resolved
		}
	}
	return doc, base, nil
}

var defaultOrdinalPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

func extractOrdinal(re *regexp.Regexp, candidates ...string) (float64, bool) {
	for _, candidate := range candidates {
		m := re.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			continue
		}
		return value, true
	}
	return 0, false
}

// matchesPattern reports whether pattern matches any non-empty value. An
// empty pattern matches everything. Patterns are validated when templates
// load, so a compile failure here is treated as no match.
func matchesPattern(pattern string, values ...string) bool {
	if pattern == "" {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	for _, v := range values {
		if v != "" && re.MatchString(v) {
			return true
		}
	}
	return false
}

func collectURLs(doc *html.Node, base *url.URL, sel templates.Selector, defaultAttr string) []string {
	attr := sel.Attr
	if attr == "" {
		attr = defaultAttr
	}
	var out []string
	for _, node := range selectNodes(doc, sel) {
		raw := attrValue(node, attr)
		if raw == "" && attr == "src" {
			raw = attrValue(node, "data-src")
		}
		resolved := resolveURL(base, raw)
		if resolved == "" || !matchesPattern(sel.Pattern, resolved) {
			continue
		}
		out = append(out, resolved)
	}
	return out
}

func readValue(base *url.URL, node *html.Node, attr string) string {
	if attr == "" {
		return nodeText(node)
	}
	if attr == "href" || attr == "src" {
		return resolveURL(base, attrValue(node, attr))
	}
	return strings.TrimSpace(attrValue(node, attr))
}

// selectNodes walks doc in document order and returns elements matching sel.
func selectNodes(doc *html.Node, sel templates.Selector) []*html.Node {
	tag := strings.ToLower(strings.TrimSpace(sel.Tag))
	var out []*html.Node
	var walk func(n *html.Node, inside bool)
	walk = func(n *html.Node, inside bool) {
		if n.Type == html.ElementNode {
			if n.Data == tag && (sel.Within == "" || inside) &&
				(sel.Class == "" || hasClass(n, sel.Class)) &&
				(sel.ID == "" || attrValue(n, "id") == sel.ID) {
				out = append(out, n)
			}
			if sel.Within != "" && hasClass(n, sel.Within) {
				inside = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inside)
		}
	}
	walk(doc, false)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return CleanTitle(b.String())
}

func findBaseHref(doc *html.Node) string {
	for _, n := range selectNodes(doc, templates.Selector{Tag: "base"}) {
		if href := attrValue(n, "href"); href != "" {
			return href
		}
	}
	return ""
}

func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
