// Package templates loads the extraction templates that tell a source
// strategy how to read a site.
//
// Templates are authored as YAML (.yaml, .yml) or JSONC (.json, .jsonc)
// files in paths.template_dir. A small set of built-in templates ships
// embedded in the binary; files on disk with the same name replace them.
package templates

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Strategy names a source implementation.
type Strategy string

const (
	StrategyHTML     Strategy = "html"
	StrategyMangaDex Strategy = "mangadex"
)

// Selector picks elements out of an HTML document. An element matches when
// its tag equals Tag, its class list contains Class (when set), and it sits
// inside an element whose class list contains Within (when set). Attr names
// the attribute to read; an empty Attr reads the element's text.
type Selector struct {
	Tag     string `yaml:"tag" json:"tag"`
	Class   string `yaml:"class,omitempty" json:"class,omitempty"`
	ID      string `yaml:"id,omitempty" json:"id,omitempty"`
	Within  string `yaml:"within,omitempty" json:"within,omitempty"`
	Attr    string `yaml:"attr,omitempty" json:"attr,omitempty"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Discovery configures unit list extraction for the HTML strategy.
type Discovery struct {
	// Links selects anchors to chapter or episode pages.
	Links Selector `yaml:"links" json:"links"`
	// Ordinal extracts the unit number from the anchor text, falling back to
	// the href. The first capture group is parsed as a float.
	Ordinal string `yaml:"ordinal,omitempty" json:"ordinal,omitempty"`
	// Title selects the work title on the source page.
	Title *Selector `yaml:"title,omitempty" json:"title,omitempty"`
}

// Payloads configures payload extraction for the HTML strategy.
type Payloads struct {
	Images    *Selector `yaml:"images,omitempty" json:"images,omitempty"`
	Subtitles *Selector `yaml:"subtitles,omitempty" json:"subtitles,omitempty"`
	Texts     *Selector `yaml:"texts,omitempty" json:"texts,omitempty"`
}

// MangaDex configures the MangaDex API strategy.
type MangaDex struct {
	Language  string `yaml:"language,omitempty" json:"language,omitempty"`
	DataSaver bool   `yaml:"data_saver,omitempty" json:"data_saver,omitempty"`
	PageSize  int    `yaml:"page_size,omitempty" json:"page_size,omitempty"`
}

// Template is one named extraction recipe.
type Template struct {
	Name     string    `yaml:"name" json:"name"`
	Strategy Strategy  `yaml:"strategy" json:"strategy"`
	Hosts    []string  `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Discover Discovery `yaml:"discover,omitempty" json:"discover,omitempty"`
	Payloads Payloads  `yaml:"payloads,omitempty" json:"payloads,omitempty"`
	MangaDex MangaDex  `yaml:"mangadex,omitempty" json:"mangadex,omitempty"`

	// Source is the file the template was read from, or "builtin".
	Source string `yaml:"-" json:"-"`
}

// Validate checks the template is usable by its strategy.
func (t *Template) Validate() error {
	if t == nil {
		return fmt.Errorf("template is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	switch t.Strategy {
	case StrategyHTML:
		if strings.TrimSpace(t.Discover.Links.Tag) == "" {
			return fmt.Errorf("template %s: discover.links.tag is required", t.Name)
		}
		for label, pattern := range map[string]string{
			"discover.ordinal":       t.Discover.Ordinal,
			"discover.links.pattern": t.Discover.Links.Pattern,
		} {
			if pattern == "" {
				continue
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("template %s: %s: %w", t.Name, label, err)
			}
		}
		for label, sel := range map[string]*Selector{
			"payloads.images":    t.Payloads.Images,
			"payloads.subtitles": t.Payloads.Subtitles,
			"payloads.texts":     t.Payloads.Texts,
		} {
			if sel == nil {
				continue
			}
			if strings.TrimSpace(sel.Tag) == "" {
				return fmt.Errorf("template %s: %s.tag is required", t.Name, label)
			}
			if sel.Pattern != "" {
				if _, err := regexp.Compile(sel.Pattern); err != nil {
					return fmt.Errorf("template %s: %s.pattern: %w", t.Name, label, err)
				}
			}
		}
		if t.Payloads.Images == nil && t.Payloads.Subtitles == nil && t.Payloads.Texts == nil {
			return fmt.Errorf("template %s: at least one payload selector is required", t.Name)
		}
	case StrategyMangaDex:
		if t.MangaDex.PageSize < 0 || t.MangaDex.PageSize > 500 {
			return fmt.Errorf("template %s: mangadex.page_size must be between 0 and 500", t.Name)
		}
	default:
		return fmt.Errorf("template %s: unknown strategy %q", t.Name, t.Strategy)
	}
	return nil
}

// MatchesHost reports whether rawURL's host is listed in Hosts. Subdomains of
// a listed host match.
func (t *Template) MatchesHost(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, candidate := range t.Hosts {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}
