package templates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"archivist/internal/services"
)

//go:embed builtin/*
var builtinFS embed.FS

// Catalog holds templates by name.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewCatalog returns a catalog seeded with the built-in templates.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*Template)}
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin templates: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin template %s: %w", entry.Name(), err)
		}
		tmpl, err := Parse(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		tmpl.Source = "builtin"
		if err := c.Add(tmpl); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load returns the built-in catalog overlaid with every template file in dir.
// A missing directory is not an error.
func Load(dir string) (*Catalog, error) {
	c, err := NewCatalog()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return c, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tmpl, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := c.Add(tmpl); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ReadFile parses one template file.
func ReadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tmpl, err := Parse(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}
	tmpl.Source = path
	return tmpl, nil
}

// Parse decodes a template document. The format is chosen by the file
// extension of name. A template without a name takes the file's base name.
func Parse(name string, data []byte) (*Template, error) {
	var tmpl Template
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(data))))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&tmpl); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&tmpl); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("template %s: unsupported extension", name)
	}
	if strings.TrimSpace(tmpl.Name) == "" {
		tmpl.Name = NameFromPath(name)
	}
	tmpl.Strategy = Strategy(strings.ToLower(strings.TrimSpace(string(tmpl.Strategy))))
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// NameFromPath strips the directory and extension from path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Add registers tmpl, replacing any template with the same name.
func (c *Catalog) Add(tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[tmpl.Name] = tmpl
	return nil
}

// Get returns the named template. Unknown names are a validation error.
func (c *Catalog) Get(name string) (*Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.templates[strings.TrimSpace(name)]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "templates", "lookup", fmt.Sprintf("unknown template %q", name), nil)
	}
	return tmpl, nil
}

// ForURL returns the first template, by name, whose hosts match rawURL.
func (c *Catalog) ForURL(rawURL string) (*Template, bool) {
	for _, tmpl := range c.List() {
		if tmpl.MatchesHost(rawURL) {
			return tmpl, true
		}
	}
	return nil, false
}

// List returns every template sorted by name.
func (c *Catalog) List() []*Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Template, 0, len(c.templates))
	for _, tmpl := range c.templates {
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isTemplateFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
