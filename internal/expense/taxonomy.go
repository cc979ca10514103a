package expense

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Uncategorized is the fallback category for unmatched hints
const Uncategorized = "uncategorized"

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Category is one taxonomy label with the keywords that select it
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Taxonomy is the closed set of category labels. It is read-only once built.
type Taxonomy struct {
	categories []Category
	byName     map[string]string
}

// NewTaxonomy builds a taxonomy from an ordered category list
func NewTaxonomy(categories []Category) (*Taxonomy, error) {
	t := &Taxonomy{byName: make(map[string]string, len(categories))}
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		key := strings.ToLower(name)
		switch {
		case name == "":
			return nil, fmt.Errorf("category with empty name")
		case key == Uncategorized:
			return nil, fmt.Errorf("%q is reserved", Uncategorized)
		case t.byName[key] != "":
			return nil, fmt.Errorf("duplicate category %q", name)
		}

		keywords := make([]string, 0, len(c.Keywords))
		for _, k := range c.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		t.byName[key] = name
		t.categories = append(t.categories, Category{Name: name, Keywords: keywords})
	}
	return t, nil
}

// LoadTaxonomy reads a YAML document with a top-level "categories" list
func LoadTaxonomy(r io.Reader) (*Taxonomy, error) {
	var doc struct {
		Categories []Category `yaml:"categories"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding taxonomy: %w", err)
	}
	return NewTaxonomy(doc.Categories)
}

// LoadTaxonomyFile reads a taxonomy from path
func LoadTaxonomyFile(path string) (*Taxonomy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening taxonomy: %w", err)
	}
	defer f.Close()
	return LoadTaxonomy(f)
}

// DefaultTaxonomy returns the embedded taxonomy
func DefaultTaxonomy() *Taxonomy {
	t, err := LoadTaxonomy(strings.NewReader(string(defaultTaxonomy)))
	if err != nil {
		panic(err)
	}
	return t
}

// Match maps free-text hints to a category. Hints are tried in order; for
// each, an exact label match wins over a keyword substring match.
func (t *Taxonomy) Match(hints ...string) string {
	for _, hint := range hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint == "" {
			continue
		}
		if name, ok := t.byName[hint]; ok {
			return name
		}
		for _, c := range t.categories {
			for _, k := range c.Keywords {
				if strings.Contains(hint, k) {
					return c.Name
				}
			}
		}
	}
	return Uncategorized
}

// Contains reports whether name is a label of the taxonomy or the fallback
func (t *Taxonomy) Contains(name string) bool {
	if name == Uncategorized {
		return true
	}
	return t.byName[strings.ToLower(name)] == name
}

// Names lists the labels in configuration order
func (t *Taxonomy) Names() []string {
	names := make([]string, 0, len(t.categories))
	for _, c := range t.categories {
		names = append(names, c.Name)
	}
	return names
}
