// Package catalog loads the category catalog: the provider verticals that
// are synced and the query terms each upstream source is searched with.
package catalog

import (
	"context"
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/provider-sync/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// Catalog is an ordered list of categories keyed by slug.
type Catalog struct {
	Categories []model.Category `yaml:"categories"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(eris.Wrap(err, "catalog: built-in catalog is invalid"))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a catalog document. The YAML has a top-level "catalog" key.
func Parse(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	c := &wrapper.Catalog
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate requires a slug and a name on every category, unique slugs and
// at least one upstream query term.
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return eris.New("catalog: no categories defined")
	}
	seen := make(map[string]bool, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		cat.Slug = strings.ToLower(strings.TrimSpace(cat.Slug))
		switch {
		case cat.Slug == "":
			return eris.Errorf("catalog: category %d has no slug", i)
		case cat.Name == "":
			return eris.Errorf("catalog: category %s has no name", cat.Slug)
		case cat.GoogleQuery == "" && cat.YelpAlias == "":
			return eris.Errorf("catalog: category %s has no google_query or yelp_alias", cat.Slug)
		case seen[cat.Slug]:
			return eris.Errorf("catalog: duplicate category %s", cat.Slug)
		}
		seen[cat.Slug] = true
	}
	return nil
}

// Get returns the category for slug.
func (c *Catalog) Get(slug string) (model.Category, bool) {
	for _, cat := range c.Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return model.Category{}, false
}

// Slugs lists the catalog's slugs in order.
func (c *Catalog) Slugs() []string {
	out := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		out[i] = cat.Slug
	}
	return out
}

// Select returns the categories named by slugs, or all of them when slugs
// is empty. Unknown slugs are an error.
func (c *Catalog) Select(slugs []string) ([]model.Category, error) {
	if len(slugs) == 0 {
		return append([]model.Category(nil), c.Categories...), nil
	}
	out := make([]model.Category, 0, len(slugs))
	for _, s := range slugs {
		cat, ok := c.Get(strings.ToLower(strings.TrimSpace(s)))
		if !ok {
			return nil, eris.Errorf("catalog: unknown category %q", s)
		}
		out = append(out, cat)
	}
	return out, nil
}

// Seeder persists categories.
type Seeder interface {
	UpsertCategories(ctx context.Context, cats []model.Category) error
}

// Seed writes every catalog category to the store.
func (c *Catalog) Seed(ctx context.Context, st Seeder) (int, error) {
	if err := st.UpsertCategories(ctx, c.Categories); err != nil {
		return 0, eris.Wrap(err, "catalog: seed")
	}
	return len(c.Categories), nil
}
