package risk

import (
	"fmt"
	"sort"
	"time"
)

// Category is a named risk category and its weight in the composite score.
type Category struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Model is the data-driven category table. New categories are added here,
// not in code.
type Model struct {
	Categories []Category `json:"categories" yaml:"categories"`
	// StalenessWindow is the metric age at which recency reaches zero.
	StalenessWindow time.Duration `json:"stalenessWindow" yaml:"stalenessWindow"`
}

// Built-in category names.
const (
	CategoryFinancial      = "financial"
	CategoryOperational    = "operational"
	CategoryMarket         = "market"
	CategoryCompliance     = "compliance"
	CategoryGeopolitical   = "geopolitical"
	CategorySustainability = "sustainability"
)

// DefaultStalenessWindow is how old the newest metric may get before
// recency stops contributing to confidence.
const DefaultStalenessWindow = 30 * 24 * time.Hour

// DefaultModel weights the six built-in categories.
func DefaultModel() Model {
	return Model{
		Categories: []Category{
			{Name: CategoryFinancial, Weight: 0.25},
			{Name: CategoryOperational, Weight: 0.20},
			{Name: CategoryMarket, Weight: 0.20},
			{Name: CategoryCompliance, Weight: 0.15},
			{Name: CategoryGeopolitical, Weight: 0.10},
			{Name: CategorySustainability, Weight: 0.10},
		},
		StalenessWindow: DefaultStalenessWindow,
	}
}

// Validate checks the model has at least one uniquely named, positively
// weighted category.
func (m Model) Validate() error {
	if len(m.Categories) == 0 {
		return fmt.Errorf("%w: no categories defined", ErrInvalidModel)
	}
	seen := make(map[string]bool, len(m.Categories))
	for _, c := range m.Categories {
		if c.Name == "" {
			return fmt.Errorf("%w: category name is empty", ErrInvalidModel)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidModel, c.Name)
		}
		seen[c.Name] = true
		if !(c.Weight > 0) {
			return fmt.Errorf("%w: category %q weight must be positive", ErrInvalidModel, c.Name)
		}
	}
	if m.StalenessWindow < 0 {
		return fmt.Errorf("%w: staleness window must not be negative", ErrInvalidModel)
	}
	return nil
}

// Weight returns a category's configured weight.
func (m Model) Weight(name string) (float64, bool) {
	for _, c := range m.Categories {
		if c.Name == name {
			return c.Weight, true
		}
	}
	return 0, false
}

// Names lists category names in model order.
func (m Model) Names() []string {
	out := make([]string, len(m.Categories))
	for i, c := range m.Categories {
		out[i] = c.Name
	}
	return out
}

// WithWeights returns a copy of the model with the given category weights
// overridden. Unknown names are appended as new categories.
func (m Model) WithWeights(weights map[string]float64) Model {
	out := Model{StalenessWindow: m.StalenessWindow}
	out.Categories = append(out.Categories, m.Categories...)
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := weights[name]
		found := false
		for i := range out.Categories {
			if out.Categories[i].Name == name {
				out.Categories[i].Weight = w
				found = true
				break
			}
		}
		if !found {
			out.Categories = append(out.Categories, Category{Name: name, Weight: w})
		}
	}
	return out
}
