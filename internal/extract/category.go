package extract

import (
	"strings"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

type category struct {
	name     string
	keywords []string
}

// Classifier maps item names to categories. The first configured category
// with a keyword contained in the name wins.
type Classifier struct {
	categories []category
	fallback   string
}

// NewClassifier returns a Classifier that keeps the configured order.
func NewClassifier(cfg config.MarketConfig) *Classifier {
	c := &Classifier{fallback: cfg.DefaultCategory}
	for _, cat := range cfg.Categories {
		cc := category{name: cat.Name}
		for _, k := range cat.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				cc.keywords = append(cc.keywords, k)
			}
		}
		c.categories = append(c.categories, cc)
	}
	return c
}

// Classify returns the category for name.
func (c *Classifier) Classify(name string) string {
	name = strings.ToLower(name)
	for _, cat := range c.categories {
		for _, k := range cat.keywords {
			if strings.Contains(name, k) {
				return cat.name
			}
		}
	}
	return c.fallback
}

// Categories returns the configured category names in match order.
func (c *Classifier) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		names = append(names, cat.name)
	}
	return names
}
