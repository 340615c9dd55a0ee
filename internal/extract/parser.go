// Package extract turns free trade text into listings: it filters trade
// posts, finds item mentions, normalizes prices and classifies items.
package extract

import (
	"iter"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Parser wires the filter, extractor and builder over one market table.
type Parser struct {
	Filter     *Filter
	Extractor  *Extractor
	Classifier *Classifier
	Builder    *Builder
	Normalizer *Normalizer
}

// NewParser builds every extraction stage from cfg.
func NewParser(cfg config.MarketConfig) *Parser {
	norm := NewNormalizer(cfg)
	cls := NewClassifier(cfg)
	return &Parser{
		Filter:     NewFilter(cfg),
		Extractor:  NewExtractor(cfg, norm),
		Classifier: cls,
		Builder:    NewBuilder(cls),
		Normalizer: norm,
	}
}

// Listings yields one listing per mention in text. title is used for the
// trade check when present and as server context; text is checked
// otherwise. Non-trade input yields nothing.
func (p *Parser) Listings(text, title string, meta Meta) iter.Seq[store.Listing] {
	return func(yield func(store.Listing) bool) {
		probe := title
		if probe == "" {
			probe = text
		}
		if !p.Filter.IsTrade(probe) {
			return
		}
		for m := range p.Extractor.Mentions(text, title) {
			if !yield(p.Builder.Build(m, meta)) {
				return
			}
		}
	}
}
