package extract

import (
	"time"

	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Meta is what the caller knows about the text a mention came from.
type Meta struct {
	Source      store.Source
	URL         string
	Seller      string
	ObservedAt  time.Time
	Description string
	Contact     string
}

// Builder assembles listings from mentions. It performs no I/O.
type Builder struct {
	classifier *Classifier
}

// NewBuilder returns a Builder that classifies names with c.
func NewBuilder(c *Classifier) *Builder {
	return &Builder{classifier: c}
}

// Build returns an active listing for m.
func (b *Builder) Build(m Mention, meta Meta) store.Listing {
	l := store.Listing{
		Name:        m.Name,
		Category:    b.classifier.Classify(m.Name),
		Price:       m.Price,
		Quality:     m.Quality,
		Server:      m.Server,
		Seller:      meta.Seller,
		Location:    store.Unknown,
		Quantity:    1,
		ObservedAt:  meta.ObservedAt,
		Source:      meta.Source,
		URL:         meta.URL,
		Description: meta.Description,
		Contact:     meta.Contact,
		Status:      store.StatusActive,
	}
	if l.Server == "" {
		l.Server = store.Unknown
	}
	if l.Seller == "" {
		l.Seller = store.Unknown
	}
	return l
}
