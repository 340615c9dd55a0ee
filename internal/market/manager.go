package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/tradewatch/internal/extract"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Recommendation tuning.
const (
	RecommendMinFrequency = 2
	RecommendLimit        = 10
	profitFloor           = 5.0
	profitShare           = 0.3
	profitSpread          = 1.5
)

// Recommendation is a frequently traded item with an estimated profit band.
type Recommendation struct {
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	AvgPrice   float64   `json:"avg_price"`
	Frequency  int       `json:"frequency"`
	ProfitLow  float64   `json:"profit_low"`
	ProfitHigh float64   `json:"profit_high"`
	Profit     string    `json:"estimated_profit"`
	LastSeen   time.Time `json:"last_seen"`
}

// PriceSummary aggregates the active listings matching an item name.
type PriceSummary struct {
	Query    string          `json:"query"`
	Count    int             `json:"count"`
	Min      float64         `json:"min"`
	Max      float64         `json:"max"`
	Avg      float64         `json:"avg"`
	Listings []store.Listing `json:"listings"`
}

// Manager handles market queries and manual listing changes.
type Manager struct {
	listings   store.ListingRepository
	runs       store.ScrapeRunRepository
	classifier *extract.Classifier
	majorUnit  string
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewManager returns a new market Manager.
func NewManager(listings store.ListingRepository, runs store.ScrapeRunRepository, classifier *extract.Classifier, majorUnit string, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		listings:   listings,
		runs:       runs,
		classifier: classifier,
		majorUnit:  majorUnit,
		logger:     logger,
		tracer:     tp.Tracer("github.com/jensholdgaard/tradewatch/internal/market"),
	}
}

// Search returns active listings matching q.
func (m *Manager) Search(ctx context.Context, q store.Query) ([]store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Search",
		trace.WithAttributes(
			attribute.String("server", q.Server),
			attribute.String("category", q.Category),
			attribute.String("search", q.Search),
		),
	)
	defer span.End()

	listings, err := m.listings.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching listings: %w", err)
	}
	return listings, nil
}

// Get returns one listing by id.
func (m *Manager) Get(ctx context.Context, id string) (*store.Listing, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Get", trace.WithAttributes(attribute.String("listing_id", id)))
	defer span.End()

	return m.listings.GetByID(ctx, id)
}

// AddManual stores a listing entered by hand. It goes through the same
// upsert rule as scraped listings. A missing category is inferred from the
// name.
func (m *Manager) AddManual(ctx context.Context, l *store.Listing) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddManual",
		trace.WithAttributes(
			attribute.String("name", l.Name),
			attribute.Float64("price", l.Price),
		),
	)
	defer span.End()

	if l.Category == "" {
		l.Category = m.classifier.Classify(l.Name)
	}
	if l.Source == "" {
		l.Source = store.SourceManual
	}

	created, err := m.listings.Upsert(ctx, l)
	if err != nil {
		return false, fmt.Errorf("adding listing: %w", err)
	}

	m.logger.InfoContext(ctx, "listing added",
		slog.String("listing_id", l.ID),
		slog.String("name", l.Name),
		slog.Bool("created", created),
	)
	return created, nil
}

// MarkSold moves an active listing to sold.
func (m *Manager) MarkSold(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.MarkSold", trace.WithAttributes(attribute.String("listing_id", id)))
	defer span.End()

	if err := m.listings.MarkSold(ctx, id); err != nil {
		return fmt.Errorf("marking listing sold: %w", err)
	}

	m.logger.InfoContext(ctx, "listing sold", slog.String("listing_id", id))
	return nil
}

// ExpireStale runs the retention sweep.
func (m *Manager) ExpireStale(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ExpireStale",
		trace.WithAttributes(attribute.String("retention", retention.String())),
	)
	defer span.End()

	n, err := m.listings.ExpireStale(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	span.SetAttributes(attribute.Int64("expired", n))

	m.logger.InfoContext(ctx, "retention sweep complete",
		slog.Int64("expired", n),
		slog.Duration("retention", retention),
	)
	return n, nil
}

// Stats returns aggregate figures over active listings.
func (m *Manager) Stats(ctx context.Context) (*store.Stats, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Stats")
	defer span.End()

	st, err := m.listings.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return st, nil
}

// Recommendations returns the most valuable frequently listed items.
func (m *Manager) Recommendations(ctx context.Context) ([]Recommendation, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Recommendations")
	defer span.End()

	groups, err := m.listings.PriceGroups(ctx, RecommendMinFrequency, RecommendLimit)
	if err != nil {
		return nil, fmt.Errorf("grouping prices: %w", err)
	}

	recs := make([]Recommendation, 0, len(groups))
	for _, g := range groups {
		low, high := ProfitBand(g.AvgPrice)
		recs = append(recs, Recommendation{
			Name:       g.Name,
			Category:   g.Category,
			AvgPrice:   math.Round(g.AvgPrice*100) / 100,
			Frequency:  g.Frequency,
			ProfitLow:  low,
			ProfitHigh: high,
			Profit:     fmt.Sprintf("%.0f-%.0f %s", low, high, m.majorUnit),
			LastSeen:   g.LastSeen,
		})
	}
	return recs, nil
}

// ProfitBand estimates a profit range for an item selling at avgPrice.
func ProfitBand(avgPrice float64) (low, high float64) {
	low = math.Max(profitFloor, avgPrice*profitShare)
	return low, low * profitSpread
}

// PriceCheck summarizes active listings whose name or description contains
// name.
func (m *Manager) PriceCheck(ctx context.Context, name string, limit int) (*PriceSummary, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PriceCheck", trace.WithAttributes(attribute.String("name", name)))
	defer span.End()

	listings, err := m.listings.Search(ctx, store.Query{Search: name, SortBy: "price", Limit: store.MaxLimit})
	if err != nil {
		return nil, fmt.Errorf("searching prices: %w", err)
	}

	sum := &PriceSummary{Query: name}
	var total float64
	for _, l := range listings {
		if l.Price <= 0 {
			continue
		}
		if sum.Count == 0 || l.Price < sum.Min {
			sum.Min = l.Price
		}
		if l.Price > sum.Max {
			sum.Max = l.Price
		}
		total += l.Price
		sum.Count++
		if len(sum.Listings) < limit {
			sum.Listings = append(sum.Listings, l)
		}
	}
	if sum.Count > 0 {
		sum.Avg = total / float64(sum.Count)
	}
	return sum, nil
}

// History returns the most recent scrape runs.
func (m *Manager) History(ctx context.Context, limit int) ([]store.ScrapeRun, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.History")
	defer span.End()

	runs, err := m.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scrape history: %w", err)
	}
	return runs, nil
}

// Categories returns the configured categories in match order.
func (m *Manager) Categories() []string {
	return m.classifier.Categories()
}
