package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors returned by repositories.
var (
	ErrNotFound          = errors.New("listing not found")
	ErrInvalidTransition = errors.New("invalid listing status transition")
	ErrInvalidListing    = errors.New("invalid listing")
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive  Status = "active"
	StatusSold    Status = "sold"
	StatusExpired Status = "expired"
)

// CanTransition reports whether a listing may move from one status to
// another. Only active listings move, and only forward.
func CanTransition(from, to Status) bool {
	return from == StatusActive && (to == StatusSold || to == StatusExpired)
}

// Source identifies where a listing was observed.
type Source string

const (
	SourceForum     Source = "forum"
	SourceCommunity Source = "community"
	SourceManual    Source = "manual"
)

// Unknown is the placeholder for seller, server and location when the
// text does not say.
const Unknown = "unknown"

// Listing is one observed trade offer.
type Listing struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Category     string    `json:"category" db:"category"`
	Price        float64   `json:"price" db:"price"`
	Cost         *float64  `json:"cost,omitempty" db:"cost"`
	Quality      *int      `json:"quality,omitempty" db:"quality"`
	Enchantments *string   `json:"enchantments,omitempty" db:"enchantments"`
	Server       string    `json:"server" db:"server"`
	Seller       string    `json:"seller" db:"seller"`
	Location     string    `json:"location" db:"location"`
	Quantity     int       `json:"quantity" db:"quantity"`
	ObservedAt   time.Time `json:"timestamp" db:"observed_at"`
	Source       Source    `json:"source" db:"source"`
	URL          string    `json:"url" db:"url"`
	Description  string    `json:"description" db:"description"`
	Contact      string    `json:"contact" db:"contact"`
	Status       Status    `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Normalize fills defaults and checks the listing invariants before it is
// written.
func (l *Listing) Normalize() error {
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidListing)
	}
	if l.Price < 0 {
		return fmt.Errorf("%w: negative price %v", ErrInvalidListing, l.Price)
	}
	if l.Quantity == 0 {
		l.Quantity = 1
	}
	if l.Quantity < 1 {
		return fmt.Errorf("%w: quantity %d below 1", ErrInvalidListing, l.Quantity)
	}
	if l.Seller == "" {
		l.Seller = Unknown
	}
	if l.Server == "" {
		l.Server = Unknown
	}
	if l.Location == "" {
		l.Location = Unknown
	}
	if l.Status == "" {
		l.Status = StatusActive
	}
	if l.Status != StatusActive {
		return fmt.Errorf("%w: new listings must be active, got %q", ErrInvalidListing, l.Status)
	}
	return nil
}

// RunStatus is the outcome of one source within a pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ScrapeRun records one pipeline execution against one source. It is
// append-only.
type ScrapeRun struct {
	ID            string    `json:"id" db:"id"`
	RunID         string    `json:"run_id" db:"run_id"`
	Source        string    `json:"source" db:"source"`
	Target        string    `json:"target" db:"target"`
	ListingsFound int       `json:"listings_found" db:"listings_found"`
	Status        RunStatus `json:"status" db:"status"`
	Error         *string   `json:"error,omitempty" db:"error_message"`
	CreatedAt     time.Time `json:"timestamp" db:"created_at"`
}

// Query filters active listings. Empty or "all" Server/Category match
// everything.
type Query struct {
	Server   string
	Category string
	Search   string
	SortBy   string
	Desc     bool
	Limit    int
}

// Query limits and defaults.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// SortColumns whitelists the fields a query may sort by.
var SortColumns = map[string]bool{
	"updated_at": true,
	"created_at": true,
	"price":      true,
	"quality":    true,
	"name":       true,
	"category":   true,
	"server":     true,
}

// Normalize applies defaults and clamps the limit.
func (q Query) Normalize() Query {
	if q.Server == "all" {
		q.Server = ""
	}
	if q.Category == "all" {
		q.Category = ""
	}
	if !SortColumns[q.SortBy] {
		q.SortBy = "updated_at"
		q.Desc = true
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// Stats are aggregate figures over active listings, computed on demand.
type Stats struct {
	TotalActive   int                `json:"total_items"`
	ByCategory    map[string]int     `json:"categories"`
	AvgPrice      map[string]float64 `json:"average_prices"`
	Trending      int                `json:"trending_items"`
	AvgProfit     float64            `json:"avg_profit"` // mean margin over cost, percent
	TotalQuantity int                `json:"total_quantity"`
	LastUpdate    time.Time          `json:"last_update"`
}

// PriceGroup aggregates active priced listings sharing name and category.
type PriceGroup struct {
	Name      string    `db:"name"`
	Category  string    `db:"category"`
	AvgPrice  float64   `db:"avg_price"`
	Frequency int       `db:"frequency"`
	LastSeen  time.Time `db:"last_seen"`
}

// TrendingWindow is how recently a listing must have been refreshed to
// count as trending.
const TrendingWindow = 24 * time.Hour

// ListingRepository defines listing persistence operations.
type ListingRepository interface {
	// Upsert inserts l, or refreshes the active listing with the same
	// name, seller and url. It reports whether a new row was created.
	Upsert(ctx context.Context, l *Listing) (created bool, err error)
	GetByID(ctx context.Context, id string) (*Listing, error)
	Search(ctx context.Context, q Query) ([]Listing, error)
	ListActive(ctx context.Context) ([]Listing, error)
	MarkSold(ctx context.Context, id string) error
	// ExpireStale moves active listings not updated within maxAge to
	// expired and returns how many moved.
	ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error)
	Stats(ctx context.Context) (*Stats, error)
	PriceGroups(ctx context.Context, minFrequency, limit int) ([]PriceGroup, error)
}

// ScrapeRunRepository defines scrape history operations.
type ScrapeRunRepository interface {
	Append(ctx context.Context, r *ScrapeRun) error
	ListRecent(ctx context.Context, limit int) ([]ScrapeRun, error)
}
