// Package memory provides an in-process store.Driver registered as
// "memory". It backs the -once CLI mode and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return New(clk), nil
	})
}

// New returns empty repositories sharing one lock.
func New(clk clock.Clock) *store.Repositories {
	db := &DB{
		clock:    clk,
		listings: map[string]*store.Listing{},
		active:   map[key]string{},
	}
	return &store.Repositories{
		Listings: &ListingRepo{db: db},
		Runs:     &ScrapeRunRepo{db: db},
		Closer:   store.NopCloser{},
		Ping:     func(context.Context) error { return nil },
	}
}

type key struct {
	name, seller, url string
}

// DB is the shared state behind the memory repositories.
type DB struct {
	clock clock.Clock

	mu       sync.RWMutex
	listings map[string]*store.Listing
	active   map[key]string // upsert key -> id of the active row
	runs     []store.ScrapeRun
}

// bump returns now, or prev plus one microsecond when the clock has not
// moved past prev.
func bump(now, prev time.Time) time.Time {
	if next := prev.Add(time.Microsecond); !now.After(prev) {
		return next
	}
	return now
}

// ListingRepo implements store.ListingRepository in memory.
type ListingRepo struct {
	db *DB
}

func (r *ListingRepo) Upsert(_ context.Context, l *store.Listing) (bool, error) {
	if err := l.Normalize(); err != nil {
		return false, err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	now := r.db.clock.Now().UTC()
	if l.ObservedAt.IsZero() {
		l.ObservedAt = now
	}
	k := key{l.Name, l.Seller, l.URL}

	if id, ok := r.db.active[k]; ok {
		cur := r.db.listings[id]
		next := *l
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = bump(now, cur.UpdatedAt)
		r.db.listings[id] = &next
		l.ID, l.CreatedAt, l.UpdatedAt = next.ID, next.CreatedAt, next.UpdatedAt
		return false, nil
	}

	row := *l
	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now
	r.db.listings[row.ID] = &row
	r.db.active[k] = row.ID
	l.ID, l.CreatedAt, l.UpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt
	return true, nil
}

func (r *ListingRepo) GetByID(_ context.Context, id string) (*store.Listing, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	l, ok := r.db.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *l
	return &out, nil
}

func (r *ListingRepo) Search(_ context.Context, q store.Query) ([]store.Listing, error) {
	q = q.Normalize()
	needle := strings.ToLower(q.Search)

	r.db.mu.RLock()
	var out []store.Listing
	for _, l := range r.db.listings {
		switch {
		case l.Status != store.StatusActive:
		case q.Server != "" && l.Server != q.Server:
		case q.Category != "" && l.Category != q.Category:
		case needle != "" &&
			!strings.Contains(strings.ToLower(l.Name), needle) &&
			!strings.Contains(strings.ToLower(l.Description), needle):
		default:
			out = append(out, *l)
		}
	}
	r.db.mu.RUnlock()

	sortListings(out, q.SortBy, q.Desc)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// sortListings orders rows like the SQL driver: missing quality sorts last
// in either direction and ties break on id.
func sortListings(rows []store.Listing, column string, desc bool) {
	compare := compareBy(column)
	slices.SortFunc(rows, func(a, b store.Listing) int {
		if column == "quality" && (a.Quality == nil) != (b.Quality == nil) {
			if a.Quality == nil {
				return 1
			}
			return -1
		}
		c := compare(a, b)
		if desc {
			c = -c
		}
		return cmp.Or(c, cmp.Compare(a.ID, b.ID))
	})
}

func compareBy(column string) func(a, b store.Listing) int {
	switch column {
	case "created_at":
		return func(a, b store.Listing) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case "price":
		return func(a, b store.Listing) int { return cmp.Compare(a.Price, b.Price) }
	case "quality":
		return func(a, b store.Listing) int {
			if a.Quality == nil || b.Quality == nil {
				return 0
			}
			return cmp.Compare(*a.Quality, *b.Quality)
		}
	case "name":
		return func(a, b store.Listing) int { return cmp.Compare(a.Name, b.Name) }
	case "category":
		return func(a, b store.Listing) int { return cmp.Compare(a.Category, b.Category) }
	case "server":
		return func(a, b store.Listing) int { return cmp.Compare(a.Server, b.Server) }
	default:
		return func(a, b store.Listing) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	}
}

func (r *ListingRepo) ListActive(_ context.Context) ([]store.Listing, error) {
	r.db.mu.RLock()
	var out []store.Listing
	for _, l := range r.db.listings {
		if l.Status == store.StatusActive {
			out = append(out, *l)
		}
	}
	r.db.mu.RUnlock()

	sortListings(out, "updated_at", true)
	return out, nil
}

func (r *ListingRepo) MarkSold(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	l, ok := r.db.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(l.Status, store.StatusSold) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, l.Status, store.StatusSold)
	}
	r.db.transition(l, store.StatusSold)
	return nil
}

// transition must be called with mu held.
func (db *DB) transition(l *store.Listing, to store.Status) {
	delete(db.active, key{l.Name, l.Seller, l.URL})
	l.Status = to
	l.UpdatedAt = bump(db.clock.Now().UTC(), l.UpdatedAt)
}

func (r *ListingRepo) ExpireStale(_ context.Context, maxAge time.Duration) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cutoff := r.db.clock.Now().UTC().Add(-maxAge)
	var n int64
	for _, l := range r.db.listings {
		if l.Status == store.StatusActive && l.UpdatedAt.Before(cutoff) {
			r.db.transition(l, store.StatusExpired)
			n++
		}
	}
	return n, nil
}

func (r *ListingRepo) Stats(_ context.Context) (*store.Stats, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	st := &store.Stats{
		ByCategory: map[string]int{},
		AvgPrice:   map[string]float64{},
	}
	trendingSince := r.db.clock.Now().UTC().Add(-store.TrendingWindow)
	priced := map[string]int{}
	var (
		profit      float64
		profitCount int
	)
	for _, l := range r.db.listings {
		if l.Status != store.StatusActive {
			continue
		}
		st.TotalActive++
		st.TotalQuantity += l.Quantity
		st.ByCategory[l.Category]++
		if l.Price > 0 {
			st.AvgPrice[l.Category] += l.Price
			priced[l.Category]++
		}
		if !l.UpdatedAt.Before(trendingSince) {
			st.Trending++
		}
		if l.Cost != nil && *l.Cost > 0 && l.Price > 0 {
			profit += (l.Price - *l.Cost) / *l.Cost * 100
			profitCount++
		}
		if l.UpdatedAt.After(st.LastUpdate) {
			st.LastUpdate = l.UpdatedAt
		}
	}
	for cat, sum := range st.AvgPrice {
		st.AvgPrice[cat] = sum / float64(priced[cat])
	}
	if profitCount > 0 {
		st.AvgProfit = profit / float64(profitCount)
	}
	return st, nil
}

func (r *ListingRepo) PriceGroups(_ context.Context, minFrequency, limit int) ([]store.PriceGroup, error) {
	type groupKey struct{ name, category string }

	r.db.mu.RLock()
	sums := map[groupKey]*store.PriceGroup{}
	for _, l := range r.db.listings {
		if l.Status != store.StatusActive || l.Price <= 0 {
			continue
		}
		k := groupKey{l.Name, l.Category}
		g, ok := sums[k]
		if !ok {
			g = &store.PriceGroup{Name: l.Name, Category: l.Category}
			sums[k] = g
		}
		g.AvgPrice += l.Price
		g.Frequency++
		if l.UpdatedAt.After(g.LastSeen) {
			g.LastSeen = l.UpdatedAt
		}
	}
	r.db.mu.RUnlock()

	var groups []store.PriceGroup
	for _, g := range sums {
		if g.Frequency < minFrequency {
			continue
		}
		g.AvgPrice /= float64(g.Frequency)
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, func(a, b store.PriceGroup) int {
		return cmp.Or(
			cmp.Compare(b.AvgPrice, a.AvgPrice),
			cmp.Compare(b.Frequency, a.Frequency),
			cmp.Compare(a.Name, b.Name),
		)
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// ScrapeRunRepo implements store.ScrapeRunRepository in memory.
type ScrapeRunRepo struct {
	db *DB
}

func (r *ScrapeRunRepo) Append(_ context.Context, run *store.ScrapeRun) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	run.ID = uuid.NewString()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.db.clock.Now().UTC()
	}
	r.db.runs = append(r.db.runs, *run)
	return nil
}

func (r *ScrapeRunRepo) ListRecent(_ context.Context, limit int) ([]store.ScrapeRun, error) {
	r.db.mu.RLock()
	out := slices.Clone(r.db.runs)
	r.db.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b store.ScrapeRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
