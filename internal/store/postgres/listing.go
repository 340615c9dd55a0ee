package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// ListingRepo implements store.ListingRepository with sqlx.
type ListingRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewListingRepo returns a new ListingRepo.
func NewListingRepo(db *sqlx.DB, clk clock.Clock) *ListingRepo {
	return &ListingRepo{db: db, clock: clk}
}

const listingColumns = `id, name, category, price, cost, quality, enchantments, server, seller,
	location, quantity, observed_at, source, url, description, contact, status, created_at, updated_at`

// Upsert relies on the partial unique index over (name, seller, url) for
// active rows, so concurrent writers of the same key converge on one row.
// updated_at is forced strictly past its previous value even when two
// refreshes land on the same clock tick.
const upsertListing = `INSERT INTO listings (
	name, category, price, cost, quality, enchantments, server, seller, location,
	quantity, observed_at, source, url, description, contact, status, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'active', $16, $16)
ON CONFLICT (name, seller, url) WHERE status = 'active' DO UPDATE SET
	category     = EXCLUDED.category,
	price        = EXCLUDED.price,
	cost         = EXCLUDED.cost,
	quality      = EXCLUDED.quality,
	enchantments = EXCLUDED.enchantments,
	server       = EXCLUDED.server,
	location     = EXCLUDED.location,
	quantity     = EXCLUDED.quantity,
	observed_at  = EXCLUDED.observed_at,
	source       = EXCLUDED.source,
	description  = EXCLUDED.description,
	contact      = EXCLUDED.contact,
	updated_at   = GREATEST(EXCLUDED.updated_at, listings.updated_at + INTERVAL '1 microsecond')
RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`

func (r *ListingRepo) Upsert(ctx context.Context, l *store.Listing) (bool, error) {
	if err := l.Normalize(); err != nil {
		return false, err
	}
	now := r.clock.Now().UTC()
	if l.ObservedAt.IsZero() {
		l.ObservedAt = now
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, upsertListing,
		l.Name, l.Category, l.Price, l.Cost, l.Quality, l.Enchantments, l.Server, l.Seller, l.Location,
		l.Quantity, l.ObservedAt.UTC(), l.Source, l.URL, l.Description, l.Contact, now,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upserting listing %q: %w", l.Name, err)
	}
	return inserted, nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id string) (*store.Listing, error) {
	var l store.Listing
	err := r.db.GetContext(ctx, &l, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting listing %s: %w", id, err)
	}
	return &l, nil
}

func (r *ListingRepo) Search(ctx context.Context, q store.Query) ([]store.Listing, error) {
	q = q.Normalize()

	var (
		where = []string{"status = 'active'"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Server != "" {
		where = append(where, "server = "+arg(q.Server))
	}
	if q.Category != "" {
		where = append(where, "category = "+arg(q.Category))
	}
	if q.Search != "" {
		p := arg("%" + escapeLike(q.Search) + "%")
		where = append(where, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	// q.SortBy is whitelisted by Normalize.
	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + q.SortBy + ` ` + dir + ` NULLS LAST, id ASC LIMIT ` + arg(q.Limit)

	var listings []store.Listing
	if err := r.db.SelectContext(ctx, &listings, query, args...); err != nil {
		return nil, fmt.Errorf("searching listings: %w", err)
	}
	return listings, nil
}

func (r *ListingRepo) ListActive(ctx context.Context) ([]store.Listing, error) {
	var listings []store.Listing
	err := r.db.SelectContext(ctx, &listings,
		`SELECT `+listingColumns+` FROM listings WHERE status = 'active' ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing active listings: %w", err)
	}
	return listings, nil
}

func (r *ListingRepo) MarkSold(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE listings SET status = 'sold', updated_at = GREATEST($1, updated_at + INTERVAL '1 microsecond')
		 WHERE id = $2 AND status = 'active'`,
		r.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking listing %s sold: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}

	// Distinguish a missing row from one that already left active.
	var status store.Status
	err = r.db.GetContext(ctx, &status, `SELECT status FROM listings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking listing %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, status, store.StatusSold)
}

func (r *ListingRepo) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE listings SET status = 'expired', updated_at = $1
		 WHERE status = 'active' AND updated_at < $2`,
		now, now.Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("expiring stale listings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting expired listings: %w", err)
	}
	return n, nil
}

// Stats reads every aggregate inside one read-only snapshot so the figures
// agree with each other.
func (r *ListingRepo) Stats(ctx context.Context) (*store.Stats, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning stats transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := &store.Stats{
		ByCategory: map[string]int{},
		AvgPrice:   map[string]float64{},
	}

	var totals struct {
		Total      int          `db:"total"`
		Quantity   int          `db:"quantity"`
		Trending   int          `db:"trending"`
		AvgProfit  float64      `db:"avg_profit"`
		LastUpdate sql.NullTime `db:"last_update"`
	}
	err = tx.GetContext(ctx, &totals,
		`SELECT COUNT(*) AS total,
		        COALESCE(SUM(quantity), 0) AS quantity,
		        COUNT(*) FILTER (WHERE updated_at >= $1) AS trending,
		        COALESCE(AVG((price - cost) / cost * 100) FILTER (WHERE price > 0 AND cost > 0), 0) AS avg_profit,
		        MAX(updated_at) AS last_update
		 FROM listings WHERE status = 'active'`,
		r.clock.Now().UTC().Add(-store.TrendingWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("reading totals: %w", err)
	}
	st.TotalActive = totals.Total
	st.TotalQuantity = totals.Quantity
	st.Trending = totals.Trending
	st.AvgProfit = totals.AvgProfit
	if totals.LastUpdate.Valid {
		st.LastUpdate = totals.LastUpdate.Time
	}

	var rows []struct {
		Category string          `db:"category"`
		Count    int             `db:"count"`
		AvgPrice sql.NullFloat64 `db:"avg_price"`
	}
	err = tx.SelectContext(ctx, &rows,
		`SELECT category, COUNT(*) AS count, AVG(price) FILTER (WHERE price > 0) AS avg_price
		 FROM listings WHERE status = 'active' GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("reading category stats: %w", err)
	}
	for _, row := range rows {
		st.ByCategory[row.Category] = row.Count
		if row.AvgPrice.Valid {
			st.AvgPrice[row.Category] = row.AvgPrice.Float64
		}
	}

	return st, nil
}

func (r *ListingRepo) PriceGroups(ctx context.Context, minFrequency, limit int) ([]store.PriceGroup, error) {
	var groups []store.PriceGroup
	err := r.db.SelectContext(ctx, &groups,
		`SELECT name, category, AVG(price) AS avg_price, COUNT(*) AS frequency, MAX(updated_at) AS last_seen
		 FROM listings
		 WHERE status = 'active' AND price > 0
		 GROUP BY name, category
		 HAVING COUNT(*) >= $1
		 ORDER BY avg_price DESC, frequency DESC, name ASC
		 LIMIT $2`,
		minFrequency, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("grouping prices: %w", err)
	}
	return groups, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
