package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// ScrapeRunRepo implements store.ScrapeRunRepository backed by Postgres.
type ScrapeRunRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewScrapeRunRepo returns a new ScrapeRunRepo.
func NewScrapeRunRepo(db *sqlx.DB, clk clock.Clock) *ScrapeRunRepo {
	return &ScrapeRunRepo{db: db, clock: clk}
}

func (r *ScrapeRunRepo) Append(ctx context.Context, run *store.ScrapeRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.clock.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO scrape_runs (run_id, source, target, listings_found, status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		run.RunID, run.Source, run.Target, run.ListingsFound, run.Status, run.Error, run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("appending scrape run (source=%s): %w", run.Source, err)
	}
	return nil
}

func (r *ScrapeRunRepo) ListRecent(ctx context.Context, limit int) ([]store.ScrapeRun, error) {
	var runs []store.ScrapeRun
	err := r.db.SelectContext(ctx, &runs,
		`SELECT id, run_id, source, target, listings_found, status, error_message, created_at
		 FROM scrape_runs ORDER BY created_at DESC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scrape runs: %w", err)
	}
	return runs, nil
}
