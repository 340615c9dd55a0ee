// Package scheduler refreshes the market on a fixed interval: a full
// pipeline run followed by the retention sweep.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jensholdgaard/tradewatch/internal/pipeline"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Sweeper expires listings not refreshed within retention.
type Sweeper interface {
	ExpireStale(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler ticks the pipeline and the retention sweep.
type Scheduler struct {
	runner    Runner
	sweeper   Sweeper
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// New returns a Scheduler. A non-positive retention disables the sweep.
func New(runner Runner, sweeper Sweeper, interval, retention time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		sweeper:   sweeper,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one pipeline run and then sweeps stale listings. A run
// skipped because another is in progress still sweeps. Failures are logged.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.InfoContext(ctx, "scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled run failed", slog.Any("error", err))
	}

	if s.retention <= 0 {
		return
	}
	n, err := s.sweeper.ExpireStale(context.WithoutCancel(ctx), s.retention)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired stale listings", slog.Int64("count", n))
	}
}
