// Package pipeline runs the fetch, extract and persist loop over every
// configured source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/extract"
	"github.com/jensholdgaard/tradewatch/internal/runlock"
	"github.com/jensholdgaard/tradewatch/internal/source"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/tradewatch/internal/pipeline"

// ErrRunInProgress is returned when another pipeline run holds the lock.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Result summarizes one pipeline run.
type Result struct {
	RunID     string        `json:"run_id"`
	Targets   int           `json:"targets"`
	Failed    int           `json:"failed"`
	Extracted int           `json:"extracted"`
	Persisted int           `json:"persisted"`
	Created   int           `json:"created"`
	Canceled  bool          `json:"canceled"`
	Duration  time.Duration `json:"duration"`
}

type instruments struct {
	extracted      metric.Int64Counter
	persisted      metric.Int64Counter
	persistFailure metric.Int64Counter
	fetchFailure   metric.Int64Counter
	duration       metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	var (
		ins instruments
		err error
		all []error
	)
	ins.extracted, err = meter.Int64Counter("tradewatch.listings.extracted",
		metric.WithDescription("Listings extracted from fetched documents."))
	all = append(all, err)
	ins.persisted, err = meter.Int64Counter("tradewatch.listings.persisted",
		metric.WithDescription("Listings written to the store."))
	all = append(all, err)
	ins.persistFailure, err = meter.Int64Counter("tradewatch.persist.failures",
		metric.WithDescription("Listings that failed to persist."))
	all = append(all, err)
	ins.fetchFailure, err = meter.Int64Counter("tradewatch.fetch.failures",
		metric.WithDescription("Source targets that failed to fetch."))
	all = append(all, err)
	ins.duration, err = meter.Float64Histogram("tradewatch.run.duration",
		metric.WithDescription("Duration of a whole pipeline run."),
		metric.WithUnit("s"))
	all = append(all, err)
	if err := errors.Join(all...); err != nil {
		return nil, fmt.Errorf("creating pipeline instruments: %w", err)
	}
	return &ins, nil
}

// Runner executes pipeline runs. Whole runs are serialized by its Locker.
type Runner struct {
	fetchers []source.Fetcher
	parser   *extract.Parser
	listings store.ListingRepository
	runs     store.ScrapeRunRepository
	lock     runlock.Locker
	clock    clock.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *instruments

	wg sync.WaitGroup
}

// NewRunner returns a Runner over fetchers.
func NewRunner(
	fetchers []source.Fetcher,
	parser *extract.Parser,
	repos *store.Repositories,
	lock runlock.Locker,
	clk clock.Clock,
	logger *slog.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Runner, error) {
	ins, err := newInstruments(mp)
	if err != nil {
		return nil, err
	}
	return &Runner{
		fetchers: fetchers,
		parser:   parser,
		listings: repos.Listings,
		runs:     repos.Runs,
		lock:     lock,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer(instrumentationName),
		metrics:  ins,
	}, nil
}

// Run executes one pipeline run and waits for it. It returns
// ErrRunInProgress without doing anything when a run is already active.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, release)
	return r.run(ctx, uuid.NewString()), nil
}

// Start acquires the run lock and runs the pipeline in the background. ctx
// governs the background run, so it should outlive the caller's request.
func (r *Runner) Start(ctx context.Context) (string, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return "", err
	}
	runID := uuid.NewString()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(ctx, release)
		r.run(ctx, runID)
	}()
	return runID, nil
}

// Wait blocks until every background run started by Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(ctx context.Context) (func(context.Context) error, error) {
	release, err := r.lock.TryLock(ctx)
	if errors.Is(err, runlock.ErrHeld) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	return release, nil
}

func (r *Runner) release(ctx context.Context, release func(context.Context) error) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		r.logger.WarnContext(ctx, "releasing run lock failed", slog.Any("error", err))
	}
}

// run visits every fetcher target in order. Cancellation is honored
// between targets; a target already being fetched finishes persisting.
func (r *Runner) run(ctx context.Context, runID string) *Result {
	ctx, span := r.tracer.Start(ctx, "Runner.Run",
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
	defer span.End()

	start := r.clock.Now()
	res := &Result{RunID: runID}
	r.logger.InfoContext(ctx, "pipeline run started",
		slog.String("run_id", runID),
		slog.Int("fetchers", len(r.fetchers)),
	)

targets:
	for _, f := range r.fetchers {
		for _, target := range f.Targets() {
			if ctx.Err() != nil {
				res.Canceled = true
				break targets
			}
			tr := r.runTarget(ctx, runID, f, target)
			res.Targets++
			res.Extracted += tr.extracted
			res.Persisted += tr.persisted
			res.Created += tr.created
			if tr.failed {
				res.Failed++
			}
		}
	}

	res.Duration = r.clock.Now().Sub(start)
	r.metrics.duration.Record(ctx, res.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("run.targets", res.Targets),
		attribute.Int("run.failed", res.Failed),
		attribute.Int("run.persisted", res.Persisted),
		attribute.Bool("run.canceled", res.Canceled),
	)

	r.logger.InfoContext(ctx, "pipeline run finished",
		slog.String("run_id", runID),
		slog.Int("targets", res.Targets),
		slog.Int("failed", res.Failed),
		slog.Int("extracted", res.Extracted),
		slog.Int("persisted", res.Persisted),
		slog.Int("created", res.Created),
		slog.Bool("canceled", res.Canceled),
		slog.Duration("duration", res.Duration),
	)
	return res
}

type targetResult struct {
	extracted int
	persisted int
	created   int
	failed    bool
}

func (r *Runner) runTarget(ctx context.Context, runID string, f source.Fetcher, target string) targetResult {
	ctx, span := r.tracer.Start(ctx, "Runner.runTarget",
		trace.WithAttributes(
			attribute.String("source", f.Name()),
			attribute.String("target", target),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("source", f.Name()))
	record := &store.ScrapeRun{
		RunID:  runID,
		Source: f.Name(),
		Target: target,
		Status: store.RunCompleted,
	}

	docs, err := f.Fetch(ctx, target)
	// Whatever was fetched is persisted even if the run is canceled now.
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		r.metrics.fetchFailure.Add(ctx, 1, attrs)
		r.logger.WarnContext(ctx, "source fetch failed",
			slog.String("source", f.Name()),
			slog.String("target", target),
			slog.Any("error", err),
		)
		msg := err.Error()
		record.Status = store.RunFailed
		record.Error = &msg
		r.appendRun(persistCtx, record)
		return targetResult{failed: true}
	}

	var (
		tr       targetResult
		failures int
		lastErr  error
	)
	for _, doc := range docs {
		meta := extract.Meta{
			Source:      f.Source(),
			URL:         doc.URL,
			Seller:      doc.Author,
			ObservedAt:  doc.PostedAt,
			Description: doc.Title,
			Contact:     doc.Contact,
		}
		if meta.ObservedAt.IsZero() {
			meta.ObservedAt = r.clock.Now().UTC()
		}
		for l := range r.parser.Listings(doc.Body, doc.Title, meta) {
			tr.extracted++
			created, err := r.listings.Upsert(persistCtx, &l)
			if err != nil {
				failures++
				lastErr = err
				r.logger.WarnContext(ctx, "persisting listing failed",
					slog.String("source", f.Name()),
					slog.String("name", l.Name),
					slog.String("url", l.URL),
					slog.Any("error", err),
				)
				continue
			}
			tr.persisted++
			if created {
				tr.created++
			}
		}
	}

	r.metrics.extracted.Add(ctx, int64(tr.extracted), attrs)
	r.metrics.persisted.Add(ctx, int64(tr.persisted), attrs)
	if failures > 0 {
		r.metrics.persistFailure.Add(ctx, int64(failures), attrs)
		msg := fmt.Sprintf("%d of %d listings failed to persist: %v", failures, tr.extracted, lastErr)
		record.Error = &msg
		if tr.persisted == 0 {
			record.Status = store.RunFailed
			tr.failed = true
		}
	}
	record.ListingsFound = tr.persisted
	r.appendRun(persistCtx, record)

	span.SetAttributes(
		attribute.Int("documents", len(docs)),
		attribute.Int("listings.extracted", tr.extracted),
		attribute.Int("listings.persisted", tr.persisted),
	)
	r.logger.InfoContext(ctx, "source target processed",
		slog.String("source", f.Name()),
		slog.String("target", target),
		slog.Int("documents", len(docs)),
		slog.Int("extracted", tr.extracted),
		slog.Int("persisted", tr.persisted),
		slog.Int("created", tr.created),
	)
	return tr
}

func (r *Runner) appendRun(ctx context.Context, run *store.ScrapeRun) {
	if err := r.runs.Append(ctx, run); err != nil {
		r.logger.ErrorContext(ctx, "recording scrape run failed",
			slog.String("source", run.Source),
			slog.String("target", run.Target),
			slog.Any("error", err),
		)
	}
}
