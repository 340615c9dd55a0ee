package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/extract"
	"github.com/jensholdgaard/tradewatch/internal/pipeline"
	"github.com/jensholdgaard/tradewatch/internal/runlock"
	"github.com/jensholdgaard/tradewatch/internal/source"
	"github.com/jensholdgaard/tradewatch/internal/store"
	"github.com/jensholdgaard/tradewatch/internal/store/memory"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	name    string
	targets []string
	docs    map[string][]source.Document
	errs    map[string]error
	// onFetch runs before Fetch returns, e.g. to cancel the run.
	onFetch func(target string)

	mu      sync.Mutex
	fetched []string
}

func (f *fakeFetcher) Name() string         { return f.name }
func (f *fakeFetcher) Source() store.Source { return store.SourceForum }
func (f *fakeFetcher) Targets() []string    { return f.targets }

func (f *fakeFetcher) Fetch(_ context.Context, target string) ([]source.Document, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, target)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(target)
	}
	if err := f.errs[target]; err != nil {
		return nil, err
	}
	return f.docs[target], nil
}

func (f *fakeFetcher) fetchedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type failingListings struct {
	store.ListingRepository
}

func (failingListings) Upsert(context.Context, *store.Listing) (bool, error) {
	return false, errors.New("disk full")
}

func hammerDoc() source.Document {
	return source.Document{
		Title:   "WTS hammer",
		Body:    "iron hammer 3s ql70 Xanadu",
		URL:     "https://forum.example/topic/1",
		Author:  "bob",
		Contact: "Forum: bob",
	}
}

func newRunner(t *testing.T, repos *store.Repositories, lock runlock.Locker, fetchers ...source.Fetcher) *pipeline.Runner {
	t.Helper()
	r, err := pipeline.NewRunner(
		fetchers,
		extract.NewParser(config.DefaultMarket()),
		repos,
		lock,
		clock.Mock{T: epoch},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		noop.NewTracerProvider(),
		metricnoop.NewMeterProvider(),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	repos := memory.New(clock.Mock{T: epoch})
	f := &fakeFetcher{
		name:    "forum",
		targets: []string{"board-1", "board-2"},
		docs:    map[string][]source.Document{"board-1": {hammerDoc()}},
		errs:    map[string]error{"board-2": errors.New("connection refused")},
	}
	r := newRunner(t, repos, &runlock.Local{}, f)

	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	if res.Targets != 2 || res.Failed != 1 || res.Extracted != 1 || res.Persisted != 1 || res.Created != 1 {
		t.Errorf("result = %+v", res)
	}

	listings, err := repos.Listings.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 {
		t.Fatalf("got %d listings, want 1", len(listings))
	}
	l := listings[0]
	if l.Name != "iron hammer" || l.Category != "tools" || l.Price != 3 || l.Server != "Xanadu" {
		t.Errorf("listing = %+v", l)
	}
	if l.Seller != "bob" || l.Source != store.SourceForum || l.Description != "WTS hammer" || l.Contact != "Forum: bob" {
		t.Errorf("listing meta = %+v", l)
	}
	if !l.ObservedAt.Equal(epoch) {
		t.Errorf("ObservedAt = %v, want clock time", l.ObservedAt)
	}

	runs, err := repos.Runs.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d scrape runs, want 2", len(runs))
	}
	byTarget := map[string]store.ScrapeRun{}
	for _, run := range runs {
		if run.RunID != res.RunID {
			t.Errorf("run id = %q, want %q", run.RunID, res.RunID)
		}
		byTarget[run.Target] = run
	}
	if good := byTarget["board-1"]; good.Status != store.RunCompleted || good.ListingsFound != 1 || good.Error != nil {
		t.Errorf("board-1 run = %+v", good)
	}
	bad := byTarget["board-2"]
	if bad.Status != store.RunFailed || bad.Error == nil || *bad.Error != "connection refused" {
		t.Errorf("board-2 run = %+v", bad)
	}

	// A second run refreshes the same listing.
	res, err = r.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Created != 0 || res.Persisted != 1 {
		t.Errorf("second result = %+v", res)
	}
	if listings, _ := repos.Listings.ListActive(ctx); len(listings) != 1 {
		t.Errorf("got %d listings after rerun, want 1", len(listings))
	}
}

func TestRunner_NonTradeDocumentsIgnored(t *testing.T) {
	repos := memory.New(clock.Mock{T: epoch})
	f := &fakeFetcher{
		name:    "forum",
		targets: []string{"board"},
		docs: map[string][]source.Document{"board": {{
			Title: "Looking for guildmates",
			Body:  "iron hammer 3s",
		}}},
	}
	res, err := newRunner(t, repos, &runlock.Local{}, f).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Extracted != 0 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunner_PersistFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(clock.Mock{T: epoch})
	repos := &store.Repositories{Listings: failingListings{mem.Listings}, Runs: mem.Runs}
	f := &fakeFetcher{
		name:    "forum",
		targets: []string{"board"},
		docs:    map[string][]source.Document{"board": {hammerDoc()}},
	}

	res, err := newRunner(t, repos, &runlock.Local{}, f).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Extracted != 1 || res.Persisted != 0 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	runs, _ := mem.Runs.ListRecent(ctx, 10)
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != store.RunFailed || runs[0].Error == nil {
		t.Fatalf("run = %+v", runs[0])
	}
	if want := "1 of 1 listings failed to persist: disk full"; *runs[0].Error != want {
		t.Errorf("error = %q, want %q", *runs[0].Error, want)
	}
}

func TestRunner_CancelBetweenTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos := memory.New(clock.Mock{T: epoch})
	f := &fakeFetcher{
		name:    "forum",
		targets: []string{"board-1", "board-2"},
		docs:    map[string][]source.Document{"board-1": {hammerDoc()}, "board-2": {hammerDoc()}},
		onFetch: func(string) { cancel() },
	}

	res, err := newRunner(t, repos, &runlock.Local{}, f).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Canceled || res.Targets != 1 || res.Persisted != 1 {
		t.Errorf("result = %+v", res)
	}
	if got := f.fetchedTargets(); len(got) != 1 || got[0] != "board-1" {
		t.Errorf("fetched = %v, want only board-1", got)
	}
	if listings, _ := repos.Listings.ListActive(context.Background()); len(listings) != 1 {
		t.Errorf("in-flight target not persisted: %d listings", len(listings))
	}
	if runs, _ := repos.Runs.ListRecent(context.Background(), 10); len(runs) != 1 {
		t.Errorf("got %d scrape runs, want 1", len(runs))
	}
}

func TestRunner_SerializesRuns(t *testing.T) {
	repos := memory.New(clock.Mock{T: epoch})
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := &fakeFetcher{
		name:    "forum",
		targets: []string{"board"},
		onFetch: func(string) {
			close(entered)
			<-unblock
		},
	}
	r := newRunner(t, repos, &runlock.Local{}, f)

	runID, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if runID == "" {
		t.Error("run id is empty")
	}
	<-entered

	if _, err := r.Run(context.Background()); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Errorf("Run during active run: err = %v, want ErrRunInProgress", err)
	}
	if _, err := r.Start(context.Background()); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Errorf("Start during active run: err = %v, want ErrRunInProgress", err)
	}

	close(unblock)
	r.Wait()

	// The lock is free again.
	f.onFetch = nil
	if _, err := r.Run(context.Background()); err != nil {
		t.Errorf("Run after completion: %v", err)
	}
}
