// Package storetest holds the behavioural contract every store driver must
// satisfy. Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Factory builds a fresh, empty set of repositories reading time from clk.
type Factory func(t *testing.T, clk clock.Clock) *store.Repositories

// Epoch is the starting time of the manual clock handed to each factory.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// MissingID is a well-formed id that no driver will ever have issued.
const MissingID = "00000000-0000-0000-0000-000000000000"

// Run executes the contract against repositories produced by newRepos.
func Run(t *testing.T, newRepos Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, repos *store.Repositories, clk *clock.Manual)
	}{
		{"upsert is idempotent", testUpsertIdempotent},
		{"upsert key change inserts", testUpsertKeyChange},
		{"upsert after sold inserts", testUpsertAfterSold},
		{"upsert rejects invalid", testUpsertInvalid},
		{"concurrent upserts converge", testConcurrentUpsert},
		{"get by id", testGetByID},
		{"mark sold", testMarkSold},
		{"expire stale", testExpireStale},
		{"search", testSearch},
		{"stats", testStats},
		{"price groups", testPriceGroups},
		{"scrape runs", testScrapeRuns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewManual(Epoch)
			tt.fn(t, newRepos(t, clk), clk)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func listing(name, seller, url string, price float64) *store.Listing {
	return &store.Listing{
		Name:     name,
		Category: "tools",
		Price:    price,
		Server:   "Xanadu",
		Seller:   seller,
		Source:   store.SourceForum,
		URL:      url,
	}
}

func mustUpsert(t *testing.T, repo store.ListingRepository, l *store.Listing) bool {
	t.Helper()
	created, err := repo.Upsert(context.Background(), l)
	if err != nil {
		t.Fatalf("Upsert(%s): %v", l.Name, err)
	}
	return created
}

func countActive(t *testing.T, repo store.ListingRepository) int {
	t.Helper()
	active, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	return len(active)
}

func testUpsertIdempotent(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	ctx := context.Background()
	first := listing("iron hammer", "Bob", "https://forum/t/1", 3)
	first.Quality = ptr(70)
	if !mustUpsert(t, repos.Listings, first) {
		t.Fatal("first Upsert reported existing row")
	}
	if first.ID == "" {
		t.Fatal("expected ID to be set after Upsert")
	}
	if !first.CreatedAt.Equal(first.UpdatedAt) {
		t.Errorf("new row created_at %v != updated_at %v", first.CreatedAt, first.UpdatedAt)
	}

	// Same clock tick: updated_at must still move forward.
	second := listing("iron hammer", "Bob", "https://forum/t/1", 4.5)
	second.Quality = ptr(80)
	second.Quantity = 3
	if mustUpsert(t, repos.Listings, second) {
		t.Fatal("second Upsert reported a new row")
	}
	if second.ID != first.ID {
		t.Errorf("second Upsert id = %s, want %s", second.ID, first.ID)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at %v not after %v", second.UpdatedAt, first.UpdatedAt)
	}

	if n := countActive(t, repos.Listings); n != 1 {
		t.Fatalf("active rows = %d, want 1", n)
	}
	got, err := repos.Listings.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Price != 4.5 {
		t.Errorf("Price = %v, want 4.5", got.Price)
	}
	if got.Quality == nil || *got.Quality != 80 {
		t.Errorf("Quality = %v, want 80", got.Quality)
	}
	if got.Quantity != 3 {
		t.Errorf("Quantity = %d, want 3", got.Quantity)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed from %v to %v", first.CreatedAt, got.CreatedAt)
	}
}

func testUpsertKeyChange(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	mustUpsert(t, repos.Listings, listing("iron hammer", "Bob", "https://forum/t/1", 3))
	for _, l := range []*store.Listing{
		listing("iron hammer", "Bob", "https://forum/t/2", 3),
		listing("iron hammer", "Alice", "https://forum/t/1", 3),
		listing("iron hammers", "Bob", "https://forum/t/1", 3),
	} {
		if !mustUpsert(t, repos.Listings, l) {
			t.Errorf("Upsert(%s, %s, %s) matched an existing row", l.Name, l.Seller, l.URL)
		}
	}
	if n := countActive(t, repos.Listings); n != 4 {
		t.Errorf("active rows = %d, want 4", n)
	}
}

func testUpsertAfterSold(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	ctx := context.Background()
	first := listing("rope", "Bob", "u", 1)
	mustUpsert(t, repos.Listings, first)
	if err := repos.Listings.MarkSold(ctx, first.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	again := listing("rope", "Bob", "u", 1)
	if !mustUpsert(t, repos.Listings, again) {
		t.Fatal("Upsert revived a sold listing instead of inserting")
	}
	if again.ID == first.ID {
		t.Fatal("sold listing re-entered active")
	}
	sold, err := repos.Listings.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sold.Status != store.StatusSold {
		t.Errorf("Status = %s, want sold", sold.Status)
	}
}

func testUpsertInvalid(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	tests := []struct {
		name string
		l    *store.Listing
	}{
		{"empty name", listing("", "Bob", "u", 1)},
		{"negative price", listing("axe", "Bob", "u", -1)},
		{"negative quantity", &store.Listing{Name: "axe", Quantity: -2}},
		{"non-active status", &store.Listing{Name: "axe", Status: store.StatusSold}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repos.Listings.Upsert(context.Background(), tt.l)
			if !errors.Is(err, store.ErrInvalidListing) {
				t.Errorf("Upsert error = %v, want ErrInvalidListing", err)
			}
		})
	}
	if n := countActive(t, repos.Listings); n != 0 {
		t.Errorf("active rows = %d, want 0", n)
	}
}

func testConcurrentUpsert(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := repos.Listings.Upsert(context.Background(), listing("brick", "Bob", "u", float64(i+1)))
			if err != nil {
				t.Errorf("Upsert: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
	if n := countActive(t, repos.Listings); n != 1 {
		t.Errorf("active rows = %d, want 1", n)
	}
}

func testGetByID(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	ctx := context.Background()
	l := listing("oak chest", "", "", 12)
	l.Description = "WTS oak chest 12s"
	mustUpsert(t, repos.Listings, l)

	got, err := repos.Listings.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Seller != store.Unknown || got.Location != store.Unknown {
		t.Errorf("seller/location = %q/%q, want unknown", got.Seller, got.Location)
	}
	if got.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1", got.Quantity)
	}
	if got.Status != store.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	if got.Description != "WTS oak chest 12s" {
		t.Errorf("Description = %q", got.Description)
	}

	if _, err := repos.Listings.GetByID(ctx, MissingID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func testMarkSold(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	ctx := context.Background()
	l := listing("saw", "Bob", "u", 2)
	mustUpsert(t, repos.Listings, l)

	if err := repos.Listings.MarkSold(ctx, l.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	if err := repos.Listings.MarkSold(ctx, l.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("second MarkSold error = %v, want ErrInvalidTransition", err)
	}
	if err := repos.Listings.MarkSold(ctx, MissingID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkSold(missing) error = %v, want ErrNotFound", err)
	}
	if n := countActive(t, repos.Listings); n != 0 {
		t.Errorf("active rows = %d, want 0", n)
	}
}

func testExpireStale(t *testing.T, repos *store.Repositories, clk *clock.Manual) {
	ctx := context.Background()
	old := listing("old axe", "Bob", "u1", 1)
	sold := listing("old sword", "Bob", "u2", 1)
	mustUpsert(t, repos.Listings, old)
	mustUpsert(t, repos.Listings, sold)
	if err := repos.Listings.MarkSold(ctx, sold.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	clk.Advance(40 * 24 * time.Hour)
	fresh := listing("new axe", "Bob", "u3", 1)
	mustUpsert(t, repos.Listings, fresh)

	n, err := repos.Listings.ExpireStale(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Errorf("first sweep expired %d, want 1", n)
	}

	n, err = repos.Listings.ExpireStale(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("second ExpireStale: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}

	for _, tc := range []struct {
		id   string
		want store.Status
	}{
		{old.ID, store.StatusExpired},
		{sold.ID, store.StatusSold},
		{fresh.ID, store.StatusActive},
	} {
		got, err := repos.Listings.GetByID(ctx, tc.id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != tc.want {
			t.Errorf("%s status = %s, want %s", got.Name, got.Status, tc.want)
		}
	}
}

func testSearch(t *testing.T, repos *store.Repositories, clk *clock.Manual) {
	ctx := context.Background()
	seed := []struct {
		name, category, server, desc string
		price                        float64
	}{
		{"iron hammer", "tools", "Xanadu", "fine hammer", 3},
		{"long sword", "weapons", "Xanadu", "sharp", 10},
		{"oak chest", "misc", "Independence", "holds hammers", 7},
		{"rope", "materials", "Independence", "", 0.5},
	}
	for i, s := range seed {
		l := listing(s.name, "Bob", fmt.Sprintf("u%d", i), s.price)
		l.Category = s.category
		l.Server = s.server
		l.Description = s.desc
		mustUpsert(t, repos.Listings, l)
		clk.Advance(time.Minute)
	}
	sold := listing("sold hammer", "Bob", "sold", 1)
	mustUpsert(t, repos.Listings, sold)
	if err := repos.Listings.MarkSold(ctx, sold.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	tests := []struct {
		name  string
		q     store.Query
		names []string
	}{
		{"default newest first", store.Query{}, []string{"rope", "oak chest", "long sword", "iron hammer"}},
		{"server filter", store.Query{Server: "Independence", SortBy: "name"}, []string{"oak chest", "rope"}},
		{"all matches everything", store.Query{Server: "all", Category: "all", SortBy: "price"}, []string{"rope", "iron hammer", "oak chest", "long sword"}},
		{"category filter", store.Query{Category: "weapons"}, []string{"long sword"}},
		{"search name and description", store.Query{Search: "HAMMER", SortBy: "name"}, []string{"iron hammer", "oak chest"}},
		{"price desc with limit", store.Query{SortBy: "price", Desc: true, Limit: 2}, []string{"long sword", "oak chest"}},
		{"unknown sort falls back", store.Query{SortBy: "price; DROP TABLE listings"}, []string{"rope", "oak chest", "long sword", "iron hammer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repos.Listings.Search(ctx, tt.q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.names) {
				t.Fatalf("Search returned %d rows, want %d", len(got), len(tt.names))
			}
			for i, want := range tt.names {
				if got[i].Name != want {
					t.Errorf("row %d = %q, want %q", i, got[i].Name, want)
				}
			}
		})
	}
}

func testStats(t *testing.T, repos *store.Repositories, clk *clock.Manual) {
	ctx := context.Background()

	old := listing("old rope", "Bob", "u0", 1)
	old.Category = "materials"
	mustUpsert(t, repos.Listings, old)
	clk.Advance(48 * time.Hour)

	for i, s := range []struct {
		category string
		price    float64
		cost     *float64
	}{
		{"tools", 4, ptr(2.0)},
		{"tools", 2, nil},
		{"tools", 0, nil},
		{"weapons", 10, ptr(4.0)},
	} {
		l := listing(fmt.Sprintf("item %d", i), "Bob", fmt.Sprintf("u%d", i+1), s.price)
		l.Category = s.category
		l.Cost = s.cost
		l.Quantity = 2
		mustUpsert(t, repos.Listings, l)
	}
	sold := listing("sold", "Bob", "sold", 100)
	mustUpsert(t, repos.Listings, sold)
	if err := repos.Listings.MarkSold(ctx, sold.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	st, err := repos.Listings.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalActive != 5 {
		t.Errorf("TotalActive = %d, want 5", st.TotalActive)
	}
	sum := 0
	for _, n := range st.ByCategory {
		sum += n
	}
	if sum != st.TotalActive {
		t.Errorf("category counts sum to %d, total is %d", sum, st.TotalActive)
	}
	if st.ByCategory["tools"] != 3 {
		t.Errorf("tools count = %d, want 3", st.ByCategory["tools"])
	}
	if got := st.AvgPrice["tools"]; got != 3 {
		t.Errorf("tools avg price = %v, want 3 (zero prices excluded)", got)
	}
	if st.Trending != 4 {
		t.Errorf("Trending = %d, want 4", st.Trending)
	}
	if st.TotalQuantity != 9 {
		t.Errorf("TotalQuantity = %d, want 9", st.TotalQuantity)
	}
	if st.AvgProfit != 125 {
		t.Errorf("AvgProfit = %v, want 125", st.AvgProfit)
	}
	if !st.LastUpdate.Equal(Epoch.Add(48 * time.Hour)) {
		t.Errorf("LastUpdate = %v, want %v", st.LastUpdate, Epoch.Add(48*time.Hour))
	}
}

func testPriceGroups(t *testing.T, repos *store.Repositories, _ *clock.Manual) {
	ctx := context.Background()
	seed := []struct {
		name  string
		price float64
	}{
		{"iron hammer", 2}, {"iron hammer", 4},
		{"long sword", 20}, {"long sword", 30}, {"long sword", 10},
		{"rope", 1},
		{"free axe", 0}, {"free axe", 0},
	}
	for i, s := range seed {
		mustUpsert(t, repos.Listings, listing(s.name, fmt.Sprintf("s%d", i), "u", s.price))
	}

	groups, err := repos.Listings.PriceGroups(ctx, 2, 10)
	if err != nil {
		t.Fatalf("PriceGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Name != "long sword" || groups[0].AvgPrice != 20 || groups[0].Frequency != 3 {
		t.Errorf("first group = %+v", groups[0])
	}
	if groups[1].Name != "iron hammer" || groups[1].AvgPrice != 3 || groups[1].Frequency != 2 {
		t.Errorf("second group = %+v", groups[1])
	}

	limited, err := repos.Listings.PriceGroups(ctx, 1, 1)
	if err != nil {
		t.Fatalf("PriceGroups(limit 1): %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "long sword" {
		t.Errorf("limited = %+v", limited)
	}
}

func testScrapeRuns(t *testing.T, repos *store.Repositories, clk *clock.Manual) {
	ctx := context.Background()
	msg := "connection refused"
	runs := []*store.ScrapeRun{
		{RunID: "r1", Source: "forum", Target: "https://forum", ListingsFound: 4, Status: store.RunCompleted},
		{RunID: "r1", Source: "steam", Target: "https://steam", Status: store.RunFailed, Error: &msg},
	}
	for _, r := range runs {
		if err := repos.Runs.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if r.ID == "" {
			t.Fatal("expected ID to be set after Append")
		}
		clk.Advance(time.Second)
	}

	got, err := repos.Runs.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecent returned %d, want 2", len(got))
	}
	if got[0].Source != "steam" || got[0].Status != store.RunFailed {
		t.Errorf("newest run = %+v", got[0])
	}
	if got[0].Error == nil || *got[0].Error != msg {
		t.Errorf("newest run error = %v, want %q", got[0].Error, msg)
	}
	if got[1].ListingsFound != 4 {
		t.Errorf("ListingsFound = %d, want 4", got[1].ListingsFound)
	}

	one, err := repos.Runs.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecent(1): %v", err)
	}
	if len(one) != 1 {
		t.Errorf("ListRecent(1) returned %d", len(one))
	}
}
