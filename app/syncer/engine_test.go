package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/query"
)

var baseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func makeItems(start, count int) []client.Item {
	items := make([]client.Item, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, client.Item{
			ID:          start + i,
			Title:       fmt.Sprintf("Item %d", start+i),
			URL:         fmt.Sprintf("https://example.com/articles/%d", start+i),
			PublishedAt: baseDate.AddDate(0, 0, (start+i)%28),
		})
	}
	return items
}

type fakeFetcher struct {
	mu    sync.Mutex
	fn    func(page int) (*client.Page, error)
	calls []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page, pageSize int) (*client.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	return f.fn(page)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCache struct {
	mu          sync.Mutex
	items       map[string][]client.Item
	syncedAt    map[string]time.Time
	itemsErr    error
	syncedAtErr error
	saveErr     error
	saves       int
	resets      int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		items:    make(map[string][]client.Item),
		syncedAt: make(map[string]time.Time),
	}
}

func (c *fakeCache) LoadItems(feedName string) ([]client.Item, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.itemsErr != nil {
		return nil, false, c.itemsErr
	}
	items, ok := c.items[feedName]
	return items, ok, nil
}

func (c *fakeCache) LastSyncedAt(feedName string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncedAtErr != nil {
		return time.Time{}, false, c.syncedAtErr
	}
	ts, ok := c.syncedAt[feedName]
	return ts, ok, nil
}

func (c *fakeCache) SaveSnapshot(feedName string, items []client.Item, syncedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	stored := make([]client.Item, len(items))
	copy(stored, items)
	c.items[feedName] = stored
	c.syncedAt[feedName] = syncedAt
	c.saves++
	return nil
}

func (c *fakeCache) Reset(feedName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, feedName)
	delete(c.syncedAt, feedName)
	c.resets++
	return nil
}

func newTestEngine(fetcher Fetcher, cache Cache) *Engine {
	e := NewEngine("test", fetcher, cache, 100, 100)
	e.retryDelay = time.Millisecond
	return e
}

func TestSynchronize_PaginationTermination(t *testing.T) {
	pages := map[int]int{1: 100, 2: 100, 3: 37}
	fetcher := &fakeFetcher{fn: func(page int) (*client.Page, error) {
		return &client.Page{Items: makeItems((page-1)*100, pages[page])}, nil
	}}
	cache := newFakeCache()
	engine := newTestEngine(fetcher, cache)

	result, err := engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if fetcher.callCount() != 3 {
		t.Errorf("Expected 3 page requests, got %d: %v", fetcher.callCount(), fetcher.calls)
	}
	if result.ItemCount != 237 {
		t.Errorf("Expected 237 items, got %d", result.ItemCount)
	}
	if result.FromCache {
		t.Error("Expected network sync, got cache hit")
	}

	items := engine.Items()
	if len(items) != 237 {
		t.Errorf("Expected 237 committed items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].PublishedAt.After(items[i-1].PublishedAt) {
			t.Fatalf("Items not sorted descending at index %d", i)
		}
	}

	cached, ok, _ := cache.LoadItems("test")
	if !ok || len(cached) != 237 {
		t.Errorf("Expected 237 cached items, got %d (present: %v)", len(cached), ok)
	}
}

func TestSynchronize_SortStableOnEqualDates(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	page := []client.Item{
		{ID: 1, Title: "A", PublishedAt: day(1)},
		{ID: 2, Title: "B", PublishedAt: day(5)},
		{ID: 3, Title: "C", PublishedAt: day(3)},
		{ID: 4, Title: "D", PublishedAt: day(5)},
	}
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: page}, nil
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	items := engine.Items()
	wantOrder := []int{2, 4, 3, 1} // ties (2, 4) keep fetch order
	for i, id := range wantOrder {
		if items[i].ID != id {
			t.Errorf("Position %d: expected item %d, got %d", i, id, items[i].ID)
		}
	}
}

func TestSynchronize_RetryBound(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return nil, &client.APIError{Status: 500, Name: "InternalServerError", Message: "boom"}
	}}
	cache := newFakeCache()
	engine := newTestEngine(fetcher, cache)

	_, err := engine.Synchronize(context.Background())
	if err == nil {
		t.Fatal("Expected terminal error after exhausted retries")
	}

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 500 {
		t.Errorf("Expected APIError with status 500, got %v", err)
	}

	if fetcher.callCount() != MaxRetries+1 {
		t.Errorf("Expected %d requests, got %d", MaxRetries+1, fetcher.callCount())
	}
	if len(engine.Items()) != 0 {
		t.Error("Failed sync must not commit items")
	}
	if cache.saves != 0 {
		t.Error("Failed sync must not write the cache")
	}
}

func TestSynchronize_NonRetryableAPIError(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return nil, &client.APIError{Status: 404, Name: "NotFound", Message: "gone"}
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	if _, err := engine.Synchronize(context.Background()); err == nil {
		t.Fatal("Expected error for non-500 API error")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Non-500 API errors must not be retried, got %d requests", fetcher.callCount())
	}
}

func TestSynchronize_TransportErrorNotRetried(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return nil, &client.TransportError{Err: errors.New("connection refused")}
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	_, err := engine.Synchronize(context.Background())
	if err == nil {
		t.Fatal("Expected transport error to surface")
	}
	var transportErr *client.TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("Expected TransportError, got %v", err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Transport errors must not be retried, got %d requests", fetcher.callCount())
	}
}

func TestSynchronize_AtomicOnMidRunFailure(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(page int) (*client.Page, error) {
		if page == 1 {
			return &client.Page{Items: makeItems(0, 100)}, nil
		}
		return &client.Page{Items: makeItems(100, 50)}, nil
	}}
	cache := newFakeCache()
	engine := newTestEngine(fetcher, cache)

	now := baseDate.Add(12 * time.Hour)
	engine.now = func() time.Time { return now }

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Initial sync failed: %v", err)
	}
	firstSyncedAt := cache.syncedAt["test"]

	// Next day, page 2 of the refresh fails terminally.
	now = now.AddDate(0, 0, 1)
	fetcher.fn = func(page int) (*client.Page, error) {
		if page == 1 {
			return &client.Page{Items: makeItems(500, 100)}, nil
		}
		return nil, &client.APIError{Status: 400, Name: "BadRequest", Message: "nope"}
	}

	if _, err := engine.Synchronize(context.Background()); err == nil {
		t.Fatal("Expected mid-run failure to surface")
	}

	items := engine.Items()
	if len(items) != 150 {
		t.Errorf("Expected state to keep 150 items from previous sync, got %d", len(items))
	}
	for _, item := range items {
		if item.ID >= 500 {
			t.Fatalf("Partial page from failed run leaked into state: item %d", item.ID)
		}
	}

	cached, _, _ := cache.LoadItems("test")
	if len(cached) != 150 {
		t.Errorf("Expected cache to keep 150 items, got %d", len(cached))
	}
	if !cache.syncedAt["test"].Equal(firstSyncedAt) {
		t.Error("Failed sync must not touch the stored timestamp")
	}
}

func TestSynchronize_CacheHitSameDay(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

	cache := newFakeCache()
	cache.items["test"] = makeItems(0, 150)
	cache.syncedAt["test"] = now.Add(-time.Hour)

	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return nil, errors.New("network must not be touched")
	}}
	engine := newTestEngine(fetcher, cache)
	engine.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		result, err := engine.Synchronize(context.Background())
		if err != nil {
			t.Fatalf("Synchronize %d failed: %v", i, err)
		}
		if !result.FromCache {
			t.Errorf("Synchronize %d: expected cache hit", i)
		}
		if result.ItemCount != 150 {
			t.Errorf("Synchronize %d: expected 150 items, got %d", i, result.ItemCount)
		}
	}

	if fetcher.callCount() != 0 {
		t.Errorf("Same-day cache hit must perform zero network calls, got %d", fetcher.callCount())
	}
}

func TestSynchronize_CacheBelowThresholdRefreshes(t *testing.T) {
	cache := newFakeCache()
	cache.items["test"] = makeItems(0, 10)
	cache.syncedAt["test"] = time.Now()

	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: makeItems(0, 37)}, nil
	}}
	engine := newTestEngine(fetcher, cache)

	result, err := engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if result.FromCache {
		t.Error("Insufficient cache must fall through to a network refresh")
	}
	if cache.resets != 1 {
		t.Errorf("Expected insufficient cache to be cleared once, got %d resets", cache.resets)
	}
	if fetcher.callCount() == 0 {
		t.Error("Expected network fetch after clearing insufficient cache")
	}
}

func TestSynchronize_CacheReadFailureFallsBackToNetwork(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fakeCache)
	}{
		{"timestamp read fails", func(c *fakeCache) { c.syncedAtErr = errors.New("corrupt store") }},
		{"items read fails", func(c *fakeCache) { c.itemsErr = errors.New("corrupt store") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := newFakeCache()
			cache.items["test"] = makeItems(0, 150)
			cache.syncedAt["test"] = time.Now()
			tc.mutate(cache)

			fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
				return &client.Page{Items: makeItems(0, 20)}, nil
			}}
			engine := newTestEngine(fetcher, cache)

			result, err := engine.Synchronize(context.Background())
			if err != nil {
				t.Fatalf("Synchronize failed: %v", err)
			}
			if result.FromCache {
				t.Error("A cache read failure must not report a cache hit")
			}
			if result.ItemCount != 20 {
				t.Errorf("Expected 20 items from network, got %d", result.ItemCount)
			}
			if fetcher.callCount() == 0 {
				t.Error("Expected a network refresh after the cache read failure")
			}
		})
	}
}

func TestSynchronize_StaleCachePreviousDay(t *testing.T) {
	cache := newFakeCache()
	cache.items["test"] = makeItems(0, 150)
	cache.syncedAt["test"] = time.Now().AddDate(0, 0, -1)

	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: makeItems(0, 20)}, nil
	}}
	engine := newTestEngine(fetcher, cache)

	result, err := engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if result.FromCache {
		t.Error("Cache from a previous day must not be trusted")
	}
	if fetcher.callCount() == 0 {
		t.Error("Expected a network fetch for a stale cache")
	}
}

func TestForceRefresh_BypassesFreshCache(t *testing.T) {
	cache := newFakeCache()
	cache.items["test"] = makeItems(0, 150)
	cache.syncedAt["test"] = time.Now()

	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: makeItems(0, 20)}, nil
	}}
	engine := newTestEngine(fetcher, cache)

	result, err := engine.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if result.FromCache {
		t.Error("ForceRefresh must not serve from cache")
	}
	if result.ItemCount != 20 {
		t.Errorf("Expected 20 items from network, got %d", result.ItemCount)
	}
}

func TestSynchronize_CacheWriteFailureIsWarning(t *testing.T) {
	cache := newFakeCache()
	cache.saveErr = errors.New("disk full")

	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: makeItems(0, 20)}, nil
	}}
	engine := newTestEngine(fetcher, cache)

	result, err := engine.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Cache write failure must not fail the sync: %v", err)
	}
	if result.Warning == nil {
		t.Error("Expected a warning for the failed cache write")
	}
	if len(engine.Items()) != 20 {
		t.Errorf("In-memory state must still be committed, got %d items", len(engine.Items()))
	}
}

func TestSynchronize_CancellationCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fetcher := &fakeFetcher{}
	fetcher.fn = func(int) (*client.Page, error) {
		cancel()
		return nil, &client.APIError{Status: 500, Name: "InternalServerError", Message: "boom"}
	}
	cache := newFakeCache()
	engine := newTestEngine(fetcher, cache)
	engine.retryDelay = time.Hour

	_, err := engine.Synchronize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected cancellation before any retry, got %d requests", fetcher.callCount())
	}
	if len(engine.Items()) != 0 {
		t.Error("Cancelled sync must not commit items")
	}
	if cache.saves != 0 {
		t.Error("Cancelled sync must not write the cache")
	}
}

func TestSynchronize_SingleFlight(t *testing.T) {
	var startedOnce sync.Once
	started := make(chan struct{})
	proceed := make(chan struct{})

	fetcher := &fakeFetcher{}
	fetcher.fn = func(int) (*client.Page, error) {
		startedOnce.Do(func() { close(started) })
		<-proceed
		return &client.Page{Items: makeItems(0, 10)}, nil
	}
	engine := newTestEngine(fetcher, newFakeCache())

	var wg sync.WaitGroup
	results := make(chan *Result, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if result, err := engine.Synchronize(context.Background()); err == nil {
			results <- result
		}
	}()

	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		if result, err := engine.Synchronize(context.Background()); err == nil {
			results <- result
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(proceed)
	wg.Wait()
	close(results)

	count := 0
	for result := range results {
		count++
		if result.ItemCount != 10 {
			t.Errorf("Expected shared result with 10 items, got %d", result.ItemCount)
		}
	}
	if count != 2 {
		t.Fatalf("Expected both callers to receive a result, got %d", count)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Overlapping syncs must collapse into one fetch, got %d", fetcher.callCount())
	}
}

func TestFilter_TitleSubstringCaseInsensitive(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	page := []client.Item{
		{ID: 1, Title: "Rust release", PublishedAt: day(3)},
		{ID: 2, Title: "Go 1.22", PublishedAt: day(2)},
		{ID: 3, Title: "rustfmt update", PublishedAt: day(1)},
	}
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: page}, nil
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	filtered := engine.Filter("rust")
	if len(filtered) != 2 {
		t.Fatalf("Expected 2 matching items, got %d", len(filtered))
	}
	if filtered[0].ID != 1 || filtered[1].ID != 3 {
		t.Errorf("Expected items 1 and 3 in original relative order, got %d and %d", filtered[0].ID, filtered[1].ID)
	}

	if all := engine.Filter(""); len(all) != 3 {
		t.Errorf("Empty query must return all items, got %d", len(all))
	}
}

func TestSort_AscendingAndDescending(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	page := []client.Item{
		{ID: 1, Title: "old", PublishedAt: day(1)},
		{ID: 2, Title: "new", PublishedAt: day(9)},
		{ID: 3, Title: "mid", PublishedAt: day(5)},
	}
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: page}, nil
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	asc := engine.Sort(query.OrderAsc)
	if asc[0].ID != 1 || asc[2].ID != 2 {
		t.Errorf("Ascending sort wrong: got %d, %d, %d", asc[0].ID, asc[1].ID, asc[2].ID)
	}

	desc := engine.Sort(query.OrderDesc)
	if desc[0].ID != 2 || desc[2].ID != 1 {
		t.Errorf("Descending sort wrong: got %d, %d, %d", desc[0].ID, desc[1].ID, desc[2].ID)
	}
}

func TestResetCache_ClearsStateAndStore(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: makeItems(0, 20)}, nil
	}}
	cache := newFakeCache()
	engine := newTestEngine(fetcher, cache)

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if err := engine.ResetCache(); err != nil {
		t.Fatalf("ResetCache failed: %v", err)
	}

	if len(engine.Items()) != 0 {
		t.Error("Reset must clear in-memory items")
	}
	if _, ok, _ := cache.LoadItems("test"); ok {
		t.Error("Reset must clear cached items")
	}
	if _, ok, _ := cache.LastSyncedAt("test"); ok {
		t.Error("Reset must clear the stored timestamp")
	}
}

func TestResetCache_ClearsSortOrder(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	page := []client.Item{
		{ID: 1, Title: "old", PublishedAt: day(1)},
		{ID: 2, Title: "new", PublishedAt: day(9)},
	}
	fetcher := &fakeFetcher{fn: func(int) (*client.Page, error) {
		return &client.Page{Items: page}, nil
	}}
	engine := newTestEngine(fetcher, newFakeCache())

	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	engine.Sort(query.OrderAsc)

	if err := engine.ResetCache(); err != nil {
		t.Fatalf("ResetCache failed: %v", err)
	}
	if _, err := engine.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize after reset failed: %v", err)
	}

	visible := engine.VisibleItems()
	if len(visible) != 2 || visible[0].ID != 2 {
		t.Errorf("Expected default descending order after reset, got %+v", visible)
	}
}
