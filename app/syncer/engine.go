// Package syncer implements the feed synchronization engine: the staleness
// decision, the sequential paginated fetch loop with bounded retry, and the
// all-or-nothing commit of the merged result to memory and cache.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/query"
)

const (
	// MaxRetries bounds server-error retries for a whole run, not per page.
	MaxRetries = 3

	defaultRetryDelay = 5 * time.Second
)

// Result describes the outcome of one successful synchronization run.
type Result struct {
	FeedName  string        `json:"feed"`
	ItemCount int           `json:"item_count"`
	FromCache bool          `json:"from_cache"`
	Duration  time.Duration `json:"duration"`

	// Warning carries a cache write failure after a successful fetch: the
	// in-memory state is committed, but the next cold start will not see it.
	Warning error `json:"-"`
}

// Engine owns the synchronization state of a single feed. All readers get
// snapshot copies; the committed set is only ever replaced wholesale.
type Engine struct {
	feedName       string
	fetcher        Fetcher
	cache          Cache
	pageSize       int
	minCachedItems int

	retryDelay time.Duration
	now        func() time.Time

	group singleflight.Group

	mu           sync.RWMutex
	allItems     []client.Item
	visibleItems []client.Item
	searchQuery  string
	sortOrder    query.Order
	lastSyncedAt time.Time
}

func NewEngine(feedName string, fetcher Fetcher, cache Cache, pageSize, minCachedItems int) *Engine {
	return &Engine{
		feedName:       feedName,
		fetcher:        fetcher,
		cache:          cache,
		pageSize:       pageSize,
		minCachedItems: minCachedItems,
		retryDelay:     defaultRetryDelay,
		now:            time.Now,
	}
}

// Synchronize brings the local state up to date, serving from the cache
// when it was written on the same calendar day and holds enough items,
// refreshing from the network otherwise. Overlapping calls for the same
// feed collapse into a single in-flight run and share its result.
func (e *Engine) Synchronize(ctx context.Context) (*Result, error) {
	return e.run(ctx, false)
}

// ForceRefresh always takes the network path, regardless of cache age.
func (e *Engine) ForceRefresh(ctx context.Context) (*Result, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, force bool) (*Result, error) {
	v, err, shared := e.group.Do(e.feedName, func() (interface{}, error) {
		return e.synchronize(ctx, force)
	})
	if err != nil {
		return nil, err
	}

	result := v.(*Result)
	if shared {
		slog.Debug("Joined in-flight synchronization", "feed", e.feedName)
	}
	return result, nil
}

func (e *Engine) synchronize(ctx context.Context, force bool) (*Result, error) {
	start := e.now()

	if !force {
		if items, syncedAt, ok := e.loadFromCache(); ok {
			e.commit(items, syncedAt)
			slog.Info("Synchronized from cache", "feed", e.feedName, "items", len(items))
			return &Result{
				FeedName:  e.feedName,
				ItemCount: len(items),
				FromCache: true,
				Duration:  e.now().Sub(start),
			}, nil
		}
	}

	items, err := e.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	// Newest first; equal dates keep fetch order.
	items = query.Sort(items, query.OrderDesc)

	syncedAt := e.now()
	e.commit(items, syncedAt)

	var warning error
	if err := e.cache.SaveSnapshot(e.feedName, items, syncedAt); err != nil {
		warning = err
		slog.Warn("Cache write failed, update will not survive a restart", "feed", e.feedName, "error", err)
	}

	slog.Info("Synchronized from network", "feed", e.feedName, "items", len(items), "duration", e.now().Sub(start))

	return &Result{
		FeedName:  e.feedName,
		ItemCount: len(items),
		Duration:  e.now().Sub(start),
		Warning:   warning,
	}, nil
}

// loadFromCache applies the staleness policy: trust the cache only when the
// last sync happened on today's calendar day and the stored set meets the
// minimum size threshold. Store read failures count as a cache miss.
func (e *Engine) loadFromCache() ([]client.Item, time.Time, bool) {
	syncedAt, ok, err := e.cache.LastSyncedAt(e.feedName)
	if err != nil {
		slog.Warn("Cache read failed, falling back to network", "feed", e.feedName, "error", err)
		return nil, time.Time{}, false
	}
	if !ok || !sameDay(syncedAt, e.now()) {
		return nil, time.Time{}, false
	}

	items, ok, err := e.cache.LoadItems(e.feedName)
	if err != nil {
		slog.Warn("Cache read failed, falling back to network", "feed", e.feedName, "error", err)
		return nil, time.Time{}, false
	}
	if !ok {
		return nil, time.Time{}, false
	}

	if len(items) < e.minCachedItems {
		slog.Debug("Cached set below minimum threshold, refreshing", "feed", e.feedName, "items", len(items), "min", e.minCachedItems)
		if err := e.cache.Reset(e.feedName); err != nil {
			slog.Warn("Failed to clear insufficient cache", "feed", e.feedName, "error", err)
		}
		return nil, time.Time{}, false
	}

	return items, syncedAt, true
}

// runState drives the page loop as an explicit state machine so the stack
// stays flat and cancellation is a single check per transition.
type runState int

const (
	stateFetching runState = iota
	stateRetrying
	stateDone
	stateFailed
)

// fetchAll walks the remote feed one page at a time until a short page
// signals exhaustion. An APIError with status 500 retries the same page
// after a delay; the retry count is shared across the whole run. Any other
// error terminates the run with nothing committed.
func (e *Engine) fetchAll(ctx context.Context) ([]client.Item, error) {
	var (
		acc        []client.Item
		runErr     error
		page       = 1
		retryCount = 0
		state      = stateFetching
	)

	for state != stateDone && state != stateFailed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch state {
		case stateRetrying:
			slog.Warn("Server error, retrying page", "feed", e.feedName, "page", page, "retry", retryCount, "max_retries", MaxRetries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryDelay):
			}
			state = stateFetching

		case stateFetching:
			pageResult, err := e.fetcher.FetchPage(ctx, page, e.pageSize)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusInternalServerError && retryCount < MaxRetries {
					retryCount++
					state = stateRetrying
					continue
				}
				runErr = err
				state = stateFailed
				continue
			}

			acc = append(acc, pageResult.Items...)

			// A full page implies more data; no explicit "has more" flag
			// is trusted from the metadata.
			if len(pageResult.Items) == e.pageSize {
				page++
			} else {
				state = stateDone
			}
		}
	}

	if state == stateFailed {
		slog.Error("Synchronization failed", "feed", e.feedName, "page", page, "retries", retryCount, "error", runErr)
		return nil, runErr
	}

	return acc, nil
}

// commit replaces the committed set wholesale and re-derives the visible
// subset under the current query and sort order.
func (e *Engine) commit(items []client.Item, syncedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allItems = items
	e.lastSyncedAt = syncedAt
	e.applyQueryLocked()
}

func (e *Engine) applyQueryLocked() {
	visible := query.Filter(e.allItems, e.searchQuery)
	if e.sortOrder != "" {
		visible = query.Sort(visible, e.sortOrder)
	}
	e.visibleItems = visible
}

// ResetCache clears both the persisted cache and the in-memory state.
func (e *Engine) ResetCache() error {
	if err := e.cache.Reset(e.feedName); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.allItems = nil
	e.visibleItems = nil
	e.searchQuery = ""
	e.sortOrder = ""
	e.lastSyncedAt = time.Time{}

	return nil
}

// Filter narrows the visible subset to items whose title or summary
// contains the query, preserving committed order, and returns a snapshot.
func (e *Engine) Filter(q string) []client.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.searchQuery = q
	e.applyQueryLocked()

	return snapshot(e.visibleItems)
}

// Sort reorders the visible subset by published date and returns a snapshot.
func (e *Engine) Sort(order query.Order) []client.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sortOrder = order
	e.visibleItems = query.Sort(e.visibleItems, order)

	return snapshot(e.visibleItems)
}

// Items returns a snapshot of the full committed set.
func (e *Engine) Items() []client.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot(e.allItems)
}

// VisibleItems returns a snapshot of the current filtered/sorted subset.
func (e *Engine) VisibleItems() []client.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot(e.visibleItems)
}

// LastSyncedAt returns the timestamp of the last committed sync, or zero.
func (e *Engine) LastSyncedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSyncedAt
}

func snapshot(items []client.Item) []client.Item {
	result := make([]client.Item, len(items))
	copy(result, items)
	return result
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(time.Local).Date()
	by, bm, bd := b.In(time.Local).Date()
	return ay == by && am == bm && ad == bd
}
