package syncer

import (
	"context"
	"time"

	"github.com/kpotapov/newsline/app/client"
	"github.com/kpotapov/newsline/app/store"
)

// Fetcher retrieves one page of the remote feed.
type Fetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) (*client.Page, error)
}

var _ Fetcher = (*client.Client)(nil)

// Cache is the persistence contract the engine commits through.
type Cache interface {
	LoadItems(feedName string) ([]client.Item, bool, error)
	LastSyncedAt(feedName string) (time.Time, bool, error)
	SaveSnapshot(feedName string, items []client.Item, syncedAt time.Time) error
	Reset(feedName string) error
}

var _ Cache = (*store.CacheRepository)(nil)
