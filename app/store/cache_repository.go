package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kpotapov/newsline/app/client"
)

// CacheRepository maps a feed's cached snapshot onto the key/value store.
// Each feed owns two logical keys: its serialized item list and its
// last-synchronized timestamp. A reset clears both together and a save
// writes both together; no finer consistency is guaranteed.
type CacheRepository struct {
	kv KV
}

func NewCacheRepository(kv KV) *CacheRepository {
	return &CacheRepository{kv: kv}
}

func itemsKey(feedName string) string {
	return fmt.Sprintf("feed:%s:items", feedName)
}

func lastSyncedAtKey(feedName string) string {
	return fmt.Sprintf("feed:%s:last_synced_at", feedName)
}

// LoadItems returns the cached item slice for a feed, preserving the order
// it was saved in. The second return is false when no cache exists.
func (r *CacheRepository) LoadItems(feedName string) ([]client.Item, bool, error) {
	data, ok, err := r.kv.Get(itemsKey(feedName))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load cached items: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var items []client.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached items: %w", err)
	}

	return items, true, nil
}

// LastSyncedAt returns the timestamp of the last successful sync, or false
// when none is recorded.
func (r *CacheRepository) LastSyncedAt(feedName string) (time.Time, bool, error) {
	data, ok, err := r.kv.Get(lastSyncedAtKey(feedName))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load last sync time: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	ts, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last sync time: %w", err)
	}

	return ts, true, nil
}

// SaveSnapshot persists the item list and the sync timestamp together.
func (r *CacheRepository) SaveSnapshot(feedName string, items []client.Item, syncedAt time.Time) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	if err := r.kv.Set(itemsKey(feedName), data); err != nil {
		return fmt.Errorf("failed to save items: %w", err)
	}

	if err := r.kv.Set(lastSyncedAtKey(feedName), []byte(syncedAt.Format(time.RFC3339))); err != nil {
		return fmt.Errorf("failed to save last sync time: %w", err)
	}

	return nil
}

// Reset deletes both cache keys for a feed.
func (r *CacheRepository) Reset(feedName string) error {
	if err := r.kv.Delete(itemsKey(feedName)); err != nil {
		return fmt.Errorf("failed to delete cached items: %w", err)
	}
	if err := r.kv.Delete(lastSyncedAtKey(feedName)); err != nil {
		return fmt.Errorf("failed to delete last sync time: %w", err)
	}

	return nil
}
