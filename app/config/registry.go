package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry loads and holds the feed source configurations. Configurations
// are immutable after Run; reads are safe for concurrent use.
type Registry struct {
	feedsDir string
	feeds    map[string]*Feed
	mu       sync.RWMutex
}

func NewRegistry(feedsDir string) *Registry {
	return &Registry{
		feedsDir: feedsDir,
		feeds:    make(map[string]*Feed),
	}
}

func (r *Registry) Run() error {
	if _, err := os.Stat(r.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		feedName := strings.TrimSuffix(filepath.Base(file), ".yml")

		feed, err := r.loadFile(file, feedName)
		if err != nil {
			return fmt.Errorf("failed to load feed %s: %w", feedName, err)
		}

		r.mu.Lock()
		r.feeds[feedName] = feed
		r.mu.Unlock()
	}

	return nil
}

func (r *Registry) loadFile(path, feedName string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feed Feed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	feed.Name = feedName

	if feed.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}

	applyDefaults(&feed.Settings)

	return &feed, nil
}

func applyDefaults(s *Settings) {
	if s.SyncInterval <= 0 {
		s.SyncInterval = DefaultSyncInterval
	}
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.MinCachedItems <= 0 {
		s.MinCachedItems = DefaultMinCachedItems
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
}

func (r *Registry) GetFeed(name string) (*Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feed, ok := r.feeds[name]
	if !ok {
		return nil, fmt.Errorf("feed not found: %s", name)
	}
	return feed, nil
}

func (r *Registry) GetFeeds() map[string]*Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feeds := make(map[string]*Feed, len(r.feeds))
	for name, feed := range r.feeds {
		feeds[name] = feed
	}
	return feeds
}

func (r *Registry) GetEnabledFeeds() map[string]*Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feeds := make(map[string]*Feed)
	for name, feed := range r.feeds {
		if feed.Settings.Enabled {
			feeds[name] = feed
		}
	}
	return feeds
}

func (r *Registry) GetFeedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
