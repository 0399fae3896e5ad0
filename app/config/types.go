package config

import "time"

// Feed represents one remote news source, loaded from a .yml file in the
// feeds directory. The feed name is derived from the filename.
type Feed struct {
	Name     string
	URL      string   `yaml:"url"`
	Settings Settings `yaml:"settings"`
}

type Settings struct {
	Enabled        bool `yaml:"enabled"`
	SyncInterval   int  `yaml:"sync_interval"`    // seconds
	PageSize       int  `yaml:"page_size"`        // items requested per page
	MinCachedItems int  `yaml:"min_cached_items"` // below this, a cached set is considered insufficient
	Timeout        int  `yaml:"timeout"`          // seconds, per page request
}

const (
	DefaultSyncInterval   = 3600
	DefaultPageSize       = 100
	DefaultMinCachedItems = 100
	DefaultTimeout        = 30
)

func (s Settings) GetSyncInterval() time.Duration {
	return time.Duration(s.SyncInterval) * time.Second
}

func (s Settings) GetTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}
