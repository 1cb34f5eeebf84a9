package scrape

import "time"

// Config carries the tunables for the scrape service.
type Config struct {
	// FetchTimeout bounds each HTTP request an adapter makes.
	FetchTimeout time.Duration

	// FetchDelay spaces requests to the same manufacturer host.
	FetchDelay time.Duration

	// Parallelism caps concurrent requests per host.
	Parallelism int

	// MaxProducts caps how many items one run may ingest.
	MaxProducts int

	// UserAgent is sent on every adapter request.
	UserAgent string

	// CacheSize bounds the natural-key LRU used for dedup.
	CacheSize int

	// NewFlagMaxAge is how long a product keeps is_new after discovery.
	NewFlagMaxAge time.Duration

	// SweepCron schedules the nightly new-flag sweep (six fields).
	SweepCron string
}

// defaults fills unset fields in place.
func (c *Config) defaults() {
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.FetchDelay == 0 {
		c.FetchDelay = 500 * time.Millisecond
	}
	if c.Parallelism == 0 {
		c.Parallelism = 2
	}
	if c.MaxProducts == 0 {
		c.MaxProducts = 50
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; GachaHubBot/1.0)"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 4096
	}
	if c.NewFlagMaxAge == 0 {
		c.NewFlagMaxAge = 30 * 24 * time.Hour
	}
	if c.SweepCron == "" {
		c.SweepCron = "0 0 0 * * *"
	}
}
