// Package adapter contains the per-manufacturer site adapters. Each adapter
// knows how to walk one manufacturer's catalog pages and extract raw product
// records; everything downstream (dedup, persistence, notification) is
// site-agnostic.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// Site identifies one supported manufacturer site.
type Site string

const (
	SiteBandai     Site = "BANDAI_GASHAPON"
	SiteTakaraTomy Site = "TAKARA_TOMY_ARTS"
)

// RawProduct is a product as extracted from a catalog page, before
// normalization and dedup.
type RawProduct struct {
	Name         string
	Manufacturer string
	ImageURL     string
	ReleaseDate  string // "YYYY-MM-DD" or ""
	Price        *int   // yen, nil when unannounced
	Description  string
	LineupInfo   string
	SourceURL    string
}

// Extraction is the outcome of one adapter run. Skipped counts detail pages
// that failed to fetch or parse without aborting the run.
type Extraction struct {
	Products []RawProduct
	Skipped  int
}

// Target tells an adapter what to fetch.
type Target struct {
	Site Site
	URL  string // list page URL, adapter default when empty
}

// FetchError wraps a failure to retrieve the entry page. Detail page
// failures are absorbed into Extraction.Skipped instead.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("adapter: fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Adapter walks one manufacturer's catalog and extracts products.
type Adapter interface {
	// Site returns the site this adapter handles.
	Site() Site
	// DefaultURL is the entry page used when the site config has no URL.
	DefaultURL() string
	// FetchAndParse fetches the target and extracts products. The entry
	// page failing returns a *FetchError; individual detail pages failing
	// only increments Extraction.Skipped.
	FetchAndParse(ctx context.Context, target Target) (*Extraction, error)
}

// Config carries the shared fetch settings for all adapters.
type Config struct {
	Timeout     time.Duration
	Delay       time.Duration
	Parallelism int
	MaxProducts int // cap per run, keeps a runaway listing from flooding the store
	UserAgent   string
	Transport   http.RoundTripper // overridable for tests
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
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
}

// newCollector builds a colly collector from cfg with the shared settings
// applied. allowedDomains limits the crawl to the manufacturer's hosts.
func newCollector(cfg Config, allowedDomains ...string) *colly.Collector {
	cfg.defaults()

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowedDomains(allowedDomains...),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.Transport != nil {
		c.WithTransport(cfg.Transport)
	}
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
	})
	return c
}

// Registry maps site names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Site]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Site]Adapter)}
}

// Register adds an adapter, replacing any previous one for the same site.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Site()] = a
}

// Get returns the adapter for site, or nil.
func (r *Registry) Get(site Site) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[site]
}

// Sites returns the registered site names, sorted.
func (r *Registry) Sites() []Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sites := make([]Site, 0, len(r.adapters))
	for s := range r.adapters {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i] < sites[j] })
	return sites
}
