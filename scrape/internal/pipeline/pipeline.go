// Package pipeline turns raw adapter extractions into persisted products
// and an append-only run log entry. One Run call handles one site.
package pipeline

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gachahub/gachahub/idgen"
	"github.com/gachahub/gachahub/scrape/internal/adapter"
	"github.com/gachahub/gachahub/scrape/internal/store"
)

// MetricsRecorder receives run outcomes for the metrics layer. The
// prometheus implementation lives one package up to keep this package
// free of collector plumbing.
type MetricsRecorder interface {
	RecordRun(site string, status string, duration time.Duration)
	RecordProducts(site string, found, fresh, skipped int)
}

// Notifier is told about freshly discovered products after a run commits.
type Notifier interface {
	NotifyNewProducts(site string, products []*store.Product)
}

// RunResult summarizes one completed pipeline run.
type RunResult struct {
	Status       string
	TotalFound   int
	NewCount     int
	Skipped      int
	ErrorMessage string
	Duration     time.Duration
}

// Pipeline dedupes and persists extractions. The LRU cache front-runs the
// store lookup for natural keys seen recently; the UNIQUE constraint on
// products.natural_key stays the source of truth.
type Pipeline struct {
	store    *store.Store
	cache    *lru.Cache[string, string] // natural key -> product ID
	metrics  MetricsRecorder
	notifier Notifier
	newID    idgen.Generator
	runID    idgen.Generator
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier attaches a new-product notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// New creates a Pipeline over st. cacheSize bounds the natural-key LRU;
// values below 1 fall back to 1024.
func New(st *store.Store, cacheSize int, opts ...Option) (*Pipeline, error) {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		store: st,
		cache: cache,
		newID: idgen.Prefixed("prd_", idgen.UUIDv7()),
		runID: idgen.Prefixed("run_", idgen.UUIDv7()),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Run executes one scrape for site via ad and records the outcome. A fetch
// failure or a persistence failure produces a FAILURE log entry and returns
// the error; a completed walk produces a SUCCESS entry even when some
// detail pages were skipped.
func (p *Pipeline) Run(ctx context.Context, ad adapter.Adapter, target adapter.Target) (*RunResult, error) {
	start := time.Now()
	site := string(ad.Site())

	extraction, err := ad.FetchAndParse(ctx, target)
	if err != nil {
		res := &RunResult{
			Status:       store.StatusFailure,
			ErrorMessage: err.Error(),
			Duration:     time.Since(start),
		}
		p.finish(ctx, site, res)
		return res, err
	}

	res := &RunResult{
		Status:     store.StatusSuccess,
		TotalFound: len(extraction.Products),
		Skipped:    extraction.Skipped,
	}

	var fresh []*store.Product
	for i := range extraction.Products {
		product, isNew, err := p.ingest(ctx, &extraction.Products[i])
		if err != nil {
			res.Status = store.StatusFailure
			res.ErrorMessage = err.Error()
			res.NewCount = len(fresh)
			res.Duration = time.Since(start)
			p.finish(ctx, site, res)
			return res, err
		}
		if isNew {
			fresh = append(fresh, product)
		}
	}

	res.NewCount = len(fresh)
	res.Duration = time.Since(start)
	p.finish(ctx, site, res)

	if len(fresh) > 0 && p.notifier != nil {
		p.notifier.NotifyNewProducts(site, fresh)
	}
	return res, nil
}

// ingest stores one raw product, deduping against the cache and the store.
// Returns the stored product and whether it was newly discovered.
func (p *Pipeline) ingest(ctx context.Context, raw *adapter.RawProduct) (*store.Product, bool, error) {
	key := store.NaturalKey(raw.Manufacturer, raw.SourceURL, raw.Name)

	product := &store.Product{
		Name:         raw.Name,
		Manufacturer: raw.Manufacturer,
		ImageURL:     raw.ImageURL,
		ReleaseDate:  raw.ReleaseDate,
		Price:        raw.Price,
		Description:  raw.Description,
		LineupInfo:   raw.LineupInfo,
		SourceURL:    raw.SourceURL,
		NaturalKey:   key,
	}

	if _, ok := p.cache.Get(key); ok {
		if err := p.store.UpdateProductFromScrape(ctx, product); err != nil {
			return nil, false, err
		}
		return product, false, nil
	}

	existing, err := p.store.GetProductByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		p.cache.Add(key, existing.ID)
		if err := p.store.UpdateProductFromScrape(ctx, product); err != nil {
			return nil, false, err
		}
		product.ID = existing.ID
		return product, false, nil
	}

	product.ID = p.newID()
	product.IsNew = true
	if err := p.store.InsertProduct(ctx, product); err != nil {
		return nil, false, err
	}
	p.cache.Add(key, product.ID)
	return product, true, nil
}

// finish appends the run log entry and emits metrics. Log append failures
// are swallowed: the run itself already succeeded or failed on its own
// merits and the caller's error takes precedence.
func (p *Pipeline) finish(ctx context.Context, site string, res *RunResult) {
	_ = p.store.AppendRunLog(ctx, &store.RunLog{
		ID:            p.runID(),
		TargetSite:    site,
		Status:        res.Status,
		ProductsFound: res.TotalFound,
		NewCount:      res.NewCount,
		ErrorMessage:  res.ErrorMessage,
		DurationMS:    res.Duration.Milliseconds(),
		ExecutedAt:    time.Now().UnixMilli(),
	})
	// An attempt happened, successful or not; the run log carries the
	// outcome.
	_ = p.store.StampLastScraped(ctx, site, time.Now().UnixMilli())
	if p.metrics != nil {
		p.metrics.RecordRun(site, res.Status, res.Duration)
		p.metrics.RecordProducts(site, res.TotalFound, res.NewCount, res.Skipped)
	}
}
