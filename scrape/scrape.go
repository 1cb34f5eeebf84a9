// Package scrape is the orchestration core of GachaHub: it owns the site
// adapters, the cron scheduler, the ingestion pipeline, and the run log,
// and exposes the operations the admin API is built on.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gachahub/gachahub/guard"
	"github.com/gachahub/gachahub/idgen"
	"github.com/gachahub/gachahub/scrape/internal/adapter"
	"github.com/gachahub/gachahub/scrape/internal/pipeline"
	"github.com/gachahub/gachahub/scrape/internal/scheduler"
	"github.com/gachahub/gachahub/scrape/internal/store"
)

// MaxLogLimit caps how many run log entries one query may return.
const MaxLogLimit = 100

// Notifier receives the freshly discovered products of a run. Calls
// must not block; dispatch work asynchronously.
type Notifier interface {
	NotifyNewProducts(site string, products []*Product)
}

// Service is the scrape engine orchestrator.
type Service struct {
	store        *store.Store
	registry     *adapter.Registry
	pipeline     *pipeline.Pipeline
	scheduler    *scheduler.Scheduler
	locks        *siteLocks
	metrics      *Metrics
	notifier     Notifier
	transport    http.RoundTripper // overridable for tests
	logger       *slog.Logger
	config       *Config
	newID        idgen.Generator
	urlValidator func(string) error // default: guard.ValidateURL
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithMetrics attaches a metrics bundle. Without it, runs are not counted.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithURLValidator overrides the URL validation function (default:
// guard.ValidateURL). Used in tests to allow loopback URLs.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(s *Service) { s.urlValidator = fn }
}

// WithTransport overrides the HTTP transport used by the built-in
// adapters. Used in tests to mock the manufacturer sites.
func WithTransport(rt http.RoundTripper) ServiceOption {
	return func(s *Service) { s.transport = rt }
}

// WithNotifier attaches a new-product notifier to the pipeline.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// New creates the scrape Service and registers the built-in adapters.
func New(st *store.Store, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store:        st,
		registry:     adapter.NewRegistry(),
		locks:        newSiteLocks(),
		logger:       logger,
		config:       cfg,
		newID:        idgen.Prefixed("cfg_", idgen.UUIDv7()),
		urlValidator: guard.ValidateURL,
	}
	for _, opt := range opts {
		opt(svc)
	}

	adapterCfg := adapter.Config{
		Timeout:     cfg.FetchTimeout,
		Delay:       cfg.FetchDelay,
		Parallelism: cfg.Parallelism,
		MaxProducts: cfg.MaxProducts,
		UserAgent:   cfg.UserAgent,
		Transport:   svc.transport,
	}
	svc.registry.Register(adapter.NewBandai(adapterCfg))
	svc.registry.Register(adapter.NewTakaraTomy(adapterCfg))

	var pipeOpts []pipeline.Option
	if svc.metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(svc.metrics))
	}
	if svc.notifier != nil {
		pipeOpts = append(pipeOpts, pipeline.WithNotifier(svc.notifier))
	}
	p, err := pipeline.New(st, cfg.CacheSize, pipeOpts...)
	if err != nil {
		return nil, fmt.Errorf("scrape: init pipeline: %w", err)
	}
	svc.pipeline = p

	svc.scheduler = scheduler.New(func(siteName string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := svc.TriggerScrape(ctx, siteName); err != nil {
			if err != ErrRunInProgress {
				logger.Error("scrape: scheduled run failed", "site", siteName, "error", err)
			}
		}
	})

	return svc, nil
}

// Start loads the enabled site configs into the scheduler, schedules the
// nightly new-flag sweep, and begins firing jobs.
func (s *Service) Start(ctx context.Context) error {
	if err := s.syncScheduler(ctx); err != nil {
		return err
	}
	if err := s.scheduler.ScheduleMaintenance(s.config.SweepCron, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := s.store.ResetStaleNewFlags(sweepCtx, s.config.NewFlagMaxAge)
		if err != nil {
			s.logger.Error("scrape: new-flag sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("scrape: new-flag sweep", "cleared", n)
		}
	}); err != nil {
		return err
	}
	s.scheduler.Start()
	s.logger.Info("scrape: service started")
	return nil
}

// Close stops the scheduler and waits for in-flight runs it started.
func (s *Service) Close() {
	s.scheduler.Stop()
	s.logger.Info("scrape: service stopped")
}

// TriggerScrape runs one scrape for siteName right now. Returns
// ErrRunInProgress when the site is already being scraped and
// ErrUnknownSite when no adapter handles it.
func (s *Service) TriggerScrape(ctx context.Context, siteName string) (*TriggerResult, error) {
	ad := s.registry.Get(adapter.Site(siteName))
	if ad == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, siteName)
	}

	if !s.locks.tryAcquire(siteName) {
		return nil, ErrRunInProgress
	}
	defer s.locks.release(siteName)

	target := adapter.Target{Site: ad.Site()}
	if cfg, err := s.store.GetConfigBySiteName(ctx, siteName); err == nil && cfg != nil && cfg.SiteURL != "" {
		target.URL = cfg.SiteURL
	}

	s.logger.Info("scrape: run starting", "site", siteName, "url", target.URL)
	res, err := s.pipeline.Run(ctx, ad, target)
	if err != nil {
		s.logger.Error("scrape: run failed", "site", siteName, "error", err)
		return &TriggerResult{
			Status:  res.Status,
			Site:    siteName,
			Message: res.ErrorMessage,
		}, err
	}

	s.logger.Info("scrape: run finished",
		"site", siteName,
		"found", res.TotalFound,
		"new", res.NewCount,
		"skipped", res.Skipped,
		"duration", res.Duration,
	)
	return &TriggerResult{
		Status:        res.Status,
		Site:          siteName,
		TotalProducts: res.TotalFound,
		NewProducts:   res.NewCount,
		Message:       fmt.Sprintf("scraped %d products (%d new)", res.TotalFound, res.NewCount),
	}, nil
}

// Status returns the engine overview: availability, supported site names,
// the newest run across all sites, and per-site detail (config state,
// scheduling, whether a run is in flight, latest log entry).
func (s *Service) Status(ctx context.Context) (*ScrapeStatus, error) {
	out := &ScrapeStatus{
		Available:      true,
		SupportedSites: s.Sites(),
	}
	for _, site := range s.registry.Sites() {
		name := string(site)
		st := &SiteStatus{
			SiteName:  name,
			Scheduled: s.scheduler.Scheduled(name),
			Running:   s.locks.held(name),
		}
		if cfg, err := s.store.GetConfigBySiteName(ctx, name); err != nil {
			return nil, err
		} else if cfg != nil {
			st.Enabled = cfg.IsEnabled
		}
		last, err := s.store.LatestRunLog(ctx, name)
		if err != nil {
			return nil, err
		}
		st.LastRun = last
		out.Sites = append(out.Sites, st)
	}
	recent, err := s.store.RecentRunLogs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		out.LastExecution = &recent[0].ExecutedAt
		out.LastStatus = recent[0].Status
	}
	return out, nil
}

// RecentLogs returns the latest run log entries across all sites.
// limit is clamped to MaxLogLimit; non-positive values default to 20.
func (s *Service) RecentLogs(ctx context.Context, limit int) ([]*RunLog, error) {
	return s.store.RecentRunLogs(ctx, clampLimit(limit))
}

// LogsBySite returns the latest run log entries for one site.
func (s *Service) LogsBySite(ctx context.Context, siteName string, limit int) ([]*RunLog, error) {
	return s.store.RunLogsBySite(ctx, siteName, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}

// CreateConfig validates and stores a new site configuration, then syncs
// the scheduler.
func (s *Service) CreateConfig(ctx context.Context, in *ConfigInput) (*SiteConfig, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	existing, err := s.store.GetConfigBySiteName(ctx, in.SiteName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConfig, in.SiteName)
	}

	cfg := &SiteConfig{
		ID:             s.newID(),
		SiteName:       in.SiteName,
		SiteURL:        in.SiteURL,
		CronExpression: in.CronExpression,
		IsEnabled:      in.IsEnabled,
	}
	if err := s.store.InsertConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.syncScheduler(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateConfig validates and applies changes to an existing configuration,
// then syncs the scheduler.
func (s *Service) UpdateConfig(ctx context.Context, id string, in *ConfigInput) (*SiteConfig, error) {
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config %s", ErrNotFound, id)
	}

	// Site name is immutable: it is the adapter binding.
	in.SiteName = cfg.SiteName
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	cfg.SiteURL = in.SiteURL
	cfg.CronExpression = in.CronExpression
	cfg.IsEnabled = in.IsEnabled
	if err := s.store.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.syncScheduler(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DeleteConfig removes a configuration and unschedules its site.
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: config %s", ErrNotFound, id)
	}
	if err := s.store.DeleteConfig(ctx, id); err != nil {
		return err
	}
	s.scheduler.Unschedule(cfg.SiteName)
	return nil
}

// GetConfig returns one configuration by ID.
func (s *Service) GetConfig(ctx context.Context, id string) (*SiteConfig, error) {
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config %s", ErrNotFound, id)
	}
	return cfg, nil
}

// ListConfigs returns all site configurations.
func (s *Service) ListConfigs(ctx context.Context) ([]*SiteConfig, error) {
	return s.store.ListConfigs(ctx)
}

// ListProducts returns one page of stored products.
func (s *Service) ListProducts(ctx context.Context, q ProductQuery) (*ProductPage, error) {
	return s.store.ListProducts(ctx, q)
}

// GetProduct returns one product by ID.
func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

// ListNewProducts returns products still flagged as new.
func (s *Service) ListNewProducts(ctx context.Context, limit int) ([]*Product, error) {
	return s.store.ListNewProducts(ctx, clampLimit(limit))
}

// Sites returns the site names with a registered adapter.
func (s *Service) Sites() []string {
	sites := s.registry.Sites()
	out := make([]string, len(sites))
	for i, site := range sites {
		out[i] = string(site)
	}
	return out
}

// validateInput checks a ConfigInput against the adapter registry, the
// cron parser, and the URL validator.
func (s *Service) validateInput(in *ConfigInput) error {
	in.SiteName = strings.TrimSpace(in.SiteName)
	if in.SiteName == "" {
		return fmt.Errorf("%w: site name required", ErrInvalidInput)
	}
	if err := guard.ValidateIdentifier(in.SiteName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.registry.Get(adapter.Site(in.SiteName)) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSite, in.SiteName)
	}
	if err := scheduler.ValidateExpr(in.CronExpression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.SiteURL != "" {
		if err := s.urlValidator(in.SiteURL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

// syncScheduler reloads the enabled configs into the scheduler.
func (s *Service) syncScheduler(ctx context.Context) error {
	configs, err := s.store.ListEnabledConfigs(ctx)
	if err != nil {
		return fmt.Errorf("scrape: load configs: %w", err)
	}
	entries := make([]scheduler.Entry, 0, len(configs))
	for _, c := range configs {
		entries = append(entries, scheduler.Entry{SiteName: c.SiteName, Expr: c.CronExpression})
	}
	s.scheduler.Sync(entries)
	return nil
}
