package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scrape engine.
type Metrics struct {
	Registry            *prometheus.Registry
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	ProductsFoundTotal  *prometheus.CounterVec
	ProductsNewTotal    *prometheus.CounterVec
	SkippedItemsTotal   *prometheus.CounterVec
	NotifyFailuresTotal prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gachahub_scrape_runs_total",
			Help: "Total scrape runs by site and outcome.",
		},
		[]string{"site", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gachahub_scrape_run_duration_seconds",
			Help:    "Wall-clock duration of scrape runs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	found := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gachahub_products_found_total",
			Help: "Total products extracted from catalog pages.",
		},
		[]string{"site"},
	)
	fresh := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gachahub_products_new_total",
			Help: "Total products stored for the first time.",
		},
		[]string{"site"},
	)
	skipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gachahub_skipped_items_total",
			Help: "Total detail pages skipped due to fetch or parse errors.",
		},
		[]string{"site"},
	)
	notifyFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gachahub_notify_failures_total",
			Help: "Total notification deliveries that exhausted retries.",
		},
	)

	registry.MustRegister(runs, runDuration, found, fresh, skipped, notifyFailures)

	return &Metrics{
		Registry:            registry,
		RunsTotal:           runs,
		RunDuration:         runDuration,
		ProductsFoundTotal:  found,
		ProductsNewTotal:    fresh,
		SkippedItemsTotal:   skipped,
		NotifyFailuresTotal: notifyFailures,
	}
}

// RecordRun counts one completed run and its duration.
func (m *Metrics) RecordRun(site, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(site, status).Inc()
	m.RunDuration.WithLabelValues(site).Observe(d.Seconds())
}

// RecordProducts counts the item outcomes of one run.
func (m *Metrics) RecordProducts(site string, found, fresh, skipped int) {
	if m == nil {
		return
	}
	m.ProductsFoundTotal.WithLabelValues(site).Add(float64(found))
	m.ProductsNewTotal.WithLabelValues(site).Add(float64(fresh))
	m.SkippedItemsTotal.WithLabelValues(site).Add(float64(skipped))
}

// IncNotifyFailure counts a notification that exhausted its retries.
func (m *Metrics) IncNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.Inc()
}
