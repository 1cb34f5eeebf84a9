// Package scheduler drives cron-based scrape runs. It wraps robfig/cron
// with a six-field parser (seconds included) and keeps its entry table in
// sync with the enabled site configs.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Six-field cron: second minute hour dom month dow.
var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidateExpr checks a six-field cron expression without scheduling it.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Job is the work the scheduler fires for one site.
type Job func(siteName string)

// Entry describes one scheduled site.
type Entry struct {
	SiteName string
	Expr     string
}

// Scheduler owns the cron runner and the site -> entry mapping.
type Scheduler struct {
	cron *cron.Cron
	job  Job

	mu      sync.Mutex
	entries map[string]cron.EntryID // site name -> cron entry
}

// New creates a Scheduler that calls job for each due site. Panics inside
// jobs are recovered and logged rather than taking the process down.
func New(job Job) *Scheduler {
	logger := slogAdapter{slog.Default()}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(logger)),
		),
		job:     job,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing jobs. Safe to call once.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Schedule adds or replaces the entry for one site.
func (s *Scheduler) Schedule(siteName, expr string) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[siteName]; ok {
		s.cron.Remove(old)
	}
	name := siteName
	s.entries[siteName] = s.cron.Schedule(sched, cron.FuncJob(func() { s.job(name) }))
	slog.Info("scheduler: site scheduled", "site", siteName, "cron", expr)
	return nil
}

// Unschedule removes the entry for one site, if present.
func (s *Scheduler) Unschedule(siteName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[siteName]; ok {
		s.cron.Remove(id)
		delete(s.entries, siteName)
		slog.Info("scheduler: site unscheduled", "site", siteName)
	}
}

// Sync replaces the whole entry table with the given entries. Sites absent
// from the list are unscheduled; invalid expressions are skipped with a log
// line so one bad config cannot block the rest.
func (s *Scheduler) Sync(entries []Entry) {
	want := make(map[string]bool, len(entries))
	for _, e := range entries {
		want[e.SiteName] = true
		if err := s.Schedule(e.SiteName, e.Expr); err != nil {
			slog.Warn("scheduler: skipping invalid entry", "site", e.SiteName, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for site, id := range s.entries {
		if !want[site] {
			s.cron.Remove(id)
			delete(s.entries, site)
			slog.Info("scheduler: site unscheduled", "site", site)
		}
	}
}

// ScheduleMaintenance adds a named background job that is not tied to a
// site config (e.g. the nightly new-flag sweep). The entry survives Sync.
func (s *Scheduler) ScheduleMaintenance(expr string, fn func()) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(fn))
	return nil
}

// Scheduled reports whether a site currently has an entry.
func (s *Scheduler) Scheduled(siteName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[siteName]
	return ok
}

// slogAdapter bridges slog to cron.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.l.Info("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
