package scrape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	_ "modernc.org/sqlite"

	"github.com/gachahub/gachahub/scrape/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if err := store.ApplySchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewStore(db)
}

const detailHTML = `<html><body>
<h1>テストアイテム</h1>
<img src="https://bandai-a.akamaihd.net/model/x.jpg">
<p>300円（税込） 全4種</p>
</body></html>`

func htmlResponder(status int, body string) httpmock.Responder {
	return httpmock.NewStringResponder(status, body).
		HeaderSet(http.Header{"Content-Type": []string{"text/html; charset=utf-8"}})
}

func mockBandaiSite(t *testing.T) *httpmock.MockTransport {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://gashapon.jp/shop/itemlist.php",
		htmlResponder(200,
			`<html><body><a href="detail.php?jan_code=1">i</a></body></html>`))
	transport.RegisterResponder("GET", "https://gashapon.jp/shop/detail.php?jan_code=1",
		htmlResponder(200, detailHTML))
	return transport
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	st := openTestStore(t)
	base := []ServiceOption{
		WithURLValidator(func(string) error { return nil }),
	}
	svc, err := New(st, &Config{FetchTimeout: 2 * time.Second}, nil, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestTriggerScrape(t *testing.T) {
	// WHAT: A manual trigger runs the adapter end to end and reports
	// totals in the result.
	svc := newTestService(t, WithTransport(mockBandaiSite(t)))

	res, err := svc.TriggerScrape(context.Background(), "BANDAI_GASHAPON")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.Status != StatusSuccess || res.TotalProducts != 1 || res.NewProducts != 1 {
		t.Fatalf("result = %+v", res)
	}

	// The run is in the log.
	logs, err := svc.RecentLogs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].TargetSite != "BANDAI_GASHAPON" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestTriggerScrapeUnknownSite(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.TriggerScrape(context.Background(), "NOT_A_SITE")
	if !errors.Is(err, ErrUnknownSite) {
		t.Fatalf("err = %v, want ErrUnknownSite", err)
	}
}

func TestTriggerScrapeBusy(t *testing.T) {
	// WHAT: A second trigger while a run holds the site lock gets
	// ErrRunInProgress; a different site is unaffected.
	svc := newTestService(t)

	if !svc.locks.tryAcquire("BANDAI_GASHAPON") {
		t.Fatal("setup: could not acquire lock")
	}
	defer svc.locks.release("BANDAI_GASHAPON")

	_, err := svc.TriggerScrape(context.Background(), "BANDAI_GASHAPON")
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want ErrRunInProgress", err)
	}
	if svc.locks.held("TAKARA_TOMY_ARTS") {
		t.Fatal("other site must not be locked")
	}
}

func TestTriggerScrapeConcurrent(t *testing.T) {
	// WHAT: Many concurrent triggers for one site produce exactly one run.
	svc := newTestService(t, WithTransport(mockBandaiSite(t)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, busy int
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TriggerScrape(context.Background(), "BANDAI_GASHAPON")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRunInProgress):
				busy++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded < 1 {
		t.Fatalf("succeeded=%d busy=%d, want at least one success", succeeded, busy)
	}
	if succeeded+busy != 8 {
		t.Fatalf("accounted %d of 8 triggers", succeeded+busy)
	}
}

func TestCreateConfigValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ConfigInput
		want error
	}{
		{"unknown site", ConfigInput{SiteName: "NOPE", CronExpression: "0 0 6 * * *"}, ErrUnknownSite},
		{"empty site", ConfigInput{CronExpression: "0 0 6 * * *"}, ErrInvalidInput},
		{"bad cron", ConfigInput{SiteName: "BANDAI_GASHAPON", CronExpression: "bogus"}, ErrInvalidInput},
		{"five-field cron", ConfigInput{SiteName: "BANDAI_GASHAPON", CronExpression: "0 6 * * *"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateConfig(ctx, &tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateConfigRejectsPrivateURL(t *testing.T) {
	// WHAT: The default URL validator blocks SSRF targets.
	st := openTestStore(t)
	svc, err := New(st, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.CreateConfig(context.Background(), &ConfigInput{
		SiteName:       "BANDAI_GASHAPON",
		SiteURL:        "http://127.0.0.1/admin",
		CronExpression: "0 0 6 * * *",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestConfigLifecycle(t *testing.T) {
	// WHAT: Create, duplicate-reject, update, delete; scheduler entries
	// follow the enabled state.
	svc := newTestService(t)
	ctx := context.Background()

	in := &ConfigInput{
		SiteName:       "BANDAI_GASHAPON",
		SiteURL:        "https://gashapon.jp/shop/itemlist.php",
		CronExpression: "0 0 6 * * *",
		IsEnabled:      true,
	}
	cfg, err := svc.CreateConfig(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cfg.ID == "" {
		t.Fatal("config must get an ID")
	}
	if !svc.scheduler.Scheduled("BANDAI_GASHAPON") {
		t.Error("enabled config must be scheduled")
	}

	if _, err := svc.CreateConfig(ctx, in); !errors.Is(err, ErrDuplicateConfig) {
		t.Fatalf("duplicate err = %v", err)
	}

	// Disable: the entry is dropped on sync.
	upd := &ConfigInput{SiteURL: in.SiteURL, CronExpression: in.CronExpression, IsEnabled: false}
	if _, err := svc.UpdateConfig(ctx, cfg.ID, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	if svc.scheduler.Scheduled("BANDAI_GASHAPON") {
		t.Error("disabled config must be unscheduled")
	}

	if err := svc.DeleteConfig(ctx, cfg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetConfig(ctx, cfg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if err := svc.DeleteConfig(ctx, cfg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestUpdateConfigKeepsSiteName(t *testing.T) {
	// WHAT: The site name is the adapter binding and cannot be changed.
	svc := newTestService(t)
	ctx := context.Background()

	cfg, err := svc.CreateConfig(ctx, &ConfigInput{
		SiteName: "BANDAI_GASHAPON", CronExpression: "0 0 6 * * *", IsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.UpdateConfig(ctx, cfg.ID, &ConfigInput{
		SiteName: "TAKARA_TOMY_ARTS", CronExpression: "0 0 7 * * *", IsEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.SiteName != "BANDAI_GASHAPON" {
		t.Fatalf("site name changed to %q", got.SiteName)
	}
	if got.CronExpression != "0 0 7 * * *" {
		t.Fatalf("cron not updated: %q", got.CronExpression)
	}
}

func TestRecentLogsClamp(t *testing.T) {
	// WHAT: The log query limit is clamped to MaxLogLimit.
	svc := newTestService(t)
	ctx := context.Background()

	for i := range MaxLogLimit + 20 {
		err := svc.store.AppendRunLog(ctx, &RunLog{
			ID: fmt.Sprintf("log-%03d", i), TargetSite: "BANDAI_GASHAPON",
			Status: StatusSuccess, ExecutedAt: int64(i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	logs, err := svc.RecentLogs(ctx, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != MaxLogLimit {
		t.Fatalf("len = %d, want %d", len(logs), MaxLogLimit)
	}

	logs, err = svc.RecentLogs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 20 {
		t.Fatalf("default len = %d, want 20", len(logs))
	}
}

func TestStatus(t *testing.T) {
	// WHAT: The overview is a single projection: availability, supported
	// sites, newest run, plus per-site detail.
	svc := newTestService(t, WithTransport(mockBandaiSite(t)))
	ctx := context.Background()

	before, err := svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !before.Available {
		t.Error("engine should report available")
	}
	if before.LastExecution != nil || before.LastStatus != "" {
		t.Errorf("no runs yet, got lastExecution=%v lastStatus=%q",
			before.LastExecution, before.LastStatus)
	}

	if _, err := svc.TriggerScrape(ctx, "BANDAI_GASHAPON"); err != nil {
		t.Fatal(err)
	}

	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.SupportedSites) != 2 || len(status.Sites) != 2 {
		t.Fatalf("supported=%d sites=%d, want 2 each",
			len(status.SupportedSites), len(status.Sites))
	}
	if status.LastExecution == nil || *status.LastExecution == 0 {
		t.Error("lastExecution not set after a run")
	}
	if status.LastStatus != StatusSuccess {
		t.Errorf("lastStatus = %q, want %q", status.LastStatus, StatusSuccess)
	}

	var bandai *SiteStatus
	for _, st := range status.Sites {
		if st.SiteName == "BANDAI_GASHAPON" {
			bandai = st
		}
	}
	if bandai == nil {
		t.Fatal("BANDAI_GASHAPON missing from status")
	}
	if bandai.LastRun == nil || bandai.LastRun.Status != StatusSuccess {
		t.Errorf("last run = %+v", bandai.LastRun)
	}
	if bandai.Running {
		t.Error("no run should be in flight")
	}
}

func TestMetricsWiring(t *testing.T) {
	// WHAT: Runs land in the prometheus collectors.
	m := NewMetrics()
	svc := newTestService(t, WithTransport(mockBandaiSite(t)), WithMetrics(m))

	if _, err := svc.TriggerScrape(context.Background(), "BANDAI_GASHAPON"); err != nil {
		t.Fatal(err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, want := range []string{
		"gachahub_scrape_runs_total",
		"gachahub_products_found_total",
		"gachahub_products_new_total",
		"gachahub_scrape_run_duration_seconds",
	} {
		if !found[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestSites(t *testing.T) {
	svc := newTestService(t)
	sites := svc.Sites()
	if len(sites) != 2 || sites[0] != "BANDAI_GASHAPON" || sites[1] != "TAKARA_TOMY_ARTS" {
		t.Fatalf("sites = %v", sites)
	}
}
