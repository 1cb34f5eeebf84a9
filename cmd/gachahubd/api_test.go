package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/gachahub/gachahub/dbopen"
	"github.com/gachahub/gachahub/scrape"
	"github.com/gachahub/gachahub/shield"
	"github.com/gachahub/gachahub/users"
)

func newTestRouter(t *testing.T, opts ...scrape.ServiceOption) http.Handler {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(scrape.Schema),
		dbopen.WithSchema(users.Schema))
	if err := shield.Init(db); err != nil {
		t.Fatal(err)
	}

	userStore := users.NewStore(db)
	if _, err := userStore.SeedAdmin(context.Background(), "admin", "admin@example.com", "password1"); err != nil {
		t.Fatal(err)
	}

	svc, err := scrape.New(scrape.NewStore(db), &scrape.Config{}, slog.Default(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)

	secret := sha256.Sum256([]byte("test secret"))
	return newRouter(context.Background(), db, secret[:], svc, userStore, scrape.NewMetrics(), nil)
}

func login(t *testing.T, r http.Handler, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("login: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != 200 {
		t.Errorf("status = %d", w.Code)
	}
	// WHY: the full shield stack must be on the router, not just routes.
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/products", nil))
	if w.Code != 401 {
		t.Errorf("unauthenticated: status = %d, want 401", w.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	r := newTestRouter(t)
	token := login(t, r, "admin", "password1")

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("me: status = %d", w.Code)
	}
	var me map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me["username"] != "admin" || me["role"] != users.RoleAdmin {
		t.Errorf("me = %v", me)
	}
}

func TestLoginBadPassword(t *testing.T) {
	r := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAdminGate(t *testing.T) {
	// WHAT: Scrape operations reject non-admin users.
	r := newTestRouter(t)
	adminToken := login(t, r, "admin", "password1")

	// Create a regular user via the admin API.
	body, _ := json.Marshal(map[string]string{
		"username": "taro", "email": "taro@example.com", "password": "password1",
	})
	req := httptest.NewRequest("POST", "/api/admin/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 201 {
		t.Fatalf("create user: status %d, body %s", w.Code, w.Body.String())
	}

	userToken := login(t, r, "taro", "password1")
	req = httptest.NewRequest("GET", "/api/scrape/status", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 403 {
		t.Errorf("user on admin route: status = %d, want 403", w.Code)
	}

	// Products are readable by any authenticated user.
	req = httptest.NewRequest("GET", "/api/products", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("user on products: status = %d, want 200", w.Code)
	}
}

func TestRegisterAndAdminLogin(t *testing.T) {
	r := newTestRouter(t)

	body, _ := json.Marshal(map[string]string{
		"username": "hanako", "email": "hanako@example.com", "password": "password1",
	})
	req := httptest.NewRequest("POST", "/api/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 201 {
		t.Fatalf("register: status %d, body %s", w.Code, w.Body.String())
	}

	// WHY: the admin console login must not accept regular accounts even
	// with correct credentials.
	body, _ = json.Marshal(map[string]string{"username": "hanako", "password": "password1"})
	req = httptest.NewRequest("POST", "/api/auth/admin/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 403 {
		t.Errorf("admin login as user: status = %d, want 403", w.Code)
	}
}

func TestConfigToggle(t *testing.T) {
	r := newTestRouter(t)
	token := login(t, r, "admin", "password1")

	body, _ := json.Marshal(map[string]any{
		"siteName":       scrape.SiteBandai,
		"cronExpression": "0 0 9 * * *",
		"isEnabled":      true,
	})
	req := httptest.NewRequest("POST", "/api/scrape/configs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 201 {
		t.Fatalf("create: status %d", w.Code)
	}
	var cfg scrape.SiteConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}

	req = httptest.NewRequest("PATCH", "/api/scrape/configs/"+cfg.ID+"/toggle", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("toggle: status %d, body %s", w.Code, w.Body.String())
	}
	var toggled scrape.SiteConfig
	if err := json.Unmarshal(w.Body.Bytes(), &toggled); err != nil {
		t.Fatal(err)
	}
	if toggled.IsEnabled {
		t.Error("toggle should have disabled the config")
	}
}

func TestScrapeStatusShape(t *testing.T) {
	// WHAT: The status endpoint answers with a single object carrying the
	// engine overview, not a bare list of sites.
	r := newTestRouter(t)
	token := login(t, r, "admin", "password1")

	req := httptest.NewRequest("GET", "/api/scrape/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var status struct {
		Available      bool     `json:"available"`
		SupportedSites []string `json:"supportedSites"`
		LastExecution  *int64   `json:"lastExecution"`
		Sites          []any    `json:"sites"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	if !status.Available {
		t.Error("available = false, want true")
	}
	if len(status.SupportedSites) != 2 {
		t.Errorf("supportedSites = %v", status.SupportedSites)
	}
	if status.LastExecution != nil {
		t.Error("lastExecution should be null before any run")
	}
	if len(status.Sites) != 2 {
		t.Errorf("sites = %d entries, want 2", len(status.Sites))
	}
}

func TestTriggerFailureShape(t *testing.T) {
	// WHAT: A run that fails mid-scrape answers 500 with the trigger
	// shape (status/site/message), not a generic error envelope.
	// A transport with no responders fails every fetch.
	r := newTestRouter(t, scrape.WithTransport(httpmock.NewMockTransport()))
	token := login(t, r, "admin", "password1")

	req := httptest.NewRequest("POST", "/api/scrape/bandai", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 500 {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res struct {
		Status  string `json:"status"`
		Site    string `json:"site"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v (body %s)", err, w.Body.String())
	}
	if res.Status != scrape.StatusFailure {
		t.Errorf("status = %q, want %q", res.Status, scrape.StatusFailure)
	}
	if res.Site != scrape.SiteBandai {
		t.Errorf("site = %q", res.Site)
	}
	if res.Message == "" {
		t.Error("message must describe the failure")
	}
}

func TestNotificationTestWithoutSMTP(t *testing.T) {
	r := newTestRouter(t)
	token := login(t, r, "admin", "password1")

	req := httptest.NewRequest("POST", "/api/notifications/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 503 {
		t.Errorf("status = %d, want 503 when SMTP is not configured", w.Code)
	}
}

func TestConfigLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	token := login(t, r, "admin", "password1")

	do := func(method, path string, payload any) *httptest.ResponseRecorder {
		var req *http.Request
		if payload != nil {
			b, _ := json.Marshal(payload)
			req = httptest.NewRequest(method, path, bytes.NewReader(b))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("POST", "/api/scrape/configs", map[string]any{
		"siteName":       scrape.SiteBandai,
		"cronExpression": "0 0 9 * * *",
		"isEnabled":      true,
	})
	if w.Code != 201 {
		t.Fatalf("create: status %d, body %s", w.Code, w.Body.String())
	}
	var cfg scrape.SiteConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}

	// Unknown site names are rejected.
	w = do("POST", "/api/scrape/configs", map[string]any{
		"siteName":       "UNKNOWN_SITE",
		"cronExpression": "0 0 9 * * *",
	})
	if w.Code != 404 {
		t.Errorf("unknown site: status = %d, want 404", w.Code)
	}

	// Duplicate config for the same site conflicts.
	w = do("POST", "/api/scrape/configs", map[string]any{
		"siteName":       scrape.SiteBandai,
		"cronExpression": "0 0 9 * * *",
	})
	if w.Code != 409 {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}

	w = do("DELETE", "/api/scrape/configs/"+cfg.ID, nil)
	if w.Code != 200 {
		t.Errorf("delete: status = %d", w.Code)
	}
	w = do("GET", "/api/scrape/configs/"+cfg.ID, nil)
	if w.Code != 404 {
		t.Errorf("get deleted: status = %d, want 404", w.Code)
	}
}
