package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/server/middleware"
	"github.com/pilotauth/pilot/internal/store/memstore"
)

const testCustomerKey = "K1"

type testEnv struct {
	router chi.Router
	store  *memstore.Store
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: memstore.New(),
		now:   time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := env.store.AddCustomerKey(context.Background(), testCustomerKey); err != nil {
		t.Fatalf("seed customer key: %v", err)
	}
	svc := license.NewService(env.store, license.WithClock(func() time.Time { return env.now }))
	h := NewLicenseHandler(svc)
	sys := NewSystemHandler(env.store, "test")

	r := chi.NewRouter()
	r.Use(middleware.CustomerKey)
	r.Get("/healthz", sys.Healthz)
	r.Get("/readyz", sys.Readyz)
	r.Get("/openapi.json", sys.OpenAPI)
	r.Get("/auth/generate_app", h.GenerateApp)
	r.Get("/auth/list_apps_for_user", h.ListAppsForUser)
	r.Get("/auth/list_keys_for_username", h.ListKeysForUsername)
	r.Get("/auth/pause_app_key", h.PauseAppKey)
	r.Get("/auth/unpause_app_key", h.UnpauseAppKey)
	r.Get("/auth/delete_app_key", h.DeleteAppKey)
	r.Get("/auth/get_app", h.GetApp)
	r.Get("/auth/generate_license_key", h.GenerateLicenseKey)
	r.Get("/auth/edit_license_key", h.EditLicenseKey)
	r.Get("/auth/get_license", h.GetLicense)
	r.Get("/auth/assign_hwid", h.AssignHWID)
	r.Get("/auth/signin", h.SignIn)
	env.router = r
	return env
}

func (e *testEnv) get(t *testing.T, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req := httptest.NewRequest("GET", target, nil)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createApp(t *testing.T, username string) model.Application {
	t.Helper()
	rr := e.get(t, "/auth/generate_app", url.Values{"username": {username}, "customer_api_key": {testCustomerKey}})
	assertStatus(t, rr, http.StatusOK)
	var app model.Application
	decodeJSON(t, rr, &app)
	return app
}

func (e *testEnv) createLicense(t *testing.T, appKey string, days string) model.License {
	t.Helper()
	rr := e.get(t, "/auth/generate_license_key", url.Values{
		"customer_api_key": {testCustomerKey},
		"app_key":          {appKey},
		"plan":             {"pro"},
		"expiry_days":      {days},
		"username":         {"alice"},
	})
	assertStatus(t, rr, http.StatusOK)
	var lic model.License
	decodeJSON(t, rr, &lic)
	return lic
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func errorDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Detail
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

func TestGenerateApp(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, "alice")

	if !strings.HasPrefix(app.AppKey, "Pilot") || !strings.HasSuffix(app.AppKey, "-alice") {
		t.Errorf("app_key = %q", app.AppKey)
	}
	if app.CreatedBy != "alice" {
		t.Errorf("created_by = %q, want alice", app.CreatedBy)
	}
}

func TestGenerateApp_CustomerKeyHeader(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/auth/generate_app?username=alice", nil)
	req.Header.Set(middleware.CustomerKeyHeader, testCustomerKey)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)
}

func TestGatedRoutesRejectBadCustomerKey(t *testing.T) {
	env := newTestEnv(t)
	routes := map[string]url.Values{
		"/auth/generate_app":           {"username": {"alice"}},
		"/auth/list_apps_for_user":     {"username": {"alice"}},
		"/auth/list_keys_for_username": {"username": {"alice"}},
		"/auth/pause_app_key":          {"application_key": {"x"}},
		"/auth/unpause_app_key":        {"application_key": {"x"}},
		"/auth/delete_app_key":         {"application_key": {"x"}},
		"/auth/get_app":                {"app_key": {"x"}},
		"/auth/generate_license_key":   {"app_key": {"x"}, "plan": {"p"}, "expiry_days": {"1"}, "username": {"u"}},
		"/auth/edit_license_key":       {"app_key": {"x"}, "license_key": {"y"}},
		"/auth/get_license":            {"app_key": {"x"}, "license_key": {"y"}},
	}
	for path, params := range routes {
		t.Run(path, func(t *testing.T) {
			for _, key := range []string{"", "wrong"} {
				p := url.Values{}
				for k, v := range params {
					p[k] = v
				}
				if key != "" {
					p.Set("customer_api_key", key)
				}
				rr := env.get(t, path, p)
				assertStatus(t, rr, http.StatusForbidden)
				if d := errorDetail(t, rr); d != "Invalid customer API key" {
					t.Errorf("detail = %q", d)
				}
			}
		})
	}
}

func TestMissingParameterIs422(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/auth/generate_app", url.Values{"customer_api_key": {testCustomerKey}})
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.get(t, "/auth/generate_license_key", url.Values{
		"customer_api_key": {testCustomerKey}, "app_key": {"x"}, "plan": {"p"}, "username": {"u"}, "expiry_days": {"soon"},
	})
	assertStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestPauseUnpauseDelete(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, "alice")
	params := url.Values{"customer_api_key": {testCustomerKey}, "application_key": {app.AppKey}}

	for path, want := range map[string]string{
		"/auth/pause_app_key":   "Application key has been paused",
		"/auth/unpause_app_key": "Application key has been unpaused",
	} {
		rr := env.get(t, path, params)
		assertStatus(t, rr, http.StatusOK)
		var msg model.MessageResponse
		decodeJSON(t, rr, &msg)
		if msg.Detail != want {
			t.Errorf("%s detail = %q, want %q", path, msg.Detail, want)
		}
	}

	rr := env.get(t, "/auth/delete_app_key", params)
	assertStatus(t, rr, http.StatusOK)
	rr = env.get(t, "/auth/pause_app_key", params)
	assertStatus(t, rr, http.StatusNotFound)
	if d := errorDetail(t, rr); d != "Application key not found" {
		t.Errorf("detail = %q", d)
	}
}

func TestListAppsForUser(t *testing.T) {
	env := newTestEnv(t)
	a := env.createApp(t, "alice")
	env.createApp(t, "bob")

	rr := env.get(t, "/auth/list_apps_for_user", url.Values{"customer_api_key": {testCustomerKey}, "username": {"alice"}})
	assertStatus(t, rr, http.StatusOK)
	var apps []map[string]string
	decodeJSON(t, rr, &apps)
	if len(apps) != 1 || apps[0]["app_key"] != a.AppKey {
		t.Errorf("apps = %v, want [%s]", apps, a.AppKey)
	}

	rr = env.get(t, "/auth/list_apps_for_user", url.Values{"customer_api_key": {testCustomerKey}, "username": {"nobody"}})
	assertStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty listing = %s, want []", rr.Body.String())
	}
}

func TestListKeysForUsername(t *testing.T) {
	env := newTestEnv(t)
	a := env.createApp(t, "carol")
	b := env.createApp(t, "carol")
	want := []string{a.AppKey, b.AppKey}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}

	rr := env.get(t, "/auth/list_keys_for_username", url.Values{"customer_api_key": {testCustomerKey}, "username": {"carol"}})
	assertStatus(t, rr, http.StatusOK)
	var text string
	decodeJSON(t, rr, &text)
	if text != want[0]+"<br>"+want[1] {
		t.Errorf("text = %q", text)
	}

	rr = env.get(t, "/auth/list_keys_for_username", url.Values{
		"customer_api_key": {testCustomerKey}, "username": {"carol"}, "format": {"json"}, "page": {"2"},
	})
	assertStatus(t, rr, http.StatusOK)
	var page model.Page
	decodeJSON(t, rr, &page)
	if page.Page != 2 || page.Total != 2 || len(page.Items) != 0 {
		t.Errorf("page = %+v", page)
	}
}

// ---------------------------------------------------------------------------
// Licenses and sign-in
// ---------------------------------------------------------------------------

func TestLicenseLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, "alice")
	lic := env.createLicense(t, app.AppKey, "30")

	if lic.Expiry.String() != "2025-04-09" {
		t.Errorf("expiry = %s, want 2025-04-09", lic.Expiry)
	}

	signin := func(hwid string) *httptest.ResponseRecorder {
		p := url.Values{"application_key": {app.AppKey}, "license_key": {lic.LicenseKey}}
		if hwid != "" {
			p.Set("hwid", hwid)
		}
		return env.get(t, "/auth/signin", p)
	}

	rr := signin("")
	assertStatus(t, rr, http.StatusOK)
	var view model.LicenseView
	decodeJSON(t, rr, &view)
	if view.LicenseKey != lic.LicenseKey || view.Plan != "pro" || view.Expiry != "2025-04-09" {
		t.Errorf("view = %+v", view)
	}

	rr = env.get(t, "/auth/assign_hwid", url.Values{"app_key": {app.AppKey}, "license_key": {lic.LicenseKey}, "hwid": {"S-1-5-21-7"}})
	assertStatus(t, rr, http.StatusOK)
	var msg model.MessageResponse
	decodeJSON(t, rr, &msg)
	if msg.Message != "HWID assigned successfully" {
		t.Errorf("message = %q", msg.Message)
	}

	assertStatus(t, signin("S-1-5-21-7"), http.StatusOK)
	rr = signin("S-1-5-21-8")
	assertStatus(t, rr, http.StatusForbidden)
	if d := errorDetail(t, rr); d != "HWID mismatch" {
		t.Errorf("detail = %q", d)
	}

	rr = env.get(t, "/auth/assign_hwid", url.Values{"app_key": {app.AppKey}, "license_key": {lic.LicenseKey}, "hwid": {"S-1-5-21-8"}})
	assertStatus(t, rr, http.StatusForbidden)

	rr = env.get(t, "/auth/edit_license_key", url.Values{
		"customer_api_key": {testCustomerKey}, "app_key": {app.AppKey}, "license_key": {lic.LicenseKey}, "plan": {"gold"},
	})
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &msg)
	if msg.Message != "License key updated successfully" {
		t.Errorf("message = %q", msg.Message)
	}

	rr = env.get(t, "/auth/get_license", url.Values{
		"customer_api_key": {testCustomerKey}, "app_key": {app.AppKey}, "license_key": {lic.LicenseKey},
	})
	assertStatus(t, rr, http.StatusOK)
	var detail model.LicenseDetail
	decodeJSON(t, rr, &detail)
	if detail.Plan != "gold" || detail.HWID != "S-1-5-21-7" || detail.State != model.StateValid {
		t.Errorf("detail = %+v", detail)
	}

	env.now = env.now.AddDate(0, 0, 31)
	rr = signin("")
	assertStatus(t, rr, http.StatusForbidden)
	if d := errorDetail(t, rr); d != "License key has expired" {
		t.Errorf("detail = %q", d)
	}
}

func TestGenerateLicenseOnPausedApp(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, "alice")
	assertStatus(t, env.get(t, "/auth/pause_app_key", url.Values{"customer_api_key": {testCustomerKey}, "application_key": {app.AppKey}}), http.StatusOK)

	rr := env.get(t, "/auth/generate_license_key", url.Values{
		"customer_api_key": {testCustomerKey}, "app_key": {app.AppKey}, "plan": {"pro"}, "expiry_days": {"5"}, "username": {"alice"},
	})
	assertStatus(t, rr, http.StatusForbidden)
	if d := errorDetail(t, rr); d != "Application is paused" {
		t.Errorf("detail = %q", d)
	}
}

func TestEditRenameConflictIs409(t *testing.T) {
	env := newTestEnv(t)
	app := env.createApp(t, "alice")
	a := env.createLicense(t, app.AppKey, "5")
	b := env.createLicense(t, app.AppKey, "5")

	rr := env.get(t, "/auth/edit_license_key", url.Values{
		"customer_api_key": {testCustomerKey}, "app_key": {app.AppKey}, "license_key": {a.LicenseKey}, "new_license_key": {b.LicenseKey},
	})
	assertStatus(t, rr, http.StatusConflict)
}

func TestSignInValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/auth/signin", url.Values{"application_key": {"x"}, "license_key": {"not valid!"}})
	assertStatus(t, rr, http.StatusBadRequest)
	if d := errorDetail(t, rr); d != "Invalid key format" {
		t.Errorf("detail = %q", d)
	}

	rr = env.get(t, "/auth/signin", url.Values{"application_key": {"PilotNOPE-x"}, "license_key": {"ABC"}})
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.get(t, "/auth/signin", url.Values{"license_key": {"ABC"}})
	assertStatus(t, rr, http.StatusUnprocessableEntity)
}

// ---------------------------------------------------------------------------
// System routes
// ---------------------------------------------------------------------------

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestProbes(t *testing.T) {
	env := newTestEnv(t)
	assertStatus(t, env.get(t, "/healthz", nil), http.StatusOK)

	rr := env.get(t, "/readyz", nil)
	assertStatus(t, rr, http.StatusOK)
	var health model.HealthResponse
	decodeJSON(t, rr, &health)
	if health.Checks["store"] != "ok" {
		t.Errorf("checks = %v", health.Checks)
	}

	sys := NewSystemHandler(downStore{}, "test")
	w := httptest.NewRecorder()
	sys.Readyz(w, httptest.NewRequest("GET", "/readyz", nil))
	assertStatus(t, w, http.StatusServiceUnavailable)
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)
	rr := env.get(t, "/openapi.json", nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/auth/signin"]; !ok {
		t.Error("signin path missing")
	}
}
