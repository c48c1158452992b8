package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/metrics"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/openapi"
	"github.com/pilotauth/pilot/internal/store/memstore"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testCustomerKey = "integration-customer-key"

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *memstore.Store
	metrics *metrics.Metrics
}

// newTestEnv creates a fresh test environment with an in-memory store seeded
// with one customer key, and a fully wired Server.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	st := memstore.New()
	if err := st.AddCustomerKey(context.Background(), testCustomerKey); err != nil {
		t.Fatalf("AddCustomerKey: %v", err)
	}
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := license.NewService(st, license.WithRecorder(m), license.WithLogger(logger))

	srv := New(cfg, Deps{Service: svc, Store: st, Metrics: m, Version: "test"}, logger)
	return &testEnv{server: srv, store: st, metrics: m}
}

// do executes a GET request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, path string, params url.Values, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "203.0.113.9:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doCustomer executes a request authenticated with the customer key header.
func (e *testEnv) doCustomer(t *testing.T, path string, params url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, path, params, map[string]string{"X-Customer-Key": testCustomerKey})
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
		t.Fatalf("decodeJSON: %v; body: %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestEveryDocumentedRouteIsRegistered(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	registered := map[string]bool{}
	err := chi.Walk(env.server.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		registered[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk: %v", err)
	}

	for _, rt := range openapi.Routes {
		if !registered["GET "+rt.Path] {
			t.Errorf("route %s (%s) is documented but not registered", rt.Path, rt.OperationID)
		}
	}
	for _, p := range []string{"/healthz", "/readyz", "/openapi.json", "/metrics"} {
		if !registered["GET "+p] {
			t.Errorf("system route %s not registered", p)
		}
	}
}

func TestMetricsRouteOmittedWithoutMetrics(t *testing.T) {
	st := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(DefaultConfig(), Deps{Service: license.NewService(st), Store: st}, logger)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assertStatus(t, rr, http.StatusNotFound)
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	rr := env.do(t, "/auth/nope", nil, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestPostIsNotAllowed(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	req := httptest.NewRequest("POST", "/auth/signin", nil)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

// ---------------------------------------------------------------------------
// End-to-end flow
// ---------------------------------------------------------------------------

func TestIssueAndSignIn(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	rr := env.doCustomer(t, "/auth/generate_app", url.Values{"username": {"alice"}})
	assertStatus(t, rr, http.StatusOK)
	var app model.Application
	decodeJSON(t, rr, &app)

	rr = env.doCustomer(t, "/auth/generate_license_key", url.Values{
		"app_key":     {app.AppKey},
		"plan":        {"basic"},
		"expiry_days": {"10"},
		"username":    {"alice"},
		"hwid":        {"S-1-5-21-100"},
	})
	assertStatus(t, rr, http.StatusOK)
	var lic model.License
	decodeJSON(t, rr, &lic)
	if len(lic.LicenseKey) != 32 {
		t.Fatalf("license key %q has length %d", lic.LicenseKey, len(lic.LicenseKey))
	}

	rr = env.do(t, "/auth/signin", url.Values{
		"application_key": {app.AppKey},
		"license_key":     {lic.LicenseKey},
		"hwid":            {"S-1-5-21-100"},
	}, nil)
	assertStatus(t, rr, http.StatusOK)
	var view model.LicenseView
	decodeJSON(t, rr, &view)
	if view.Plan != "basic" || view.HWID != "S-1-5-21-100" {
		t.Errorf("view = %+v", view)
	}

	rr = env.do(t, "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		`pilot_operations_total{operation="create_application",outcome="ok"} 1`,
		`pilot_signins_total{outcome="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestGatedRouteWithoutKeyIs403(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	rr := env.do(t, "/auth/generate_app", url.Values{"username": {"alice"}}, nil)
	assertStatus(t, rr, http.StatusForbidden)

	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Detail != "Invalid customer API key" {
		t.Errorf("detail = %q", resp.Detail)
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestPublicRoutesAreRateLimitedPerIP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PublicRateLimit = 2
	env := newTestEnv(t, cfg)

	params := url.Values{"application_key": {"PilotX-a"}, "license_key": {"ABC"}}
	for i := 0; i < 2; i++ {
		assertStatus(t, env.do(t, "/auth/signin", params, nil), http.StatusNotFound)
	}
	rr := env.do(t, "/auth/signin", params, nil)
	assertStatus(t, rr, http.StatusTooManyRequests)

	// Gated routes have their own budget.
	assertStatus(t, env.doCustomer(t, "/auth/list_apps_for_user", url.Values{"username": {"alice"}}), http.StatusOK)
}

func TestGatedRoutesAreRateLimitedPerCustomerKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminRateLimit = 1
	env := newTestEnv(t, cfg)

	params := url.Values{"username": {"alice"}}
	assertStatus(t, env.doCustomer(t, "/auth/list_apps_for_user", params), http.StatusOK)
	assertStatus(t, env.doCustomer(t, "/auth/list_apps_for_user", params), http.StatusTooManyRequests)

	// A different key from the same address is counted separately.
	rr := env.do(t, "/auth/list_apps_for_user", params, map[string]string{"X-Customer-Key": "other"})
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func TestCORSPreflightAllowsCustomerKeyHeader(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	req := httptest.NewRequest("OPTIONS", "/auth/generate_app", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "X-Customer-Key")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(strings.ToLower(got), "x-customer-key") {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error { c.n.Add(1); return nil }

func TestServeClosesDependenciesOnShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ShutdownTimeout = time.Second

	st := memstore.New()
	closer := &countingCloser{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, Deps{Service: license.NewService(st), Store: st, Closers: []io.Closer{closer}}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if closer.n.Load() != 1 {
		t.Errorf("closer called %d times, want 1", closer.n.Load())
	}
}

func TestAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "::1"
	cfg.Port = 9000
	srv := New(cfg, Deps{Service: license.NewService(memstore.New()), Store: memstore.New()}, slog.Default())
	if got := srv.Addr(); got != "[::1]:9000" {
		t.Errorf("Addr() = %q", got)
	}
}
