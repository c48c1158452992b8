package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/store"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
		wantErr    bool
	}{
		{"returns default for missing param", "/test", "page", 1, 1, false},
		{"parses integer param", "/test?page=3", "page", 1, 3, false},
		{"rejects non-integer", "/test?page=abc", "page", 1, 0, true},
		{"parses zero", "/test?page=0", "page", 1, 0, false},
		{"parses negative", "/test?page=-5", "page", 1, -5, false},
		{"returns default for empty value", "/test?page=", "page", 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got, err := queryInt(r, tt.key, tt.defaultVal)
			if (err != nil) != tt.wantErr {
				t.Fatalf("queryInt error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// requireQuery tests
// ---------------------------------------------------------------------------

func TestRequireQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/test?app_key=A&license_key=&hwid=S-1-2-3", nil)

	vals, err := requireQuery(r, "app_key", "license_key", "hwid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vals[0] != "A" || vals[1] != "" || vals[2] != "S-1-2-3" {
		t.Errorf("values = %q", vals)
	}

	_, err = requireQuery(r, "app_key", "plan")
	var pe *errParam
	if !errors.As(err, &pe) || pe.name != "plan" {
		t.Fatalf("error = %v, want missing plan", err)
	}
}

func TestRequireQueryInt(t *testing.T) {
	tests := []struct {
		url     string
		want    int
		wantErr bool
	}{
		{"/test?expiry_days=30", 30, false},
		{"/test?expiry_days=-1", -1, false},
		{"/test?expiry_days=", 0, true},
		{"/test?expiry_days=ten", 0, true},
		{"/test", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got, err := requireQueryInt(r, "expiry_days")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queryString / queryOptional tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want string
	}{
		{"returns value", "/test?hwid=S-1-5-21", "hwid", "S-1-5-21"},
		{"returns empty for missing", "/test", "hwid", ""},
		{"returns empty string for empty", "/test?hwid=", "hwid", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryString(r, tt.key)
			if got != tt.want {
				t.Errorf("queryString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestQueryOptional(t *testing.T) {
	r := httptest.NewRequest("GET", "/test?plan=gold&hwid=", nil)
	if p := queryOptional(r, "plan"); p == nil || *p != "gold" {
		t.Errorf("plan = %v", p)
	}
	if p := queryOptional(r, "hwid"); p == nil || *p != "" {
		t.Errorf("present empty hwid should be a pointer to \"\", got %v", p)
	}
	if p := queryOptional(r, "expiry"); p != nil {
		t.Errorf("absent expiry should be nil, got %q", *p)
	}
}

// ---------------------------------------------------------------------------
// stringsToResources tests
// ---------------------------------------------------------------------------

func TestStringsToResources(t *testing.T) {
	t.Run("converts strings to resource maps", func(t *testing.T) {
		result := stringsToResources("app_key", []string{"PilotA-x", "PilotB-x"})
		if len(result) != 2 {
			t.Fatalf("expected 2 resources, got %d", len(result))
		}
		for i, expected := range []string{"PilotA-x", "PilotB-x"} {
			if result[i]["app_key"] != expected {
				t.Errorf("resource[%d][app_key] = %v, want %s", i, result[i]["app_key"], expected)
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		result := stringsToResources("app_key", nil)
		if result == nil || len(result) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", result)
		}
	})
}

// ---------------------------------------------------------------------------
// writeError / writeServiceError tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "Invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"code":400`) {
		t.Errorf("expected code 400 in body: %s", body)
	}
	if !strings.Contains(body, `"message":"Invalid input"`) {
		t.Errorf("expected message in body: %s", body)
	}
	if !strings.Contains(body, `"detail":"Invalid input"`) {
		t.Errorf("expected detail in body: %s", body)
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"bad request", &license.Error{Kind: license.KindBadRequest, Detail: "Invalid plan format"}, 400, "Invalid plan format"},
		{"forbidden", &license.Error{Kind: license.KindForbidden, Detail: "HWID mismatch"}, 403, "HWID mismatch"},
		{"not found", &license.Error{Kind: license.KindNotFound, Detail: "App not found"}, 404, "App not found"},
		{"conflict", &license.Error{Kind: license.KindConflict, Detail: "License key already exists"}, 409, "License key already exists"},
		{"unavailable", &license.Error{Kind: license.KindUnavailable, Detail: "Store unavailable", Err: store.ErrUnavailable}, 503, "Store unavailable"},
		{"timeout", &license.Error{Kind: license.KindTimeout, Detail: "Store timed out"}, 504, "Store timed out"},
		{"plain error", fmt.Errorf("dial tcp: refused"), 500, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := w.Body.String()
			if !strings.Contains(body, `"detail":"`+tt.detail+`"`) {
				t.Errorf("body = %s, want detail %q", body, tt.detail)
			}
			if strings.Contains(body, "refused") || strings.Contains(body, "unavailable:") {
				t.Errorf("underlying cause leaked: %s", body)
			}
		})
	}
}

func TestWriteParamError(t *testing.T) {
	w := httptest.NewRecorder()
	writeParamError(w, &errParam{name: "username", reason: "missing"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Missing query parameter: username"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"hello":"world"`) {
		t.Errorf("expected JSON body, got: %s", body)
	}
}
