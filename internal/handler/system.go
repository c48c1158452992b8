package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/openapi"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves the probes and the OpenAPI document.
type SystemHandler struct {
	store   Pinger
	version string

	specOnce sync.Once
	spec     []byte
	specErr  error
}

// NewSystemHandler creates a new SystemHandler. store is checked by the
// readiness probe.
func NewSystemHandler(store Pinger, version string) *SystemHandler {
	return &SystemHandler{store: store, version: version}
}

// Healthz is a liveness probe. Returns 200 if the process is running.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Version: h.version})
}

// Readyz is a readiness probe. Returns 200 when the store answers a ping, or
// 503 otherwise.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{Status: "ok", Version: h.version, Checks: map[string]string{}}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Checks["store"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}
	writeJSON(w, status, resp)
}

// OpenAPI serves the OpenAPI document. It is rendered once.
// GET /openapi.json
func (h *SystemHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	h.specOnce.Do(func() {
		h.spec, h.specErr = json.Marshal(openapi.Generate("", h.version))
	})
	if h.specErr != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render OpenAPI document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(h.spec)
}
