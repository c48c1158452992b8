package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/server/middleware"
)

// Acknowledgement messages, worded as existing clients expect them.
const (
	msgPaused       = "Application key has been paused"
	msgUnpaused     = "Application key has been unpaused"
	msgDeleted      = "Application key has been deleted"
	msgHWIDAssigned = "HWID assigned successfully"
	msgEdited       = "License key updated successfully"
)

// LicenseHandler serves the /auth routes. Every route is a GET with query
// parameters. Gated routes read the customer key that middleware.CustomerKey
// attached to the request context.
type LicenseHandler struct {
	svc *license.Service
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(svc *license.Service) *LicenseHandler {
	return &LicenseHandler{svc: svc}
}

func customerKey(r *http.Request) string {
	return middleware.GetCustomerKey(r.Context())
}

// ---------------------------------------------------------------------------
// Applications
// ---------------------------------------------------------------------------

// GenerateApp creates an application.
// GET /auth/generate_app?username=
func (h *LicenseHandler) GenerateApp(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "username")
	if err != nil {
		writeParamError(w, err)
		return
	}
	app, err := h.svc.CreateApplication(r.Context(), customerKey(r), p[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ListAppsForUser lists application keys owned by a username.
// GET /auth/list_apps_for_user?username=
func (h *LicenseHandler) ListAppsForUser(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "username")
	if err != nil {
		writeParamError(w, err)
		return
	}
	keys, err := h.svc.ListApplicationsForUser(r.Context(), customerKey(r), p[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stringsToResources(model.FieldAppKey, keys))
}

// ListKeysForUsername lists one page of record keys ending in -username. The
// default body is a JSON string of the keys joined with <br>; format=json
// returns a model.Page.
// GET /auth/list_keys_for_username?username=&page=&format=
func (h *LicenseHandler) ListKeysForUsername(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "username")
	if err != nil {
		writeParamError(w, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeParamError(w, err)
		return
	}
	result, err := h.svc.ListKeysForUsername(r.Context(), customerKey(r), p[0], page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if queryString(r, "format") == "json" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, strings.Join(result.Items, "<br>"))
}

// PauseAppKey pauses an application.
// GET /auth/pause_app_key?application_key=
func (h *LicenseHandler) PauseAppKey(w http.ResponseWriter, r *http.Request) {
	h.appAction(w, r, h.svc.PauseApplication, msgPaused)
}

// UnpauseAppKey unpauses an application.
// GET /auth/unpause_app_key?application_key=
func (h *LicenseHandler) UnpauseAppKey(w http.ResponseWriter, r *http.Request) {
	h.appAction(w, r, h.svc.UnpauseApplication, msgUnpaused)
}

// DeleteAppKey deletes an application and its licenses.
// GET /auth/delete_app_key?application_key=
func (h *LicenseHandler) DeleteAppKey(w http.ResponseWriter, r *http.Request) {
	h.appAction(w, r, h.svc.DeleteApplication, msgDeleted)
}

type appActionFunc func(ctx context.Context, customerKey, appKey string) error

func (h *LicenseHandler) appAction(w http.ResponseWriter, r *http.Request, action appActionFunc, ack string) {
	p, err := requireQuery(r, "application_key")
	if err != nil {
		writeParamError(w, err)
		return
	}
	if err := action(r.Context(), customerKey(r), p[0]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Detail: ack})
}

// GetApp returns an application with its licenses.
// GET /auth/get_app?app_key=
func (h *LicenseHandler) GetApp(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "app_key")
	if err != nil {
		writeParamError(w, err)
		return
	}
	detail, err := h.svc.GetApplication(r.Context(), customerKey(r), p[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

// GenerateLicenseKey issues a license.
// GET /auth/generate_license_key?app_key=&plan=&expiry_days=&username=&hwid=
func (h *LicenseHandler) GenerateLicenseKey(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "app_key", "plan", "username")
	if err != nil {
		writeParamError(w, err)
		return
	}
	days, err := requireQueryInt(r, "expiry_days")
	if err != nil {
		writeParamError(w, err)
		return
	}
	lic, err := h.svc.GenerateLicense(r.Context(), license.GenerateLicenseInput{
		CustomerKey: customerKey(r),
		AppKey:      p[0],
		Plan:        p[1],
		ExpiryDays:  days,
		Username:    p[2],
		HWID:        queryString(r, "hwid"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

// EditLicenseKey changes the supplied fields of a license.
// GET /auth/edit_license_key?app_key=&license_key=&new_license_key=&expiry=&plan=&hwid=
func (h *LicenseHandler) EditLicenseKey(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "app_key", "license_key")
	if err != nil {
		writeParamError(w, err)
		return
	}
	_, err = h.svc.EditLicense(r.Context(), license.EditLicenseInput{
		CustomerKey:   customerKey(r),
		AppKey:        p[0],
		LicenseKey:    p[1],
		NewLicenseKey: queryOptional(r, "new_license_key"),
		Expiry:        queryOptional(r, "expiry"),
		Plan:          queryOptional(r, "plan"),
		HWID:          queryOptional(r, "hwid"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: msgEdited})
}

// GetLicense returns a license with its current state.
// GET /auth/get_license?app_key=&license_key=
func (h *LicenseHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "app_key", "license_key")
	if err != nil {
		writeParamError(w, err)
		return
	}
	detail, err := h.svc.GetLicense(r.Context(), customerKey(r), p[0], p[1])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ---------------------------------------------------------------------------
// End-user client routes (no customer key)
// ---------------------------------------------------------------------------

// AssignHWID binds a license to a hardware ID.
// GET /auth/assign_hwid?app_key=&license_key=&hwid=
func (h *LicenseHandler) AssignHWID(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "app_key", "license_key", "hwid")
	if err != nil {
		writeParamError(w, err)
		return
	}
	if _, err := h.svc.AssignHWID(r.Context(), p[0], p[1], p[2]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: msgHWIDAssigned})
}

// SignIn validates a license for a client.
// GET /auth/signin?application_key=&license_key=&hwid=
func (h *LicenseHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	p, err := requireQuery(r, "application_key", "license_key")
	if err != nil {
		writeParamError(w, err)
		return
	}
	view, err := h.svc.SignIn(r.Context(), p[0], p[1], queryString(r, "hwid"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
