package model

import (
	"encoding/json"
	"fmt"
)

// License is a per-end-user credential issued under an application. It is
// stored as JSON in the application record, in the field named by its key.
type License struct {
	LicenseKey     string `json:"license_key"`
	Expiry         Date   `json:"expiry"`
	Plan           string `json:"plan"`
	HWID           string `json:"hwid"`
	Username       string `json:"username"`
	App            string `json:"app"`
	LastHWIDChange Date   `json:"last_hwid_change"`
	Version        int64  `json:"version"`
}

// ExpiresOn returns the last day on which the license is valid. A license
// without an expiry is treated as long expired.
func (l License) ExpiresOn() Date {
	if l.Expiry.IsZero() {
		return EpochDate
	}
	return l.Expiry
}

// HWIDChangedOn returns the day the HWID was last changed, or EpochDate if it
// never was.
func (l License) HWIDChangedOn() Date {
	if l.LastHWIDChange.IsZero() {
		return EpochDate
	}
	return l.LastHWIDChange
}

// ExpiredOn reports whether the license is no longer valid on today. The
// expiry day itself is still valid.
func (l License) ExpiredOn(today Date) bool {
	return l.ExpiresOn().Before(today)
}

// HWIDChangeAllowed reports whether the HWID may be changed on today given a
// cooldown of the given number of days after the last change.
func (l License) HWIDChangeAllowed(today Date, cooldownDays int) bool {
	return !today.Before(l.HWIDChangedOn().AddDays(cooldownDays))
}

// HWIDChangeAllowedFrom returns the first day a new HWID may be assigned.
func (l License) HWIDChangeAllowedFrom(cooldownDays int) Date {
	return l.HWIDChangedOn().AddDays(cooldownDays)
}

// Encode serializes the license for storage.
func (l License) Encode() (string, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode license %s: %w", l.LicenseKey, err)
	}
	return string(b), nil
}

// DecodeLicense parses a stored license field value.
func DecodeLicense(raw string) (License, error) {
	var l License
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return License{}, fmt.Errorf("decode license: %w", err)
	}
	return l, nil
}

// LicenseView is what sign-in returns to an end-user client.
type LicenseView struct {
	LicenseKey string `json:"license_key"`
	Expiry     string `json:"expiry"`
	Plan       string `json:"plan"`
	HWID       string `json:"hwid"`
	AppPaused  bool   `json:"app_paused"`
}

// View returns the sign-in view of the license.
func (l License) View(appPaused bool) LicenseView {
	return LicenseView{
		LicenseKey: l.LicenseKey,
		Expiry:     l.ExpiresOn().String(),
		Plan:       l.Plan,
		HWID:       l.HWID,
		AppPaused:  appPaused,
	}
}

// LicenseState is the validity of a license at a point in time. It is always
// derived from the record and never stored.
type LicenseState string

const (
	StateValid      LicenseState = "valid"
	StateExpired    LicenseState = "expired"
	StateHWIDLocked LicenseState = "hwid_locked"
	StateAppPaused  LicenseState = "app_paused"
)

// DeriveState computes the state of l on today as seen by a caller presenting
// callerHWID. Expiry takes precedence over an HWID mismatch, which takes
// precedence over a paused application. An empty callerHWID never locks.
func DeriveState(l License, app Application, today Date, callerHWID string) LicenseState {
	switch {
	case l.ExpiredOn(today):
		return StateExpired
	case callerHWID != "" && callerHWID != l.HWID:
		return StateHWIDLocked
	case app.Paused:
		return StateAppPaused
	default:
		return StateValid
	}
}

// LicenseDetail is a license together with its state for an administrator,
// evaluated without a caller HWID.
type LicenseDetail struct {
	License
	State             LicenseState `json:"state"`
	HWIDChangeAllowed string       `json:"hwid_change_allowed_from"`
}

// Page is one page of a listing.
type Page struct {
	Items    []string `json:"items"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
}
