package license

import (
	"context"

	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/validate"
)

// Sign-in outcomes reported to the Recorder.
const (
	SignInOK           = "ok"
	SignInPaused       = "paused"
	SignInExpired      = "expired"
	SignInHWIDMismatch = "hwid_mismatch"
	SignInNotFound     = "not_found"
	SignInBadRequest   = "bad_request"
	SignInError        = "error"
)

// SignIn validates a license for an end-user client. It needs no customer
// key and never writes. A non-empty hwid must equal the bound HWID exactly;
// an unbound license therefore rejects any presented HWID.
//
// A license under a paused application still signs in unless
// Config.RejectPausedSignIn is set; the view reports app_paused either way.
func (s *Service) SignIn(ctx context.Context, appKey, licenseKey, hwid string) (view model.LicenseView, err error) {
	outcome := SignInError
	defer func() {
		s.recorder.SignIn(outcome)
		s.observe("signin", &err)
	}()

	if !validate.LicenseKey(licenseKey) {
		outcome = SignInBadRequest
		return model.LicenseView{}, badRequest(msgInvalidKey)
	}
	if appKey == "" {
		outcome = SignInNotFound
		return model.LicenseView{}, notFound(msgAppKeyNotFound)
	}

	app, lic, found, err := s.loadLicense(ctx, appKey, licenseKey, msgAppKeyNotFound)
	if err != nil {
		if KindOf(err) == KindNotFound {
			outcome = SignInNotFound
		}
		return model.LicenseView{}, err
	}
	if !found {
		outcome = SignInNotFound
		return model.LicenseView{}, notFound(msgLicenseNotFound)
	}

	switch model.DeriveState(lic, app, s.today(), hwid) {
	case model.StateExpired:
		outcome = SignInExpired
		return model.LicenseView{}, forbidden(msgExpired)
	case model.StateHWIDLocked:
		outcome = SignInHWIDMismatch
		return model.LicenseView{}, forbidden(msgHWIDMismatch)
	case model.StateAppPaused:
		outcome = SignInPaused
		if s.cfg.RejectPausedSignIn {
			return model.LicenseView{}, forbidden(msgAppPaused)
		}
		s.logger.Warn("sign-in on paused application",
			"app_key", appKey,
			"license_key_prefix", model.KeyPrefix(licenseKey),
		)
	default:
		outcome = SignInOK
	}

	s.logger.Debug("sign-in accepted", "app_key", appKey, "license_key_prefix", model.KeyPrefix(licenseKey))
	return lic.View(app.Paused), nil
}
