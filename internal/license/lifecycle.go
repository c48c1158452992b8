package license

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/pilotauth/pilot/internal/events"
	"github.com/pilotauth/pilot/internal/keygen"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/validate"
)

var errKeyTaken = errors.New("generated key already in use")

// CreateApplication registers a new application owned by username.
func (s *Service) CreateApplication(ctx context.Context, customerKey, username string) (app model.Application, err error) {
	defer s.observe("create_application", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return model.Application{}, err
	}
	if !validate.Username(username) {
		return model.Application{}, badRequest(msgInvalidUsername)
	}

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		appKey, err := keygen.GenerateAppKey(username)
		if err != nil {
			return model.Application{}, &Error{Kind: KindInternal, Detail: "Key generation failed", Err: err}
		}
		app = model.Application{AppKey: appKey, CreatedBy: username}

		err = s.update(ctx, appKey, model.FieldAppKey, func(cur store.Current) (*store.Change, error) {
			if cur.KeyExists {
				return nil, errKeyTaken
			}
			return &store.Change{
				Set:   app.Fields(),
				Index: []store.IndexOp{{Index: store.UserIndex(username), Member: appKey}},
			}, nil
		})
		if errors.Is(err, errKeyTaken) {
			s.logger.Warn("application key collision, regenerating", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.Application{}, storeError(err)
		}

		s.logger.Info("application created",
			"app_key", appKey,
			"username", username,
			"customer_key_prefix", model.KeyPrefix(customerKey),
		)
		s.emit(ctx, events.ApplicationCreated, appKey, "", username)
		return app, nil
	}
	return model.Application{}, conflict("Could not allocate a unique application key")
}

// GenerateLicenseInput holds the parameters of GenerateLicense. HWID is
// optional.
type GenerateLicenseInput struct {
	CustomerKey string
	AppKey      string
	Plan        string
	ExpiryDays  int
	Username    string
	HWID        string
}

// GenerateLicense issues a license under an application that is not paused.
// The expiry is today plus ExpiryDays.
func (s *Service) GenerateLicense(ctx context.Context, in GenerateLicenseInput) (lic model.License, err error) {
	defer s.observe("generate_license", &err)

	if err := s.Authorize(ctx, in.CustomerKey); err != nil {
		return model.License{}, err
	}
	ok, err := s.appExists(ctx, in.AppKey)
	if err != nil {
		return model.License{}, err
	}
	if !ok {
		return model.License{}, notFound(msgAppNotFound)
	}
	if !validate.Username(in.Username) {
		return model.License{}, badRequest(msgInvalidUsername)
	}
	if !validate.Plan(in.Plan) {
		return model.License{}, badRequest(msgInvalidPlan)
	}
	if in.HWID != "" && !validate.HWID(in.HWID) {
		return model.License{}, badRequest(msgInvalidHWID)
	}
	expiry, err := s.expiryFromDays(int64(in.ExpiryDays))
	if err != nil {
		return model.License{}, err
	}

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := keygen.GenerateLicenseKey()
		if err != nil {
			return model.License{}, &Error{Kind: KindInternal, Detail: "Key generation failed", Err: err}
		}
		lic = model.License{
			LicenseKey: key,
			Expiry:     expiry,
			Plan:       in.Plan,
			HWID:       in.HWID,
			Username:   in.Username,
			App:        in.AppKey,
			Version:    1,
		}
		raw, err := lic.Encode()
		if err != nil {
			return model.License{}, &Error{Kind: KindInternal, Detail: "Internal server error", Err: err}
		}

		err = s.update(ctx, in.AppKey, model.FieldPaused, func(cur store.Current) (*store.Change, error) {
			if !cur.KeyExists {
				return nil, notFound(msgAppNotFound)
			}
			if model.IsPaused(cur.Value) {
				return nil, forbidden(msgAppPaused)
			}
			return &store.Change{
				Set:    map[string]string{key: raw},
				Absent: []string{key},
			}, nil
		})
		if errors.Is(err, store.ErrFieldExists) {
			s.logger.Warn("license key collision, regenerating", "app_key", in.AppKey, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.License{}, storeError(err)
		}

		s.logger.Info("license generated",
			"app_key", in.AppKey,
			"license_key_prefix", model.KeyPrefix(key),
			"plan", in.Plan,
			"expiry", expiry.String(),
		)
		s.emit(ctx, events.LicenseGenerated, in.AppKey, key, in.Username)
		return lic, nil
	}
	return model.License{}, conflict("Could not allocate a unique license key")
}

// PauseApplication stops new licenses from being issued under appKey.
// Pausing a paused application succeeds.
func (s *Service) PauseApplication(ctx context.Context, customerKey, appKey string) (err error) {
	defer s.observe("pause_application", &err)
	return s.setPaused(ctx, customerKey, appKey, true)
}

// UnpauseApplication reverses PauseApplication.
func (s *Service) UnpauseApplication(ctx context.Context, customerKey, appKey string) (err error) {
	defer s.observe("unpause_application", &err)
	return s.setPaused(ctx, customerKey, appKey, false)
}

func (s *Service) setPaused(ctx context.Context, customerKey, appKey string, paused bool) error {
	if err := s.Authorize(ctx, customerKey); err != nil {
		return err
	}
	err := s.update(ctx, appKey, model.FieldPaused, func(cur store.Current) (*store.Change, error) {
		if !cur.KeyExists {
			return nil, notFound(msgAppKeyNotFound)
		}
		return &store.Change{Set: map[string]string{model.FieldPaused: model.PausedValue(paused)}}, nil
	})
	if err != nil {
		return storeError(err)
	}

	typ := events.ApplicationUnpaused
	if paused {
		typ = events.ApplicationPaused
	}
	s.logger.Info("application paused state changed", "app_key", appKey, "paused", paused)
	s.emit(ctx, typ, appKey, "", "")
	return nil
}

// DeleteApplication removes the application and every license under it in
// one write.
func (s *Service) DeleteApplication(ctx context.Context, customerKey, appKey string) (err error) {
	defer s.observe("delete_application", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return err
	}
	var owner string
	err = s.update(ctx, appKey, model.FieldCreatedBy, func(cur store.Current) (*store.Change, error) {
		if !cur.KeyExists {
			return nil, notFound(msgAppKeyNotFound)
		}
		owner = cur.Value
		change := &store.Change{DeleteKey: true}
		if cur.Found {
			change.Index = []store.IndexOp{{Index: store.UserIndex(cur.Value), Member: appKey, Remove: true}}
		}
		return change, nil
	})
	if err != nil {
		return storeError(err)
	}

	s.logger.Info("application deleted", "app_key", appKey, "username", owner)
	s.emit(ctx, events.ApplicationDeleted, appKey, "", owner)
	return nil
}

// AssignHWID binds a license to a hardware ID. It is called by end users, so
// it takes no customer key. A new HWID may be assigned only once the cooldown
// since the last change has elapsed.
func (s *Service) AssignHWID(ctx context.Context, appKey, licenseKey, hwid string) (lic model.License, err error) {
	defer s.observe("assign_hwid", &err)

	ok, err := s.appExists(ctx, appKey)
	if err != nil {
		return model.License{}, err
	}
	if !ok {
		return model.License{}, notFound(msgAppNotFound)
	}
	if !validate.LicenseKey(licenseKey) {
		return model.License{}, badRequest(msgInvalidLicenseKey)
	}

	today := s.today()
	cooldown := s.cfg.HWIDCooldownDays
	err = s.update(ctx, appKey, licenseKey, func(cur store.Current) (*store.Change, error) {
		if !cur.KeyExists {
			return nil, notFound(msgAppNotFound)
		}
		if !cur.Found || model.IsApplicationField(licenseKey) {
			return nil, notFound(msgLicenseNotFound)
		}
		l, err := decodeStored(cur.Value, licenseKey)
		if err != nil {
			return nil, err
		}
		if !l.HWIDChangeAllowed(today, cooldown) {
			return nil, forbidden(fmt.Sprintf(
				"HWID change is not allowed within %d days of the last change", cooldown))
		}
		if !validate.HWID(hwid) {
			return nil, badRequest(msgInvalidHWID)
		}
		l.HWID = hwid
		l.LastHWIDChange = today
		l.Version++
		raw, err := l.Encode()
		if err != nil {
			return nil, err
		}
		lic = l
		return &store.Change{Set: map[string]string{licenseKey: raw}}, nil
	})
	if err != nil {
		return model.License{}, storeError(err)
	}

	s.logger.Info("hwid assigned", "app_key", appKey, "license_key_prefix", model.KeyPrefix(licenseKey))
	s.emit(ctx, events.LicenseHWIDAssigned, appKey, licenseKey, lic.Username)
	return lic, nil
}

// EditLicenseInput holds the parameters of EditLicense. Nil fields are left
// unchanged.
type EditLicenseInput struct {
	CustomerKey   string
	AppKey        string
	LicenseKey    string
	NewLicenseKey *string
	// Expiry is a YYYY-MM-DD date or a number of days from today.
	Expiry *string
	Plan   *string
	HWID   *string
}

// EditLicense applies the supplied fields to a license. Renaming moves the
// license to NewLicenseKey and fails with Conflict if that key is taken.
// Setting the HWID here is an administrative override and ignores the
// cooldown.
func (s *Service) EditLicense(ctx context.Context, in EditLicenseInput) (lic model.License, err error) {
	defer s.observe("edit_license", &err)

	if err := s.Authorize(ctx, in.CustomerKey); err != nil {
		return model.License{}, err
	}
	ok, err := s.appExists(ctx, in.AppKey)
	if err != nil {
		return model.License{}, err
	}
	if !ok {
		return model.License{}, notFound(msgAppNotFound)
	}
	if in.LicenseKey == "" {
		return model.License{}, notFound(msgLicenseNotFound)
	}

	err = s.update(ctx, in.AppKey, in.LicenseKey, func(cur store.Current) (*store.Change, error) {
		if !cur.KeyExists {
			return nil, notFound(msgAppNotFound)
		}
		if !cur.Found || model.IsApplicationField(in.LicenseKey) {
			return nil, notFound(msgLicenseNotFound)
		}
		l, err := decodeStored(cur.Value, in.LicenseKey)
		if err != nil {
			return nil, err
		}
		target := in.LicenseKey
		if in.NewLicenseKey != nil && *in.NewLicenseKey != in.LicenseKey {
			if !validate.LicenseKey(*in.NewLicenseKey) {
				return nil, badRequest(msgInvalidLicenseKey)
			}
			if model.IsApplicationField(*in.NewLicenseKey) {
				return nil, conflict(msgLicenseExists)
			}
			target = *in.NewLicenseKey
			l.LicenseKey = target
		}
		if in.Expiry != nil {
			expiry, err := s.parseExpiry(*in.Expiry)
			if err != nil {
				return nil, err
			}
			l.Expiry = expiry
		}
		if in.Plan != nil {
			if !validate.Plan(*in.Plan) {
				return nil, badRequest(msgInvalidPlan)
			}
			l.Plan = *in.Plan
		}
		if in.HWID != nil {
			if !validate.HWID(*in.HWID) {
				return nil, badRequest(msgInvalidHWID)
			}
			l.HWID = *in.HWID
		}
		l.Version++

		raw, err := l.Encode()
		if err != nil {
			return nil, err
		}
		lic = l
		change := &store.Change{Set: map[string]string{target: raw}}
		if target != in.LicenseKey {
			change.Delete = []string{in.LicenseKey}
			change.Absent = []string{target}
		}
		return change, nil
	})
	if errors.Is(err, store.ErrFieldExists) {
		return model.License{}, conflict(msgLicenseExists)
	}
	if err != nil {
		return model.License{}, storeError(err)
	}

	s.logger.Info("license edited",
		"app_key", in.AppKey,
		"license_key_prefix", model.KeyPrefix(lic.LicenseKey),
		"renamed", lic.LicenseKey != in.LicenseKey,
	)
	s.emit(ctx, events.LicenseEdited, in.AppKey, lic.LicenseKey, lic.Username)
	return lic, nil
}

// parseExpiry accepts a YYYY-MM-DD date or a digit count of days from today
// and returns the canonical date.
func (s *Service) parseExpiry(v string) (model.Date, error) {
	if validate.ExpiryDate(v) {
		d, err := model.ParseDate(v)
		if err != nil {
			return model.Date{}, badRequest(msgInvalidExpiry)
		}
		return d, nil
	}
	if !validate.ExpiryDigits(v) {
		return model.Date{}, badRequest(msgInvalidExpiry)
	}
	days, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return model.Date{}, badRequest(msgInvalidExpiry)
	}
	return s.expiryFromDays(days)
}

func (s *Service) expiryFromDays(days int64) (model.Date, error) {
	if days < 0 {
		return model.Date{}, badRequest("expiry_days must not be negative")
	}
	if days > maxExpiryDays {
		return model.Date{}, badRequest(msgExpiryOutOfRange)
	}
	d := s.today().AddDays(int(days))
	if d.Time().Year() > 9999 {
		return model.Date{}, badRequest(msgExpiryOutOfRange)
	}
	return d, nil
}

// GetApplication returns an application and its licenses ordered by key.
func (s *Service) GetApplication(ctx context.Context, customerKey, appKey string) (detail model.ApplicationDetail, err error) {
	defer s.observe("get_application", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return model.ApplicationDetail{}, err
	}
	if appKey == "" {
		return model.ApplicationDetail{}, notFound(msgAppNotFound)
	}
	fields, err := s.store.GetAll(ctx, appKey)
	if err != nil {
		return model.ApplicationDetail{}, storeError(err)
	}
	if len(fields) == 0 {
		return model.ApplicationDetail{}, notFound(msgAppNotFound)
	}

	detail.Application = model.ApplicationFromFields(fields)
	if detail.AppKey == "" {
		detail.AppKey = appKey
	}
	detail.Licenses = []model.License{}
	for field, raw := range fields {
		if model.IsApplicationField(field) {
			continue
		}
		l, err := decodeStored(raw, field)
		if err != nil {
			s.logger.Warn("skipping unreadable license", "app_key", appKey, "field", field, "error", err)
			continue
		}
		detail.Licenses = append(detail.Licenses, l)
	}
	sort.Slice(detail.Licenses, func(i, j int) bool {
		return detail.Licenses[i].LicenseKey < detail.Licenses[j].LicenseKey
	})
	return detail, nil
}

// GetLicense returns one license with its state as of today.
func (s *Service) GetLicense(ctx context.Context, customerKey, appKey, licenseKey string) (detail model.LicenseDetail, err error) {
	defer s.observe("get_license", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return model.LicenseDetail{}, err
	}
	if appKey == "" {
		return model.LicenseDetail{}, notFound(msgAppNotFound)
	}
	if !validate.LicenseKey(licenseKey) {
		return model.LicenseDetail{}, badRequest(msgInvalidLicenseKey)
	}
	app, lic, found, err := s.loadLicense(ctx, appKey, licenseKey, msgAppNotFound)
	if err != nil {
		return model.LicenseDetail{}, err
	}
	if !found {
		return model.LicenseDetail{}, notFound(msgLicenseNotFound)
	}
	return model.LicenseDetail{
		License:           lic,
		State:             model.DeriveState(lic, app, s.today(), ""),
		HWIDChangeAllowed: lic.HWIDChangeAllowedFrom(s.cfg.HWIDCooldownDays).String(),
	}, nil
}
