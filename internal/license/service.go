// Package license implements the application and license lifecycle, sign-in
// validation and listing on top of a store.Store. The store is the only
// source of truth: every operation re-reads the record it changes and writes
// through store.Update, so concurrent edits to one record are retried rather
// than lost.
package license

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pilotauth/pilot/internal/events"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/store"
)

const (
	// maxKeyAttempts bounds how many fresh keys are drawn when a generated
	// application or license key is already taken.
	maxKeyAttempts = 5
	// maxUpdateAttempts bounds read-modify-write retries on store.ErrConflict.
	maxUpdateAttempts = 5
	// maxExpiryDays keeps computed expiry dates inside four-digit years.
	maxExpiryDays = 2_000_000
)

// Config holds the tunable rules of the service.
type Config struct {
	HWIDCooldownDays   int
	PageSize           int
	RejectPausedSignIn bool
}

// DefaultConfig returns a 30-day HWID cooldown, 100-item pages and sign-in
// allowed on paused applications.
func DefaultConfig() Config {
	return Config{
		HWIDCooldownDays: 30,
		PageSize:         100,
	}
}

// Recorder receives operation outcomes. *metrics.Metrics implements it.
type Recorder interface {
	Operation(op, outcome string)
	SignIn(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Operation(string, string) {}
func (nopRecorder) SignIn(string)            {}

// Service owns every application and license state transition.
type Service struct {
	store    store.Store
	cfg      Config
	now      func() time.Time
	events   *events.Emitter
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvents publishes lifecycle events through e.
func WithEvents(e *events.Emitter) Option {
	return func(s *Service) { s.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithConfig overrides DefaultConfig. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.HWIDCooldownDays > 0 {
			s.cfg.HWIDCooldownDays = cfg.HWIDCooldownDays
		}
		if cfg.PageSize > 0 {
			s.cfg.PageSize = cfg.PageSize
		}
		s.cfg.RejectPausedSignIn = cfg.RejectPausedSignIn
	}
}

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService returns a Service backed by st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.NewEmitter(nil, s.logger)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return storeError(s.store.Ping(ctx))
}

// Authorize checks that customerKey is provisioned. An empty or unknown key
// is Forbidden; a store failure is reported as such, never as Forbidden.
func (s *Service) Authorize(ctx context.Context, customerKey string) error {
	if customerKey == "" {
		return forbidden(msgInvalidCustomerKey)
	}
	ok, err := s.store.CustomerKeyExists(ctx, customerKey)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		s.logger.Debug("customer key rejected", "key_prefix", model.KeyPrefix(customerKey))
		return forbidden(msgInvalidCustomerKey)
	}
	return nil
}

func (s *Service) today() model.Date {
	return model.DateOf(s.now())
}

// update runs one read-modify-write through the store, retrying when a
// concurrent writer got there first.
func (s *Service) update(ctx context.Context, key, field string, fn store.UpdateFunc) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err = s.store.Update(ctx, key, field, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.logger.Debug("update conflict, retrying", "key", key, "attempt", attempt+1)
	}
	return &Error{Kind: KindConflict, Detail: msgBusy, Err: err}
}

// appExists reports whether appKey has a record.
func (s *Service) appExists(ctx context.Context, appKey string) (bool, error) {
	if appKey == "" {
		return false, nil
	}
	ok, err := s.store.Exists(ctx, appKey)
	if err != nil {
		return false, storeError(err)
	}
	return ok, nil
}

// loadLicense reads the application flags and one license in a single store
// call. found is false when the license field is missing or names an
// application field; a missing application is reported as NotFound with
// appMsg.
func (s *Service) loadLicense(ctx context.Context, appKey, licenseKey, appMsg string) (model.Application, model.License, bool, error) {
	fields, err := s.store.GetFields(ctx, appKey, model.FieldAppKey, model.FieldCreatedBy, model.FieldPaused, licenseKey)
	if err != nil {
		return model.Application{}, model.License{}, false, storeError(err)
	}
	if len(fields) == 0 {
		ok, err := s.appExists(ctx, appKey)
		if err != nil {
			return model.Application{}, model.License{}, false, err
		}
		if !ok {
			return model.Application{}, model.License{}, false, notFound(appMsg)
		}
	}

	app := model.ApplicationFromFields(fields)
	if app.AppKey == "" {
		app.AppKey = appKey
	}
	raw, ok := fields[licenseKey]
	if !ok || model.IsApplicationField(licenseKey) {
		return app, model.License{}, false, nil
	}
	lic, err := decodeStored(raw, licenseKey)
	if err != nil {
		return app, model.License{}, false, err
	}
	return app, lic, true, nil
}

// decodeStored parses a stored license and fills in the key from the field
// name when the payload lacks it.
func decodeStored(raw, field string) (model.License, error) {
	lic, err := model.DecodeLicense(raw)
	if err != nil {
		return model.License{}, &Error{Kind: KindInternal, Detail: "Stored license is unreadable", Err: err}
	}
	if lic.LicenseKey == "" {
		lic.LicenseKey = field
	}
	return lic, nil
}

// observe records the outcome of op. Call it deferred with a pointer to the
// named error result.
func (s *Service) observe(op string, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = string(KindOf(*errp))
	}
	s.recorder.Operation(op, outcome)
}

func (s *Service) emit(ctx context.Context, typ, appKey, licenseKey, username string) {
	s.events.Emit(ctx, events.Event{
		Type:       typ,
		AppKey:     appKey,
		LicenseKey: licenseKey,
		Username:   username,
	})
}
