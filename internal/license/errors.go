package license

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilotauth/pilot/internal/store"
)

// Kind classifies a failed operation.
type Kind string

const (
	KindBadRequest  Kind = "bad_request"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindInternal    Kind = "internal"
)

// Error is returned by every Service operation. Detail is safe to show to
// callers; Err, when set, is the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the caller-facing message of err.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return "Internal server error"
}

func badRequest(detail string) *Error { return &Error{Kind: KindBadRequest, Detail: detail} }
func forbidden(detail string) *Error  { return &Error{Kind: KindForbidden, Detail: detail} }
func notFound(detail string) *Error   { return &Error{Kind: KindNotFound, Detail: detail} }
func conflict(detail string) *Error   { return &Error{Kind: KindConflict, Detail: detail} }

// Caller-facing details.
const (
	msgInvalidCustomerKey = "Invalid customer API key"
	msgInvalidUsername    = "Invalid username format"
	msgInvalidPlan        = "Invalid plan format"
	msgInvalidHWID        = "Invalid HWID format"
	msgInvalidLicenseKey  = "Invalid license key format"
	msgInvalidKey         = "Invalid key format"
	msgInvalidExpiry      = "Invalid expiry format"
	msgExpiryOutOfRange   = "Expiry is out of range"
	msgAppNotFound        = "App not found"
	msgAppKeyNotFound     = "Application key not found"
	msgLicenseNotFound    = "License key not found"
	msgAppPaused          = "Application is paused"
	msgExpired            = "License key has expired"
	msgHWIDMismatch       = "HWID mismatch"
	msgLicenseExists      = "License key already exists"
	msgBusy               = "Record was modified concurrently, try again"
)

// storeError maps a store failure to an *Error. Errors that already are
// *Error pass through.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Detail: "Store timed out", Err: err}
	case errors.Is(err, store.ErrUnavailable):
		return &Error{Kind: KindUnavailable, Detail: "Store unavailable", Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConflict, Detail: msgBusy, Err: err}
	default:
		return &Error{Kind: KindInternal, Detail: "Internal server error", Err: err}
	}
}
