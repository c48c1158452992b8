// Package validate holds the format rules for identifiers accepted by the
// license service. Every rule is a pure predicate; callers decide how a
// failure is reported.
//
// IP, Domain and IPOrDomain check the target of an address lookup. The
// service has no lookup route, so only their tests reach them today.
package validate

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/pilotauth/pilot/internal/model"
)

var (
	alnumPattern  = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	hwidPattern   = regexp.MustCompile(`^S-\d+-\d+(-\d+)+$`)
	digitsPattern = regexp.MustCompile(`^\d{1,16}$`)
	domainPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+$`)
)

var v = validator.New()

// Username reports whether s is a non-empty ASCII alphanumeric string.
func Username(s string) bool {
	return alnumPattern.MatchString(s)
}

// Plan uses the same rule as Username.
func Plan(s string) bool {
	return alnumPattern.MatchString(s)
}

// LicenseKey reports whether s has the shape of a license key. Keys issued by
// the service are uppercase, but renamed keys may use any ASCII letters.
func LicenseKey(s string) bool {
	return alnumPattern.MatchString(s)
}

// HWID reports whether s looks like a Windows security identifier such as
// S-1-5-21-3623811015.
func HWID(s string) bool {
	return hwidPattern.MatchString(s)
}

// ExpiryDigits reports whether s is one to sixteen decimal digits.
func ExpiryDigits(s string) bool {
	return digitsPattern.MatchString(s)
}

// ExpiryDate reports whether s is a YYYY-MM-DD calendar date.
func ExpiryDate(s string) bool {
	_, err := model.ParseDate(s)
	return err == nil
}

// IP reports whether s is an IPv4 or IPv6 address.
func IP(s string) bool {
	return v.Var(s, "required,ip") == nil
}

// Domain reports whether s is a dotted host name.
func Domain(s string) bool {
	return domainPattern.MatchString(s)
}

// IPOrDomain reports whether s is an IP address or a dotted host name.
func IPOrDomain(s string) bool {
	return IP(s) || Domain(s)
}
