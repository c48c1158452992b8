package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/pilotauth/pilot/internal/model"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. A non-positive limit disables it.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByCustomerKey limits requests per presented customer key. Requests
// without a key share their client IP's budget. It must run after
// CustomerKey.
func RateLimitByCustomerKey(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if k := GetCustomerKey(r.Context()); k != "" {
				return "key:" + k, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func passthrough(next http.Handler) http.Handler { return next }

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
}

// writeJSONError writes the standard error envelope. The handler package has
// its own writer; middleware cannot import it without a cycle.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error:  model.ErrorDetail{Code: status, Message: message},
		Detail: message,
	})
}
