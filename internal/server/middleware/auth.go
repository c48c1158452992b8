package middleware

import (
	"context"
	"net/http"
)

type contextKeyAuth string

const (
	// CustomerKeyContextKey is the context key for the presented customer key.
	CustomerKeyContextKey contextKeyAuth = "customer_key"

	// CustomerKeyParam is the query parameter existing clients send.
	CustomerKeyParam = "customer_api_key"
	// CustomerKeyHeader is accepted when the query parameter is absent.
	CustomerKeyHeader = "X-Customer-Key"
)

// CustomerKey returns an HTTP middleware that attaches the customer key
// presented with the request to its context. It does not check the key; the
// license service does that as the first step of every gated operation so a
// rejected key is always reported before any other input problem.
func CustomerKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := customerKeyFromRequest(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), CustomerKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCustomerKey extracts the customer key from the context. Returns an
// empty string if none was presented.
func GetCustomerKey(ctx context.Context) string {
	if k, ok := ctx.Value(CustomerKeyContextKey).(string); ok {
		return k
	}
	return ""
}

// customerKeyFromRequest prefers the query parameter over the header.
func customerKeyFromRequest(r *http.Request) string {
	if k := r.URL.Query().Get(CustomerKeyParam); k != "" {
		return k
	}
	return r.Header.Get(CustomerKeyHeader)
}
