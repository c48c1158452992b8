package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
		Detail: message,
	})
}

// writeServiceError maps a license service error to its HTTP status and
// writes it. The underlying cause is never sent to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := license.KindOf(err)
	writeError(w, statusForKind(kind), license.DetailOf(err), map[string]interface{}{
		"kind": string(kind),
	})
}

// statusForKind returns the HTTP status code for an error kind.
func statusForKind(k license.Kind) int {
	switch k {
	case license.KindBadRequest:
		return http.StatusBadRequest
	case license.KindForbidden:
		return http.StatusForbidden
	case license.KindNotFound:
		return http.StatusNotFound
	case license.KindConflict:
		return http.StatusConflict
	case license.KindUnavailable:
		return http.StatusServiceUnavailable
	case license.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errParam reports a missing or malformed query parameter.
type errParam struct {
	name   string
	reason string
}

func (e *errParam) Error() string { return e.reason + " query parameter: " + e.name }

// writeParamError answers a query parameter problem with 422, the status
// existing clients receive for request validation failures.
func writeParamError(w http.ResponseWriter, err error) {
	var pe *errParam
	if errors.As(err, &pe) {
		writeError(w, http.StatusUnprocessableEntity, capitalize(pe.Error()), map[string]interface{}{
			"param": pe.name,
		})
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

// requireQuery returns the values of the named query parameters in order, or
// an error naming the first one that is absent. An empty value counts as
// present.
func requireQuery(r *http.Request, names ...string) ([]string, error) {
	q := r.URL.Query()
	out := make([]string, len(names))
	for i, name := range names {
		if !q.Has(name) {
			return nil, &errParam{name: name, reason: "missing"}
		}
		out[i] = q.Get(name)
	}
	return out, nil
}

// requireQueryInt parses a required integer query parameter.
func requireQueryInt(r *http.Request, key string) (int, error) {
	q := r.URL.Query()
	if !q.Has(key) {
		return 0, &errParam{name: key, reason: "missing"}
	}
	n, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return 0, &errParam{name: key, reason: "non-integer"}
	}
	return n, nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing. A present but non-integer value is an error.
func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, &errParam{name: key, reason: "non-integer"}
	}
	return n, nil
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryOptional returns a pointer to the parameter's value, or nil when the
// parameter is absent.
func queryOptional(r *http.Request, key string) *string {
	q := r.URL.Query()
	if !q.Has(key) {
		return nil
	}
	v := q.Get(key)
	return &v
}

// stringsToResources converts a list of strings into a resource array:
// [{"key": "value1"}, {"key": "value2"}, ...].
func stringsToResources(key string, values []string) []map[string]interface{} {
	out := make([]map[string]interface{}, len(values))
	for i, v := range values {
		out[i] = map[string]interface{}{key: v}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
