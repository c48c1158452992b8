package model

// MessageResponse acknowledges an operation that returns no record.
// Application operations answer with Detail, license operations with Message.
type MessageResponse struct {
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the standard envelope for error responses. Detail repeats
// the message for clients that read a top-level "detail" string.
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Detail string      `json:"detail"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
