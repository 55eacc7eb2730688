// Package types holds the JSON shapes every HTTP response is wrapped in.
package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public view of a failure. Details is only set for codes
// whose metadata allows it, e.g. the failed product ids of a stale checkout.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
	// RequestID echoes X-Request-Id so clients can quote it in reports.
	RequestID string `json:"request_id,omitempty"`
}
