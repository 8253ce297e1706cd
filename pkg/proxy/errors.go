package proxy

import "net/http"

// Error types distinguish "the site said no" from "we couldn't reach the
// site" so the calling UI can render a specific message.
const (
	TypeUpstreamError   = "upstream_error"
	TypeConnectionError = "connection_error"
)

// Error is the structured envelope returned in place of a proxied body when
// the upstream fetch fails. It is always JSON-serializable and never carries
// a stack trace.
type Error struct {
	Error      bool   `json:"error"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
}

func upstreamError(resp *http.Response) *Error {
	return &Error{
		Error:      true,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Type:       TypeUpstreamError,
		Message:    "The site responded with an error and could not be displayed.",
	}
}

func connectionError(err error) *Error {
	return &Error{
		Error:      true,
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Type:       TypeConnectionError,
		Message:    "The site could not be reached.",
		Details:    err.Error(),
	}
}
