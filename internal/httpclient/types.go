// Package httpclient provides the typed HTTP client used for all upstream
// commerce and MDM API traffic. It normalizes paginated responses, caches
// successful GETs, coalesces identical in-flight requests, retries transient
// failures and isolates unhealthy targets behind a circuit breaker.
package httpclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies client errors for callers that need to decide between
// degrading, retrying or aborting.
type ErrorKind string

const (
	// ErrorKindNetwork is a transport-level failure before a response was read.
	ErrorKindNetwork ErrorKind = "network"

	// ErrorKindTimeout is a request that exceeded its deadline.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindHTTP is a non-2xx response from the upstream.
	ErrorKindHTTP ErrorKind = "http"

	// ErrorKindCircuitOpen is a request rejected without touching the network
	// because the target's circuit breaker is open.
	ErrorKindCircuitOpen ErrorKind = "circuit_open"

	// ErrorKindCanceled is a caller-initiated cancellation.
	ErrorKindCanceled ErrorKind = "canceled"

	// ErrorKindDecode is a response body that could not be decoded.
	ErrorKindDecode ErrorKind = "decode"
)

// Error is the typed error returned by all client operations. It carries the
// identity of the originating request so that log lines and banners can name
// the call that failed.
type Error struct {
	Kind   ErrorKind
	Method string
	Path   string

	// Status and Body are set for ErrorKindHTTP only. Body is truncated.
	Status int
	Body   string

	Err error
}

// Error returns the error message.
func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindHTTP:
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err when it is a client *Error, or an empty
// kind otherwise.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Record is an opaque resource record. The client never interprets domain
// fields; callers pick out the attributes they care about.
type Record map[string]any

// Sort directions accepted in a Query.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Sort is a single sort order in a Query.
type Sort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// Filter is a single server-side filter in a Query. Op must be one of the
// condition types accepted by the upstream search criteria encoding
// (eq, gt, lt, gteq, lteq, in, like).
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Query describes one page of a server-driven tabular request.
type Query struct {
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Sort     []Sort   `json:"sort,omitempty"`
	Filters  []Filter `json:"filters,omitempty"`
	Search   string   `json:"search,omitempty"`
}

// Envelope is the normalized paginated response shape. Every paginated
// upstream response is converted to this shape regardless of how the
// upstream chose to encode it.
type Envelope struct {
	Items    []Record `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
}

// UploadResult is the outcome of a file upload.
type UploadResult struct {
	// Size is the number of request body bytes written.
	Size int64

	// Body is the raw upstream response.
	Body []byte
}
