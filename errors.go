package convoy

import (
	"fmt"

	"github.com/northrook/convoy/transport"
)

// TransportError reports a failure below the HTTP layer: DNS, connect,
// TLS, timeout, or an aborted transfer. It carries the transport's
// numeric code so callers can branch on the failure class.
type TransportError struct {
	Code    transport.Code
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d (%s): %s", e.Code, e.Code, e.Message)
}

// HTTPError reports a completed exchange whose status class is 4xx or
// 5xx. The transport itself succeeded.
type HTTPError struct {
	StatusCode int
	StatusLine string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.StatusLine)
}

// OptionError reports a configuration value the transport rejected,
// identified by its symbolic option name. Option errors are surfaced
// immediately and never retried.
type OptionError struct {
	Option transport.Option
	Err    error
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("option %s: %v", e.Option, e.Err)
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

// SerializationError reports request data that could not be encoded
// into a body or query string.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serializing request data: %v", e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// FormatError reports a malformed user-supplied specification string,
// such as a rate limit.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %q: %s", e.Input, e.Reason)
}

// ResolutionError reports a URL that could not be parsed or resolved
// against the configured base.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving url %q: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
