package transport

import "fmt"

// Code classifies the outcome of a transfer at the transport level.
// CodeOK is zero so that a zero Result reads as success.
type Code int

const (
	CodeOK Code = iota
	CodeUnsupportedProtocol
	CodeMalformedURL
	CodeResolveFailed
	CodeConnectFailed
	CodeTLSFailed
	CodeSendFailed
	CodeRecvFailed
	CodeWriteFailed
	CodeTimeout
	CodeTooManyRedirects
	CodeAbortedByCallback
	CodeHTTPReturnedError
	CodeUnknown
)

var codeNames = map[Code]string{
	CodeOK:                  "OK",
	CodeUnsupportedProtocol: "UNSUPPORTED_PROTOCOL",
	CodeMalformedURL:        "MALFORMED_URL",
	CodeResolveFailed:       "RESOLVE_FAILED",
	CodeConnectFailed:       "CONNECT_FAILED",
	CodeTLSFailed:           "TLS_FAILED",
	CodeSendFailed:          "SEND_FAILED",
	CodeRecvFailed:          "RECV_FAILED",
	CodeWriteFailed:         "WRITE_FAILED",
	CodeTimeout:             "TIMEOUT",
	CodeTooManyRedirects:    "TOO_MANY_REDIRECTS",
	CodeAbortedByCallback:   "ABORTED_BY_CALLBACK",
	CodeHTTPReturnedError:   "HTTP_RETURNED_ERROR",
	CodeUnknown:             "UNKNOWN",
}

// String returns the symbolic code name for diagnostics.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}
