package transport

import "fmt"

// Option identifies a configuration knob settable on a [Handle].
// String returns the symbolic name used in diagnostics.
type Option int

const (
	// OptionURL (string) sets the request URL.
	OptionURL Option = iota + 1
	// OptionMethod (string) sets the request method.
	OptionMethod
	// OptionHeaders ([]string) sets the outgoing header lines in order,
	// each "Name: value". A Host line overrides the request host and a
	// Content-Length line fixes the declared body length.
	OptionHeaders
	// OptionBody ([]byte) sets a buffered request body.
	OptionBody
	// OptionBodyReader (io.Reader) streams the request body. Takes
	// precedence over OptionBody.
	OptionBodyReader
	// OptionOutput (io.Writer) streams the response body to a writer
	// instead of buffering it into [Result].
	OptionOutput
	// OptionTimeout (time.Duration) bounds the whole transfer,
	// including body transfer.
	OptionTimeout
	// OptionConnectTimeout (time.Duration) bounds the dial phase only.
	OptionConnectTimeout
	// OptionFollowRedirects (bool) controls redirect following.
	// Defaults to true.
	OptionFollowRedirects
	// OptionMaxRedirects (int) bounds redirect hops; negative means
	// unlimited. Defaults to 10.
	OptionMaxRedirects
	// OptionProtocols ([]string) restricts allowed URL schemes,
	// including redirect targets. Defaults to http and https.
	OptionProtocols
	// OptionProxy (string) routes the transfer through a proxy URL.
	// Credentials may be carried in the URL userinfo.
	OptionProxy
	// OptionNoBody (bool) discards the response body after headers.
	OptionNoBody
	// OptionFailOnError (bool) reports status >= 400 as a transport
	// failure with [CodeHTTPReturnedError].
	OptionFailOnError
	// OptionThrottle (*throttle.Config) applies token-bucket limiting
	// to this handle's transfers.
	OptionThrottle
	// OptionTLSSkipVerify (bool) disables TLS certificate
	// verification.
	OptionTLSSkipVerify
)

var optionNames = map[Option]string{
	OptionURL:             "URL",
	OptionMethod:          "METHOD",
	OptionHeaders:         "HEADERS",
	OptionBody:            "BODY",
	OptionBodyReader:      "BODY_READER",
	OptionOutput:          "OUTPUT",
	OptionTimeout:         "TIMEOUT",
	OptionConnectTimeout:  "CONNECT_TIMEOUT",
	OptionFollowRedirects: "FOLLOW_REDIRECTS",
	OptionMaxRedirects:    "MAX_REDIRECTS",
	OptionProtocols:       "PROTOCOLS",
	OptionProxy:           "PROXY",
	OptionNoBody:          "NO_BODY",
	OptionFailOnError:     "FAIL_ON_ERROR",
	OptionThrottle:        "THROTTLE",
	OptionTLSSkipVerify:   "TLS_SKIP_VERIFY",
}

func (o Option) String() string {
	if name, ok := optionNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OPTION(%d)", int(o))
}
