package convoy

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/northrook/convoy/decode"
	"github.com/northrook/convoy/throttle"
	"github.com/northrook/convoy/transport"
)

// SetURL resolves rawURL against the configured base URL and sets it
// as the request target.
func (t *Transfer) SetURL(rawURL string) error {
	abs, err := t.resolveURL(rawURL)
	if err != nil {
		return err
	}
	t.url = abs
	t.setOpt(transport.OptionURL, abs)
	return nil
}

// SetBaseURL sets the base for resolving relative request URLs.
func (t *Transfer) SetBaseURL(base string) {
	t.baseURL = base
}

// SetOpt records a raw transport option. Invalid values surface as an
// [*OptionError] when the transfer executes.
func (t *Transfer) SetOpt(opt transport.Option, value any) {
	t.setOpt(opt, value)
}

// Opt returns the recorded value for a transport option.
func (t *Transfer) Opt(opt transport.Option) (any, bool) {
	return t.opts.Get(opt)
}

// SetHeader sets a request header, replacing any existing value.
func (t *Transfer) SetHeader(name, value string) {
	t.reqHeaders.Set(name, value)
	t.refreshHeaderOpt()
}

// SetHeaders sets several request headers at once.
func (t *Transfer) SetHeaders(hdrs map[string]string) {
	for _, name := range sortedKeys(hdrs) {
		t.reqHeaders.Set(name, hdrs[name])
	}
	t.refreshHeaderOpt()
}

// RemoveHeader deletes a request header.
func (t *Transfer) RemoveHeader(name string) {
	t.reqHeaders.Del(name)
	t.refreshHeaderOpt()
}

// RequestHeader returns a configured request header value.
func (t *Transfer) RequestHeader(name string) string {
	return t.reqHeaders.Get(name)
}

// SetCookie adds a cookie sent with the request.
func (t *Transfer) SetCookie(name, value string) {
	t.cookies.Set(name, value)
	t.refreshHeaderOpt()
}

// SetCookies adds several request cookies at once.
func (t *Transfer) SetCookies(cookies map[string]string) {
	for _, name := range sortedKeys(cookies) {
		t.cookies.Set(name, cookies[name])
	}
	t.refreshHeaderOpt()
}

// SetBasicAuth sets an Authorization header with basic credentials.
func (t *Transfer) SetBasicAuth(user, password string) {
	creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	t.SetHeader("Authorization", "Basic "+creds)
}

// SetBearerToken sets an Authorization header carrying a bearer token.
func (t *Transfer) SetBearerToken(token string) {
	t.SetHeader("Authorization", "Bearer "+token)
}

// SetUserAgent sets the User-Agent request header.
func (t *Transfer) SetUserAgent(ua string) {
	t.SetHeader("User-Agent", ua)
}

// SetReferer sets the Referer request header.
func (t *Transfer) SetReferer(referer string) {
	t.SetHeader("Referer", referer)
}

// SetRange requests a byte range, e.g. "0-499" or "500-".
func (t *Transfer) SetRange(byteRange string) {
	t.SetHeader("Range", "bytes="+byteRange)
}

// SetTimeout bounds the whole exchange, connection included.
func (t *Transfer) SetTimeout(d time.Duration) {
	t.setOpt(transport.OptionTimeout, d)
}

// SetConnectTimeout bounds connection establishment only.
func (t *Transfer) SetConnectTimeout(d time.Duration) {
	t.setOpt(transport.OptionConnectTimeout, d)
}

// SetFollowRedirects toggles redirect following. Enabled by default.
func (t *Transfer) SetFollowRedirects(follow bool) {
	t.setOpt(transport.OptionFollowRedirects, follow)
}

// SetMaxRedirects caps followed redirect hops. Negative means
// unlimited.
func (t *Transfer) SetMaxRedirects(n int) {
	t.setOpt(transport.OptionMaxRedirects, n)
}

// SetProtocols restricts the URL schemes the transfer may use,
// redirect targets included.
func (t *Transfer) SetProtocols(schemes ...string) {
	t.setOpt(transport.OptionProtocols, schemes)
}

// SetProxy routes the transfer through the given proxy URL. Userinfo
// in the URL supplies proxy credentials.
func (t *Transfer) SetProxy(proxyURL string) {
	t.setOpt(transport.OptionProxy, proxyURL)
}

// SetTLSSkipVerify disables server certificate verification.
func (t *Transfer) SetTLSSkipVerify(skip bool) {
	t.setOpt(transport.OptionTLSSkipVerify, skip)
}

// SetThrottle rate-limits this transfer's requests with the given
// requests per second and burst capacity.
func (t *Transfer) SetThrottle(rps, burst int) error {
	if rps <= 0 || burst <= 0 {
		return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
	}
	t.setOpt(transport.OptionThrottle, &throttle.Config{RPS: rps, Burst: burst})
	return nil
}

// SetBodyReader streams the request body from r instead of a buffered
// byte body. Content-Length is left to the transport.
func (t *Transfer) SetBodyReader(r io.Reader) {
	t.bodyReader = r != nil
	t.setOpt(transport.OptionBodyReader, r)
}

// SetRetries grants a fixed retry budget; each failed attempt consumes
// one. Clears any retry decider.
func (t *Transfer) SetRetries(n int) {
	t.remainingRetries = n
	t.retryDecider = nil
	t.retryConfigured = true
}

// SetRetryDecider delegates the retry decision to fn, called after
// each failed attempt. Clears any countdown budget.
func (t *Transfer) SetRetryDecider(fn func(*Transfer) bool) {
	t.retryDecider = fn
	t.remainingRetries = 0
	t.retryConfigured = fn != nil
}

// SetJSONDecoder replaces the decoder used for JSON content types.
func (t *Transfer) SetJSONDecoder(fn decode.Func) {
	t.jsonDecoder = fn
}

// SetXMLDecoder replaces the decoder used for XML content types.
func (t *Transfer) SetXMLDecoder(fn decode.Func) {
	t.xmlDecoder = fn
}

// SetDefaultDecoder sets the decoder used when no content type
// matches. Unset, bodies pass through as raw bytes.
func (t *Transfer) SetDefaultDecoder(fn decode.Func) {
	t.defaultDecoder = fn
}

// SetProgress observes transfer progress. The callback fires
// periodically while bytes move in either direction.
func (t *Transfer) SetProgress(fn func(p transport.Progress)) {
	t.onProgress = fn
}

// SetStopDecider aborts the transfer early when fn returns true for a
// received header line. The abort is cooperative, taking effect on the
// next progress tick.
func (t *Transfer) SetStopDecider(fn func(line string) bool) {
	t.stopDecider = fn
}

// SetLogger injects a custom [slog.Logger].
func (t *Transfer) SetLogger(logger *slog.Logger) {
	t.logger = logger
}

// SetTracer injects an OpenTelemetry tracer; each attempt becomes a
// span.
func (t *Transfer) SetTracer(tracer trace.Tracer) {
	t.tracer = tracer
}

// BeforeSend registers a hook fired before each attempt is handed to
// the transport.
func (t *Transfer) BeforeSend(fn func(*Transfer)) {
	t.beforeSend = fn
}

// AfterSend registers a hook fired after classification but before
// error code derivation. It may call [Transfer.OverrideError] to
// reclassify the attempt.
func (t *Transfer) AfterSend(fn func(*Transfer)) {
	t.afterSend = fn
}

// OnSuccess registers a hook fired once per execution when the
// transfer finishes without error.
func (t *Transfer) OnSuccess(fn func(*Transfer)) {
	t.onSuccess = fn
}

// OnError registers a hook fired once per execution when the transfer
// finishes in error.
func (t *Transfer) OnError(fn func(*Transfer)) {
	t.onError = fn
}

// OnComplete registers a hook fired once per execution after the
// success or error hook.
func (t *Transfer) OnComplete(fn func(*Transfer)) {
	t.onComplete = fn
}

// OverrideError reclassifies the current attempt. Intended for
// after-send hooks, e.g. to treat a 200 carrying an error payload as a
// failure.
func (t *Transfer) OverrideError(failed bool) {
	t.failed = failed
}
