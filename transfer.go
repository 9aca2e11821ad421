package convoy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/northrook/convoy/decode"
	"github.com/northrook/convoy/headers"
	"github.com/northrook/convoy/transport"
	"github.com/northrook/convoy/urlx"
)

// Transfer is one configured HTTP exchange: its options, its retry
// policy, and — after execution — its parsed response and error
// classification. A Transfer may be executed directly through one of
// the verb methods, or queued on a [TransferPool].
//
// A Transfer is not safe for concurrent use. Each instance belongs to
// one goroutine for its whole lifetime.
type Transfer struct {
	id    int
	token string

	transport transport.Transport
	handle    transport.Handle
	logger    *slog.Logger
	tracer    trace.Tracer

	baseURL string
	url     string
	method  string

	// opts replays onto the transport handle at send time, in the
	// order the options were first set.
	opts       *orderedmap.OrderedMap[transport.Option, any]
	reqHeaders *headers.Store
	cookies    *orderedmap.OrderedMap[string, string]
	bodyReader bool

	jsonDecoder    decode.Func
	xmlDecoder     decode.Func
	defaultDecoder decode.Func

	remainingRetries int
	retryDecider     func(*Transfer) bool
	retryConfigured  bool

	beforeSend func(*Transfer)
	afterSend  func(*Transfer)
	onSuccess  func(*Transfer)
	onError    func(*Transfer)
	onComplete func(*Transfer)

	stopDecider func(line string) bool
	onProgress  func(p transport.Progress)

	downloadFile       *os.File
	downloadDest       string
	downloadTemp       string
	onDownloadComplete func(f *os.File) error
	downloadErr        error

	childOfPool bool
	attempts    int
	retries     int

	cb   callbackCtx
	span trace.Span
	memo map[string]any

	rawResponseHeaders string
	responseCookies    map[string]string
	responseHeaders    *headers.Store
	rawBody            []byte
	decoded            any

	statusCode       int
	transportCode    transport.Code
	transportMessage string
	transportFailed  bool
	httpFailed       bool
	failed           bool
	errorCode        int
	errorMessage     string

	closed bool
}

// callbackCtx is the mutable state shared between a transfer and its
// transport callbacks for the duration of one attempt. It is reset,
// not reallocated, between attempts.
type callbackCtx struct {
	rawHeaders strings.Builder
	cookies    map[string]string
	stop       atomic.Bool
}

func (c *callbackCtx) reset() {
	c.rawHeaders.Reset()
	clear(c.cookies)
	c.stop.Store(false)
}

// headerLine accumulates one raw header line and captures any
// Set-Cookie name=value up to the first semicolon.
func (c *callbackCtx) headerLine(line string) {
	c.rawHeaders.WriteString(line)

	name, rest, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Set-Cookie") {
		return
	}
	value := strings.TrimSpace(rest)
	if semi := strings.IndexByte(value, ';'); semi >= 0 {
		value = value[:semi]
	}
	ck, cv, ok := strings.Cut(value, "=")
	if !ok {
		return
	}
	if c.cookies == nil {
		c.cookies = make(map[string]string)
	}
	c.cookies[strings.TrimSpace(ck)] = strings.TrimSpace(cv)
}

func newTransfer() *Transfer {
	token := "00000000-0000-0000-0000-000000000000"
	if id, err := uuid.NewRandom(); err == nil {
		token = id.String()
	}

	return &Transfer{
		token:           token,
		transport:       transport.Default(),
		tracer:          noop.NewTracerProvider().Tracer("no-op tracer"),
		method:          http.MethodGet,
		opts:            orderedmap.New[transport.Option, any](),
		reqHeaders:      headers.New(),
		cookies:         orderedmap.New[string, string](),
		responseHeaders: headers.New(),
	}
}

// New builds a Transfer. Configuration may be supplied up front via
// options, adjusted afterwards via the Set* methods, or both.
func New(optFns ...Option) (*Transfer, error) {
	t := newTransfer()
	for _, opt := range optFns {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("applying transfer option: %w", err)
		}
	}
	return t, nil
}

func (t *Transfer) log() *slog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return slog.Default()
}

// setOpt records an option for replay onto the transport handle at
// send time. Re-setting a key keeps its original position.
func (t *Transfer) setOpt(opt transport.Option, value any) {
	if opt == transport.OptionOutput && t.downloadFile != nil {
		if w, isFile := value.(*os.File); !isFile || w != t.downloadFile {
			t.log().Warn("overriding managed download output", "option", opt.String())
		}
	}
	t.opts.Set(opt, value)
}

func (t *Transfer) refreshHeaderOpt() {
	t.setOpt(transport.OptionHeaders, t.headerLines())
}

func (t *Transfer) headerLines() []string {
	lines := t.reqHeaders.Lines()
	if t.cookies.Len() > 0 {
		var sb strings.Builder
		for p := t.cookies.Oldest(); p != nil; p = p.Next() {
			if sb.Len() > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(p.Key)
			sb.WriteByte('=')
			sb.WriteString(p.Value)
		}
		lines = append(lines, "Cookie: "+sb.String())
	}
	return lines
}

func (t *Transfer) headerCallback(line []byte) {
	s := string(line)
	t.cb.headerLine(s)
	if t.stopDecider != nil && t.stopDecider(s) {
		t.cb.stop.Store(true)
	}
}

func (t *Transfer) progressCallback(p transport.Progress) int {
	if t.cb.stop.Load() {
		return 1
	}
	if t.onProgress != nil {
		t.onProgress(p)
	}
	return 0
}

// prepare materializes the transport handle and replays the option
// set onto it in insertion order.
func (t *Transfer) prepare() error {
	if t.handle == nil {
		h, err := t.transport.NewHandle()
		if err != nil {
			return fmt.Errorf("creating transport handle: %w", err)
		}
		t.handle = h
	}

	if t.reqHeaders.Len() > 0 || t.cookies.Len() > 0 {
		t.refreshHeaderOpt()
	}

	for p := t.opts.Oldest(); p != nil; p = p.Next() {
		if err := t.handle.SetOption(p.Key, p.Value); err != nil {
			return &OptionError{Option: p.Key, Err: err}
		}
	}

	t.handle.OnHeader(t.headerCallback)
	t.handle.OnProgress(t.progressCallback)
	return nil
}

// attemptStart readies one execution attempt: bumps the attempt count,
// installs default decoders, resets per-attempt state, fires the
// pre-send hook, and replays options onto the handle.
func (t *Transfer) attemptStart(ctx context.Context) (context.Context, error) {
	t.attempts++
	if t.jsonDecoder == nil {
		t.jsonDecoder = decode.JSON
	}
	if t.xmlDecoder == nil {
		t.xmlDecoder = decode.XML
	}
	t.memo = nil
	t.cb.reset()

	ctx, t.span = t.tracer.Start(ctx, "convoy.attempt", trace.WithAttributes(
		attribute.String("url", t.url),
		attribute.String("method", t.method),
		attribute.Int("attempt", t.attempts),
	))

	if t.beforeSend != nil {
		t.beforeSend(t)
	}

	if err := t.prepare(); err != nil {
		t.endAttempt()
		return ctx, err
	}
	return ctx, nil
}

// ingest runs the post-send pipeline on one attempt's result: capture,
// header and body parsing, status classification, the after-send hook,
// and error code/message derivation.
func (t *Transfer) ingest(res transport.Result) {
	t.transportCode = res.Code
	t.transportFailed = res.Code != transport.CodeOK
	t.transportMessage = res.Message

	raw := res.Body
	if raw == nil {
		raw = []byte{}
	}
	t.rawBody = raw

	t.rawResponseHeaders = t.cb.rawHeaders.String()
	t.responseCookies = make(map[string]string, len(t.cb.cookies))
	maps.Copy(t.responseCookies, t.cb.cookies)
	t.cb.reset()

	if t.transportFailed {
		t.transportMessage = fmt.Sprintf("%s: %s", res.Code, res.Message)
	}

	t.responseHeaders = parseResponseHeaders(t.rawResponseHeaders)
	t.decoded = t.decodeBody(raw)
	t.statusCode = statusFromLine(t.responseHeaders.Get(StatusLineKey))
	t.httpFailed = t.statusCode/100 == 4 || t.statusCode/100 == 5
	t.failed = t.transportFailed || t.httpFailed

	if t.afterSend != nil {
		t.afterSend(t)
		if t.failed != (t.transportFailed || t.httpFailed) {
			t.log().Warn("after-send hook overrode error classification",
				"error", t.failed,
				"transport_error", t.transportFailed,
				"http_error", t.httpFailed)
		}
	}

	switch {
	case !t.failed:
		t.errorCode, t.errorMessage = 0, ""
	case t.transportFailed:
		t.errorCode, t.errorMessage = int(t.transportCode), t.transportMessage
	default:
		t.errorCode, t.errorMessage = t.statusCode, t.responseHeaders.Get(StatusLineKey)
	}

	// Reset attempt-scoped request state so the transfer is reusable.
	t.RemoveHeader("Content-Length")
	if _, ok := t.opts.Get(transport.OptionNoBody); ok {
		t.opts.Set(transport.OptionNoBody, false)
	}
}

func (t *Transfer) endAttempt() {
	if t.span == nil {
		return
	}
	t.span.SetAttributes(
		attribute.Int("status", t.statusCode),
		attribute.String("result", t.transportCode.String()),
		attribute.Bool("error", t.failed),
	)
	t.span.End()
	t.span = nil
}

// attemptRetry reports whether the transfer should run again, and on
// true updates the retry accounting.
func (t *Transfer) attemptRetry() bool {
	if !t.failed {
		return false
	}

	var retry bool
	if t.retryDecider != nil {
		retry = t.retryDecider(t)
	} else {
		retry = t.remainingRetries >= 1
	}

	if retry {
		t.retries++
		if t.retryDecider == nil {
			t.remainingRetries--
		}
	}
	return retry
}

// finalize fires the terminal lifecycle hooks and completes any
// attached download.
func (t *Transfer) finalize() {
	if t.failed {
		if t.onError != nil {
			t.onError(t)
		}
	} else if t.onSuccess != nil {
		t.onSuccess(t)
	}
	if t.onComplete != nil {
		t.onComplete(t)
	}
	t.completeDownload()
}

// run executes the configured exchange synchronously, retrying in
// place until the retry policy declines, then finalizes.
func (t *Transfer) run(ctx context.Context) error {
	if t.closed {
		return errors.New("transfer is closed")
	}

	for {
		attemptCtx, err := t.attemptStart(ctx)
		if err != nil {
			t.abortDownload()
			return err
		}
		t.ingest(t.handle.Perform(attemptCtx))
		t.endAttempt()
		if !t.attemptRetry() {
			break
		}
	}

	t.finalize()
	return t.Err()
}

// Close releases the transport handle. Result state remains readable;
// the transfer may not be executed again.
func (t *Transfer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.endAttempt()
	if t.handle == nil {
		return nil
	}
	if err := t.handle.Close(); err != nil {
		return fmt.Errorf("closing transport handle: %w", err)
	}
	return nil
}

// ID is the transfer's pool-assigned sequence number. Zero outside a
// pool.
func (t *Transfer) ID() int { return t.id }

// Token is a process-unique identifier assigned at construction.
func (t *Transfer) Token() string { return t.token }

// URL returns the absolute request URL after base resolution and
// query merging.
func (t *Transfer) URL() string { return t.url }

// Method returns the configured HTTP method.
func (t *Transfer) Method() string { return t.method }

// Attempts returns how many times the transfer has executed.
func (t *Transfer) Attempts() int { return t.attempts }

// Retries returns how many retries have been granted.
func (t *Transfer) Retries() int { return t.retries }

// RemainingRetries returns the retry budget left in countdown mode.
func (t *Transfer) RemainingRetries() int { return t.remainingRetries }

// IsError reports whether the last attempt failed at either the
// transport or the HTTP layer.
func (t *Transfer) IsError() bool { return t.failed }

// IsTransportError reports a failure below the HTTP layer.
func (t *Transfer) IsTransportError() bool { return t.transportFailed }

// IsHTTPError reports a 4xx or 5xx response status.
func (t *Transfer) IsHTTPError() bool { return t.httpFailed }

// ErrorCode returns the active failure's numeric code: the transport
// code for transport failures, the HTTP status otherwise, 0 on
// success.
func (t *Transfer) ErrorCode() int { return t.errorCode }

// ErrorMessage returns a human-readable description of the active
// failure, empty on success.
func (t *Transfer) ErrorMessage() string { return t.errorMessage }

// StatusCode returns the HTTP status parsed from the final response's
// status line, 0 when no response arrived.
func (t *Transfer) StatusCode() int { return t.statusCode }

// Body returns the raw response body bytes.
func (t *Transfer) Body() []byte { return t.rawBody }

/// Decoded returns the response body after content-type decoding:
// parsed JSON or XML values, or raw bytes when no decoder applied.
func (t *Transfer) Decoded() any { return t.decoded }

// RawResponseHeaders returns the unparsed header text of every block
// the transport delivered, redirect hops included.
func (t *Transfer) RawResponseHeaders() string { return t.rawResponseHeaders }

// ResponseHeaders returns the parsed headers of the final response
// block. The status line is stored under [StatusLineKey].
func (t *Transfer) ResponseHeaders() *headers.Store { return t.responseHeaders }

// ResponseHeader returns one parsed response header value.
func (t *Transfer) ResponseHeader(name string) string {
	return t.responseHeaders.Get(name)
}

// ResponseCookie returns the value of a cookie set by the response.
func (t *Transfer) ResponseCookie(name string) string {
	return t.responseCookies[name]
}

// ResponseCookies returns all cookies set by the response.
func (t *Transfer) ResponseCookies() map[string]string {
	return t.responseCookies
}

// Extract queries the raw response body with a gjson path, useful for
// pulling single values out of JSON payloads without walking the
// decoded tree.
func (t *Transfer) Extract(path string) gjson.Result {
	return gjson.GetBytes(t.rawBody, path)
}

// EffectiveURL returns the final URL after redirects. Memoized per
// attempt.
func (t *Transfer) EffectiveURL() string {
	if v, ok := t.memo["effective_url"]; ok {
		return v.(string)
	}
	u := t.url
	if t.handle != nil {
		if eff := t.handle.Info().EffectiveURL; eff != "" {
			u = eff
		}
	}
	t.memoize("effective_url", u)
	return u
}

// TotalTime returns the duration of the last attempt. Memoized per
// attempt.
func (t *Transfer) TotalTime() time.Duration {
	if v, ok := t.memo["total_time"]; ok {
		return v.(time.Duration)
	}
	var d time.Duration
	if t.handle != nil {
		d = t.handle.Info().TotalTime
	}
	t.memoize("total_time", d)
	return d
}

func (t *Transfer) memoize(key string, v any) {
	if t.memo == nil {
		t.memo = make(map[string]any)
	}
	t.memo[key] = v
}

// Err returns the last attempt's failure as a typed error: nil on
// success, [*TransportError] for transport failures, [*HTTPError]
// otherwise.
func (t *Transfer) Err() error {
	switch {
	case !t.failed:
		return nil
	case t.transportFailed:
		return &TransportError{Code: t.transportCode, Message: t.transportMessage}
	default:
		return &HTTPError{StatusCode: t.statusCode, StatusLine: t.responseHeaders.Get(StatusLineKey)}
	}
}

// resolveURL resolves rawURL against the configured base and cleans
// disallowed characters.
func (t *Transfer) resolveURL(rawURL string) (string, error) {
	abs, err := urlx.Resolve(t.baseURL, rawURL)
	if err != nil {
		return "", &ResolutionError{URL: rawURL, Err: err}
	}
	return urlx.Clean(abs), nil
}

// abortDownload closes an attached download file without completing
// it. The temp file stays on disk for a future resume.
func (t *Transfer) abortDownload() {
	if t.downloadFile == nil {
		return
	}
	if err := t.downloadFile.Close(); err != nil {
		t.log().Error("closing aborted download", "path", t.downloadFile.Name(), "error", err)
	}
	t.downloadFile = nil
	t.onDownloadComplete = nil
	t.opts.Delete(transport.OptionOutput)
}
