package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/northrook/convoy/throttle"
)

// NetHTTP is the default [Transport], performing I/O through net/http.
// All handles created from one NetHTTP share its base transport's
// connection pool; per-handle proxy, TLS and dial settings derive a
// private copy on first use.
type NetHTTP struct {
	base   *http.Transport
	logger *slog.Logger
}

// NewNetHTTP returns a ready-to-use NetHTTP. A nil logger falls back to
// [slog.Default] at call time.
func NewNetHTTP(logger *slog.Logger) *NetHTTP {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = 32
	return &NetHTTP{base: base, logger: logger}
}

var defaultNetHTTP = NewNetHTTP(nil)

// Default returns the shared process-wide transport.
func Default() Transport {
	return defaultNetHTTP
}

func (t *NetHTTP) log() *slog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return slog.Default()
}

// NewHandle implements [Transport].
func (t *NetHTTP) NewHandle() (Handle, error) {
	return newHandle(t), nil
}

// NewMultiplexer implements [Transport].
func (t *NetHTTP) NewMultiplexer(ctx context.Context) (Multiplexer, error) {
	return newMultiplexer(ctx), nil
}

// progressInterval is the minimum spacing between progress callback
// invocations. Callbacks also fire only when bytes move, so a stalled
// peer defers the next tick until data arrives or the timeout hits.
const progressInterval = 100 * time.Millisecond

var (
	errAborted             = errors.New("aborted by progress callback")
	errRedirectProtocol    = errors.New("redirect to disallowed protocol")
	errTooManyRedirectHops = errors.New("too many redirects")
)

type handle struct {
	tr *NetHTTP

	method          string
	url             string
	headerLines     []string
	body            []byte
	bodyReader      io.Reader
	output          io.Writer
	timeout         time.Duration
	connectTimeout  time.Duration
	followRedirects bool
	maxRedirects    int
	protocols       []string
	proxyURL        string
	noBody          bool
	failOnError     bool
	throttleCfg     *throttle.Config
	tlsSkipVerify   bool

	onHeader   func(line []byte)
	onProgress func(p Progress) int

	rt      http.RoundTripper
	rtDirty bool

	result Result
	info   Info
	closed bool
}

func newHandle(t *NetHTTP) *handle {
	return &handle{
		tr:              t,
		method:          http.MethodGet,
		followRedirects: true,
		maxRedirects:    10,
		protocols:       []string{"http", "https"},
		rtDirty:         true,
	}
}

func (h *handle) SetOption(opt Option, value any) error {
	if h.closed {
		return fmt.Errorf("option %s: %w", opt, ErrHandleClosed)
	}

	badValue := func() error {
		return fmt.Errorf("option %s: unsupported value %v (%T)", opt, value, value)
	}

	switch opt {
	case OptionURL:
		s, ok := value.(string)
		if !ok || s == "" {
			return badValue()
		}
		h.url = s
	case OptionMethod:
		s, ok := value.(string)
		if !ok || s == "" {
			return badValue()
		}
		h.method = s
	case OptionHeaders:
		lines, ok := value.([]string)
		if !ok {
			return badValue()
		}
		h.headerLines = lines
	case OptionBody:
		b, ok := value.([]byte)
		if !ok {
			return badValue()
		}
		h.body = b
	case OptionBodyReader:
		if value == nil {
			h.bodyReader = nil
			break
		}
		r, ok := value.(io.Reader)
		if !ok {
			return badValue()
		}
		h.bodyReader = r
	case OptionOutput:
		if value == nil {
			h.output = nil
			break
		}
		w, ok := value.(io.Writer)
		if !ok {
			return badValue()
		}
		h.output = w
	case OptionTimeout:
		d, ok := value.(time.Duration)
		if !ok || d < 0 {
			return badValue()
		}
		h.timeout = d
	case OptionConnectTimeout:
		d, ok := value.(time.Duration)
		if !ok || d < 0 {
			return badValue()
		}
		h.connectTimeout = d
		h.rtDirty = true
	case OptionFollowRedirects:
		b, ok := value.(bool)
		if !ok {
			return badValue()
		}
		h.followRedirects = b
	case OptionMaxRedirects:
		n, ok := value.(int)
		if !ok {
			return badValue()
		}
		h.maxRedirects = n
	case OptionProtocols:
		schemes, ok := value.([]string)
		if !ok || len(schemes) == 0 {
			return badValue()
		}
		lowered := make([]string, len(schemes))
		for i, s := range schemes {
			lowered[i] = strings.ToLower(s)
		}
		h.protocols = lowered
	case OptionProxy:
		s, ok := value.(string)
		if !ok {
			return badValue()
		}
		if _, err := url.Parse(s); err != nil {
			return fmt.Errorf("option %s: %w", opt, err)
		}
		h.proxyURL = s
		h.rtDirty = true
	case OptionNoBody:
		b, ok := value.(bool)
		if !ok {
			return badValue()
		}
		h.noBody = b
	case OptionFailOnError:
		b, ok := value.(bool)
		if !ok {
			return badValue()
		}
		h.failOnError = b
	case OptionThrottle:
		cfg, ok := value.(*throttle.Config)
		if !ok || cfg == nil || cfg.RPS <= 0 || cfg.Burst <= 0 {
			return badValue()
		}
		h.throttleCfg = cfg
		h.rtDirty = true
	case OptionTLSSkipVerify:
		b, ok := value.(bool)
		if !ok {
			return badValue()
		}
		h.tlsSkipVerify = b
		h.rtDirty = true
	default:
		return fmt.Errorf("option %s: %w", opt, ErrUnknownOption)
	}

	return nil
}

func (h *handle) OnHeader(fn func(line []byte)) {
	h.onHeader = fn
}

func (h *handle) OnProgress(fn func(p Progress) int) {
	h.onProgress = fn
}

func (h *handle) Result() Result {
	return h.result
}

func (h *handle) Info() Info {
	return h.info
}

func (h *handle) Close() error {
	h.closed = true
	h.rt = nil
	h.onHeader = nil
	h.onProgress = nil
	return nil
}

func (h *handle) Perform(ctx context.Context) Result {
	start := time.Now()
	h.info = Info{EffectiveURL: h.url, ContentLength: -1}

	var res Result
	if h.closed {
		res = failure(CodeUnknown, ErrHandleClosed.Error())
	} else {
		res = h.perform(ctx)
	}

	h.info.TotalTime = time.Since(start)
	h.result = res
	return res
}

func (h *handle) perform(ctx context.Context) Result {
	u, err := url.Parse(h.url)
	if err != nil {
		return failure(CodeMalformedURL, fmt.Sprintf("parsing url: %v", err))
	}
	if !slices.Contains(h.protocols, strings.ToLower(u.Scheme)) {
		return failure(CodeUnsupportedProtocol, fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}

	rt, err := h.roundTripper()
	if err != nil {
		return failure(CodeMalformedURL, err.Error())
	}

	progress := &progressState{fn: h.onProgress, interval: progressInterval, downloadTotal: -1, uploadTotal: -1}

	var reqBody io.Reader
	switch {
	case h.bodyReader != nil:
		reqBody = progress.wrapUpload(h.bodyReader)
	case len(h.body) > 0:
		progress.uploadTotal = int64(len(h.body))
		reqBody = progress.wrapUpload(bytes.NewReader(h.body))
	}

	req, err := http.NewRequestWithContext(ctx, h.method, u.String(), reqBody)
	if err != nil {
		return failure(CodeMalformedURL, err.Error())
	}
	if reqBody != nil && h.bodyReader == nil {
		req.ContentLength = int64(len(h.body))
	}
	h.applyHeaders(req)

	client := &http.Client{
		Transport:     rt,
		CheckRedirect: h.checkRedirect,
		Timeout:       h.timeout,
	}

	// One tick before sending lets an already-raised stop flag abort
	// without waiting for response bytes.
	if code := progress.tick(); code != 0 {
		return failure(CodeAbortedByCallback, fmt.Sprintf("progress callback returned %d", code))
	}

	resp, err := client.Do(req)
	if err != nil {
		return h.classify(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			h.tr.log().Error("closing response body", "url", h.url, "error", cerr)
		}
	}()

	h.info.EffectiveURL = resp.Request.URL.String()
	h.info.ContentLength = resp.ContentLength

	h.emitHeaderBlock(resp)

	if h.noBody {
		return h.finish(resp, nil)
	}

	progress.downloadTotal = resp.ContentLength
	body := progress.wrapDownload(resp.Body)

	if h.output != nil {
		if _, err := io.Copy(&taggedWriter{w: h.output}, body); err != nil {
			return h.classifyBodyErr(err)
		}
		return h.finish(resp, nil)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return h.classifyBodyErr(err)
	}
	return h.finish(resp, data)
}

func (h *handle) finish(resp *http.Response, body []byte) Result {
	if h.failOnError && resp.StatusCode >= 400 {
		return Result{
			Body:    body,
			Code:    CodeHTTPReturnedError,
			Message: fmt.Sprintf("request returned error status %d", resp.StatusCode),
		}
	}
	return Result{Body: body, Code: CodeOK}
}

// checkRedirect emits the header block of each hop before deciding
// whether to continue following.
func (h *handle) checkRedirect(req *http.Request, via []*http.Request) error {
	if !h.followRedirects {
		return http.ErrUseLastResponse
	}

	h.emitHeaderBlock(req.Response)

	if !slices.Contains(h.protocols, strings.ToLower(req.URL.Scheme)) {
		return fmt.Errorf("%w: %s", errRedirectProtocol, req.URL.Scheme)
	}
	if h.maxRedirects >= 0 && len(via) > h.maxRedirects {
		return errTooManyRedirectHops
	}
	return nil
}

// emitHeaderBlock replays one response's status line and headers
// through the header callback, closing the block with a blank line.
// net/http loses wire order, so names are emitted sorted for
// deterministic output.
func (h *handle) emitHeaderBlock(resp *http.Response) {
	if h.onHeader == nil || resp == nil {
		return
	}

	emit := func(line string) { h.onHeader([]byte(line + "\r\n")) }

	emit(fmt.Sprintf("%s %s", resp.Proto, resp.Status))

	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			emit(fmt.Sprintf("%s: %s", name, v))
		}
	}

	emit("")
}

func (h *handle) applyHeaders(req *http.Request) {
	for _, line := range h.headerLines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name == "" {
			continue
		}
		switch {
		case strings.EqualFold(name, "Host"):
			req.Host = value
		case strings.EqualFold(name, "Content-Length"):
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				req.ContentLength = n
			}
		default:
			req.Header.Add(name, value)
		}
	}
}

// roundTripper returns the shared base transport, deriving a private
// copy only when proxy, TLS or dial options demand one. The derived
// chain is cached until a relevant option changes.
func (h *handle) roundTripper() (http.RoundTripper, error) {
	if !h.rtDirty && h.rt != nil {
		return h.rt, nil
	}

	var rt http.RoundTripper = h.tr.base
	if h.proxyURL != "" || h.tlsSkipVerify || h.connectTimeout > 0 {
		derived := h.tr.base.Clone()
		if h.proxyURL != "" {
			pu, err := url.Parse(h.proxyURL)
			if err != nil {
				return nil, fmt.Errorf("parsing proxy url: %w", err)
			}
			derived.Proxy = http.ProxyURL(pu)
		}
		if h.tlsSkipVerify {
			if derived.TLSClientConfig == nil {
				derived.TLSClientConfig = &tls.Config{}
			}
			derived.TLSClientConfig.InsecureSkipVerify = true
		}
		if h.connectTimeout > 0 {
			dialer := &net.Dialer{Timeout: h.connectTimeout, KeepAlive: 30 * time.Second}
			derived.DialContext = dialer.DialContext
		}
		rt = derived
	}

	if h.throttleCfg != nil {
		tr := h.tr
		wrapped, err := throttle.New(*h.throttleCfg, func() *slog.Logger { return tr.log() }, rt)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		rt = wrapped
	}

	h.rt = rt
	h.rtDirty = false
	return rt, nil
}

func (h *handle) classify(err error) Result {
	msg := err.Error()

	switch {
	case errors.Is(err, errAborted):
		return failure(CodeAbortedByCallback, msg)
	case errors.Is(err, context.Canceled):
		return failure(CodeAbortedByCallback, msg)
	case errors.Is(err, errTooManyRedirectHops):
		return failure(CodeTooManyRedirects, msg)
	case errors.Is(err, errRedirectProtocol):
		return failure(CodeUnsupportedProtocol, msg)
	case isTimeout(err):
		return failure(CodeTimeout, msg)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failure(CodeResolveFailed, fmt.Sprintf("could not resolve host %s", dnsErr.Name))
	}

	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &recErr) {
		return failure(CodeTLSFailed, msg)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return failure(CodeConnectFailed, msg)
		case "read":
			return failure(CodeRecvFailed, msg)
		case "write":
			return failure(CodeSendFailed, msg)
		}
	}

	return failure(CodeUnknown, msg)
}

func (h *handle) classifyBodyErr(err error) Result {
	switch {
	case errors.Is(err, errAborted):
		return failure(CodeAbortedByCallback, err.Error())
	case errors.Is(err, context.Canceled):
		return failure(CodeAbortedByCallback, err.Error())
	case isTimeout(err):
		return failure(CodeTimeout, err.Error())
	}

	var werr *writeError
	if errors.As(err, &werr) {
		return failure(CodeWriteFailed, fmt.Sprintf("writing response body: %v", werr.err))
	}
	return failure(CodeRecvFailed, fmt.Sprintf("reading response body: %v", err))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func failure(code Code, msg string) Result {
	return Result{Code: code, Message: msg}
}

// writeError tags output-writer failures so they stay distinguishable
// from read failures inside io.Copy.
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

type taggedWriter struct {
	w io.Writer
}

func (t *taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

// progressState drives the periodic progress callback across request
// and response body transfer.
type progressState struct {
	fn       func(Progress) int
	interval time.Duration
	lastTick time.Time

	uploadTotal   int64
	uploaded      int64
	downloadTotal int64
	downloaded    int64
}

// tick invokes the callback when due. The non-zero abort code is
// returned to the caller.
func (p *progressState) tick() int {
	if p.fn == nil {
		return 0
	}
	now := time.Now()
	if !p.lastTick.IsZero() && now.Sub(p.lastTick) < p.interval {
		return 0
	}
	p.lastTick = now
	return p.fn(Progress{
		DownloadTotal: p.downloadTotal,
		Downloaded:    p.downloaded,
		UploadTotal:   p.uploadTotal,
		Uploaded:      p.uploaded,
	})
}

func (p *progressState) wrapUpload(r io.Reader) io.Reader {
	return &progressReader{p: p, r: r, upload: true}
}

func (p *progressState) wrapDownload(r io.Reader) io.Reader {
	return &progressReader{p: p, r: r}
}

type progressReader struct {
	p      *progressState
	r      io.Reader
	upload bool
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if pr.upload {
		pr.p.uploaded += int64(n)
	} else {
		pr.p.downloaded += int64(n)
	}
	if code := pr.p.tick(); code != 0 {
		return n, fmt.Errorf("%w: progress callback returned %d", errAborted, code)
	}
	return n, err
}
