package convoy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"slices"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/northrook/convoy/decode"
	"github.com/northrook/convoy/headers"
	"github.com/northrook/convoy/transport"
)

// DefaultConcurrency bounds a pool's active set when no explicit limit
// is configured.
const DefaultConcurrency = 25

// TransferPool runs many Transfers concurrently through one transport
// multiplexer. Transfers wait in a FIFO queue until an active slot and
// (when rate limiting is on) window quota are available; failed
// transfers retry in place without giving up their slot.
//
// One goroutine owns a pool: queue it up, call [TransferPool.Start],
// and read results afterwards. [TransferPool.Stop] may be called from
// a transfer's lifecycle callback to drain the rest of the run.
type TransferPool struct {
	transport    transport.Transport
	logger       *slog.Logger
	tracer       trace.Tracer
	concurrency  int
	pollInterval time.Duration
	limiter      *rateLimit

	// Shared defaults, applied at activation to transfers that have
	// not set their own. Read-only once a transfer activates.
	defaultHeaders *headers.Store
	defaultCookies *orderedmap.OrderedMap[string, string]
	proxies        []string
	jsonDecoder    decode.Func
	xmlDecoder     decode.Func
	defaultDecoder decode.Func
	beforeSend     func(*Transfer)
	afterSend      func(*Transfer)
	onSuccess      func(*Transfer)
	onError        func(*Transfer)
	onComplete     func(*Transfer)
	retries        int
	retryDecider   func(*Transfer) bool
	retryPolicySet bool

	nextID   int
	queued   []*Transfer
	active   map[int]*Transfer
	byHandle map[transport.Handle]*Transfer
	finished []*Transfer
	stats    *statsRecorder

	mux     transport.Multiplexer
	stopped bool

	// Injected clocks keep the rate limiter testable.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPool builds a TransferPool. The configuration is validated up
// front; a malformed rate-limit string surfaces as a [*FormatError]
// and out-of-range settings as [FieldErrors].
func NewPool(optFns ...PoolOption) (*TransferPool, error) {
	cfg := poolConfig{
		transport:    transport.Default(),
		concurrency:  DefaultConcurrency,
		pollInterval: time.Second,
	}
	for _, opt := range optFns {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("applying pool option: %w", err)
		}
	}

	var limiter *rateLimit
	if cfg.rateLimit != "" {
		var err error
		limiter, err = parseRateLimit(cfg.rateLimit)
		if err != nil {
			return nil, err
		}
	}

	settings := poolSettings{
		Concurrency: cfg.concurrency,
		PollMillis:  cfg.pollInterval.Milliseconds(),
	}
	if limiter != nil {
		settings.MaxRequests = limiter.maxRequests
		settings.IntervalSecs = int64(limiter.interval / time.Second)
	}
	if err := Validate(settings); err != nil {
		return nil, err
	}

	return &TransferPool{
		transport:      cfg.transport,
		logger:         cfg.logger,
		tracer:         cfg.tracer,
		concurrency:    cfg.concurrency,
		pollInterval:   cfg.pollInterval,
		limiter:        limiter,
		defaultHeaders: headers.New(),
		defaultCookies: orderedmap.New[string, string](),
		active:         make(map[int]*Transfer),
		byHandle:       make(map[transport.Handle]*Transfer),
		stats:          newStatsRecorder(),
		now:            time.Now,
		sleep:          time.Sleep,
	}, nil
}

func (p *TransferPool) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Add queues a prebuilt Transfer, assigning it the next sequence id.
// The transfer's terminal retry decision moves to the pool.
func (p *TransferPool) Add(t *Transfer) *Transfer {
	p.nextID++
	t.id = p.nextID
	t.childOfPool = true
	p.queued = append(p.queued, t)
	return t
}

// newChild builds a transfer inheriting the pool's transport, logger
// and tracer.
func (p *TransferPool) newChild() *Transfer {
	t := newTransfer()
	t.transport = p.transport
	t.logger = p.logger
	if p.tracer != nil {
		t.tracer = p.tracer
	}
	return t
}

func (p *TransferPool) addVerb(method, rawURL string, data any) (*Transfer, error) {
	t := p.newChild()
	if err := t.configureMethod(method, rawURL, data); err != nil {
		return nil, err
	}
	return p.Add(t), nil
}

// AddGet queues a GET transfer. Query data is merged into the URL.
// The returned Transfer may be configured further until the pool
// starts.
func (p *TransferPool) AddGet(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodGet, rawURL, data)
}

// AddHead queues a bodiless HEAD transfer.
func (p *TransferPool) AddHead(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodHead, rawURL, data)
}

// AddDelete queues a DELETE transfer.
func (p *TransferPool) AddDelete(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodDelete, rawURL, data)
}

// AddOptions queues an OPTIONS transfer.
func (p *TransferPool) AddOptions(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodOptions, rawURL, data)
}

// AddPost queues a POST transfer with data serialized through
// [BuildPostData].
func (p *TransferPool) AddPost(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodPost, rawURL, data)
}

// AddPut queues a PUT transfer.
func (p *TransferPool) AddPut(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodPut, rawURL, data)
}

// AddPatch queues a PATCH transfer.
func (p *TransferPool) AddPatch(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(http.MethodPatch, rawURL, data)
}

// AddSearch queues a SEARCH transfer.
func (p *TransferPool) AddSearch(rawURL string, data any) (*Transfer, error) {
	return p.addVerb(MethodSearch, rawURL, data)
}

// SetDefaultHeader sets a header applied to queued transfers that do
// not carry their own value for the name.
func (p *TransferPool) SetDefaultHeader(name, value string) {
	p.defaultHeaders.Set(name, value)
}

// SetDefaultHeaders sets several default headers at once.
func (p *TransferPool) SetDefaultHeaders(hdrs map[string]string) {
	for _, name := range sortedKeys(hdrs) {
		p.defaultHeaders.Set(name, hdrs[name])
	}
}

// SetDefaultCookie sets a cookie applied to queued transfers that do
// not carry their own value for the name.
func (p *TransferPool) SetDefaultCookie(name, value string) {
	p.defaultCookies.Set(name, value)
}

// SetProxies supplies a proxy list; each activated transfer without
// its own proxy picks one at random.
func (p *TransferPool) SetProxies(proxyURLs ...string) {
	p.proxies = proxyURLs
}

// SetRetries sets the default retry budget for transfers without their
// own retry policy.
func (p *TransferPool) SetRetries(n int) {
	p.retries = n
	p.retryDecider = nil
	p.retryPolicySet = true
}

// SetRetryDecider sets the default retry predicate for transfers
// without their own retry policy.
func (p *TransferPool) SetRetryDecider(fn func(*Transfer) bool) {
	p.retryDecider = fn
	p.retries = 0
	p.retryPolicySet = fn != nil
}

// SetJSONDecoder sets the JSON decoder for transfers without their
// own.
func (p *TransferPool) SetJSONDecoder(fn decode.Func) { p.jsonDecoder = fn }

// SetXMLDecoder sets the XML decoder for transfers without their own.
func (p *TransferPool) SetXMLDecoder(fn decode.Func) { p.xmlDecoder = fn }

// SetDefaultDecoder sets the fallback decoder for transfers without
// their own.
func (p *TransferPool) SetDefaultDecoder(fn decode.Func) { p.defaultDecoder = fn }

// BeforeSend registers a default pre-send hook.
func (p *TransferPool) BeforeSend(fn func(*Transfer)) { p.beforeSend = fn }

// AfterSend registers a default after-send hook.
func (p *TransferPool) AfterSend(fn func(*Transfer)) { p.afterSend = fn }

// OnSuccess registers a default success hook.
func (p *TransferPool) OnSuccess(fn func(*Transfer)) { p.onSuccess = fn }

// OnError registers a default error hook.
func (p *TransferPool) OnError(fn func(*Transfer)) { p.onError = fn }

// OnComplete registers a default completion hook.
func (p *TransferPool) OnComplete(fn func(*Transfer)) { p.onComplete = fn }

// QueuedCount returns how many transfers await activation.
func (p *TransferPool) QueuedCount() int { return len(p.queued) }

// ActiveCount returns how many transfers hold an active slot.
func (p *TransferPool) ActiveCount() int { return len(p.active) }

// Finished returns every finalized transfer in submission order.
// Completion order across concurrent transfers is unspecified; the
// sequence ids exist precisely so results can be re-sorted afterwards.
func (p *TransferPool) Finished() []*Transfer {
	out := slices.Clone(p.finished)
	slices.SortFunc(out, func(a, b *Transfer) int { return a.id - b.id })
	return out
}

// Stats returns a latency snapshot over the finalized transfers.
func (p *TransferPool) Stats() Stats {
	return p.stats.snapshot()
}

// applyDefaults copies pool-level defaults onto a transfer about to
// activate, skipping anything the transfer set for itself.
func (p *TransferPool) applyDefaults(t *Transfer) {
	dirty := false
	p.defaultHeaders.Range(func(name, value string) bool {
		if !t.reqHeaders.Has(name) {
			t.reqHeaders.Set(name, value)
			dirty = true
		}
		return true
	})
	for pair := p.defaultCookies.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := t.cookies.Get(pair.Key); !ok {
			t.cookies.Set(pair.Key, pair.Value)
			dirty = true
		}
	}
	if dirty {
		t.refreshHeaderOpt()
	}

	if len(p.proxies) > 0 {
		if _, ok := t.opts.Get(transport.OptionProxy); !ok {
			t.setOpt(transport.OptionProxy, p.proxies[rand.Intn(len(p.proxies))])
		}
	}

	if t.jsonDecoder == nil {
		t.jsonDecoder = p.jsonDecoder
	}
	if t.xmlDecoder == nil {
		t.xmlDecoder = p.xmlDecoder
	}
	if t.defaultDecoder == nil {
		t.defaultDecoder = p.defaultDecoder
	}

	if t.beforeSend == nil {
		t.beforeSend = p.beforeSend
	}
	if t.afterSend == nil {
		t.afterSend = p.afterSend
	}
	if t.onSuccess == nil {
		t.onSuccess = p.onSuccess
	}
	if t.onError == nil {
		t.onError = p.onError
	}
	if t.onComplete == nil {
		t.onComplete = p.onComplete
	}

	if !t.retryConfigured && p.retryPolicySet {
		if p.retryDecider != nil {
			t.retryDecider = p.retryDecider
		} else {
			t.remainingRetries = p.retries
		}
		t.retryConfigured = true
	}

	if t.logger == nil {
		t.logger = p.logger
	}
}

// Start drives every queued transfer to completion and returns once
// the queue, the active set and the multiplexer are all empty. Each
// iteration activates as many transfers as concurrency and rate quota
// allow, waits for multiplexer activity, and drains completions,
// re-registering transfers whose retry policy grants another attempt.
func (p *TransferPool) Start(ctx context.Context) error {
	mux, err := p.transport.NewMultiplexer(ctx)
	if err != nil {
		return fmt.Errorf("creating multiplexer: %w", err)
	}
	p.mux = mux
	p.stopped = false
	defer func() {
		p.mux = nil
		if cerr := mux.Close(); cerr != nil {
			p.log().Error("closing multiplexer", "error", cerr)
		}
	}()

	for {
		for len(p.queued) > 0 && len(p.active) < p.concurrency && p.hasQuota() {
			t := p.queued[0]
			p.queued = p.queued[1:]
			p.activate(ctx, t, mux)
		}

		if p.limiter != nil && len(p.active) == 0 && len(p.queued) > 0 && !p.hasQuota() {
			p.limiter.waitForReset(p.now, p.sleep)
			continue
		}

		running := mux.Perform()
		if len(p.queued) == 0 && len(p.active) == 0 && running == 0 {
			return nil
		}

		mux.Wait(p.pollInterval)
		p.drainCompletions(ctx, mux)

		if p.stopped && len(p.queued) == 0 && len(p.active) == 0 {
			return nil
		}
	}
}

func (p *TransferPool) hasQuota() bool {
	return p.limiter == nil || p.limiter.hasQuota(p.now())
}

// activate applies pool defaults, starts the transfer's first attempt
// and registers its handle with the multiplexer. A configuration
// failure finalizes the transfer immediately; configuration mistakes
// are never retried.
func (p *TransferPool) activate(ctx context.Context, t *Transfer, mux transport.Multiplexer) {
	p.applyDefaults(t)

	if _, err := t.attemptStart(ctx); err != nil {
		p.failConfig(t, err)
		return
	}
	if err := mux.Add(t.handle); err != nil {
		t.endAttempt()
		p.failConfig(t, err)
		return
	}

	if p.limiter != nil {
		p.limiter.record(p.now())
	}
	p.active[t.id] = t
	p.byHandle[t.handle] = t
}

func (p *TransferPool) drainCompletions(ctx context.Context, mux transport.Multiplexer) {
	for {
		h, _, ok := mux.ReadCompletion()
		if !ok {
			return
		}
		t, owned := p.byHandle[h]
		if !owned {
			continue
		}

		t.ingest(h.Result())
		t.endAttempt()

		if t.attemptRetry() {
			// The slot stays held: a retrying transfer re-enters the
			// multiplexer without touching the queue.
			if _, err := t.attemptStart(ctx); err != nil {
				p.retire(t, h)
				p.failConfig(t, err)
				continue
			}
			if err := mux.Add(h); err != nil {
				t.endAttempt()
				p.retire(t, h)
				p.failConfig(t, err)
			}
			continue
		}

		p.retire(t, h)
		t.finalize()
		p.stats.record(t)
		p.finished = append(p.finished, t)
		if err := t.Close(); err != nil {
			p.log().Error("closing finished transfer", "id", t.id, "error", err)
		}
	}
}

func (p *TransferPool) retire(t *Transfer, h transport.Handle) {
	delete(p.active, t.id)
	delete(p.byHandle, h)
}

// failConfig finalizes a transfer that could not be handed to the
// transport.
func (p *TransferPool) failConfig(t *Transfer, err error) {
	p.log().Warn("transfer failed before send", "id", t.id, "url", t.url, "error", err)

	t.transportFailed = true
	t.transportCode = transport.CodeUnknown
	t.transportMessage = err.Error()
	t.failed = true
	t.errorCode = int(transport.CodeUnknown)
	t.errorMessage = err.Error()

	t.finalize()
	p.stats.record(t)
	p.finished = append(p.finished, t)
	if cerr := t.Close(); cerr != nil {
		p.log().Error("closing failed transfer", "id", t.id, "error", cerr)
	}
}

// Stop drains the run: queued transfers are closed unexecuted and
// active transfers are detached from the multiplexer with their stop
// flag raised, so each aborts at its next progress tick. Cancellation
// is cooperative only. Intended to be called from a lifecycle
// callback, which runs on the pool's control goroutine.
func (p *TransferPool) Stop() {
	p.stopped = true

	for _, t := range p.queued {
		if err := t.Close(); err != nil {
			p.log().Error("closing queued transfer", "id", t.id, "error", err)
		}
	}
	p.queued = nil

	for id, t := range p.active {
		t.cb.stop.Store(true)
		if p.mux != nil {
			p.mux.Remove(t.handle)
		}
		delete(p.active, id)
		delete(p.byHandle, t.handle)
	}
}
