package convoy

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/northrook/convoy/transport"
)

// Option is a functional option for configuring a [Transfer] via [New].
type Option func(*Transfer) error

// WithTransport replaces the default transport the transfer performs
// I/O through.
func WithTransport(tr transport.Transport) Option {
	return func(t *Transfer) error {
		if tr == nil {
			return errors.New("transport must not be nil")
		}
		t.transport = tr
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Transfer].
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transfer) error {
		t.logger = logger
		return nil
	}
}

// WithTracer injects an OpenTelemetry tracer; each execution attempt
// becomes a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Transfer) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		t.tracer = tracer
		return nil
	}
}

// WithBaseURL sets the base for resolving relative request URLs.
func WithBaseURL(base string) Option {
	return func(t *Transfer) error {
		t.baseURL = base
		return nil
	}
}

// WithTimeout bounds each attempt, connection included.
func WithTimeout(d time.Duration) Option {
	return func(t *Transfer) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		t.SetTimeout(d)
		return nil
	}
}

// WithConnectTimeout bounds connection establishment only.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transfer) error {
		if d < 0 {
			return errors.New("connect timeout must not be negative")
		}
		t.SetConnectTimeout(d)
		return nil
	}
}

// WithRetries grants a fixed retry budget consumed by failed attempts.
func WithRetries(n int) Option {
	return func(t *Transfer) error {
		if n < 0 {
			return errors.New("retries must not be negative")
		}
		t.SetRetries(n)
		return nil
	}
}

// WithRetryDecider delegates retry decisions to fn. Mutually exclusive
// with [WithRetries]; the later option wins.
func WithRetryDecider(fn func(*Transfer) bool) Option {
	return func(t *Transfer) error {
		if fn == nil {
			return errors.New("retry decider must not be nil")
		}
		t.SetRetryDecider(fn)
		return nil
	}
}

// WithHeader adds a persistent request header.
func WithHeader(name, value string) Option {
	return func(t *Transfer) error {
		if name == "" {
			return errors.New("header name must not be empty")
		}
		t.SetHeader(name, value)
		return nil
	}
}

// WithHeaders adds several persistent request headers.
func WithHeaders(hdrs map[string]string) Option {
	return func(t *Transfer) error {
		t.SetHeaders(hdrs)
		return nil
	}
}

// WithCookie adds a cookie sent with every request.
func WithCookie(name, value string) Option {
	return func(t *Transfer) error {
		if name == "" {
			return errors.New("cookie name must not be empty")
		}
		t.SetCookie(name, value)
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing
// requests.
func WithUserAgent(header string) Option {
	return func(t *Transfer) error {
		t.SetUserAgent(header)
		return nil
	}
}

// WithBasicAuth sends basic credentials in the Authorization header.
func WithBasicAuth(user, password string) Option {
	return func(t *Transfer) error {
		t.SetBasicAuth(user, password)
		return nil
	}
}

// WithBearerToken sends a bearer token in the Authorization header.
func WithBearerToken(token string) Option {
	return func(t *Transfer) error {
		if token == "" {
			return errors.New("token must not be empty")
		}
		t.SetBearerToken(token)
		return nil
	}
}

// WithProxy routes requests through the given proxy URL.
func WithProxy(proxyURL string) Option {
	return func(t *Transfer) error {
		if proxyURL == "" {
			return errors.New("proxy url must not be empty")
		}
		t.SetProxy(proxyURL)
		return nil
	}
}

// WithNoFollowRedirects prevents the transfer from following HTTP
// redirects.
func WithNoFollowRedirects() Option {
	return func(t *Transfer) error {
		t.SetFollowRedirects(false)
		return nil
	}
}

// WithMaxRedirects caps followed redirect hops.
func WithMaxRedirects(n int) Option {
	return func(t *Transfer) error {
		t.SetMaxRedirects(n)
		return nil
	}
}

// WithProtocols restricts the URL schemes the transfer may use.
func WithProtocols(schemes ...string) Option {
	return func(t *Transfer) error {
		if len(schemes) == 0 {
			return errors.New("at least one protocol is required")
		}
		t.SetProtocols(schemes...)
		return nil
	}
}

// WithTLSSkipVerify disables server certificate verification.
func WithTLSSkipVerify() Option {
	return func(t *Transfer) error {
		t.SetTLSSkipVerify(true)
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given
// requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(t *Transfer) error {
		return t.SetThrottle(rps, burst)
	}
}

// WithStopDecider aborts the transfer early when fn returns true for a
// received header line.
func WithStopDecider(fn func(line string) bool) Option {
	return func(t *Transfer) error {
		if fn == nil {
			return errors.New("stop decider must not be nil")
		}
		t.SetStopDecider(fn)
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// PoolOption is a functional option for configuring a [TransferPool]
// via [NewPool].
type PoolOption func(*poolConfig) error

type poolConfig struct {
	transport    transport.Transport
	logger       *slog.Logger
	tracer       trace.Tracer
	concurrency  int
	pollInterval time.Duration
	rateLimit    string
}

// WithConcurrency bounds how many transfers may be active at once.
// Defaults to 25.
func WithConcurrency(n int) PoolOption {
	return func(c *poolConfig) error {
		c.concurrency = n
		return nil
	}
}

// WithRateLimit throttles activations to "<count>/<interval><unit>",
// e.g. "2/1s" or "90/m", with a unit of s, m, or h. The interval
// defaults to 1.
func WithRateLimit(spec string) PoolOption {
	return func(c *poolConfig) error {
		c.rateLimit = spec
		return nil
	}
}

// WithPollInterval bounds how long the pool's control loop waits for
// transfer activity before rechecking. A shorter interval raises
// scheduling precision at the cost of more wake-ups. Defaults to one
// second.
func WithPollInterval(d time.Duration) PoolOption {
	return func(c *poolConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		c.pollInterval = d
		return nil
	}
}

// WithPoolTransport replaces the transport queued transfers perform
// I/O through.
func WithPoolTransport(tr transport.Transport) PoolOption {
	return func(c *poolConfig) error {
		if tr == nil {
			return errors.New("transport must not be nil")
		}
		c.transport = tr
		return nil
	}
}

// WithPoolLogger injects a custom [slog.Logger] into the pool and the
// transfers it creates.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(c *poolConfig) error {
		c.logger = logger
		return nil
	}
}

// WithPoolTracer injects an OpenTelemetry tracer into the pool and the
// transfers it creates.
func WithPoolTracer(tracer trace.Tracer) PoolOption {
	return func(c *poolConfig) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		c.tracer = tracer
		return nil
	}
}

// /////////////////////////////////////////////////////////////////

// ProbeOption is a functional option for [Probe].
type ProbeOption func(*probeConfig) error

type probeConfig struct {
	timeout   time.Duration
	cache     ProbeCache
	transport transport.Transport
}

// WithProbeTimeout bounds the probe request. Defaults to five seconds.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(c *probeConfig) error {
		if d <= 0 {
			return errors.New("probe timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithProbeCache stores probe outcomes in the given cache instead of
// the process-wide default.
func WithProbeCache(cache ProbeCache) ProbeOption {
	return func(c *probeConfig) error {
		if cache == nil {
			return errors.New("cache must not be nil")
		}
		c.cache = cache
		return nil
	}
}

// WithoutProbeCache disables probe result caching.
func WithoutProbeCache() ProbeOption {
	return func(c *probeConfig) error {
		c.cache = nopProbeCache{}
		return nil
	}
}

// WithProbeTransport replaces the transport the probe request uses.
func WithProbeTransport(tr transport.Transport) ProbeOption {
	return func(c *probeConfig) error {
		if tr == nil {
			return errors.New("transport must not be nil")
		}
		c.transport = tr
		return nil
	}
}
