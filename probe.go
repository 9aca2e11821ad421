package convoy

import (
	"context"
	"sync"
	"time"

	"github.com/northrook/convoy/transport"
)

// ProbeCache stores probe outcomes per URL. Implementations decide the
// cache lifetime; the default lives for the process, while
// [github.com/northrook/convoy/boltcache.Cache] persists across runs.
type ProbeCache interface {
	// Get returns the cached outcome for url and whether one exists.
	Get(url string) (ok bool, found bool)
	// Set records the outcome for url.
	Set(url string, ok bool)
}

// memoryProbeCache is the process-lifetime default.
type memoryProbeCache struct {
	mu sync.Mutex
	m  map[string]bool
}

func (c *memoryProbeCache) Get(url string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, found := c.m[url]
	return ok, found
}

func (c *memoryProbeCache) Set(url string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[url] = ok
}

// NewMemoryProbeCache returns an empty in-memory [ProbeCache], useful
// for isolating probe state in tests.
func NewMemoryProbeCache() ProbeCache {
	return &memoryProbeCache{m: make(map[string]bool)}
}

var defaultProbeCache = NewMemoryProbeCache()

type nopProbeCache struct{}

func (nopProbeCache) Get(string) (bool, bool) { return false, false }
func (nopProbeCache) Set(string, bool)        {}

// Probe reports whether url answers a bodiless GET with a final status
// in [200,400), following redirects. The outcome is cached per URL in
// the configured [ProbeCache] (a process-wide in-memory cache by
// default; see [WithoutProbeCache] and [WithProbeCache]).
//
// On a failed probe the error describes the failure as a
// [*TransportError] or [*HTTPError]; callers that only care about the
// boolean may ignore it.
func Probe(ctx context.Context, url string, optFns ...ProbeOption) (bool, error) {
	cfg := probeConfig{
		timeout:   5 * time.Second,
		cache:     defaultProbeCache,
		transport: transport.Default(),
	}
	for _, opt := range optFns {
		if err := opt(&cfg); err != nil {
			return false, err
		}
	}

	if ok, found := cfg.cache.Get(url); found {
		return ok, nil
	}

	t, err := New(
		WithTransport(cfg.transport),
		WithTimeout(cfg.timeout),
	)
	if err != nil {
		return false, err
	}
	defer t.Close()

	t.setOpt(transport.OptionNoBody, true)
	t.setOpt(transport.OptionFailOnError, true)

	runErr := t.Get(ctx, url, nil)
	ok := !t.IsError() && t.StatusCode() >= 200 && t.StatusCode() < 400

	cfg.cache.Set(url, ok)
	return ok, runErr
}
