package convoy

import (
	"regexp"
	"strconv"
	"time"
)

var rateLimitPattern = regexp.MustCompile(`^(\d+)/(\d*)([smh])$`)

// parseRateLimit parses a "<count>/<interval><unit>" specification,
// e.g. "2/1s", "90/m", "1000/2h". The interval defaults to 1.
func parseRateLimit(spec string) (*rateLimit, error) {
	m := rateLimitPattern.FindStringSubmatch(spec)
	if m == nil {
		return nil, &FormatError{Input: spec, Reason: "want <count>/<interval><unit> with unit s, m, or h"}
	}

	maxRequests, err := strconv.Atoi(m[1])
	if err != nil || maxRequests < 1 {
		return nil, &FormatError{Input: spec, Reason: "count must be a positive integer"}
	}

	interval := 1
	if m[2] != "" {
		interval, err = strconv.Atoi(m[2])
		if err != nil || interval < 1 {
			return nil, &FormatError{Input: spec, Reason: "interval must be a positive integer"}
		}
	}

	var unit time.Duration
	switch m[3] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}

	return &rateLimit{
		maxRequests: maxRequests,
		interval:    time.Duration(interval) * unit,
	}, nil
}

// rateLimit is a sliding-window activation counter. The window resets
// when its expiry is observed while quota was exhausted, or after an
// explicit blocking wait.
type rateLimit struct {
	maxRequests int
	interval    time.Duration

	windowStart time.Time
	count       int
}

func (r *rateLimit) reset(now time.Time) {
	r.windowStart = now
	r.count = 0
}

// hasQuota reports whether another activation fits the current window.
// Observing an expired window while exhausted rolls it forward.
func (r *rateLimit) hasQuota(now time.Time) bool {
	if r.count < r.maxRequests {
		return true
	}
	if now.Sub(r.windowStart) <= r.interval {
		return false
	}
	r.reset(now)
	return true
}

// record counts an activation. The first activation of a window
// anchors its start, so expiry is measured from real traffic rather
// than from whenever the limiter was built.
func (r *rateLimit) record(now time.Time) {
	if r.count == 0 {
		r.windowStart = now
	}
	r.count++
}

// waitForReset blocks until the current window ends, sleeping in
// whole-second steps and finishing with one fine-grained sleep, then
// starts a fresh window.
func (r *rateLimit) waitForReset(now func() time.Time, sleep func(time.Duration)) {
	deadline := r.windowStart.Add(r.interval)
	for {
		remaining := deadline.Sub(now())
		if remaining <= 0 {
			break
		}
		if remaining > time.Second {
			sleep(time.Second)
			continue
		}
		sleep(remaining)
	}
	r.reset(now())
}
