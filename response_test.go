package convoy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseResponseHeadersSelectsFinalBlock(t *testing.T) {
	raw := "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: /hop1\r\n" +
		"X-Hop: first\r\n" +
		"\r\n" +
		"HTTP/1.1 302 Found\r\n" +
		"Location: /hop2\r\n" +
		"X-Hop: second\r\n" +
		"\r\n" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Hop: final\r\n" +
		"\r\n"

	parsed := parseResponseHeaders(raw)

	if got := parsed.Get(StatusLineKey); got != "HTTP/1.1 200 OK" {
		t.Errorf("exp final status line; got: %q", got)
	}
	if got := parsed.Get("X-Hop"); got != "final" {
		t.Errorf("exp X-Hop from final block; got: %q", got)
	}
	if parsed.Has("Location") {
		t.Error("exp redirect-block Location discarded")
	}
}

func TestParseResponseHeadersIdempotent(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n" +
		"Set-Cookie: a=1\r\n" +
		"Set-Cookie: b=2\r\n" +
		"\r\n"

	first := parseResponseHeaders(raw)
	second := parseResponseHeaders(raw)

	if diff := cmp.Diff(first.Lines(), second.Lines()); diff != "" {
		t.Errorf("parse not idempotent (-first +second):\n%s", diff)
	}
}

func TestParseResponseHeadersConcatenatesRepeats(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"Set-Cookie: session=abc\r\n" +
		"Set-Cookie: theme=dark\r\n" +
		"\r\n"

	parsed := parseResponseHeaders(raw)

	if got := parsed.Get("Set-Cookie"); got != "session=abc,theme=dark" {
		t.Errorf("exp comma-joined repeats; got: %q", got)
	}
}

func TestParseResponseHeadersEdgeCases(t *testing.T) {
	testCases := map[string]struct {
		raw     string
		wantLen int
	}{
		"empty input":          {"", 0},
		"no status block":      {"Content-Type: text/plain\r\n\r\n", 0},
		"status line only":     {"HTTP/1.1 204 No Content\r\n\r\n", 1},
		"line without a colon": {"HTTP/1.1 200 OK\r\ngarbage line\r\nX-Ok: yes\r\n\r\n", 2},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			parsed := parseResponseHeaders(tc.raw)
			if parsed.Len() != tc.wantLen {
				t.Errorf("exp %d entries; got: %d (%v)", tc.wantLen, parsed.Len(), parsed.Lines())
			}
		})
	}
}

func TestStatusFromLine(t *testing.T) {
	testCases := map[string]struct {
		line string
		want int
	}{
		"ok":            {"HTTP/1.1 200 OK", 200},
		"not found":     {"HTTP/1.1 404 Not Found", 404},
		"http2":         {"HTTP/2.0 503 Service Unavailable", 503},
		"empty":         {"", 0},
		"no code":       {"HTTP/1.1", 0},
		"garbage code":  {"HTTP/1.1 abc OK", 0},
		"missing proto": {"ignored 201 Created", 201},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := statusFromLine(tc.line); got != tc.want {
				t.Errorf("exp %d; got: %d", tc.want, got)
			}
		})
	}
}
