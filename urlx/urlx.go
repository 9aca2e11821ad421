// Package urlx resolves and normalizes request URLs.
package urlx

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolve combines base and ref the way a browser address bar would:
// an absolute ref wins outright, a relative ref is resolved against
// base per RFC 3986. An empty ref returns base unchanged; an empty
// base returns ref unchanged.
func Resolve(base, ref string) (string, error) {
	switch {
	case ref == "":
		return base, nil
	case base == "":
		return ref, nil
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	return b.ResolveReference(r).String(), nil
}

// Clean percent-encodes characters that must not appear raw in a URL:
// spaces, control bytes, and the RFC 3986 "unwise" set. Already-encoded
// sequences are left alone.
func Clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c <= 0x20 || c == 0x7f || strings.IndexByte(`"<>{}|\^`+"`", c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// WithQuery appends an already-encoded query string to rawURL, choosing
// "?" or "&" depending on whether rawURL carries a query already. An
// empty query returns rawURL unchanged.
func WithQuery(rawURL, query string) string {
	if query == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + query
}
