package urlx_test

import (
	"testing"

	"github.com/northrook/convoy/urlx"
)

func TestResolve(t *testing.T) {
	testCases := map[string]struct {
		base string
		ref  string
		want string
	}{
		"relative path against base": {
			base: "https://example.com/api/",
			ref:  "users",
			want: "https://example.com/api/users",
		},
		"absolute ref wins": {
			base: "https://example.com/api/",
			ref:  "https://other.test/x",
			want: "https://other.test/x",
		},
		"rooted path replaces base path": {
			base: "https://example.com/api/v1/",
			ref:  "/health",
			want: "https://example.com/health",
		},
		"empty ref keeps base": {
			base: "https://example.com/api",
			ref:  "",
			want: "https://example.com/api",
		},
		"empty base keeps ref": {
			base: "",
			ref:  "https://example.com/",
			want: "https://example.com/",
		},
		"parent traversal": {
			base: "https://example.com/a/b/c",
			ref:  "../d",
			want: "https://example.com/a/d",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := urlx.Resolve(tc.base, tc.ref)
			if err != nil {
				t.Fatalf("Resolve(%q, %q) error: %v", tc.base, tc.ref, err)
			}
			if got != tc.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tc.base, tc.ref, got, tc.want)
			}
		})
	}
}

func TestResolveInvalidURL(t *testing.T) {
	if _, err := urlx.Resolve("https://example.com/", "http://bad\x00url"); err == nil {
		t.Error("expected error for control byte in ref")
	}
	if _, err := urlx.Resolve("ht tp://\x7f", "x"); err == nil {
		t.Error("expected error for malformed base")
	}
}

func TestClean(t *testing.T) {
	testCases := map[string]struct {
		in   string
		want string
	}{
		"space encoded": {
			in:   "https://example.com/a path",
			want: "https://example.com/a%20path",
		},
		"unwise characters encoded": {
			in:   `https://example.com/{x}|y`,
			want: "https://example.com/%7Bx%7D%7Cy",
		},
		"already encoded left alone": {
			in:   "https://example.com/a%20b?q=1",
			want: "https://example.com/a%20b?q=1",
		},
		"plain url untouched": {
			in:   "https://example.com/path?a=1&b=2",
			want: "https://example.com/path?a=1&b=2",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := urlx.Clean(tc.in); got != tc.want {
				t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWithQuery(t *testing.T) {
	testCases := map[string]struct {
		url   string
		query string
		want  string
	}{
		"no existing query": {
			url:   "https://example.com/search",
			query: "q=gopher",
			want:  "https://example.com/search?q=gopher",
		},
		"existing query appended": {
			url:   "https://example.com/search?page=2",
			query: "q=gopher",
			want:  "https://example.com/search?page=2&q=gopher",
		},
		"empty query unchanged": {
			url:   "https://example.com/search",
			query: "",
			want:  "https://example.com/search",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := urlx.WithQuery(tc.url, tc.query); got != tc.want {
				t.Errorf("WithQuery(%q, %q) = %q, want %q", tc.url, tc.query, got, tc.want)
			}
		})
	}
}
