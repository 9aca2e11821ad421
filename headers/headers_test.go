package headers_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/northrook/convoy/headers"
)

func TestStoreCaseInsensitivity(t *testing.T) {
	testCases := map[string]struct {
		setName string
		getName string
		want    string
	}{
		"exact match": {
			setName: "Content-Type",
			getName: "Content-Type",
			want:    "application/json",
		},
		"lower case lookup": {
			setName: "Content-Type",
			getName: "content-type",
			want:    "application/json",
		},
		"upper case lookup": {
			setName: "content-type",
			getName: "CONTENT-TYPE",
			want:    "application/json",
		},
		"mixed case lookup": {
			setName: "CoNtEnT-tYpE",
			getName: "cOnTeNt-TyPe",
			want:    "application/json",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			s := headers.New()
			s.Set(tc.setName, "application/json")

			if !s.Has(tc.getName) {
				t.Fatalf("Has(%q) = false", tc.getName)
			}
			if got := s.Get(tc.getName); got != tc.want {
				t.Errorf("Get(%q) = %q, want %q", tc.getName, got, tc.want)
			}
		})
	}
}

func TestStorePreservesOriginalSpelling(t *testing.T) {
	s := headers.New()
	s.Set("X-Custom-Header", "one")
	s.Set("x-custom-header", "two")

	if got := s.Get("X-CUSTOM-HEADER"); got != "two" {
		t.Fatalf("Get = %q, want %q", got, "two")
	}

	names := s.Names()
	want := []string{"X-Custom-Header"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreInsertionOrder(t *testing.T) {
	s := headers.New()
	s.Set("Zeta", "1")
	s.Set("Alpha", "2")
	s.Set("Mid", "3")
	s.Set("alpha", "updated") // must not change position

	want := []string{"Zeta: 1", "Alpha: updated", "Mid: 3"}
	if diff := cmp.Diff(want, s.Lines()); diff != "" {
		t.Errorf("Lines mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreAddConcatenatesRepeats(t *testing.T) {
	s := headers.New()
	s.Add("Set-Cookie", "a=1")
	s.Add("set-cookie", "b=2")
	s.Add("SET-COOKIE", "c=3")

	got := s.Get("Set-Cookie")
	want := "a=1,b=2,c=3"
	if got != want {
		t.Errorf("Get(Set-Cookie) = %q, want %q", got, want)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStoreDel(t *testing.T) {
	s := headers.New()
	s.Set("Content-Length", "42")
	s.Del("content-length")

	if s.Has("Content-Length") {
		t.Error("Has(Content-Length) = true after Del")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestStoreCloneIsIndependent(t *testing.T) {
	s := headers.New()
	s.Set("Accept", "text/html")

	c := s.Clone()
	c.Set("Accept", "application/json")
	c.Set("Extra", "x")

	got := s.Get("Accept")
	if got != "text/html" {
		t.Errorf("original mutated: Accept = %q, want %q", got, "text/html")
	}
	if s.Has("Extra") {
		t.Error("original gained cloned key")
	}
}

func TestStoreRangeStopsEarly(t *testing.T) {
	s := headers.New()
	s.Set("A", "1")
	s.Set("B", "2")
	s.Set("C", "3")

	var seen int
	s.Range(func(name, value string) bool {
		seen++
		return seen < 2
	})

	if seen != 2 {
		t.Errorf("visited %d entries, want 2", seen)
	}
}
