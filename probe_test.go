package convoy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusNoContent)
		case "/moved":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	testCases := map[string]struct {
		path    string
		wantOK  bool
		wantErr bool
	}{
		"reachable":        {path: "/ok", wantOK: true},
		"follows redirect": {path: "/moved", wantOK: true},
		"missing":          {path: "/missing", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			ok, err := Probe(testContext(t), srv.URL+tc.path, WithProbeCache(NewMemoryProbeCache()))

			if ok != tc.wantOK {
				t.Errorf("exp ok=%t; got: %t", tc.wantOK, ok)
			}
			if tc.wantErr {
				var terr *TransportError
				if !errors.As(err, &terr) {
					t.Errorf("exp *TransportError; got: %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("exp nil err, got: %v", err)
			}
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	ok, err := Probe(testContext(t), srv.URL, WithProbeCache(NewMemoryProbeCache()))

	if ok {
		t.Error("exp unreachable host to probe false")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("exp *TransportError; got: %v", err)
	}
	if terr.Message == "" {
		t.Error("exp failure detail in message")
	}
}

func TestProbeCachesOutcome(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cache := NewMemoryProbeCache()

	for n := 0; n < 3; n++ {
		ok, err := Probe(testContext(t), srv.URL, WithProbeCache(cache))
		if err != nil {
			t.Fatalf("exp nil err, got: %v", err)
		}
		if !ok {
			t.Fatal("exp reachable probe")
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("exp 1 network probe for 3 calls; got: %d", got)
	}
}

func TestProbeCachesNegativeOutcome(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cache := NewMemoryProbeCache()

	if ok, _ := Probe(testContext(t), srv.URL, WithProbeCache(cache)); ok {
		t.Fatal("exp first probe to fail")
	}

	// The server recovers, but the cached outcome still answers.
	status.Store(http.StatusOK)
	if ok, _ := Probe(testContext(t), srv.URL, WithProbeCache(cache)); ok {
		t.Error("exp cached negative outcome")
	}
}

func TestProbeWithoutCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for n := 0; n < 2; n++ {
		if ok, err := Probe(testContext(t), srv.URL, WithoutProbeCache()); !ok || err != nil {
			t.Fatalf("exp reachable probe; got ok=%t err=%v", ok, err)
		}
	}

	if got := hits.Load(); got != 2 {
		t.Errorf("exp every call to hit the network; got: %d", got)
	}
}

func TestProbeSendsNoBodyRequest(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	if _, err := Probe(testContext(t), srv.URL, WithProbeCache(NewMemoryProbeCache())); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	if method != http.MethodGet {
		t.Errorf("exp GET probe; got: %q", method)
	}
}
