package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestMultiplexerDrain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.URL.Path)
	}))
	defer srv.Close()

	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	defer mux.Close()

	handles := make(map[Handle]bool, 3)
	for i := 0; i < 3; i++ {
		h := newTestHandle(t)
		mustSet(t, h, OptionURL, fmt.Sprintf("%s/%d", srv.URL, i))
		if err := mux.Add(h); err != nil {
			t.Fatalf("adding handle: %v", err)
		}
		handles[h] = false
	}

	if running := mux.Perform(); running != 3 {
		t.Fatalf("exp 3 running transfers; got: %d", running)
	}

	deadline := time.Now().Add(5 * time.Second)
	done := 0
	for done < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("exp 3 completions before deadline; got: %d", done)
		}
		mux.Wait(50 * time.Millisecond)
		for {
			h, code, ok := mux.ReadCompletion()
			if !ok {
				break
			}
			if code != CodeOK {
				t.Errorf("exp code %s; got: %s", CodeOK, code)
			}
			seen, known := handles[h]
			if !known {
				t.Fatal("completion for unknown handle")
			}
			if seen {
				t.Fatal("duplicate completion for handle")
			}
			handles[h] = true
			done++
		}
	}

	if running := mux.Perform(); running != 0 {
		t.Errorf("exp 0 running after drain; got: %d", running)
	}
}

func TestMultiplexerRemovePending(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	defer mux.Close()

	kept := newTestHandle(t)
	mustSet(t, kept, OptionURL, srv.URL)
	dropped := newTestHandle(t)
	mustSet(t, dropped, OptionURL, srv.URL)

	if err := mux.Add(kept); err != nil {
		t.Fatalf("adding handle: %v", err)
	}
	if err := mux.Add(dropped); err != nil {
		t.Fatalf("adding handle: %v", err)
	}
	mux.Remove(dropped)

	if running := mux.Perform(); running != 1 {
		t.Fatalf("exp 1 running transfer; got: %d", running)
	}

	h := waitForCompletion(t, mux)
	if h != kept {
		t.Error("exp completion for the kept handle")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("exp 1 request; got: %d", n)
	}
}

func TestMultiplexerRemoveInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	defer mux.Close()

	h := newTestHandle(t)
	mustSet(t, h, OptionURL, srv.URL)
	if err := mux.Add(h); err != nil {
		t.Fatalf("adding handle: %v", err)
	}
	mux.Perform()

	mux.Remove(h)
	close(release)

	mux.Wait(200 * time.Millisecond)
	if _, _, ok := mux.ReadCompletion(); ok {
		t.Error("exp no completion for a removed handle")
	}
}

func TestMultiplexerReAdd(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "run %d", hits.Add(1))
	}))
	defer srv.Close()

	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	defer mux.Close()

	h := newTestHandle(t)
	mustSet(t, h, OptionURL, srv.URL)

	for run := 1; run <= 2; run++ {
		if err := mux.Add(h); err != nil {
			t.Fatalf("adding handle on run %d: %v", run, err)
		}
		mux.Perform()

		got := waitForCompletion(t, mux)
		if got != h {
			t.Fatal("exp completion for the re-added handle")
		}
		if want := fmt.Sprintf("run %d", run); string(h.Result().Body) != want {
			t.Errorf("exp body %q; got: %q", want, h.Result().Body)
		}
	}

	if n := hits.Load(); n != 2 {
		t.Errorf("exp 2 requests; got: %d", n)
	}
}

func TestMultiplexerAddAfterClose(t *testing.T) {
	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	if err := mux.Close(); err != nil {
		t.Fatalf("closing multiplexer: %v", err)
	}

	h := newTestHandle(t)
	if err := mux.Add(h); !errors.Is(err, ErrMuxClosed) {
		t.Errorf("exp %v; got: %v", ErrMuxClosed, err)
	}
}

func TestMultiplexerCloseCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	mux, err := Default().NewMultiplexer(testContext(t))
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}

	h := newTestHandle(t)
	mustSet(t, h, OptionURL, srv.URL)
	if err := mux.Add(h); err != nil {
		t.Fatalf("adding handle: %v", err)
	}
	mux.Perform()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("exp server to receive the request")
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("closing multiplexer: %v", err)
	}

	// The cancelled transfer must not surface a completion.
	mux.Wait(100 * time.Millisecond)
	if _, _, ok := mux.ReadCompletion(); ok {
		t.Error("exp no completion after close")
	}
}

func waitForCompletion(t *testing.T, mux Multiplexer) Handle {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mux.Wait(50 * time.Millisecond)
		if h, _, ok := mux.ReadCompletion(); ok {
			return h
		}
	}
	t.Fatal("exp a completion before deadline")
	return nil
}
