package convoy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

// testPayload returns n deterministic bytes.
func testPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func serveBlob(payload []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(payload))
	})
}

func TestTempPathFor(t *testing.T) {
	a := tempPathFor("/data/archive.tar.gz")
	b := tempPathFor("/data/archive.tar.gz")
	c := tempPathFor("/data/other.tar.gz")

	if a != b {
		t.Errorf("exp deterministic temp path; got: %q vs %q", a, b)
	}
	if a == c {
		t.Error("exp distinct destinations to map to distinct temp paths")
	}
	if filepath.Dir(a) != "/data" {
		t.Errorf("exp temp file beside destination; got: %q", a)
	}
	if base := filepath.Base(a); base[0] != '.' {
		t.Errorf("exp hidden temp file; got: %q", base)
	}
}

func TestTransferDownload(t *testing.T) {
	payload := testPayload(2048)
	srv := httptest.NewServer(serveBlob(payload))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "blob.bin")
	tr := newTestTransfer(t)

	if err := tr.Download(testContext(t), srv.URL, dest); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("exp %d payload bytes; got: %d", len(payload), len(got))
	}
	if _, err := os.Stat(tempPathFor(dest)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("exp temp file moved away; got: %v", err)
	}
}

func TestTransferDownloadResume(t *testing.T) {
	payload := testPayload(2048)

	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "blob.bin")

	// A previous interrupted run left the first 512 bytes behind.
	if err := os.WriteFile(tempPathFor(dest), payload[:512], 0o644); err != nil {
		t.Fatalf("seeding temp file: %v", err)
	}

	tr := newTestTransfer(t)
	if err := tr.Download(testContext(t), srv.URL, dest); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	if want := []string{"bytes=512-"}; !slices.Equal(ranges, want) {
		t.Errorf("exp range request %v; got: %v", want, ranges)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("exp resumed file identical to payload; got %d bytes", len(got))
	}
}

func TestTransferDownloadFailureKeepsTemp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "blob.bin")
	tr := newTestTransfer(t)

	err := tr.Download(testContext(t), srv.URL, dest)

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("exp *HTTPError; got: %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("exp no destination file on failure")
	}
	if _, err := os.Stat(tempPathFor(dest)); err != nil {
		t.Errorf("exp temp file kept for a later resume; got: %v", err)
	}
}

func TestTransferDownloadFunc(t *testing.T) {
	payload := testPayload(1024)
	srv := httptest.NewServer(serveBlob(payload))
	defer srv.Close()

	tr := newTestTransfer(t)

	var got []byte
	err := tr.DownloadFunc(testContext(t), srv.URL, func(f *os.File) error {
		defer f.Close()
		b, err := io.ReadAll(f)
		got = b
		return err
	})
	if err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("exp rewound handle to yield the payload; got %d bytes", len(got))
	}
}

func TestTransferDownloadFuncError(t *testing.T) {
	srv := httptest.NewServer(serveBlob(testPayload(16)))
	defer srv.Close()

	tr := newTestTransfer(t)

	wantErr := errors.New("rejected by callback")
	err := tr.DownloadFunc(testContext(t), srv.URL, func(f *os.File) error {
		defer f.Close()
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("exp callback error surfaced; got: %v", err)
	}
}

func TestPoolAddDownload(t *testing.T) {
	payload := testPayload(4096)
	srv := httptest.NewServer(serveBlob(payload))
	defer srv.Close()

	dir := t.TempDir()
	pool, err := NewPool(WithPollInterval(10 * time.Millisecond))
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}

	dests := make([]string, 3)
	for i := range dests {
		dests[i] = filepath.Join(dir, "blob"+string(rune('a'+i))+".bin")
		if _, err := pool.AddDownload(srv.URL, dests[i]); err != nil {
			t.Fatalf("queueing download: %v", err)
		}
	}
	if err := pool.Start(testContext(t)); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	for _, dest := range dests {
		got, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("reading %s: %v", dest, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s: exp full payload; got %d bytes", dest, len(got))
		}
	}
}

func TestFastDownload(t *testing.T) {
	payload := testPayload(1000)

	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			ranges = append(ranges, r.Header.Get("Range"))
			mu.Unlock()
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "blob.bin")
	if err := FastDownload(testContext(t), srv.URL, dest, 4); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("exp %d reassembled bytes matching payload; got: %d", len(payload), len(got))
	}

	slices.Sort(ranges)
	want := []string{"bytes=0-249", "bytes=250-499", "bytes=500-749", "bytes=750-"}
	slices.Sort(want)
	if !slices.Equal(ranges, want) {
		t.Errorf("exp ranges %v; got: %v", want, ranges)
	}

	for i := 0; i < 4; i++ {
		part := dest + ".part" + string(rune('0'+i))
		if _, err := os.Stat(part); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("exp part file %s removed; got: %v", part, err)
		}
	}
}

func TestFastDownloadSingleConnection(t *testing.T) {
	payload := testPayload(256)
	srv := httptest.NewServer(serveBlob(payload))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "blob.bin")
	if err := FastDownload(testContext(t), srv.URL, dest, 1); err != nil {
		t.Fatalf("exp nil err, got: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("exp full payload over one connection; got %d bytes", len(got))
	}
}
