package convoy

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/northrook/convoy/transport"
)

// Download streams the response body of rawURL into destPath. The
// bytes land in a deterministic temp file next to the destination; an
// earlier interrupted run left that temp file behind, so a non-empty
// one resumes with a Range request. On success the temp file moves
// into place; on failure it stays on disk for the next attempt.
func (t *Transfer) Download(ctx context.Context, rawURL, destPath string) error {
	if err := t.attachDest(destPath); err != nil {
		return err
	}
	if err := t.Get(ctx, rawURL, nil); err != nil {
		return err
	}
	return t.downloadErr
}

// DownloadFunc streams the response body of rawURL into an anonymous
// temporary file and, on success, invokes fn with the handle rewound
// to the start. The caller owns the handle afterwards; the backing
// file is already unlinked, so closing the handle releases it.
func (t *Transfer) DownloadFunc(ctx context.Context, rawURL string, fn func(f *os.File) error) error {
	f, err := os.CreateTemp("", "convoy-dl-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	// Unlink immediately: the handle keeps the data reachable and the
	// file vanishes with the last close.
	if err := os.Remove(f.Name()); err != nil {
		t.log().Warn("unlinking anonymous download file", "path", f.Name(), "error", err)
	}

	t.downloadFile = f
	t.downloadTemp = ""
	t.downloadDest = ""
	t.downloadErr = nil
	t.onDownloadComplete = fn
	t.opts.Set(transport.OptionOutput, t.wrapProgress(f, "anonymous"))

	if err := t.Get(ctx, rawURL, nil); err != nil {
		return err
	}
	return t.downloadErr
}

// attachDest readies a path-destination download: resolves the temp
// path, resumes an interrupted run when the temp file holds bytes, and
// wires the open file as the transfer's output.
func (t *Transfer) attachDest(destPath string) error {
	temp := tempPathFor(destPath)

	flags := os.O_CREATE | os.O_TRUNC | os.O_WRONLY
	if st, err := os.Stat(temp); err == nil && st.Size() > 0 {
		t.SetRange(fmt.Sprintf("%d-", st.Size()))
		flags = os.O_APPEND | os.O_WRONLY
	}

	f, err := os.OpenFile(temp, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening temp file %s: %w", temp, err)
	}

	t.downloadFile = f
	t.downloadTemp = temp
	t.downloadDest = destPath
	t.downloadErr = nil
	t.onDownloadComplete = nil
	t.opts.Set(transport.OptionOutput, t.wrapProgress(f, filepath.Base(destPath)))
	return nil
}

// attachPart readies a fixed-path download without move-on-success,
// used for the part files of [FastDownload] and assembled by the
// caller.
func (t *Transfer) attachPart(partPath string) error {
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening part file %s: %w", partPath, err)
	}

	t.downloadFile = f
	t.downloadTemp = partPath
	t.downloadDest = ""
	t.downloadErr = nil
	t.onDownloadComplete = nil
	t.opts.Set(transport.OptionOutput, t.wrapProgress(f, filepath.Base(partPath)))
	return nil
}

// tempPathFor derives the deterministic temp path for a destination: a
// dotfile in the same directory named by a hash of the destination, so
// every run of the same download finds the same partial file.
func tempPathFor(destPath string) string {
	sum := sha1.Sum([]byte(destPath))
	name := "." + hex.EncodeToString(sum[:])[:16] + ".convoytmp"
	return filepath.Join(filepath.Dir(destPath), name)
}

// completeDownload finishes an attached download after the final
// attempt: on failure the path-destination temp file survives for a
// future resume, while anonymous and part files are discarded; on
// success the callback receives the rewound handle, or the temp file
// moves into the destination.
func (t *Transfer) completeDownload() {
	f := t.downloadFile
	if f == nil {
		return
	}

	fn := t.onDownloadComplete
	dest, temp := t.downloadDest, t.downloadTemp
	t.downloadFile = nil
	t.onDownloadComplete = nil
	t.downloadDest, t.downloadTemp = "", ""
	t.opts.Delete(transport.OptionOutput)

	if t.failed {
		if err := f.Close(); err != nil {
			t.log().Error("closing failed download", "path", temp, "error", err)
		}
		if dest == "" && temp != "" {
			// No destination means no resume; drop the partial file.
			if err := os.Remove(temp); err != nil && !errors.Is(err, os.ErrNotExist) {
				t.log().Error("removing partial download", "path", temp, "error", err)
			}
		}
		return
	}

	if fn != nil {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			t.downloadErr = fmt.Errorf("rewinding download: %w", err)
			if cerr := f.Close(); cerr != nil {
				t.log().Error("closing download", "error", cerr)
			}
			return
		}
		t.downloadErr = fn(f)
		return
	}

	if err := f.Sync(); err != nil {
		t.log().Error("syncing download", "path", temp, "error", err)
	}
	if err := f.Close(); err != nil {
		t.downloadErr = fmt.Errorf("closing temp file: %w", err)
		return
	}
	if dest != "" {
		if err := moveFile(temp, dest); err != nil {
			t.downloadErr = err
		}
	}
}

// moveFile renames src onto dest, falling back to copy-and-remove when
// rename fails across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing %s: %w", src, err)
	}
	return nil
}

// AddDownload queues a download transfer writing to destPath, with the
// same temp-file resume behavior as [Transfer.Download].
func (p *TransferPool) AddDownload(rawURL, destPath string) (*Transfer, error) {
	t := p.newChild()
	if err := t.configureMethod(http.MethodGet, rawURL, nil); err != nil {
		return nil, err
	}
	if err := t.attachDest(destPath); err != nil {
		return nil, err
	}
	return p.Add(t), nil
}

// FastDownload fetches rawURL into destPath over several parallel
// range requests. A bodiless probe discovers the content length; when
// the server does not declare one, the download degrades to a plain
// [Transfer.Download]. The byte range splits into connections equal
// chunks (the last one open-ended to absorb rounding), each written to
// its own part file, and the parts concatenate into destPath once the
// pool drains.
func FastDownload(ctx context.Context, rawURL, destPath string, connections int) error {
	single := func() error {
		t, err := New()
		if err != nil {
			return err
		}
		defer t.Close()
		return t.Download(ctx, rawURL, destPath)
	}

	if connections <= 1 {
		return single()
	}

	length := probeContentLength(ctx, rawURL)
	if length <= 0 {
		return single()
	}

	pool, err := NewPool(WithConcurrency(connections))
	if err != nil {
		return err
	}

	chunk := length / int64(connections)
	parts := make([]string, connections)
	for i := 0; i < connections; i++ {
		part := fmt.Sprintf("%s.part%d", destPath, i)
		parts[i] = part

		start := int64(i) * chunk
		rangeSpec := fmt.Sprintf("%d-", start)
		if i < connections-1 {
			rangeSpec = fmt.Sprintf("%d-%d", start, start+chunk-1)
		}

		t, err := pool.AddGet(rawURL, nil)
		if err != nil {
			return err
		}
		t.SetRange(rangeSpec)
		if err := t.attachPart(part); err != nil {
			return err
		}
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}
	for _, t := range pool.Finished() {
		if t.IsError() {
			return fmt.Errorf("part %d failed: %w", t.ID(), t.Err())
		}
	}

	return assembleParts(parts, destPath)
}

// probeContentLength issues a HEAD request and returns the declared
// length, 0 when unknown or the probe fails.
func probeContentLength(ctx context.Context, rawURL string) int64 {
	t, err := New()
	if err != nil {
		return 0
	}
	defer t.Close()

	if err := t.Head(ctx, rawURL, nil); err != nil {
		return 0
	}
	if n, err := strconv.ParseInt(t.ResponseHeader("Content-Length"), 10, 64); err == nil && n > 0 {
		return n
	}
	if t.handle != nil && t.handle.Info().ContentLength > 0 {
		return t.handle.Info().ContentLength
	}
	return 0
}

// assembleParts concatenates part files in order into destPath and
// removes them. A missing or unopenable part aborts the assembly.
func assembleParts(parts []string, destPath string) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	for _, part := range parts {
		in, err := os.Open(part)
		if err != nil {
			out.Close()
			return fmt.Errorf("opening part %s: %w", part, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return fmt.Errorf("assembling %s: %w", part, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", destPath, err)
	}

	for _, part := range parts {
		if err := os.Remove(part); err != nil {
			slog.Default().Error("removing part file", "path", part, "error", err)
		}
	}
	return nil
}

func (t *Transfer) wrapProgress(w io.Writer, label string) io.Writer {
	return &progressWriter{w: w, logger: t.log(), label: label, start: time.Now()}
}

// progressWriter logs download progress at most once per second with
// humanized byte counts.
type progressWriter struct {
	w      io.Writer
	logger *slog.Logger
	label  string

	transferred int64
	start       time.Time
	lastLog     time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.transferred += int64(n)

	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		elapsed := time.Since(pw.start)
		rate := float64(pw.transferred) / elapsed.Seconds()
		pw.logger.Info("downloading",
			"file", pw.label,
			"transferred", humanize.Bytes(uint64(pw.transferred)),
			"elapsed", elapsed.Round(time.Millisecond),
			"rate", humanize.Bytes(uint64(rate))+"/s",
		)
	}
	return n, err
}
