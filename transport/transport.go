// Package transport defines the primitive that performs HTTP I/O for
// the transfer engine, plus the default net/http-backed implementation.
//
// The engine consumes only the [Transport], [Handle] and [Multiplexer]
// contracts. A Handle is configured through [Handle.SetOption] with
// symbolic [Option] identifiers, executed synchronously with
// [Handle.Perform], and observed through a per-line header callback and
// a periodic progress callback whose non-zero return aborts the
// transfer. A Multiplexer drives many handles from one control loop:
// [Multiplexer.Perform] pumps without blocking, [Multiplexer.Wait]
// blocks until activity, and [Multiplexer.ReadCompletion] yields
// finished handles one at a time.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrHandleClosed  = errors.New("handle is closed")
	ErrUnknownOption = errors.New("unknown option")
	ErrMuxClosed     = errors.New("multiplexer is closed")
)

// Transport creates handles and multiplexers sharing one connection
// layer.
type Transport interface {
	NewHandle() (Handle, error)
	NewMultiplexer(ctx context.Context) (Multiplexer, error)
}

// Handle is one configurable transfer slot. A Handle is reusable:
// Perform may be called again after completion with the same options.
// It is not safe for concurrent use; a handle given to a Multiplexer
// must not be touched until its completion has been read.
type Handle interface {
	// SetOption applies one configuration value, failing when the
	// option is unknown to this transport or the value has the wrong
	// type.
	SetOption(opt Option, value any) error

	// OnHeader registers a callback receiving each raw response header
	// line, terminator included, one block per redirect hop plus the
	// final response. A trailing blank line closes each block.
	OnHeader(fn func(line []byte))

	// OnProgress registers a periodic callback. A non-zero return
	// aborts the transfer at the next opportunity.
	OnProgress(fn func(p Progress) int)

	// Perform executes the transfer synchronously.
	Perform(ctx context.Context) Result

	// Result returns the outcome of the most recent Perform.
	Result() Result

	// Info returns metadata captured by the most recent Perform.
	Info() Info

	// Close releases the handle. A closed handle rejects SetOption and
	// Perform.
	Close() error
}

// Multiplexer runs many handles concurrently on behalf of one control
// goroutine. Completions are read in arrival order.
type Multiplexer interface {
	// Add registers a handle to start on the next Perform call.
	// Re-adding a previously completed handle restarts it.
	Add(h Handle) error

	// Remove detaches a handle: a pending start is dropped and any
	// completion it produces is discarded. In-flight work is not
	// forcibly interrupted; cancellation stays cooperative.
	Remove(h Handle)

	// Perform starts pending handles without blocking and reports how
	// many are in flight.
	Perform() int

	// Wait blocks until a completion arrives, the timeout elapses, or
	// the multiplexer closes. It returns immediately when a completion
	// is already queued.
	Wait(timeout time.Duration)

	// ReadCompletion pops the next finished handle and its result
	// code. ok is false when none is queued.
	ReadCompletion() (h Handle, code Code, ok bool)

	// Close cancels the context governing in-flight handles and
	// rejects further use.
	Close() error
}

// Result is the outcome of one Perform call. Body is nil when the
// transfer streamed to an output writer or was configured bodiless.
type Result struct {
	Body    []byte
	Code    Code
	Message string
}

// Info captures metadata from the most recent Perform on a handle.
type Info struct {
	// EffectiveURL is the final URL after redirects.
	EffectiveURL string
	// TotalTime covers option resolution through last body byte.
	TotalTime time.Duration
	// ContentLength is the declared response length, -1 when unknown.
	ContentLength int64
}

// Progress reports transfer byte counters to a periodic callback.
// Totals are -1 when not known in advance.
type Progress struct {
	DownloadTotal int64
	Downloaded    int64
	UploadTotal   int64
	Uploaded      int64
}
