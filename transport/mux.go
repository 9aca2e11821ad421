package transport

import (
	"context"
	"slices"
	"sync"
	"time"
)

// multiplexer drives any number of handles concurrently, one goroutine
// per in-flight transfer, and queues completions for the owner to
// drain. A single owner goroutine calls Add/Perform/Wait/ReadCompletion
// while transfers finish on others.
type multiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []Handle
	inflight  map[Handle]bool
	detached  map[Handle]bool
	completed []completion
	closed    bool

	// notify carries at most one token; completions send non-blocking
	// so a slow owner never stalls a finishing transfer.
	notify chan struct{}
}

type completion struct {
	h    Handle
	code Code
}

func newMultiplexer(ctx context.Context) *multiplexer {
	if ctx == nil {
		ctx = context.Background()
	}
	mctx, cancel := context.WithCancel(ctx)
	return &multiplexer{
		ctx:      mctx,
		cancel:   cancel,
		inflight: make(map[Handle]bool),
		detached: make(map[Handle]bool),
		notify:   make(chan struct{}, 1),
	}
}

// Add implements [Multiplexer]. Re-adding a handle that already
// completed schedules it for another run.
func (m *multiplexer) Add(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMuxClosed
	}
	delete(m.detached, h)
	m.pending = append(m.pending, h)
	return nil
}

// Remove implements [Multiplexer]. A pending handle is dropped
// outright. An in-flight one stops counting toward the running total
// immediately and its completion is discarded when the transfer
// eventually finishes.
func (m *multiplexer) Remove(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.pending {
		if p == h {
			m.pending = slices.Delete(m.pending, i, i+1)
			return
		}
	}

	if m.inflight[h] {
		delete(m.inflight, h)
		m.detached[h] = true
	}
	m.completed = slices.DeleteFunc(m.completed, func(c completion) bool {
		return c.h == h
	})
}

// Perform implements [Multiplexer]: it launches every pending handle
// and reports how many attached transfers are in flight. It never
// blocks.
func (m *multiplexer) Perform() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0
	}
	for _, h := range m.pending {
		m.inflight[h] = true
		go m.run(h)
	}
	m.pending = nil
	return len(m.inflight)
}

func (m *multiplexer) run(h Handle) {
	res := h.Perform(m.ctx)

	m.mu.Lock()
	if m.closed || m.detached[h] {
		delete(m.detached, h)
		m.mu.Unlock()
		return
	}
	delete(m.inflight, h)
	m.completed = append(m.completed, completion{h: h, code: res.Code})
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Wait implements [Multiplexer]: it returns as soon as a completion is
// queued, or after timeout, whichever comes first.
func (m *multiplexer) Wait(timeout time.Duration) {
	m.mu.Lock()
	ready := len(m.completed) > 0
	m.mu.Unlock()
	if ready {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.notify:
	case <-timer.C:
	case <-m.ctx.Done():
	}
}

// ReadCompletion implements [Multiplexer], popping the oldest queued
// completion.
func (m *multiplexer) ReadCompletion() (Handle, Code, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil, CodeOK, false
	}
	c := m.completed[0]
	m.completed = m.completed[1:]
	return c.h, c.code, true
}

// Close implements [Multiplexer]. In-flight transfers are cancelled
// through the multiplexer context and their completions discarded.
func (m *multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.completed = nil
	clear(m.inflight)
	clear(m.detached)
	m.mu.Unlock()

	m.cancel()
	return nil
}
