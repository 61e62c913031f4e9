// Package mocks provides mock implementations for gateway tests, built in
// the builder-with-error-injection style used throughout the test suite.
package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

// MockFactory hands out MockHandles and remembers every handle it created.
type MockFactory struct {
	mu      sync.Mutex
	handles []*MockHandle

	newErr     error
	newDelay   time.Duration
	script     []backend.Event
	invokeErr  error
	clearErr   error
	invokeWait time.Duration
}

// NewMockFactory creates a factory whose handles replay a trivial script.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		script: []backend.Event{
			{Kind: backend.EventText, Text: "ok"},
			{Kind: backend.EventResult, Usage: types.Usage{InputTokens: 1, OutputTokens: 1}, StopReason: types.StopEndTurn},
		},
	}
}

// WithScript sets the events every new handle replays per invocation.
func (f *MockFactory) WithScript(events ...backend.Event) *MockFactory {
	f.script = events
	return f
}

// WithNewError makes New fail.
func (f *MockFactory) WithNewError(err error) *MockFactory {
	f.newErr = err
	return f
}

// WithInvokeError makes every handle's Invoke fail.
func (f *MockFactory) WithInvokeError(err error) *MockFactory {
	f.invokeErr = err
	return f
}

// WithClearError makes every handle's Clear fail.
func (f *MockFactory) WithClearError(err error) *MockFactory {
	f.clearErr = err
	return f
}

// WithInvokeWait delays each event delivery, simulating a slow backend.
func (f *MockFactory) WithInvokeWait(d time.Duration) *MockFactory {
	f.invokeWait = d
	return f
}

// New implements backend.Factory.
func (f *MockFactory) New(ctx context.Context, opts backend.Options) (backend.Handle, error) {
	if f.newDelay > 0 {
		select {
		case <-time.After(f.newDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.newErr != nil {
		return nil, f.newErr
	}

	h := &MockHandle{
		Options:   opts,
		script:    f.script,
		invokeErr: f.invokeErr,
		clearErr:  f.clearErr,
		eventWait: f.invokeWait,
	}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

// Handles returns every handle the factory created so far.
func (f *MockFactory) Handles() []*MockHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockHandle(nil), f.handles...)
}

// Created returns how many handles the factory created.
func (f *MockFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// MockHandle is a scripted backend handle with call counters.
type MockHandle struct {
	Options backend.Options

	script    []backend.Event
	invokeErr error
	clearErr  error
	eventWait time.Duration

	invokes    atomic.Int64
	clears     atomic.Int64
	closes     atomic.Int64
	concurrent atomic.Int32
	maxConc    atomic.Int32
}

// Invoke implements backend.Handle. It tracks concurrent use so tests can
// assert the lease exclusivity invariant.
func (h *MockHandle) Invoke(ctx context.Context, conv types.Conversation, opts backend.InvokeOptions) (backend.EventStream, error) {
	h.invokes.Add(1)
	if h.invokeErr != nil {
		return nil, h.invokeErr
	}

	cur := h.concurrent.Add(1)
	for {
		max := h.maxConc.Load()
		if cur <= max || h.maxConc.CompareAndSwap(max, cur) {
			break
		}
	}

	return &mockStream{h: h, events: h.script, wait: h.eventWait}, nil
}

// Clear implements backend.Handle.
func (h *MockHandle) Clear(ctx context.Context) error {
	h.clears.Add(1)
	return h.clearErr
}

// Close implements backend.Handle.
func (h *MockHandle) Close() error {
	h.closes.Add(1)
	return nil
}

// InvokeCount returns how many times Invoke was called.
func (h *MockHandle) InvokeCount() int64 { return h.invokes.Load() }

// ClearCount returns how many times Clear was called.
func (h *MockHandle) ClearCount() int64 { return h.clears.Load() }

// CloseCount returns how many times Close was called.
func (h *MockHandle) CloseCount() int64 { return h.closes.Load() }

// MaxConcurrentInvokes returns the peak number of overlapping open streams.
func (h *MockHandle) MaxConcurrentInvokes() int32 { return h.maxConc.Load() }

type mockStream struct {
	h      *MockHandle
	events []backend.Event
	wait   time.Duration
	pos    int
	closed bool
}

func (s *mockStream) Next(ctx context.Context) (backend.Event, error) {
	if s.closed || s.pos >= len(s.events) {
		s.release()
		return backend.Event{}, backend.ErrStreamDone
	}
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			s.release()
			return backend.Event{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		s.release()
		return backend.Event{}, err
	}

	ev := s.events[s.pos]
	s.pos++
	if ev.Kind == backend.EventResult {
		s.release()
	}
	return ev, nil
}

func (s *mockStream) Close() error {
	s.release()
	return nil
}

func (s *mockStream) release() {
	if !s.closed {
		s.closed = true
		s.h.concurrent.Add(-1)
	}
}

// ErrStream returns a stream script ending in a failed Next call; useful
// for exercising error paths without a custom EventStream.
type ErrStream struct {
	Events []backend.Event
	Err    error
	pos    int
}

// Next implements backend.EventStream.
func (s *ErrStream) Next(ctx context.Context) (backend.Event, error) {
	if s.pos < len(s.Events) {
		ev := s.Events[s.pos]
		s.pos++
		return ev, nil
	}
	return backend.Event{}, s.Err
}

// Close implements backend.EventStream.
func (s *ErrStream) Close() error { return nil }
