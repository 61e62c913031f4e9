package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/testutil"
	"github.com/agentgate/agentgate/testutil/mocks"
	"github.com/agentgate/agentgate/types"
)

func newTestPool(t *testing.T, cfg Config, factory backend.Factory) *Pool {
	t.Helper()
	p := NewPool(cfg, factory, backend.Options{Model: "test-model"}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestPool_AcquireCreatesAndReuses(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	p := newTestPool(t, DefaultConfig(), factory)

	lease, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", lease.ID())
	assert.Equal(t, Stats{Active: 1, Idle: 0, Total: 1, Capacity: 100}, p.Stats())

	lease.Release()
	assert.Equal(t, Stats{Active: 0, Idle: 1, Total: 1, Capacity: 100}, p.Stats())

	lease2, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	defer lease2.Release()

	assert.Equal(t, 1, factory.Created(), "named reuse must not create a second handle")
}

func TestPool_EphemeralSessionsAreDistinct(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	p := newTestPool(t, DefaultConfig(), factory)

	a, err := p.Acquire(ctx, "")
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, factory.Created())

	a.Release()
	b.Release()
}

func TestPool_ReleaseAlwaysClears(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	p := newTestPool(t, DefaultConfig(), factory)

	lease, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	h := factory.Handles()[0]
	assert.Equal(t, int64(0), h.ClearCount())

	lease.Release()
	assert.Equal(t, int64(1), h.ClearCount(), "release must clear exactly once")

	// Idempotent release: no second clear.
	lease.Release()
	assert.Equal(t, int64(1), h.ClearCount())

	// The cleared session is the one handed out next.
	lease2, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	defer lease2.Release()
	assert.Equal(t, int64(1), h.ClearCount(), "clear happens on release, not acquire")
}

func TestPool_ClearFailureEvicts(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory().WithClearError(errors.New("clear broke"))
	p := newTestPool(t, DefaultConfig(), factory)

	lease, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)

	// Release must not surface the clear failure; the session is discarded.
	lease.Release()

	h := factory.Handles()[0]
	assert.Equal(t, int64(1), h.CloseCount(), "failed clear evicts and closes the handle")
	assert.Equal(t, 0, p.Stats().Total)

	// Next acquire under the same id builds a fresh handle.
	lease2, err := p.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	defer lease2.Release()
	assert.Equal(t, 2, factory.Created())
}

func TestPool_ExhaustedWhenAllActive(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	p := newTestPool(t, cfg, factory)

	a, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	b, err := p.Acquire(ctx, "b")
	require.NoError(t, err)

	_, err = p.Acquire(ctx, "c")
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolExhausted, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	a.Release()
	b.Release()
}

func TestPool_EvictsLRUIdleAtCapacity(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	p := newTestPool(t, cfg, factory)

	a, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	a.Release()
	time.Sleep(5 * time.Millisecond) // distinct lastUsed ordering

	b, err := p.Acquire(ctx, "b")
	require.NoError(t, err)
	b.Release()

	// Pool full with two idle sessions; "a" is least recently used.
	c, err := p.Acquire(ctx, "c")
	require.NoError(t, err)
	defer c.Release()

	testutil.AssertEventuallyTrue(t, func() bool {
		return factory.Handles()[0].CloseCount() == 1
	}, time.Second, "lru idle session should be closed")

	st := p.Stats()
	assert.Equal(t, 2, st.Total)

	// "a" was evicted: acquiring it again creates a fresh handle, which
	// in turn evicts idle "b".
	a2, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	defer a2.Release()
	assert.Equal(t, 4, factory.Created())
}

func TestPool_SameIDWaitsBehindHolder(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	p := newTestPool(t, cfg, factory)

	lease, err := p.Acquire(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan *Lease, 1)
	go func() {
		l, err := p.Acquire(ctx, "a")
		if err == nil {
			acquired <- l
		}
	}()

	// The second caller must not get the session while the first holds it.
	select {
	case <-acquired:
		t.Fatal("second acquire completed while lease was held")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()

	l2, ok := testutil.WaitForChannel(acquired, 2*time.Second)
	require.True(t, ok, "second acquire should complete after release")
	l2.Release()

	assert.Equal(t, 1, factory.Created(), "both callers share one handle, serialized")
}

func TestPool_AcquireWaitCancellation(t *testing.T) {
	factory := mocks.NewMockFactory()
	p := newTestPool(t, DefaultConfig(), factory)

	lease, err := p.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_ReaperEvictsExpiredIdleOnly(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	cfg := Config{
		MaxSessions:     10,
		TTL:             30 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
		ClearTimeout:    time.Second,
	}
	p := newTestPool(t, cfg, factory)
	p.Start()

	idle, err := p.Acquire(ctx, "idle")
	require.NoError(t, err)
	idle.Release()

	held, err := p.Acquire(ctx, "held")
	require.NoError(t, err)

	testutil.AssertEventuallyTrue(t, func() bool {
		st := p.Stats()
		return st.Total == 1 && st.Active == 1
	}, 2*time.Second, "idle session past TTL should be reaped, active one kept")

	assert.Equal(t, int64(1), factory.Handles()[0].CloseCount())
	assert.Equal(t, int64(0), factory.Handles()[1].CloseCount(), "active session must never be evicted mid-lease")

	held.Release()
}

func TestPool_CloseNamedSession(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	p := newTestPool(t, DefaultConfig(), factory)

	lease, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	lease.Release()

	require.NoError(t, p.Close("a"))
	assert.Equal(t, int64(1), factory.Handles()[0].CloseCount())

	err = p.Close("a")
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestPool_StopRejectsAcquire(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory()
	p := NewPool(DefaultConfig(), factory, backend.Options{}, zaptest.NewLogger(t))
	p.Start()

	require.NoError(t, p.Stop(ctx))
	_, err := p.Acquire(ctx, "a")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

// TestPool_NoDoubleCheckout hammers one session id from many goroutines and
// verifies the handle never sees overlapping invocations.
func TestPool_NoDoubleCheckout(t *testing.T) {
	ctx := testutil.TestContext(t)
	factory := mocks.NewMockFactory().WithInvokeWait(time.Millisecond)
	p := newTestPool(t, DefaultConfig(), factory)

	var wg sync.WaitGroup
	var held atomic.Int32
	var maxHeld atomic.Int32

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				lease, err := p.Acquire(ctx, "shared")
				if err != nil {
					t.Error(err)
					return
				}

				cur := held.Add(1)
				for {
					max := maxHeld.Load()
					if cur <= max || maxHeld.CompareAndSwap(max, cur) {
						break
					}
				}

				stream, err := lease.Handle().Invoke(ctx, types.Conversation{{Role: types.RoleUser, Content: "hi"}}, backend.InvokeOptions{})
				if err == nil {
					_, _ = backend.CollectResult(ctx, stream)
				}

				held.Add(-1)
				lease.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHeld.Load(), "at most one lease active per session id")
	for _, h := range factory.Handles() {
		assert.LessOrEqual(t, h.MaxConcurrentInvokes(), int32(1))
	}
	assert.Equal(t, int64(160), factory.Handles()[0].ClearCount(), "every release clears")
}
