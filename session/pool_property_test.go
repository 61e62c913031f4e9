package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/testutil/mocks"
	"github.com/agentgate/agentgate/types"
)

// poolMachine drives random acquire/release/close sequences against a real
// pool and checks the occupancy invariants after every step.
type poolMachine struct {
	pool     *Pool
	factory  *mocks.MockFactory
	capacity int
	leases   map[string]*Lease // held leases by session id
}

func (m *poolMachine) init(t *rapid.T) {
	m.capacity = rapid.IntRange(1, 4).Draw(t, "capacity")
	m.factory = mocks.NewMockFactory()
	m.pool = NewPool(Config{
		MaxSessions:     m.capacity,
		TTL:             time.Hour,
		CleanupInterval: time.Hour,
		ClearTimeout:    time.Second,
	}, m.factory, backend.Options{}, zap.NewNop())
	m.leases = make(map[string]*Lease)
}

func (m *poolMachine) sessionID(t *rapid.T) string {
	return rapid.SampledFrom([]string{"s1", "s2", "s3", "s4", "s5"}).Draw(t, "session_id")
}

func (m *poolMachine) acquire(t *rapid.T) {
	id := m.sessionID(t)
	if _, held := m.leases[id]; held {
		// Would block behind ourselves; skip.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	lease, err := m.pool.Acquire(ctx, id)
	if err != nil {
		if types.GetErrorCode(err) != types.ErrPoolExhausted {
			t.Fatalf("unexpected acquire error: %v", err)
		}
		if len(m.leases) < m.capacity {
			t.Fatalf("POOL_EXHAUSTED with only %d of %d leases held", len(m.leases), m.capacity)
		}
		return
	}
	m.leases[id] = lease
}

func (m *poolMachine) release(t *rapid.T) {
	for id, lease := range m.leases {
		lease.Release()
		delete(m.leases, id)
		return
	}
}

func (m *poolMachine) closeIdle(t *rapid.T) {
	id := m.sessionID(t)
	if _, held := m.leases[id]; held {
		return
	}
	_ = m.pool.Close(id)
}

func (m *poolMachine) check(t *rapid.T) {
	st := m.pool.Stats()
	if st.Active != len(m.leases) {
		t.Fatalf("active mismatch: pool says %d, model holds %d", st.Active, len(m.leases))
	}
	if st.Total > m.capacity {
		t.Fatalf("pool exceeded capacity: total=%d capacity=%d", st.Total, m.capacity)
	}
	if st.Active+st.Idle != st.Total {
		t.Fatalf("inconsistent stats: %+v", st)
	}
}

func TestPool_RandomOpsKeepInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var m poolMachine
		m.init(t)
		defer func() {
			for _, lease := range m.leases {
				lease.Release()
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = m.pool.Stop(ctx)
		}()

		t.Repeat(map[string]func(*rapid.T){
			"acquire": m.acquire,
			"release": m.release,
			"close":   m.closeIdle,
			"":        m.check,
		})
	})
}
