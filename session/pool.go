package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/backend"
	"github.com/agentgate/agentgate/types"
)

var (
	// ErrPoolClosed is returned by Acquire after Stop.
	ErrPoolClosed = errors.New("session pool closed")
)

// Config configures the session pool.
type Config struct {
	// MaxSessions caps the number of pooled sessions, active or idle.
	MaxSessions int `yaml:"max_sessions"`

	// TTL is the maximum idle duration before a session is evictable.
	TTL time.Duration `yaml:"ttl"`

	// CleanupInterval is how often the reaper scans for expired sessions.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ClearTimeout bounds the clear call performed on release.
	ClearTimeout time.Duration `yaml:"clear_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:     100,
		TTL:             time.Hour,
		CleanupInterval: time.Minute,
		ClearTimeout:    30 * time.Second,
	}
}

// pooledSession tracks one backend handle plus pool-management metadata.
type pooledSession struct {
	id         string
	handle     backend.Handle
	createdAt  time.Time
	lastUsed   time.Time
	active     bool
	useCount   int64
	releasedCh chan struct{} // closed when the current lease releases
}

func (s *pooledSession) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.lastUsed) > ttl
}

// Lease is the temporary, exclusive right to use a pooled session. A lease
// must be released exactly once; Release always clears the handle before
// the session becomes acquirable again.
type Lease struct {
	pool    *Pool
	session *pooledSession

	mu       sync.Mutex
	released bool
}

// ID returns the pooled session id.
func (l *Lease) ID() string { return l.session.id }

// Handle returns the backend handle, exclusively owned until Release.
func (l *Lease) Handle() backend.Handle { return l.session.handle }

// Release clears the handle and returns the session to the pool. Clearing
// is unconditional; it is the isolation guarantee between callers. A clear
// failure evicts the session instead of recycling it, and is never
// surfaced to the caller. Release is idempotent.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.pool.release(l.session)
}

// Stats is a read-only snapshot of pool occupancy.
type Stats struct {
	Active   int `json:"active"`
	Idle     int `json:"idle"`
	Total    int `json:"total"`
	Capacity int `json:"capacity"`
}

// Pool maps session ids to pooled backend handles. It enforces capacity
// with LRU eviction of idle sessions, TTL expiry via a background reaper,
// and the clear-before-reuse invariant on every release.
type Pool struct {
	config  Config
	factory backend.Factory
	opts    backend.Options
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*pooledSession
	closed   bool

	reapCancel context.CancelFunc
	reapDone   chan struct{}
}

// NewPool creates a pool. opts is the handle configuration applied when a
// session is first created; reuse under a known id keeps the original
// handle configuration.
func NewPool(config Config, factory backend.Factory, opts backend.Options, logger *zap.Logger) *Pool {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultConfig().MaxSessions
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.ClearTimeout <= 0 {
		config.ClearTimeout = DefaultConfig().ClearTimeout
	}
	return &Pool{
		config:   config,
		factory:  factory,
		opts:     opts,
		logger:   logger.With(zap.String("component", "session_pool")),
		sessions: make(map[string]*pooledSession),
	}
}

// Start launches the background reaper.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reapDone != nil || p.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.reapCancel = cancel
	p.reapDone = make(chan struct{})
	go p.reapLoop(ctx)

	p.logger.Info("session pool started",
		zap.Int("max_sessions", p.config.MaxSessions),
		zap.Duration("ttl", p.config.TTL),
		zap.Duration("cleanup_interval", p.config.CleanupInterval),
	)
}

// Stop halts the reaper and closes every session. Subsequent acquires fail
// with ErrPoolClosed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.reapCancel, p.reapDone
	victims := make([]*pooledSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		victims = append(victims, s)
	}
	p.sessions = make(map[string]*pooledSession)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, s := range victims {
		// Active sessions are closed by their release path once the lease
		// holder finishes; closing here would pull the handle out from
		// under an in-flight invocation.
		if !s.active {
			p.closeSession(s)
		}
	}
	p.logger.Info("session pool stopped", zap.Int("closed", len(victims)))
	return nil
}

// Acquire returns an exclusive lease on a pooled session.
//
// With a sessionID: an existing idle session under that id is reused; an
// active one is waited on (bounded by ctx) until its holder releases; an
// unknown id creates a new session. With an empty sessionID an ephemeral
// session is created. Creation fails with POOL_EXHAUSTED when the pool is
// full and no idle session can be evicted.
func (p *Pool) Acquire(ctx context.Context, sessionID string) (*Lease, error) {
	ephemeral := sessionID == ""
	if ephemeral {
		sessionID = "eph_" + uuid.NewString()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		s, ok := p.sessions[sessionID]
		if !ok {
			lease, err := p.createLocked(ctx, sessionID)
			p.mu.Unlock()
			return lease, err
		}

		if !s.active {
			if s.expired(p.config.TTL, time.Now()) {
				delete(p.sessions, sessionID)
				p.mu.Unlock()
				p.closeSession(s)
				// Recreate under the same id on the next iteration.
				continue
			}
			s.active = true
			s.lastUsed = time.Now()
			s.useCount++
			s.releasedCh = make(chan struct{})
			p.mu.Unlock()
			p.logger.Debug("session reused",
				zap.String("session_id", s.id),
				zap.Int64("use_count", s.useCount),
			)
			return &Lease{pool: p, session: s}, nil
		}

		// Held by another caller: wait for release, then retry.
		ch := s.releasedCh
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// createLocked creates a session under id, evicting the least recently
// used idle session when at capacity. Called with p.mu held; the handle is
// constructed under the lock so a concurrent acquire of the same id waits
// rather than double-creating.
func (p *Pool) createLocked(ctx context.Context, id string) (*Lease, error) {
	if len(p.sessions) >= p.config.MaxSessions {
		victim := p.lruIdleLocked()
		if victim == nil {
			return nil, types.NewError(types.ErrPoolExhausted,
				fmt.Sprintf("pool at capacity (%d) with no idle session to evict", p.config.MaxSessions)).
				WithHTTPStatus(503).WithRetryable(true)
		}
		delete(p.sessions, victim.id)
		go p.closeSession(victim)
		p.logger.Debug("evicted lru session", zap.String("session_id", victim.id))
	}

	handle, err := p.factory.New(ctx, p.opts)
	if err != nil {
		return nil, fmt.Errorf("create backend handle: %w", err)
	}

	now := time.Now()
	s := &pooledSession{
		id:         id,
		handle:     handle,
		createdAt:  now,
		lastUsed:   now,
		active:     true,
		useCount:   1,
		releasedCh: make(chan struct{}),
	}
	p.sessions[id] = s
	p.logger.Debug("session created", zap.String("session_id", id))
	return &Lease{pool: p, session: s}, nil
}

func (p *Pool) lruIdleLocked() *pooledSession {
	var victim *pooledSession
	for _, s := range p.sessions {
		if s.active {
			continue
		}
		if victim == nil || s.lastUsed.Before(victim.lastUsed) {
			victim = s
		}
	}
	return victim
}

// release clears the handle and marks the session idle. Clearing runs on a
// fresh bounded context: the caller's request context may already be
// cancelled, and clearing must happen regardless.
func (p *Pool) release(s *pooledSession) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ClearTimeout)
	defer cancel()

	if err := s.handle.Clear(ctx); err != nil {
		p.logger.Warn("clear failed, evicting session",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
		p.evict(s)
		return
	}

	p.mu.Lock()
	if _, ok := p.sessions[s.id]; !ok {
		// Pool stopped or session unmapped while the lease was held.
		close(s.releasedCh)
		p.mu.Unlock()
		p.closeSession(s)
		return
	}
	s.active = false
	s.lastUsed = time.Now()
	close(s.releasedCh)
	p.mu.Unlock()

	p.logger.Debug("session released",
		zap.String("session_id", s.id),
		zap.Int64("use_count", s.useCount),
	)
}

func (p *Pool) evict(s *pooledSession) {
	p.mu.Lock()
	if _, ok := p.sessions[s.id]; ok {
		delete(p.sessions, s.id)
		close(s.releasedCh)
	}
	p.mu.Unlock()
	p.closeSession(s)
}

func (p *Pool) closeSession(s *pooledSession) {
	if err := s.handle.Close(); err != nil {
		p.logger.Warn("error closing session handle",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
	}
}

// Close removes a named session immediately, releasing its handle. Returns
// SESSION_NOT_FOUND for unknown ids. An active session is not interrupted;
// it is unmapped now and closed when its lease releases.
func (p *Pool) Close(sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return types.NewError(types.ErrSessionNotFound, "unknown session id: "+sessionID).WithHTTPStatus(404)
	}
	delete(p.sessions, sessionID)
	active := s.active
	p.mu.Unlock()

	if !active {
		p.closeSession(s)
	}
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Capacity: p.config.MaxSessions, Total: len(p.sessions)}
	for _, s := range p.sessions {
		if s.active {
			st.Active++
		} else {
			st.Idle++
		}
	}
	return st
}

func (p *Pool) reapLoop(ctx context.Context) {
	defer close(p.reapDone)

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

// reapExpired evicts idle sessions past their TTL. A failing close is
// logged and the reaper moves on; it never stalls the scan.
func (p *Pool) reapExpired() {
	now := time.Now()

	p.mu.Lock()
	var victims []*pooledSession
	for id, s := range p.sessions {
		if !s.active && s.expired(p.config.TTL, now) {
			delete(p.sessions, id)
			victims = append(victims, s)
		}
	}
	remaining := len(p.sessions)
	p.mu.Unlock()

	for _, s := range victims {
		p.closeSession(s)
	}
	if len(victims) > 0 {
		p.logger.Info("reaped expired sessions",
			zap.Int("evicted", len(victims)),
			zap.Int("remaining", remaining),
		)
	}
}
