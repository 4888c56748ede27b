package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/metrics"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	reclaimAbandoned   = "abandoned"
	reclaimIdleSurplus = "idle_surplus"
	reclaimForced      = "forced"
	reclaimResetFailed = "reset_failed"
	reclaimCrashed     = "crashed"
	reclaimHost        = "host_restart"

	resetURL = "about:blank"
)

// SessionHost is what the pool needs from the host lifecycle.
type SessionHost interface {
	NewSession(ctx context.Context) (ports.Page, error)
	CloseSession(ctx context.Context, page ports.Page) error
	Maintain(ctx context.Context, busy bool) error
	OnRestart(fn func(reason string))
	Touch()
	Info() domain.HostInfo
}

type PoolConfig struct {
	MaxPoolSize     int
	MaxTabs         int
	QueueTimeout    time.Duration
	AbandonAfter    time.Duration
	JanitorInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPoolSize:     3,
		MaxTabs:         5,
		QueueTimeout:    60 * time.Second,
		AbandonAfter:    30 * time.Second,
		JanitorInterval: 10 * time.Second,
	}
}

type AcquireOptions struct {
	Priority bool
	// Force allows creation beyond MaxTabs.
	Force bool
}

// Session is a page held by the pool. Fields other than id, page and createdAt are guarded by
// the pool mutex.
type Session struct {
	id        domain.SessionID
	page      ports.Page
	createdAt time.Time

	inUse      bool
	requestID  string
	acquiredAt time.Time
	leaseAt    time.Time
	idleSince  time.Time
	closed     bool
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) Page() ports.Page { return s.page }

type grant struct {
	session *Session
	create  bool
	err     error
}

type pendingRequest struct {
	requestID  string
	priority   bool
	enqueuedAt time.Time
	ch         chan grant
}

// SessionPool bounds and recycles pages on the shared host.
type SessionPool struct {
	cfg    PoolConfig
	host   SessionHost
	clock  ports.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	creating int
	queue    []*pendingRequest
	closed   bool

	done     chan struct{}
	watchers sync.WaitGroup
}

func NewSessionPool(cfg PoolConfig, host SessionHost, clock ports.Clock) *SessionPool {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if cfg.MaxTabs <= 0 {
		cfg.MaxTabs = 1
	}
	if cfg.MaxPoolSize > cfg.MaxTabs {
		cfg.MaxPoolSize = cfg.MaxTabs
	}

	p := &SessionPool{
		cfg:      cfg,
		host:     host,
		clock:    clock,
		logger:   arenalog.WithComponent("pool"),
		sessions: make(map[domain.SessionID]*Session),
		done:     make(chan struct{}),
	}
	host.OnRestart(p.dropAll)
	return p
}

// Acquire hands out a session owned by requestID until Release or ForceClose.
func (p *SessionPool) Acquire(ctx context.Context, requestID string, opts AcquireOptions) (*Session, error) {
	logger := p.logger.With().Str(arenalog.FieldRequestID, requestID).Logger()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, err := p.admit(ctx, requestID, opts)
		if err != nil {
			return nil, err
		}

		if g.session != nil {
			if err := p.reset(ctx, g.session); err != nil {
				logger.Warn().Err(err).Str(arenalog.FieldSessionID, string(g.session.id)).Msg("session reset failed, discarding")
				p.discard(ctx, g.session, reclaimResetFailed)
				continue
			}
			return g.session, nil
		}

		session, err := p.create(ctx, requestID)
		if err != nil {
			metrics.PoolAcquireTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.PoolAcquireTotal.WithLabelValues("created").Inc()
		return session, nil
	}
}

// admit returns either an idle session already assigned to requestID or a creation slot.
func (p *SessionPool) admit(ctx context.Context, requestID string, opts AcquireOptions) (grant, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return grant{}, domain.ErrPoolClosed
	}

	abandoned := p.collectAbandonedLocked()

	if s := p.takeIdleLocked(requestID); s != nil {
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.closeAll(ctx, abandoned, reclaimAbandoned)
		metrics.PoolAcquireTotal.WithLabelValues("reused").Inc()
		return grant{session: s}, nil
	}

	if p.liveLocked() < p.cfg.MaxTabs || opts.Force {
		p.creating++
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.closeAll(ctx, abandoned, reclaimAbandoned)
		return grant{create: true}, nil
	}

	w := &pendingRequest{
		requestID:  requestID,
		priority:   opts.Priority,
		enqueuedAt: p.clock.Now(),
		ch:         make(chan grant, 1),
	}
	p.enqueueLocked(w)
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.closeAll(ctx, abandoned, reclaimAbandoned)

	p.logger.Debug().Str(arenalog.FieldRequestID, requestID).Bool("priority", opts.Priority).Msg("queued for a session")
	return p.wait(ctx, w)
}

func (p *SessionPool) wait(ctx context.Context, w *pendingRequest) (grant, error) {
	timer := time.NewTimer(p.cfg.QueueTimeout)
	defer timer.Stop()

	start := time.Now()
	defer func() { metrics.PoolQueueWaitSeconds.Observe(time.Since(start).Seconds()) }()

	var cause error
	select {
	case g := <-w.ch:
		return p.accept(g)
	case <-timer.C:
		cause = fmt.Errorf("acquire session for %s after %s: %w", w.requestID, p.cfg.QueueTimeout, domain.ErrQueueTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	p.mu.Lock()
	if p.removeWaiterLocked(w) {
		p.updateGaugesLocked()
		p.mu.Unlock()
		if errors.Is(cause, domain.ErrQueueTimeout) {
			metrics.PoolAcquireTotal.WithLabelValues("queue_timeout").Inc()
		}
		return grant{}, cause
	}
	p.mu.Unlock()

	// A grant raced the timeout; hand it on.
	g := <-w.ch
	switch {
	case g.session != nil:
		p.Release(g.session, w.requestID)
	case g.create:
		p.mu.Lock()
		p.creating--
		p.handCapacityLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()
	}
	return grant{}, cause
}

func (p *SessionPool) accept(g grant) (grant, error) {
	if g.err != nil {
		return grant{}, g.err
	}
	if g.session != nil {
		metrics.PoolAcquireTotal.WithLabelValues("handoff").Inc()
	}
	return g, nil
}

func (p *SessionPool) reset(ctx context.Context, s *Session) error {
	if err := s.page.Navigate(ctx, resetURL); err != nil {
		return fmt.Errorf("reset session %s: %w", s.id, err)
	}
	return nil
}

func (p *SessionPool) create(ctx context.Context, requestID string) (*Session, error) {
	page, err := p.host.NewSession(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.handCapacityLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("create session: %w", err)
	}
	if p.closed {
		p.mu.Unlock()
		_ = p.host.CloseSession(ctx, page)
		return nil, domain.ErrPoolClosed
	}

	now := p.clock.Now()
	s := &Session{
		id:         domain.SessionID(uuid.NewString()),
		page:       page,
		createdAt:  now,
		inUse:      true,
		requestID:  requestID,
		acquiredAt: now,
		leaseAt:    now,
	}
	p.sessions[s.id] = s
	p.updateGaugesLocked()
	p.watchers.Add(1)
	p.mu.Unlock()

	go p.watch(s)

	p.logger.Info().Str(arenalog.FieldRequestID, requestID).Str(arenalog.FieldSessionID, string(s.id)).Msg("session created")
	return s, nil
}

// watch removes s when its page dies underneath the pool.
func (p *SessionPool) watch(s *Session) {
	defer p.watchers.Done()

	select {
	case <-s.page.Closed():
		p.mu.Lock()
		_, present := p.sessions[s.id]
		p.mu.Unlock()
		if present {
			p.logger.Warn().Str(arenalog.FieldSessionID, string(s.id)).Msg("session page closed unexpectedly")
			p.discard(context.Background(), s, reclaimCrashed)
		}
	case <-p.done:
	}
}

// Release returns s to the pool. Stale releases, from a previous owner or for a closed
// session, are ignored.
func (p *SessionPool) Release(s *Session, requestID string) {
	p.mu.Lock()
	if s.closed || !s.inUse || s.requestID != requestID {
		p.mu.Unlock()
		p.logger.Debug().Str(arenalog.FieldRequestID, requestID).Str(arenalog.FieldSessionID, string(s.id)).Msg("ignoring stale release")
		return
	}

	s.inUse = false
	s.requestID = ""

	if w := p.dequeueLocked(); w != nil {
		p.assignLocked(s, w.requestID)
		w.ch <- grant{session: s}
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.host.Touch()
		return
	}

	if p.idleCountLocked() >= p.cfg.MaxPoolSize {
		p.removeLocked(s)
		p.updateGaugesLocked()
		p.mu.Unlock()
		p.closePage(context.Background(), s, reclaimIdleSurplus)
		return
	}

	s.idleSince = p.clock.Now()
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.host.Touch()
}

// Renew extends the lease of a session its owner still holds.
func (p *SessionPool) Renew(s *Session, requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.inUse && s.requestID == requestID && !s.closed {
		s.leaseAt = p.clock.Now()
	}
}

// ForceClose closes s regardless of state.
func (p *SessionPool) ForceClose(s *Session) {
	p.discard(context.Background(), s, reclaimForced)
}

func (p *SessionPool) discard(ctx context.Context, s *Session, reason string) {
	p.mu.Lock()
	if !p.removeLocked(s) {
		p.mu.Unlock()
		return
	}
	p.handCapacityLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.closePage(ctx, s, reason)
}

func (p *SessionPool) closeAll(ctx context.Context, sessions []*Session, reason string) {
	for _, s := range sessions {
		p.closePage(ctx, s, reason)
	}
}

func (p *SessionPool) closePage(ctx context.Context, s *Session, reason string) {
	metrics.PoolReclaimTotal.WithLabelValues(reason).Inc()
	if err := p.host.CloseSession(ctx, s.page); err != nil {
		p.logger.Debug().Err(err).Str(arenalog.FieldSessionID, string(s.id)).Msg("close session")
	}
	p.logger.Debug().Str(arenalog.FieldSessionID, string(s.id)).Str("reason", reason).Msg("session closed")
}

// dropAll forgets every session after the host closed them itself.
func (p *SessionPool) dropAll(reason string) {
	p.mu.Lock()
	dropped := 0
	for _, s := range p.sessions {
		if p.removeLocked(s) {
			dropped++
		}
	}
	for range dropped {
		p.handCapacityLocked()
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if dropped > 0 {
		metrics.PoolReclaimTotal.WithLabelValues(reclaimHost).Add(float64(dropped))
		p.logger.Info().Str("reason", reason).Int("sessions", dropped).Msg("host restart dropped sessions")
	}
}

// Run reclaims abandoned and surplus sessions and applies the host restart policy until ctx
// ends or the pool closes.
func (p *SessionPool) Run(ctx context.Context) {
	interval := p.cfg.JanitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one janitor pass.
func (p *SessionPool) Sweep(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	abandoned := p.collectAbandonedLocked()
	surplus := p.collectIdleSurplusLocked()
	busy := p.inUseCountLocked() > 0
	p.mu.Unlock()

	p.closeAll(ctx, abandoned, reclaimAbandoned)
	p.closeAll(ctx, surplus, reclaimIdleSurplus)

	if err := p.host.Maintain(ctx, busy); err != nil {
		p.logger.Warn().Err(err).Msg("host maintenance failed")
	}
}

func (p *SessionPool) Snapshot() domain.PoolSnapshot {
	p.mu.Lock()
	snap := domain.PoolSnapshot{
		MaxPoolSize: p.cfg.MaxPoolSize,
		MaxTabs:     p.cfg.MaxTabs,
		Live:        p.liveLocked(),
		Idle:        p.idleCountLocked(),
		InUse:       p.inUseCountLocked(),
		Creating:    p.creating,
		Queued:      len(p.queue),
		Sessions:    make([]domain.SessionInfo, 0, len(p.sessions)),
	}
	for _, s := range p.sessions {
		snap.Sessions = append(snap.Sessions, domain.SessionInfo{
			ID:         s.id,
			InUse:      s.inUse,
			RequestID:  s.requestID,
			CreatedAt:  s.createdAt,
			AcquiredAt: s.acquiredAt,
			LeaseAt:    s.leaseAt,
			Closed:     s.closed,
		})
	}
	p.mu.Unlock()

	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].CreatedAt.Before(snap.Sessions[j].CreatedAt)
	})
	snap.Host = p.host.Info()
	return snap
}

// Close fails queued requests and closes every session.
func (p *SessionPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, w := range p.queue {
		w.ch <- grant{err: domain.ErrPoolClosed}
	}
	p.queue = nil
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		p.removeLocked(s)
	}
	close(p.done)
	p.updateGaugesLocked()
	p.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error { return p.host.CloseSession(ctx, s.page) })
	}
	err := g.Wait()
	p.watchers.Wait()
	if err != nil {
		return fmt.Errorf("close pool: %w", err)
	}
	return nil
}

func (p *SessionPool) liveLocked() int {
	return len(p.sessions) + p.creating
}

func (p *SessionPool) idleCountLocked() int {
	n := 0
	for _, s := range p.sessions {
		if !s.inUse {
			n++
		}
	}
	return n
}

func (p *SessionPool) inUseCountLocked() int {
	return len(p.sessions) - p.idleCountLocked()
}

func (p *SessionPool) takeIdleLocked(requestID string) *Session {
	var best *Session
	for _, s := range p.sessions {
		if s.inUse || s.closed {
			continue
		}
		if best == nil || s.createdAt.After(best.createdAt) {
			best = s
		}
	}
	if best != nil {
		p.assignLocked(best, requestID)
	}
	return best
}

func (p *SessionPool) assignLocked(s *Session, requestID string) {
	now := p.clock.Now()
	s.inUse = true
	s.requestID = requestID
	s.acquiredAt = now
	s.leaseAt = now
}

func (p *SessionPool) collectAbandonedLocked() []*Session {
	if p.cfg.AbandonAfter <= 0 {
		return nil
	}
	now := p.clock.Now()
	var out []*Session
	for _, s := range p.sessions {
		if s.inUse && now.Sub(s.leaseAt) > p.cfg.AbandonAfter {
			p.logger.Warn().Str(arenalog.FieldSessionID, string(s.id)).Str(arenalog.FieldRequestID, s.requestID).Msg("reclaiming abandoned session")
			out = append(out, s)
		}
	}
	for _, s := range out {
		p.removeLocked(s)
		p.handCapacityLocked()
	}
	if len(out) > 0 {
		p.updateGaugesLocked()
	}
	return out
}

func (p *SessionPool) collectIdleSurplusLocked() []*Session {
	var idle []*Session
	for _, s := range p.sessions {
		if !s.inUse {
			idle = append(idle, s)
		}
	}
	if len(idle) <= p.cfg.MaxPoolSize {
		return nil
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].idleSince.Before(idle[j].idleSince) })
	surplus := idle[:len(idle)-p.cfg.MaxPoolSize]
	for _, s := range surplus {
		p.removeLocked(s)
	}
	p.updateGaugesLocked()
	return surplus
}

func (p *SessionPool) removeLocked(s *Session) bool {
	if _, ok := p.sessions[s.id]; !ok {
		return false
	}
	delete(p.sessions, s.id)
	s.closed = true
	s.inUse = false
	return true
}

// handCapacityLocked gives one freed slot to the head waiter as a creation slot.
func (p *SessionPool) handCapacityLocked() {
	if p.closed || p.liveLocked() >= p.cfg.MaxTabs {
		return
	}
	w := p.dequeueLocked()
	if w == nil {
		return
	}
	p.creating++
	w.ch <- grant{create: true}
}

// enqueueLocked keeps FIFO order, except that priority requests go ahead of every non-priority
// request while staying behind earlier priority requests.
func (p *SessionPool) enqueueLocked(w *pendingRequest) {
	if !w.priority {
		p.queue = append(p.queue, w)
		return
	}
	i := 0
	for i < len(p.queue) && p.queue[i].priority {
		i++
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[i+1:], p.queue[i:])
	p.queue[i] = w
}

func (p *SessionPool) dequeueLocked() *pendingRequest {
	if len(p.queue) == 0 {
		return nil
	}
	w := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return w
}

func (p *SessionPool) removeWaiterLocked(w *pendingRequest) bool {
	for i, q := range p.queue {
		if q == w {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (p *SessionPool) updateGaugesLocked() {
	metrics.SetPoolSessions(p.idleCountLocked(), p.inUseCountLocked(), p.creating)
	metrics.PoolQueueDepth.Set(float64(len(p.queue)))
}
