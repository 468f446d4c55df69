package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
)

// FallbackPolicy decides what a proven session without a profile row gets.
type FallbackPolicy string

const (
	// FallbackDegrade authenticates with a minimal student profile.
	FallbackDegrade FallbackPolicy = "degrade"
	// FallbackDeny treats the session as unauthenticated.
	FallbackDeny FallbackPolicy = "deny"
)

// ErrNoMatchingSession is returned by SetUser when the store is not
// authenticated as the same subject.
var ErrNoMatchingSession = errors.New("no authenticated session for this user")

// ErrStoreClosed is returned by AwaitSettled after Close.
var ErrStoreClosed = errors.New("session store closed")

// ProfileSource resolves the profile behind a proven session.
type ProfileSource interface {
	ResolveSession(ctx context.Context, s domainauth.Session) (*domainauth.UserProfile, error)
}

// SessionStoreOptions groups dependencies for SessionStore.
type SessionStoreOptions struct {
	Provider ports.IdentityProvider
	Profiles ProfileSource
	Cache    ports.AuthCache
	Policy   FallbackPolicy
	// ReconcileTimeout bounds one reconciliation (provider and store calls).
	ReconcileTimeout time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

type taskKind int

const (
	taskCheck taskKind = iota
	taskEvent
)

type reconcileTask struct {
	seq   uint64
	kind  taskKind
	event domainauth.SessionEvent
}

// taskQueue is an unbounded FIFO drained by a single consumer.
type taskQueue struct {
	mu    sync.Mutex
	items []reconcileTask
	ready chan struct{}
}

func (q *taskQueue) push(t reconcileTask) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *taskQueue) drain() []reconcileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// SessionStore is the single owner of AuthState for one browser session.
//
// Provider events never reconcile inline: the listener only enqueues a task and
// one consumer goroutine drains the queue. Every write carries a sequence
// number taken when the work was scheduled; a write older than the last applied
// one is discarded. After Close every pending or in-flight write is discarded.
type SessionStore struct {
	provider ports.IdentityProvider
	profiles ProfileSource
	cache    ports.AuthCache
	policy   FallbackPolicy
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	queue  taskQueue
	seq    atomic.Uint64

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	done      chan struct{}
	stopped   chan struct{}
	sub       ports.Subscription

	mu          sync.RWMutex
	closed      bool
	state       domainauth.AuthState
	session     *domainauth.Session
	applied     uint64
	// userSeq is the sequence number of the last SetUser. An older
	// reconciliation for the same subject keeps the profile it published.
	userSeq     uint64
	hint        *domainauth.UserProfile
	settled     chan struct{}
	subscribers map[int]chan domainauth.AuthState
	nextSub     int

	// cacheMu orders cache writes against each other and against the applied
	// sequence so a discarded reconciliation never reaches the cache.
	cacheMu sync.Mutex
}

// NewSessionStore constructs a store in the loading state. Call Start to begin.
func NewSessionStore(opts SessionStoreOptions) *SessionStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = FallbackDegrade
	}
	timeout := opts.ReconcileTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionStore{
		provider:    opts.Provider,
		profiles:    opts.Profiles,
		cache:       opts.Cache,
		policy:      policy,
		timeout:     timeout,
		logger:      logger.With("component", "session_store"),
		now:         now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       taskQueue{ready: make(chan struct{}, 1)},
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		state:       domainauth.Loading(),
		settled:     make(chan struct{}),
		subscribers: make(map[int]chan domainauth.AuthState),
	}
}

// Start registers the provider listener, schedules the initial session check
// and starts the consumer. Both paths go through the same reconciliation.
func (s *SessionStore) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.loadHint(ctx)

		sub := s.provider.OnSessionChange(s.onSessionChange)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		s.sub = sub
		s.started = true
		s.mu.Unlock()

		s.enqueue(reconcileTask{kind: taskCheck})
		go s.run()
	})
}

func (s *SessionStore) loadHint(ctx context.Context) {
	if s.cache == nil {
		return
	}
	p, err := s.cache.Load(ctx)
	if err != nil {
		s.logger.DebugContext(ctx, "auth cache load failed", "error", err)
		return
	}
	s.mu.Lock()
	s.hint = p
	s.mu.Unlock()
}

// onSessionChange runs inside the provider's dispatch and must not call back
// into the provider.
func (s *SessionStore) onSessionChange(evt domainauth.SessionEvent) {
	s.enqueue(reconcileTask{kind: taskEvent, event: evt})
}

func (s *SessionStore) enqueue(t reconcileTask) {
	t.seq = s.seq.Add(1)
	s.queue.push(t)
}

// Refresh schedules a fresh provider session check.
func (s *SessionStore) Refresh() {
	s.enqueue(reconcileTask{kind: taskCheck})
}

func (s *SessionStore) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case <-s.queue.ready:
		}
		for _, t := range s.queue.drain() {
			if s.isClosed() {
				return
			}
			s.process(t)
		}
	}
}

func (s *SessionStore) process(t reconcileTask) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	switch t.kind {
	case taskCheck:
		sess, err := s.provider.CurrentSession(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "session check failed, treating as signed out",
				"seq", t.seq,
				"error", domainauth.NewError(domainauth.KindProviderUnavailable, "current session", err))
			s.commitSignedOut(ctx, t.seq)
			return
		}
		s.reconcile(ctx, t.seq, sess, false)
	case taskEvent:
		s.processEvent(ctx, t)
	}
}

func (s *SessionStore) processEvent(ctx context.Context, t reconcileTask) {
	evt := t.event
	s.logger.DebugContext(ctx, "session event", "seq", t.seq, "event", evt.Kind)
	if evt.Kind == domainauth.EventSignedOut || evt.Session == nil {
		s.commitSignedOut(ctx, t.seq)
		return
	}
	if evt.Kind == domainauth.EventTokenRefreshed {
		sess := *evt.Session
		_, ok := s.commit(t.seq, func(cur domainauth.AuthState, curSess *domainauth.Session) (domainauth.AuthState, *domainauth.Session, bool) {
			if cur.Status == domainauth.StatusAuthenticated && cur.User.ID == sess.SubjectID {
				return cur, &sess, true
			}
			return cur, curSess, false
		})
		if ok {
			return
		}
	}
	s.reconcile(ctx, t.seq, evt.Session, false)
}

// stateUpdate derives the next state and session projection from the current
// ones. Returning false leaves the store untouched.
type stateUpdate func(cur domainauth.AuthState, curSess *domainauth.Session) (domainauth.AuthState, *domainauth.Session, bool)

// reconcileResult reports what a reconciliation committed.
type reconcileResult struct {
	state     domainauth.AuthState
	committed bool
	cause     error
}

// reconcile resolves sess and commits the result under seq. With
// callerOwned, ctx belongs to a request: when it ends mid-resolve nothing is
// committed and the provider's own event settles the state instead.
func (s *SessionStore) reconcile(
	ctx context.Context,
	seq uint64,
	sess *domainauth.Session,
	callerOwned bool,
) reconcileResult {
	if sess == nil || sess.Expired(s.now()) {
		return s.commitSignedOut(ctx, seq)
	}
	session := *sess

	p, err := s.profiles.ResolveSession(ctx, session)
	if err != nil && callerOwned && ctx.Err() != nil {
		s.logger.DebugContext(ctx, "caller left during reconciliation", "seq", seq, "error", ctx.Err())
		return reconcileResult{state: s.Snapshot(), cause: ctx.Err()}
	}
	switch {
	case err == nil:
		st, ok := s.commitProfile(seq, session, *p)
		if ok {
			s.persist(ctx, seq, *st.User)
		}
		return reconcileResult{state: st, committed: ok}
	case errors.Is(err, domainauth.ErrProfileNotFound):
		s.logger.WarnContext(ctx, "no profile for proven session",
			"seq", seq,
			"subject_id", session.SubjectID,
			"data_integrity", true,
			"policy", string(s.policy))
		res := s.commitFallback(ctx, seq, session, false)
		res.cause = err
		return res
	default:
		s.logger.WarnContext(ctx, "profile store unavailable during reconciliation",
			"seq", seq,
			"subject_id", session.SubjectID,
			"error", err)
		res := s.commitFallback(ctx, seq, session, true)
		res.cause = err
		return res
	}
}

// commitProfile publishes p for session. When SetUser ran after seq was taken
// and the subject is unchanged, the SetUser profile stays and only the session
// projection moves forward.
func (s *SessionStore) commitProfile(seq uint64, session domainauth.Session, p domainauth.UserProfile) (domainauth.AuthState, bool) {
	return s.commit(seq, func(cur domainauth.AuthState, _ *domainauth.Session) (domainauth.AuthState, *domainauth.Session, bool) {
		if seq < s.userSeq && cur.Status == domainauth.StatusAuthenticated && cur.User.ID == p.ID {
			return cur, &session, true
		}
		return domainauth.Authenticated(p), &session, true
	})
}

// commitFallback handles a proven session without a usable profile row.
//
// transient marks a store outage: a state already authenticated as the same
// subject is kept, and otherwise the student fallback is used whatever the
// policy, since the identity itself is not in doubt. A confirmed missing row
// follows the configured policy.
func (s *SessionStore) commitFallback(
	ctx context.Context,
	seq uint64,
	session domainauth.Session,
	transient bool,
) reconcileResult {
	fallback := domainauth.Unauthenticated()
	if transient || s.policy == FallbackDegrade {
		fallback = domainauth.Authenticated(domainauth.FallbackProfile(session))
	}
	st, ok := s.commit(seq, func(cur domainauth.AuthState, _ *domainauth.Session) (domainauth.AuthState, *domainauth.Session, bool) {
		if transient && cur.Status == domainauth.StatusAuthenticated && cur.User.ID == session.SubjectID {
			return cur, &session, true
		}
		if fallback.Status == domainauth.StatusUnauthenticated {
			return fallback, nil, true
		}
		return fallback, &session, true
	})
	if ok && st.Status == domainauth.StatusUnauthenticated {
		s.clearCache(ctx, seq)
	}
	return reconcileResult{state: st, committed: ok}
}

func (s *SessionStore) commitSignedOut(ctx context.Context, seq uint64) reconcileResult {
	st, ok := s.commitState(seq, nil, domainauth.Unauthenticated())
	if ok {
		s.clearCache(ctx, seq)
	}
	return reconcileResult{state: st, committed: ok}
}

func (s *SessionStore) commitState(
	seq uint64,
	session *domainauth.Session,
	next domainauth.AuthState,
) (domainauth.AuthState, bool) {
	return s.commit(seq, func(domainauth.AuthState, *domainauth.Session) (domainauth.AuthState, *domainauth.Session, bool) {
		return next, session, true
	})
}

// commit applies fn to the current state when seq is newer than the last
// applied write and the store is still live.
func (s *SessionStore) commit(
	seq uint64,
	fn stateUpdate,
) (domainauth.AuthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.state.Clone(), false
	}
	if seq <= s.applied {
		s.logger.Debug("discarding stale reconciliation", "seq", seq, "applied", s.applied)
		return s.state.Clone(), false
	}
	next, sess, ok := fn(s.state, s.session)
	if !ok {
		return s.state.Clone(), false
	}
	s.applied = seq
	s.setLocked(next, sess)
	return s.state.Clone(), true
}

// setLocked replaces state and notifies subscribers. Caller must hold s.mu.
func (s *SessionStore) setLocked(next domainauth.AuthState, sess *domainauth.Session) {
	s.state = next.Clone()
	if sess != nil {
		cp := *sess
		s.session = &cp
	} else {
		s.session = nil
	}
	if s.state.Settled() {
		select {
		case <-s.settled:
		default:
			close(s.settled)
		}
	}
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state.Clone()
	}
}

func (s *SessionStore) persist(ctx context.Context, seq uint64, p domainauth.UserProfile) {
	if s.cache == nil || p.Fallback {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.appliedSeq() != seq || !s.isCurrentUser(p) {
		return
	}
	if err := s.cache.Save(ctx, p); err != nil {
		s.logger.DebugContext(ctx, "auth cache write failed", "error", err)
	}
}

func (s *SessionStore) clearCache(ctx context.Context, seq uint64) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.appliedSeq() != seq {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.DebugContext(ctx, "auth cache clear failed", "error", err)
	}
}

// isCurrentUser reports whether p is exactly the published user. SetUser
// shares the applied sequence, so this keeps a replaced profile off the cache.
func (s *SessionStore) isCurrentUser(p domainauth.UserProfile) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status == domainauth.StatusAuthenticated && s.state.User != nil && *s.state.User == p
}

func (s *SessionStore) appliedSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Reserve takes a sequence number for a reconciliation the caller is about to
// start. Any write scheduled after the reservation, such as a logout, wins over
// it.
func (s *SessionStore) Reserve() uint64 {
	return s.seq.Add(1)
}

// ReconcileNow reserves a sequence number and reconciles session with it.
func (s *SessionStore) ReconcileNow(ctx context.Context, session domainauth.Session) (domainauth.AuthState, error) {
	return s.ReconcileReserved(ctx, s.Reserve(), session)
}

// ReconcileReserved resolves session on the caller's goroutine and commits the
// result under seq, taken earlier from Reserve. It is used when a caller needs
// the profile before the provider's own event has been processed. When a newer
// write wins, the current state is returned if it is authenticated as the same
// subject, otherwise ErrSessionSuperseded. When ctx ends first nothing is
// committed and ctx's error is returned.
func (s *SessionStore) ReconcileReserved(
	ctx context.Context,
	seq uint64,
	session domainauth.Session,
) (domainauth.AuthState, error) {
	res := s.reconcile(ctx, seq, &session, true)
	if !res.committed {
		cur := s.Snapshot()
		if cur.Status == domainauth.StatusAuthenticated && cur.User.ID == session.SubjectID {
			return cur, nil
		}
		if res.cause != nil && ctx.Err() != nil {
			return cur, res.cause
		}
		return cur, domainauth.ErrSessionSuperseded
	}
	if res.state.Status != domainauth.StatusAuthenticated {
		if res.cause != nil {
			return res.state, res.cause
		}
		return res.state, domainauth.ErrSessionSuperseded
	}
	return res.state, nil
}

// SetUser replaces the profile of the authenticated user with fresher data.
// It never changes who is logged in and does not touch the provider session.
// A reconciliation scheduled before the call does not bring the older profile
// back.
func (s *SessionStore) SetUser(ctx context.Context, user domainauth.UserProfile) error {
	seq := s.seq.Add(1)
	s.mu.Lock()
	if s.closed || s.state.Status != domainauth.StatusAuthenticated || s.state.User.ID != user.ID {
		s.mu.Unlock()
		return ErrNoMatchingSession
	}
	user.Fallback = false
	s.userSeq = seq
	s.setLocked(domainauth.Authenticated(user), s.session)
	applied := s.applied
	s.mu.Unlock()

	s.persist(ctx, applied, user)
	return nil
}

// Reset moves the store to unauthenticated and clears the auth cache
// unconditionally. Any reconciliation scheduled before the call is discarded.
func (s *SessionStore) Reset(ctx context.Context) error {
	seq := s.seq.Add(1)
	s.commitState(seq, nil, domainauth.Unauthenticated())
	if s.cache == nil {
		return nil
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear auth cache: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *SessionStore) Snapshot() domainauth.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Session returns a copy of the provider session projection, or nil.
func (s *SessionStore) Session() *domainauth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// Hint returns the last cached profile while the store is still loading.
// It is for display only and never grants access.
func (s *SessionStore) Hint() *domainauth.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Settled() || s.hint == nil {
		return nil
	}
	cp := *s.hint
	return &cp
}

// Subscribe returns a channel carrying the latest state. Slow readers only see
// the most recent value. The current state is delivered immediately.
func (s *SessionStore) Subscribe() (<-chan domainauth.AuthState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domainauth.AuthState, 1)
	if s.closed {
		ch <- s.state.Clone()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.state.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(c)
			}
		})
	}
}

// AwaitSettled blocks until the store leaves loading, ctx ends, or the store closes.
func (s *SessionStore) AwaitSettled(ctx context.Context) (domainauth.AuthState, error) {
	select {
	case <-s.settled:
		return s.Snapshot(), nil
	case <-s.done:
		return s.Snapshot(), ErrStoreClosed
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *SessionStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close stops the consumer, unsubscribes from the provider and discards any
// reconciliation still in flight.
func (s *SessionStore) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		sub := s.sub
		for id, ch := range s.subscribers {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()

		s.cancel()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(s.done)
		if started {
			<-s.stopped
		}
	})
}
