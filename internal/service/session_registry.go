package service

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
)

// Client bundles the auth components owned by one browser session.
type Client struct {
	SID      string
	Store    *SessionStore
	Actions  *AuthActions
	resolver *ProfileResolver
	logger   *slog.Logger
}

// RefreshActivation re-reads the activation flag of an authenticated student
// and publishes it when it changed. Other roles are returned unchanged.
// On a store error the current state is returned with the error.
func (c *Client) RefreshActivation(ctx context.Context) (domainauth.AuthState, error) {
	st := c.Store.Snapshot()
	if st.Status != domainauth.StatusAuthenticated || st.User.Role != domainauth.RoleStudent || st.User.Fallback {
		return st, nil
	}
	active, err := c.resolver.RefreshActive(ctx, st.User.ID)
	if err != nil {
		return st, err
	}
	if active == st.User.IsActive {
		return st, nil
	}
	updated := *st.User
	updated.IsActive = active
	if err := c.Store.SetUser(ctx, updated); err != nil {
		return c.Store.Snapshot(), nil
	}
	c.logger.InfoContext(ctx, "activation changed", "subject_id", updated.ID, "active", active)
	return c.Store.Snapshot(), nil
}

// Close tears the client down.
func (c *Client) Close() { c.Store.Close() }

// ClientDeps are the shared dependencies used to build every Client.
type ClientDeps struct {
	Providers        ports.ProviderFactory
	Caches           ports.AuthCacheFactory
	Resolver         *ProfileResolver
	Policy           FallbackPolicy
	ReconcileTimeout time.Duration
	LoginPath        string
	LogoutTimeout    time.Duration
	Logger           *slog.Logger
}

// SessionRegistryOptions configures a SessionRegistry.
type SessionRegistryOptions struct {
	Deps     ClientDeps
	Capacity int
	// IdleTTL evicts clients not used for this long. Zero disables expiry.
	IdleTTL time.Duration
	Now     func() time.Time
}

type registryEntry struct {
	sid      string
	client   *Client
	lastUsed time.Time
}

// SessionRegistry keeps one Client per browser session id in an LRU with an
// idle TTL. Evicted clients are closed, which discards their in-flight work.
type SessionRegistry struct {
	deps ClientDeps
	cap  int
	ttl  time.Duration
	now  func() time.Time

	mu     sync.Mutex
	ll     *list.List
	items  map[string]*list.Element
	closed bool

	created atomic.Uint64
	evicts  atomic.Uint64
}

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("session registry closed")

// NewSessionRegistry constructs a registry. Capacity <= 0 uses 10000.
func NewSessionRegistry(opts SessionRegistryOptions) *SessionRegistry {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Deps.Logger == nil {
		opts.Deps.Logger = slog.Default()
	}
	return &SessionRegistry{
		deps:  opts.Deps,
		cap:   capacity,
		ttl:   opts.IdleTTL,
		now:   now,
		ll:    list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

// Get returns the live client for sid, creating and starting one when absent
// or expired. A new client always begins with a fresh provider session check.
func (r *SessionRegistry) Get(ctx context.Context, sid string) (*Client, error) {
	if sid == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	var stale []*Client
	if el, ok := r.items[sid]; ok {
		ent := el.Value.(*registryEntry)
		if !r.isExpired(ent) {
			ent.lastUsed = r.now()
			r.ll.MoveToFront(el)
			r.mu.Unlock()
			return ent.client, nil
		}
		stale = append(stale, r.removeElement(el))
	}
	r.mu.Unlock()
	closeClients(stale)

	client, err := r.build(ctx, sid)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		client.Close()
		return nil, ErrRegistryClosed
	}
	if el, ok := r.items[sid]; ok {
		// Another request built a client first; keep that one.
		ent := el.Value.(*registryEntry)
		ent.lastUsed = r.now()
		r.ll.MoveToFront(el)
		r.mu.Unlock()
		client.Close()
		return ent.client, nil
	}
	el := r.ll.PushFront(&registryEntry{sid: sid, client: client, lastUsed: r.now()})
	r.items[sid] = el
	evicted := r.evictIfNeeded()
	r.mu.Unlock()

	closeClients(evicted)
	return client, nil
}

func (r *SessionRegistry) build(ctx context.Context, sid string) (*Client, error) {
	provider, err := r.deps.Providers.NewClient(sid)
	if err != nil {
		return nil, fmt.Errorf("create identity provider client: %w", err)
	}
	logger := r.deps.Logger.With("sid_hash", shortHash(sid))

	var cache ports.AuthCache
	if r.deps.Caches != nil {
		cache = r.deps.Caches.ForSession(sid)
	}
	store := NewSessionStore(SessionStoreOptions{
		Provider:         provider,
		Profiles:         r.deps.Resolver,
		Cache:            cache,
		Policy:           r.deps.Policy,
		ReconcileTimeout: r.deps.ReconcileTimeout,
		Logger:           logger,
	})
	logout := NewLogoutCoordinator(LogoutCoordinatorOptions{
		Provider:        provider,
		Local:           store,
		LoginPath:       r.deps.LoginPath,
		ProviderTimeout: r.deps.LogoutTimeout,
		Logger:          logger,
	})
	actions := NewAuthActions(AuthActionsOptions{
		Provider: provider,
		Store:    store,
		Profiles: r.deps.Resolver,
		Logout:   logout,
		Logger:   logger,
	})
	store.Start(ctx)
	r.created.Add(1)

	return &Client{
		SID:      sid,
		Store:    store,
		Actions:  actions,
		resolver: r.deps.Resolver,
		logger:   logger,
	}, nil
}

// Remove closes and forgets the client for sid.
func (r *SessionRegistry) Remove(sid string) bool {
	r.mu.Lock()
	el, ok := r.items[sid]
	var c *Client
	if ok {
		c = r.removeElement(el)
	}
	r.mu.Unlock()
	if c != nil {
		c.Close()
	}
	return ok
}

// Sweep closes every expired client and returns how many were removed.
func (r *SessionRegistry) Sweep() int {
	r.mu.Lock()
	var expired []*Client
	for el := r.ll.Back(); el != nil; {
		prev := el.Prev()
		if ent := el.Value.(*registryEntry); r.isExpired(ent) {
			expired = append(expired, r.removeElement(el))
			r.evicts.Add(1)
		}
		el = prev
	}
	r.mu.Unlock()
	closeClients(expired)
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *SessionRegistry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.deps.Logger.DebugContext(ctx, "swept idle sessions", "count", n)
			}
		}
	}
}

// Len returns the number of live clients.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ll.Len()
}

// RegistryStats are simple counters for observability.
type RegistryStats struct {
	Created, Evictions uint64
	Size, Capacity     int
}

// Stats returns a snapshot of counters and sizes.
func (r *SessionRegistry) Stats() RegistryStats {
	return RegistryStats{
		Created:   r.created.Load(),
		Evictions: r.evicts.Load(),
		Size:      r.Len(),
		Capacity:  r.cap,
	}
}

// Close closes every client. Get fails afterwards.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Client, 0, r.ll.Len())
	for el := r.ll.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value.(*registryEntry).client)
	}
	r.ll.Init()
	r.items = make(map[string]*list.Element)
	r.mu.Unlock()
	closeClients(all)
}

// Helpers (caller must hold r.mu).
func (r *SessionRegistry) isExpired(e *registryEntry) bool {
	if r.ttl <= 0 {
		return false
	}
	return r.now().Sub(e.lastUsed) > r.ttl
}

func (r *SessionRegistry) removeElement(el *list.Element) *Client {
	r.ll.Remove(el)
	ent := el.Value.(*registryEntry)
	delete(r.items, ent.sid)
	return ent.client
}

func (r *SessionRegistry) evictIfNeeded() []*Client {
	var out []*Client
	for r.ll.Len() > r.cap {
		el := r.ll.Back()
		if el == nil {
			break
		}
		out = append(out, r.removeElement(el))
		r.evicts.Add(1)
	}
	return out
}

func closeClients(cs []*Client) {
	for _, c := range cs {
		c.Close()
	}
}

// shortHash keeps raw session ids out of logs.
func shortHash(sid string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sid))
	return fmt.Sprintf("%08x", h.Sum32())
}
