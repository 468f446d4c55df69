package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*FakeProvider)(nil)
	_ ports.ProviderFactory  = (*FakeProviderFactory)(nil)
	_ ports.ProfileStore     = (*MemoryProfileStore)(nil)
	_ ports.AuthCache        = (*MemoryAuthCache)(nil)
	_ ports.AuthCacheFactory = (*MemoryAuthCacheFactory)(nil)
)

// ErrReentrantCall is returned by FakeProvider when it is called from inside its
// own event dispatch.
var ErrReentrantCall = errors.New("provider called from inside its own event dispatch")

// FakeProvider simulates an identity provider. Listeners are dispatched
// synchronously under a dispatch lock. A call that cannot get past that lock
// within ReentrancyWait is treated as a call from inside the dispatch: it fails
// with ErrReentrantCall and is counted.
type FakeProvider struct {
	SignInFunc         func(ctx context.Context, email, password string) (*domainauth.Session, error)
	SignOutFunc        func(ctx context.Context) error
	CurrentSessionFunc func(ctx context.Context) (*domainauth.Session, error)
	SignUpFunc         func(ctx context.Context, in ports.SignUpInput) (string, error)

	mu           sync.Mutex
	session      *domainauth.Session
	listeners    map[int]ports.SessionListener
	nextID       int
	dispatch     chan struct{}
	dispatchOnce sync.Once

	// ReentrancyWait bounds how long a call waits for an in-flight dispatch.
	ReentrancyWait time.Duration

	SignOutCalls   atomic.Int32
	ReentrantCalls atomic.Int32
}

// NewFakeProvider returns a provider with no session.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{listeners: make(map[int]ports.SessionListener)}
}

// SessionFor builds a session for subject with a one hour expiry.
func SessionFor(subject, email string) *domainauth.Session {
	return &domainauth.Session{
		SubjectID:  subject,
		Email:      email,
		ExpiresAt:  time.Now().Add(time.Hour),
		CanRefresh: true,
	}
}

// SetSession replaces the held session without emitting an event.
func (p *FakeProvider) SetSession(s *domainauth.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

func (p *FakeProvider) sem() chan struct{} {
	p.dispatchOnce.Do(func() { p.dispatch = make(chan struct{}, 1) })
	return p.dispatch
}

// reentrant waits for any in-flight dispatch to finish. A dispatch that never
// finishes means the caller is the listener itself.
func (p *FakeProvider) reentrant() bool {
	wait := p.ReentrancyWait
	if wait <= 0 {
		wait = 250 * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case p.sem() <- struct{}{}:
		<-p.sem()
		return false
	case <-timer.C:
		p.ReentrantCalls.Add(1)
		return true
	}
}

func (p *FakeProvider) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if p.reentrant() {
		return nil, ErrReentrantCall
	}
	var (
		s   *domainauth.Session
		err error
	)
	if p.SignInFunc != nil {
		s, err = p.SignInFunc(ctx, email, password)
	} else {
		s = SessionFor("user-"+email, email)
	}
	if err != nil {
		return nil, err
	}
	p.SetSession(s)
	p.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: s})
	return s, nil
}

func (p *FakeProvider) SignOut(ctx context.Context) error {
	if p.reentrant() {
		return ErrReentrantCall
	}
	p.SignOutCalls.Add(1)
	p.SetSession(nil)
	p.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedOut})
	if p.SignOutFunc != nil {
		return p.SignOutFunc(ctx)
	}
	return nil
}

func (p *FakeProvider) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	if p.reentrant() {
		return nil, ErrReentrantCall
	}
	if p.CurrentSessionFunc != nil {
		return p.CurrentSessionFunc(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

func (p *FakeProvider) OnSessionChange(listener ports.SessionListener) ports.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listeners == nil {
		p.listeners = make(map[int]ports.SessionListener)
	}
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	return ports.SubscriptionFunc(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	})
}

func (p *FakeProvider) SignUp(ctx context.Context, in ports.SignUpInput) (string, error) {
	if p.reentrant() {
		return "", ErrReentrantCall
	}
	subject := "user-" + in.Email
	if p.SignUpFunc != nil {
		var err error
		if subject, err = p.SignUpFunc(ctx, in); err != nil {
			return "", err
		}
	}
	s := SessionFor(subject, in.Email)
	p.SetSession(s)
	p.Emit(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: s})
	return subject, nil
}

// Emit dispatches evt to every listener synchronously.
func (p *FakeProvider) Emit(evt domainauth.SessionEvent) {
	p.mu.Lock()
	ls := make([]ports.SessionListener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	p.mu.Unlock()

	p.sem() <- struct{}{}
	defer func() { <-p.sem() }()
	for _, l := range ls {
		l(evt)
	}
}

// ListenerCount returns the number of registered listeners.
func (p *FakeProvider) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// FakeProviderFactory hands out providers per sid, creating them on demand.
type FakeProviderFactory struct {
	mu        sync.Mutex
	providers map[string]*FakeProvider
	Err       error
	// Configure, when set, runs on every provider created afterwards. It is
	// how tests reach providers for session ids they cannot know up front.
	Configure func(sid string, p *FakeProvider)
}

func NewFakeProviderFactory() *FakeProviderFactory {
	return &FakeProviderFactory{providers: make(map[string]*FakeProvider)}
}

func (f *FakeProviderFactory) NewClient(sid string) (ports.IdentityProvider, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Provider(sid), nil
}

// Provider returns the provider for sid, creating it if needed.
func (f *FakeProviderFactory) Provider(sid string) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[sid]
	if !ok {
		p = NewFakeProvider()
		if f.Configure != nil {
			f.Configure(sid, p)
		}
		f.providers[sid] = p
	}
	return p
}

// MemoryProfileStore is an in-memory ProfileStore. Hooks run before the
// default behavior and can inject errors or delays.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]domainauth.UserProfile

	GetHook    func(ctx context.Context, id string) error
	InsertHook func(ctx context.Context, p domainauth.UserProfile) error

	GetCalls atomic.Int32
}

func NewMemoryProfileStore(profiles ...domainauth.UserProfile) *MemoryProfileStore {
	m := &MemoryProfileStore{profiles: make(map[string]domainauth.UserProfile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

// Put stores p, replacing any existing row.
func (m *MemoryProfileStore) Put(p domainauth.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryProfileStore) GetProfile(ctx context.Context, id string) (*domainauth.UserProfile, error) {
	m.GetCalls.Add(1)
	if m.GetHook != nil {
		if err := m.GetHook(ctx, id); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, domainauth.ErrProfileNotFound
	}
	return &p, nil
}

func (m *MemoryProfileStore) InsertProfile(ctx context.Context, p domainauth.UserProfile) (*domainauth.UserProfile, error) {
	if m.InsertHook != nil {
		if err := m.InsertHook(ctx, p); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return nil, ports.ErrProfileExists
	}
	m.profiles[p.ID] = p
	return &p, nil
}

func (m *MemoryProfileStore) GetActive(ctx context.Context, id string) (bool, error) {
	p, err := m.GetProfile(ctx, id)
	if err != nil {
		return false, err
	}
	return p.IsActive, nil
}

func (m *MemoryProfileStore) UpdateName(_ context.Context, id, name string) (*domainauth.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, domainauth.ErrProfileNotFound
	}
	p.Name = name
	m.profiles[id] = p
	return &p, nil
}

// MemoryAuthCache is an in-memory AuthCache.
type MemoryAuthCache struct {
	mu      sync.Mutex
	profile *domainauth.UserProfile

	SaveErr  error
	ClearErr error
}

func (c *MemoryAuthCache) Load(context.Context) (*domainauth.UserProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return nil, nil
	}
	p := *c.profile
	return &p, nil
}

func (c *MemoryAuthCache) Save(_ context.Context, p domainauth.UserProfile) error {
	if c.SaveErr != nil {
		return c.SaveErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = &p
	return nil
}

func (c *MemoryAuthCache) Clear(context.Context) error {
	c.mu.Lock()
	c.profile = nil
	c.mu.Unlock()
	return c.ClearErr
}

// Peek returns the cached profile without going through Load.
func (c *MemoryAuthCache) Peek() *domainauth.UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// MemoryAuthCacheFactory returns one MemoryAuthCache per sid.
type MemoryAuthCacheFactory struct {
	mu     sync.Mutex
	caches map[string]*MemoryAuthCache
}

func NewMemoryAuthCacheFactory() *MemoryAuthCacheFactory {
	return &MemoryAuthCacheFactory{caches: make(map[string]*MemoryAuthCache)}
}

func (f *MemoryAuthCacheFactory) ForSession(sid string) ports.AuthCache {
	return f.Cache(sid)
}

// Cache returns the concrete cache for sid.
func (f *MemoryAuthCacheFactory) Cache(sid string) *MemoryAuthCache {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.caches[sid]
	if !ok {
		c = &MemoryAuthCache{}
		f.caches[sid] = c
	}
	return c
}
