package devauth

// Package devauth provides an in-process identity provider for local development.
// Accounts live in memory with bcrypt hashes; sessions are HS256 tokens kept per
// browser session id.

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "learnhub-dev"

// Credential seeds one dev account.
type Credential struct {
	Email    string
	Password string
}

// Config controls the dev identity provider.
type Config struct {
	Users           []Credential
	SigningKey      []byte        // random when empty
	SessionDuration time.Duration // default 8h when zero
	BcryptCost      int           // default bcrypt.MinCost when zero
	Now             func() time.Time
}

// ParseCredentials parses "email:password" entries.
func ParseCredentials(entries []string) ([]Credential, error) {
	out := make([]Credential, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		email, password, ok := strings.Cut(e, ":")
		if !ok || strings.TrimSpace(email) == "" || password == "" {
			return nil, fmt.Errorf("dev auth: invalid user entry %q (want email:password)", e)
		}
		out = append(out, Credential{Email: strings.TrimSpace(email), Password: password})
	}
	return out, nil
}

type account struct {
	subject string
	email   string
	hash    []byte
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Directory is the shared account database and token storage. It hands out
// one Client per browser session id.
type Directory struct {
	key  []byte
	ttl  time.Duration
	cost int
	now  func() time.Time

	mu       sync.Mutex
	accounts map[string]*account    // by normalized email
	tokens   map[string]storedToken // by sid
}

type storedToken struct {
	raw     string
	expires time.Time
}

// NewDirectory constructs a Directory seeded with cfg.Users.
func NewDirectory(cfg Config) (*Directory, error) {
	key := cfg.SigningKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("dev auth: generate signing key: %w", err)
		}
	}
	ttl := cfg.SessionDuration
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.MinCost
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	d := &Directory{
		key:      key,
		ttl:      ttl,
		cost:     cost,
		now:      now,
		accounts: make(map[string]*account),
		tokens:   make(map[string]storedToken),
	}
	for _, u := range cfg.Users {
		if _, err := d.addAccount(u.Email, u.Password); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SubjectFor returns the stable subject id for email.
func SubjectFor(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalize(email))).String()
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (d *Directory) addAccount(email, password string) (*account, error) {
	email = normalize(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return nil, domainauth.NewError(domainauth.KindRegistrationRejected, "invalid email address", err)
	}
	if len(password) < 8 {
		return nil, domainauth.NewError(domainauth.KindRegistrationRejected, "password must be at least 8 characters", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("dev auth: hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.accounts[email]; exists {
		return nil, domainauth.NewError(domainauth.KindRegistrationRejected, "email already registered", nil)
	}
	a := &account{subject: SubjectFor(email), email: email, hash: hash}
	d.accounts[email] = a
	return a, nil
}

func (d *Directory) lookup(email string) (*account, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[normalize(email)]
	return a, ok
}

func (d *Directory) mint(a *account) (string, *domainauth.Session, error) {
	now := d.now()
	exp := now.Add(d.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: a.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   a.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(d.key)
	if err != nil {
		return "", nil, fmt.Errorf("dev auth: sign token: %w", err)
	}
	return signed, &domainauth.Session{SubjectID: a.subject, Email: a.email, ExpiresAt: exp, CanRefresh: true}, nil
}

// parse validates a stored token. An expired token yields jwt.ErrTokenExpired.
func (d *Directory) parse(raw string) (*domainauth.Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return d.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(d.now),
	)
	if err != nil {
		return nil, err
	}
	return &domainauth.Session{
		SubjectID:  c.Subject,
		Email:      c.Email,
		ExpiresAt:  c.ExpiresAt.Time,
		CanRefresh: true,
	}, nil
}

func (d *Directory) token(sid string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens[sid].raw
}

// setToken stores tok for sid, or forgets sid when tok is empty. Storing also
// drops every token that has expired, so abandoned browser sessions do not
// accumulate.
func (d *Directory) setToken(sid, tok string, expires time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tok == "" {
		delete(d.tokens, sid)
		return
	}
	now := d.now()
	for other, st := range d.tokens {
		if !st.expires.After(now) {
			delete(d.tokens, other)
		}
	}
	d.tokens[sid] = storedToken{raw: tok, expires: expires}
}

func (d *Directory) tokenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

// NewClient returns a provider client bound to sid's token storage.
func (d *Directory) NewClient(sid string) (ports.IdentityProvider, error) {
	if sid == "" {
		return nil, errors.New("dev auth: session id is required")
	}
	return &Client{dir: d, sid: sid, listeners: make(map[int]ports.SessionListener)}, nil
}

// Client is the per-browser-session provider handle. Every operation holds the
// client lock, and listeners run under it, so a listener that calls back into
// the client deadlocks, as with many hosted providers.
type Client struct {
	dir *Directory
	sid string

	mu        sync.Mutex
	listeners map[int]ports.SessionListener
	nextID    int
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domainauth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.dir.lookup(email)
	if !ok {
		return nil, domainauth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return nil, domainauth.ErrInvalidCredentials
	}
	return c.establishLocked(a)
}

func (c *Client) establishLocked(a *account) (*domainauth.Session, error) {
	tok, sess, err := c.dir.mint(a)
	if err != nil {
		return nil, err
	}
	c.dir.setToken(c.sid, tok, sess.ExpiresAt)
	c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedIn, Session: sess})
	return sess, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.dir.token(c.sid) != ""
	c.dir.setToken(c.sid, "", time.Time{})
	if had {
		c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedOut})
	}
	return ctx.Err()
}

// CurrentSession returns the stored session. Expired tokens end the session;
// tokens in their last quarter of life are reissued.
func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.dir.token(c.sid)
	if raw == "" {
		return nil, nil
	}
	sess, err := c.dir.parse(raw)
	if err != nil {
		c.dir.setToken(c.sid, "", time.Time{})
		c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventSignedOut})
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil
		}
		return nil, fmt.Errorf("dev auth: invalid stored token: %w", err)
	}
	if sess.ExpiresAt.Sub(c.dir.now()) < c.dir.ttl/4 {
		if a, ok := c.dir.lookup(sess.Email); ok && a.subject == sess.SubjectID {
			tok, fresh, mintErr := c.dir.mint(a)
			if mintErr == nil {
				c.dir.setToken(c.sid, tok, fresh.ExpiresAt)
				c.dispatchLocked(domainauth.SessionEvent{Kind: domainauth.EventTokenRefreshed, Session: fresh})
				return fresh, nil
			}
		}
	}
	return sess, nil
}

func (c *Client) OnSessionChange(listener ports.SessionListener) ports.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	return ports.SubscriptionFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	})
}

func (c *Client) SignUp(ctx context.Context, in ports.SignUpInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	a, err := c.dir.addAccount(in.Email, in.Password)
	if err != nil {
		return "", err
	}
	if _, err := c.establishLocked(a); err != nil {
		return "", err
	}
	return a.subject, nil
}

// dispatchLocked calls listeners synchronously. Caller must hold c.mu.
func (c *Client) dispatchLocked(evt domainauth.SessionEvent) {
	for _, l := range c.listeners {
		l(evt)
	}
}
