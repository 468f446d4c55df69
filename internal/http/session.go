package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/target/learnhub/internal/service"
)

// ClientSource hands out the per-browser client for a session id.
type ClientSource interface {
	Get(ctx context.Context, sid string) (*service.Client, error)
}

// SessionClients is a ClientSource that can also retire a session id.
type SessionClients interface {
	ClientSource
	Remove(sid string) bool
}

// SessionCookieConfig configures the signed browser-session cookie.
type SessionCookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
	// HashKey authenticates the cookie value; a random key is used when empty,
	// which invalidates every cookie on restart.
	HashKey []byte
	// BlockKey optionally encrypts the value (16, 24 or 32 bytes).
	BlockKey []byte
}

// SessionCookies reads and writes the sid cookie.
type SessionCookies struct {
	codec  *securecookie.SecureCookie
	name   string
	domain string
	secure bool
	maxAge time.Duration
}

// NewSessionCookies builds the cookie codec.
func NewSessionCookies(cfg SessionCookieConfig) *SessionCookies {
	hashKey := cfg.HashKey
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	blockKey := cfg.BlockKey
	// A non-nil empty key would be handed to AES.
	if len(blockKey) == 0 {
		blockKey = nil
	}
	name := cfg.Name
	if name == "" {
		name = "learnhub_sid"
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge / time.Second))
	return &SessionCookies{
		codec:  codec,
		name:   name,
		domain: cfg.Domain,
		secure: cfg.Secure,
		maxAge: maxAge,
	}
}

// Read returns the sid carried by r. Missing, expired or tampered cookies
// report false.
func (c *SessionCookies) Read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.name)
	if err != nil {
		return "", false
	}
	var sid string
	if err := c.codec.Decode(c.name, ck.Value, &sid); err != nil || sid == "" {
		return "", false
	}
	return sid, true
}

// Write sets the cookie for sid, replacing any sid cookie already set on w.
func (c *SessionCookies) Write(w http.ResponseWriter, sid string) error {
	encoded, err := c.codec.Encode(c.name, sid)
	if err != nil {
		return err
	}
	dropSetCookie(w.Header(), c.name)
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    encoded,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   int(c.maxAge / time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func dropSetCookie(h http.Header, name string) {
	prefix := name + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		h.Del("Set-Cookie")
		return
	}
	h["Set-Cookie"] = kept
}

// SessionRotation moves a browser to a new session id whenever it signs in or
// out. Sign-in runs on a fresh id that only reaches the browser once it
// succeeds, so an id handed out before authentication never becomes
// authenticated. Sign-out retires the old id, so nothing the provider still
// keeps under it can be reached from this browser again.
type SessionRotation struct {
	Cookies *SessionCookies
	Clients SessionClients
	// NewSID mints session ids; uuid.NewString when nil.
	NewSID func() string
}

func (s *SessionRotation) mint() string {
	if s.NewSID != nil {
		return s.NewSID()
	}
	return uuid.NewString()
}

// Begin starts a client on a fresh session id for a sign-in attempt.
func (s *SessionRotation) Begin(ctx context.Context) (*service.Client, error) {
	return s.Clients.Get(ctx, s.mint())
}

// Commit points the browser at next and retires prev.
func (s *SessionRotation) Commit(w http.ResponseWriter, prev, next *service.Client) error {
	if err := s.Cookies.Write(w, next.SID); err != nil {
		return err
	}
	if prev != nil && prev.SID != next.SID {
		s.Clients.Remove(prev.SID)
	}
	return nil
}

// Abandon retires a client whose sign-in attempt failed. Its id was never sent
// to the browser.
func (s *SessionRotation) Abandon(c *service.Client) {
	if c != nil {
		s.Clients.Remove(c.SID)
	}
}

// Retire drops prev and gives the browser a new, anonymous session id. The
// client for the new id is built on the next request.
func (s *SessionRotation) Retire(w http.ResponseWriter, prev *service.Client) error {
	if err := s.Cookies.Write(w, s.mint()); err != nil {
		return err
	}
	if prev != nil {
		s.Clients.Remove(prev.SID)
	}
	return nil
}

// BrowserSession attaches the browser's client to the request context,
// issuing a fresh sid cookie when the request carries none.
func BrowserSession(cookies *SessionCookies, clients ClientSource, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid, ok := cookies.Read(r)
			if !ok {
				sid = uuid.NewString()
				if err := cookies.Write(w, sid); err != nil {
					logger.ErrorContext(r.Context(), "encode session cookie", "error", err)
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "session_unavailable",
						Err:     errors.New("could not start a browser session"),
					})
					return
				}
			}

			client, err := clients.Get(r.Context(), sid)
			if err != nil {
				logger.ErrorContext(r.Context(), "load browser session", "error", err)
				WriteError(w, ErrorParams{
					Code:      http.StatusServiceUnavailable,
					ErrCode:   "session_unavailable",
					Err:       errors.New("browser session unavailable"),
					Retryable: true,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClientInContext(r.Context(), client)))
		})
	}
}
