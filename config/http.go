package config

import (
	"errors"
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the base URL of the application (e.g., "https://learn.example.com").
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"    envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	if h.ReadHeaderTimeout <= 0 {
		h.ReadHeaderTimeout = 10 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (h *HTTPConfig) SecureCookies() bool {
	return strings.HasPrefix(h.BaseURL, "https://")
}

// SessionConfig controls the browser session cookie and the per-session client registry.
type SessionConfig struct {
	CookieName string `env:"SESSION_COOKIE_NAME" envDefault:"learnhub_sid"`
	// HashKey authenticates the cookie; BlockKey (optional, 16/24/32 bytes) encrypts it.
	HashKey      string        `env:"SESSION_HASH_KEY"`
	BlockKey     string        `env:"SESSION_BLOCK_KEY"`
	CookieMaxAge time.Duration `env:"SESSION_COOKIE_MAX_AGE" envDefault:"720h"`

	Capacity      int           `env:"SESSION_REGISTRY_CAPACITY" envDefault:"10000"`
	IdleTTL       time.Duration `env:"SESSION_IDLE_TTL"          envDefault:"30m"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL"    envDefault:"1m"`
	CacheTTL      time.Duration `env:"SESSION_CACHE_TTL"         envDefault:"24h"`
}

// Sanitize clamps registry settings.
func (s *SessionConfig) Sanitize() {
	s.CookieName = strings.TrimSpace(s.CookieName)
	if s.CookieName == "" {
		s.CookieName = "learnhub_sid"
	}
	if s.Capacity <= 0 {
		s.Capacity = 10000
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Minute
	}
}

// Validate requires signing keys outside development.
func (s *SessionConfig) Validate(isDev bool) error {
	if s.HashKey == "" {
		if isDev {
			return nil
		}
		return errors.New("SESSION_HASH_KEY is required outside development")
	}
	if len(s.HashKey) < 32 {
		return errors.New("SESSION_HASH_KEY must be at least 32 bytes")
	}
	switch len(s.BlockKey) {
	case 0, 16, 24, 32:
		return nil
	default:
		return errors.New("SESSION_BLOCK_KEY must be 16, 24 or 32 bytes")
	}
}
