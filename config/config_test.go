package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func validHashKey() string { return strings.Repeat("k", 32) }

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "OIDC")
	t.Setenv("OAUTH_CLIENT_ID", "app-client")
	t.Setenv("OAUTH_CLIENT_SECRET", "super-secret")
	t.Setenv("OAUTH_DISCOVERY_URL", "https://login.example.com/.well-known/openid-configuration")
	t.Setenv("OAUTH_REGISTRATION_URL", "https://login.example.com/register")
	t.Setenv("OAUTH_SCOPE", "openid email")
	t.Setenv("DEV_AUTH_USERS", "a@example.com:pw-one-long;b@example.com:pw-two-long")
	t.Setenv("AUTH_FALLBACK_POLICY", "deny")
	t.Setenv("AUTH_GUARD_WAIT", "1500ms")
	t.Setenv("AUTH_AUTO_PROVISION", "true")
	t.Setenv("AUTH_STUDENT_PATH", "/learn")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	expected := AuthConfig{
		Mode: AuthModeOIDC,
		OAuth: OAuthConfig{
			ClientID:        "app-client",
			ClientSecret:    "super-secret",
			Scope:           "openid email",
			DiscoveryURL:    "https://login.example.com/.well-known/openid-configuration",
			RegistrationURL: "https://login.example.com/register",
			RefreshTTL:      720 * time.Hour,
		},
		DevAuth: DevAuthConfig{
			Users:           []string{"a@example.com:pw-one-long", "b@example.com:pw-two-long"},
			SessionDuration: 8 * time.Hour,
		},
		FallbackPolicy:    "deny",
		GuardWait:         1500 * time.Millisecond,
		AutoProvision:     true,
		ResolveRetries:    2,
		ResolveRetryDelay: 200 * time.Millisecond,
		ReconcileTimeout:  10 * time.Second,
		LogoutTimeout:     5 * time.Second,
		Paths: GuardPaths{
			Login:    "/login",
			Admin:    "/admin",
			Teacher:  "/teacher",
			Student:  "/learn",
			Checkout: "/checkout",
		},
	}

	if !reflect.DeepEqual(cfg.Auth, expected) {
		t.Fatalf("unexpected auth configuration:\nexpected: %#v\ngot:      %#v", expected, cfg.Auth)
	}
}

func TestAppConfig_InvalidAuthMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "saml")

	var cfg AppConfig
	if err := env.Parse(&cfg); err == nil {
		t.Fatal("expected parse error for unknown auth mode")
	}
}

func TestAuthConfig_Sanitize(t *testing.T) {
	a := AuthConfig{
		FallbackPolicy: " Degrade ",
		ResolveRetries: -3,
		GuardWait:      -time.Second,
		Paths: GuardPaths{
			Login:    "//evil.example.com",
			Admin:    "admin",
			Teacher:  "/teacher/../staff/",
			Student:  "",
			Checkout: "/checkout",
		},
	}
	a.Sanitize()

	if a.FallbackPolicy != FallbackDegrade {
		t.Errorf("FallbackPolicy = %q", a.FallbackPolicy)
	}
	if a.ResolveRetries != 0 || a.GuardWait != 0 {
		t.Errorf("expected clamped retries and wait, got %d and %v", a.ResolveRetries, a.GuardWait)
	}
	want := GuardPaths{Login: "/login", Admin: "/admin", Teacher: "/staff", Student: "/student", Checkout: "/checkout"}
	if a.Paths != want {
		t.Errorf("paths = %#v, want %#v", a.Paths, want)
	}
}

func TestAppConfig_Validate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			LogLevel: "info",
			Auth: AuthConfig{
				Mode:           AuthModeOIDC,
				OAuth:          OAuthConfig{ClientID: "c", DiscoveryURL: "https://idp.example.com"},
				FallbackPolicy: FallbackDegrade,
			},
			Redis:   RedisConfig{URI: "localhost:6379"},
			Session: SessionConfig{HashKey: validHashKey()},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "valid oidc", mutate: func(*AppConfig) {}},
		{
			name:    "oidc without discovery",
			mutate:  func(c *AppConfig) { c.Auth.OAuth.DiscoveryURL = "" },
			wantErr: "OAUTH_DISCOVERY_URL",
		},
		{
			name:    "oidc without redis",
			mutate:  func(c *AppConfig) { c.Redis = RedisConfig{} },
			wantErr: "redis is required",
		},
		{
			name:    "dev mode outside development",
			mutate:  func(c *AppConfig) { c.Auth.Mode = AuthModeDev },
			wantErr: "requires DEV=true",
		},
		{
			name: "dev mode in development without keys",
			mutate: func(c *AppConfig) {
				c.IsDev = true
				c.Auth.Mode = AuthModeDev
				c.Session.HashKey = ""
			},
		},
		{
			name:    "unknown fallback policy",
			mutate:  func(c *AppConfig) { c.Auth.FallbackPolicy = "guess" },
			wantErr: "AUTH_FALLBACK_POLICY",
		},
		{
			name:    "missing hash key in production",
			mutate:  func(c *AppConfig) { c.Session.HashKey = "" },
			wantErr: "SESSION_HASH_KEY is required",
		},
		{
			name:    "short hash key",
			mutate:  func(c *AppConfig) { c.Session.HashKey = "short" },
			wantErr: "at least 32 bytes",
		},
		{
			name:    "bad block key",
			mutate:  func(c *AppConfig) { c.Session.BlockKey = "abc" },
			wantErr: "SESSION_BLOCK_KEY",
		},
		{
			name:    "bad log level",
			mutate:  func(c *AppConfig) { c.LogLevel = "verbose" },
			wantErr: "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestAppConfig_DetectDevModeFromNodeEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "development")

	var cfg AppConfig
	cfg.Sanitize()
	if !cfg.IsDev {
		t.Fatal("expected NODE_ENV=development to enable dev mode")
	}
}

func TestSessionConfig_Sanitize(t *testing.T) {
	s := SessionConfig{CookieName: "  ", Capacity: -1}
	s.Sanitize()
	if s.CookieName != "learnhub_sid" || s.Capacity != 10000 || s.SweepInterval != time.Minute {
		t.Fatalf("unexpected sanitized session config: %#v", s)
	}
}

func TestHTTPConfig_SecureCookies(t *testing.T) {
	h := HTTPConfig{BaseURL: "https://learn.example.com/"}
	h.Sanitize()
	if h.BaseURL != "https://learn.example.com" || !h.SecureCookies() {
		t.Fatalf("unexpected http config: %#v", h)
	}
	if (&HTTPConfig{BaseURL: "http://localhost:8080"}).SecureCookies() {
		t.Fatal("plain http should not use secure cookies")
	}
}

func TestMetricsConfig_Sanitize(t *testing.T) {
	cfg := MetricsConfig{Enabled: true, StatsdAddress: " ", Prefix: " .app. "}
	cfg.Sanitize()
	if cfg.IsEnabled() {
		t.Fatalf("expected metrics disabled without an address")
	}
	if cfg.Prefix != "app" {
		t.Fatalf("expected trimmed prefix, got %q", cfg.Prefix)
	}

	cfg = MetricsConfig{Enabled: true, StatsdAddress: " statsd:8125 "}
	cfg.Sanitize()
	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:8125" || cfg.Prefix != "learnhub" {
		t.Fatalf("unexpected sanitized config: %+v", cfg)
	}
}
