package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// AuthMode selects the identity provider implementation.
type AuthMode string

const (
	// AuthModeOIDC uses an external OIDC/OAuth2 identity provider.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeDev uses the in-process dev identity provider (for development only).
	AuthModeDev AuthMode = "dev"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oidc", "dev":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oidc, dev)", v)
	}
}

// Fallback policies applied when a proven session has no profile row.
const (
	FallbackDegrade = "degrade"
	FallbackDeny    = "deny"
)

// OAuthConfig contains OIDC provider configuration.
type OAuthConfig struct {
	ClientID        string        `env:"CLIENT_ID"        envDefault:"learnhub"`
	ClientSecret    string        `env:"CLIENT_SECRET"`
	Scope           string        `env:"SCOPE"            envDefault:"openid email offline_access"`
	DiscoveryURL    string        `env:"DISCOVERY_URL"`
	RegistrationURL string        `env:"REGISTRATION_URL"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL"      envDefault:"720h"`
}

// DevAuthConfig seeds the dev identity provider.
// Used when AUTH_MODE=dev for development and testing.
type DevAuthConfig struct {
	// Users are email:password pairs.
	Users           []string      `env:"USERS"            envSeparator:";"`
	SigningKey      string        `env:"SIGNING_KEY"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"8h"`
}

// GuardPaths are the landing pages route guards redirect to.
type GuardPaths struct {
	Login    string `env:"LOGIN_PATH"    envDefault:"/login"`
	Admin    string `env:"ADMIN_PATH"    envDefault:"/admin"`
	Teacher  string `env:"TEACHER_PATH"  envDefault:"/teacher"`
	Student  string `env:"STUDENT_PATH"  envDefault:"/student"`
	Checkout string `env:"CHECKOUT_PATH" envDefault:"/checkout"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oidc"`

	OAuth   OAuthConfig   `envPrefix:"OAUTH_"`
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// FallbackPolicy is degrade or deny.
	FallbackPolicy string `env:"AUTH_FALLBACK_POLICY" envDefault:"degrade"`
	// GuardWait bounds how long a guarded request waits for a loading session.
	GuardWait     time.Duration `env:"AUTH_GUARD_WAIT"     envDefault:"3s"`
	AutoProvision bool          `env:"AUTH_AUTO_PROVISION" envDefault:"false"`

	ResolveRetries    int           `env:"AUTH_RESOLVE_RETRIES"     envDefault:"2"`
	ResolveRetryDelay time.Duration `env:"AUTH_RESOLVE_RETRY_DELAY" envDefault:"200ms"`
	ReconcileTimeout  time.Duration `env:"AUTH_RECONCILE_TIMEOUT"   envDefault:"10s"`
	LogoutTimeout     time.Duration `env:"AUTH_LOGOUT_TIMEOUT"      envDefault:"5s"`

	Paths GuardPaths `envPrefix:"AUTH_"`
}

// Sanitize normalises values and clamps durations.
func (a *AuthConfig) Sanitize() {
	a.FallbackPolicy = strings.ToLower(strings.TrimSpace(a.FallbackPolicy))
	if a.ResolveRetries < 0 {
		a.ResolveRetries = 0
	}
	if a.ResolveRetries > 10 {
		a.ResolveRetries = 10
	}
	if a.GuardWait < 0 {
		a.GuardWait = 0
	}
	a.Paths.Login = cleanPath(a.Paths.Login, "/login")
	a.Paths.Admin = cleanPath(a.Paths.Admin, "/admin")
	a.Paths.Teacher = cleanPath(a.Paths.Teacher, "/teacher")
	a.Paths.Student = cleanPath(a.Paths.Student, "/student")
	a.Paths.Checkout = cleanPath(a.Paths.Checkout, "/checkout")
}

// Validate checks mode-specific requirements.
func (a *AuthConfig) Validate(isDev bool) error {
	var errs []error
	switch a.Mode {
	case AuthModeOIDC:
		if a.OAuth.DiscoveryURL == "" {
			errs = append(errs, errors.New("OAUTH_DISCOVERY_URL is required when AUTH_MODE=oidc"))
		}
		if a.OAuth.ClientID == "" {
			errs = append(errs, errors.New("OAUTH_CLIENT_ID is required when AUTH_MODE=oidc"))
		}
	case AuthModeDev:
		if !isDev {
			errs = append(errs, errors.New("AUTH_MODE=dev requires DEV=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid AUTH_MODE %q", a.Mode))
	}
	switch a.FallbackPolicy {
	case FallbackDegrade, FallbackDeny:
	default:
		errs = append(errs, fmt.Errorf("invalid AUTH_FALLBACK_POLICY %q (valid options: degrade, deny)", a.FallbackPolicy))
	}
	return errors.Join(errs...)
}

func cleanPath(p, def string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return def
	}
	return path.Clean(p)
}
