package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

// GuardPaths are the navigation targets guards redirect to.
type GuardPaths struct {
	Login    string
	Checkout string
	Admin    string
	Teacher  string
	Student  string
}

// LandingFor returns the default landing area of role.
func (p GuardPaths) LandingFor(role domainauth.Role) string {
	switch role {
	case domainauth.RoleAdmin:
		return p.Admin
	case domainauth.RoleTeacher:
		return p.Teacher
	case domainauth.RoleStudent:
		return p.Student
	default:
		return p.Login
	}
}

// LoginURL returns the login entry point carrying the requested location.
func (p GuardPaths) LoginURL(requested string) string {
	u := url.URL{Path: p.Login}
	if requested != "" && requested != "/" && requested != p.Login {
		q := url.Values{}
		q.Set("redirect_uri", safeRedirectPath(requested))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// GuardPolicy is what one guarded route requires. An empty Roles set admits
// every role.
type GuardPolicy struct {
	Roles         []domainauth.Role
	RequireActive bool
}

// Outcome is the result of evaluating a guard.
type Outcome int

const (
	// OutcomeWait means the state is still loading; no redirect is decided.
	OutcomeWait Outcome = iota
	// OutcomeLogin sends an unauthenticated visitor to login.
	OutcomeLogin
	// OutcomeLanding sends an authenticated user to their role's landing area.
	OutcomeLanding
	// OutcomeActivate sends an inactive student to checkout.
	OutcomeActivate
	// OutcomeForbidden is used when the redirect target is the requested page itself.
	OutcomeForbidden
	// OutcomeAllow renders the protected handler.
	OutcomeAllow
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWait:
		return "wait"
	case OutcomeLogin:
		return "login"
	case OutcomeLanding:
		return "landing"
	case OutcomeActivate:
		return "activate"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeAllow:
		return "allow"
	default:
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
}

// Decision is the outcome of a guard together with its navigation target.
type Decision struct {
	Outcome    Outcome
	RedirectTo string
}

// Evaluate decides what a guard does for st when requested is being visited.
// It is pure; the middleware performs the side effects.
func Evaluate(st domainauth.AuthState, policy GuardPolicy, paths GuardPaths, requested string) Decision {
	switch st.Status {
	case domainauth.StatusLoading:
		return Decision{Outcome: OutcomeWait}
	case domainauth.StatusUnauthenticated:
		return Decision{Outcome: OutcomeLogin, RedirectTo: paths.LoginURL(requested)}
	case domainauth.StatusAuthenticated:
	default:
		return Decision{Outcome: OutcomeLogin, RedirectTo: paths.LoginURL(requested)}
	}
	if st.User == nil {
		return Decision{Outcome: OutcomeLogin, RedirectTo: paths.LoginURL(requested)}
	}

	user := st.User
	if len(policy.Roles) > 0 && !slices.Contains(policy.Roles, user.Role) {
		return redirectUnlessSelf(OutcomeLanding, paths.LandingFor(user.Role), requested)
	}
	if policy.RequireActive && !user.Active() {
		return redirectUnlessSelf(OutcomeActivate, paths.Checkout, requested)
	}
	return Decision{Outcome: OutcomeAllow}
}

func redirectUnlessSelf(o Outcome, target, requested string) Decision {
	if target == "" || samePath(target, requested) {
		return Decision{Outcome: OutcomeForbidden}
	}
	return Decision{Outcome: o, RedirectTo: target}
}

func samePath(target, requested string) bool {
	u, err := url.Parse(requested)
	if err != nil {
		return false
	}
	return u.Path == target
}

// Guard turns AuthState into access decisions for HTTP routes.
type Guard struct {
	Paths GuardPaths
	// Wait bounds how long a request waits for a loading state to settle.
	Wait   time.Duration
	Logger *slog.Logger
	// Renderer serves the waiting page to browsers (optional).
	Renderer *TemplateRenderer
}

func (g *Guard) logger() *slog.Logger {
	if g != nil && g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// RequireAuth admits any authenticated user.
func (g *Guard) RequireAuth() func(http.Handler) http.Handler {
	return g.Protect(GuardPolicy{})
}

// RequireRole admits authenticated users holding one of roles.
func (g *Guard) RequireRole(roles ...domainauth.Role) func(http.Handler) http.Handler {
	return g.Protect(GuardPolicy{Roles: roles})
}

// RequireActive admits authenticated users holding one of roles whose account
// is active. The activation flag is re-read from the profile store first.
func (g *Guard) RequireActive(roles ...domainauth.Role) func(http.Handler) http.Handler {
	return g.Protect(GuardPolicy{Roles: roles, RequireActive: true})
}

// Protect returns a middleware enforcing policy.
func (g *Guard) Protect(policy GuardPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := ClientFromContext(r.Context())
			if !ok {
				WriteError(w, ErrorParams{
					Code:    http.StatusInternalServerError,
					ErrCode: "session_unavailable",
					Err:     errors.New("no browser session"),
				})
				return
			}

			st := g.settledState(r.Context(), client.Store)
			if policy.RequireActive && st.Status == domainauth.StatusAuthenticated {
				refreshed, err := client.RefreshActivation(r.Context())
				if err != nil {
					// The last known flag stands when the store cannot be read.
					g.logger().WarnContext(r.Context(), "activation refresh failed", "error", err)
				} else {
					st = refreshed
				}
			}

			requested := r.URL.RequestURI()
			d := Evaluate(st, policy, g.Paths, requested)
			if d.Outcome != OutcomeAllow {
				g.logger().DebugContext(r.Context(), "guard blocked request",
					"path", r.URL.Path, "outcome", d.Outcome.String(), "redirect_to", d.RedirectTo)
			}
			switch d.Outcome {
			case OutcomeAllow:
				next.ServeHTTP(w, r.WithContext(SetStateInContext(r.Context(), st)))
			case OutcomeWait:
				g.writeWaiting(w, r, client.Store.Hint())
			case OutcomeLogin:
				g.deny(w, r, http.StatusUnauthorized, "authentication_required", d.RedirectTo)
			case OutcomeLanding:
				g.deny(w, r, http.StatusForbidden, "insufficient_role", d.RedirectTo)
			case OutcomeActivate:
				g.deny(w, r, http.StatusForbidden, "account_inactive", d.RedirectTo)
			default:
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "forbidden",
					Err:     errors.New("access denied"),
				})
			}
		})
	}
}

type stateSource interface {
	Snapshot() domainauth.AuthState
	AwaitSettled(ctx context.Context) (domainauth.AuthState, error)
}

// settledState returns the current state, waiting up to g.Wait while it is
// still loading.
func (g *Guard) settledState(ctx context.Context, store stateSource) domainauth.AuthState {
	st := store.Snapshot()
	if st.Settled() || g.Wait <= 0 {
		return st
	}
	waitCtx, cancel := context.WithTimeout(ctx, g.Wait)
	defer cancel()
	st, _ = store.AwaitSettled(waitCtx)
	return st
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request, status int, code, target string) {
	if IsBrowserRequest(r) {
		if IsHTMX(r) {
			SetHXRedirect(w, target)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	WriteError(w, ErrorParams{
		Code:       status,
		ErrCode:    code,
		Err:        errors.New(http.StatusText(status)),
		RedirectTo: target,
	})
}

const waitRetrySeconds = 1

func (g *Guard) writeWaiting(w http.ResponseWriter, r *http.Request, hint *domainauth.UserProfile) {
	if !IsBrowserRequest(r) || g.Renderer == nil {
		w.Header().Set("Retry-After", strconv.Itoa(waitRetrySeconds))
		WriteError(w, ErrorParams{
			Code:      http.StatusServiceUnavailable,
			ErrCode:   "auth_loading",
			Err:       errors.New("authentication state is still loading"),
			Retryable: true,
		})
		return
	}
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", waitRetrySeconds, safeRedirectPath(r.URL.RequestURI())))
	w.Header().Set("Cache-Control", "no-store")
	if err := g.Renderer.Render(w, http.StatusOK, "waiting", PageData{Title: "Signing you in", Hint: hint}); err != nil {
		g.logger().ErrorContext(r.Context(), "render waiting page", "error", err)
	}
}

// safeRedirectPath ensures the provided redirect is a same-origin relative path
// starting with "/" and not an absolute URL. Returns "/" when invalid.
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !isRootedPath(u.Path) {
		return "/"
	}
	if len(candidate) > 1 && (candidate[1] == '/' || candidate[1] == '\\') {
		return "/"
	}
	return candidate
}

func isRootedPath(p string) bool { return len(p) > 0 && p[0] == '/' }
