package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
)

// ProfileProvisioner creates and edits profile rows.
type ProfileProvisioner interface {
	Provision(ctx context.Context, subjectID, email string, seed domainauth.ProfileSeed) (*domainauth.UserProfile, error)
	UpdateName(ctx context.Context, subjectID, name string) (*domainauth.UserProfile, error)
}

// AuthActionsOptions groups dependencies for AuthActions.
type AuthActionsOptions struct {
	Provider ports.IdentityProvider
	Store    *SessionStore
	Profiles ProfileProvisioner
	Logout   *LogoutCoordinator
	Logger   *slog.Logger
}

// AuthActions are the imperative auth operations for one browser session.
// They change AuthState only through the SessionStore.
type AuthActions struct {
	provider ports.IdentityProvider
	store    *SessionStore
	profiles ProfileProvisioner
	logout   *LogoutCoordinator
	logger   *slog.Logger
}

// NewAuthActions constructs AuthActions.
func NewAuthActions(opts AuthActionsOptions) *AuthActions {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthActions{
		provider: opts.Provider,
		store:    opts.Store,
		profiles: opts.Profiles,
		logout:   opts.Logout,
		logger:   logger.With("component", "auth_actions"),
	}
}

// Login verifies credentials with the provider and resolves the profile right
// away so the caller can redirect. The provider's own sign-in event is
// reconciled as well; both converge on the same state.
// A failed sign-in leaves AuthState untouched. The sequence number is taken
// before the provider call, so a logout that starts while sign-in is still in
// flight always wins.
func (a *AuthActions) Login(ctx context.Context, email, password string) (*domainauth.UserProfile, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, domainauth.ErrInvalidCredentials
	}

	seq := a.store.Reserve()
	sess, err := a.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if sess == nil {
		return nil, domainauth.NewError(domainauth.KindProviderUnavailable, "sign in returned no session", nil)
	}

	st, err := a.store.ReconcileReserved(ctx, seq, *sess)
	if err != nil {
		a.logger.InfoContext(ctx, "login did not yield an authenticated state",
			"subject_id", sess.SubjectID, "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, domainauth.NewError(domainauth.KindTransientStore, "profile lookup interrupted", err)
		}
		return nil, err
	}
	a.logger.InfoContext(ctx, "login succeeded", "subject_id", sess.SubjectID, "role", string(st.User.Role))
	return st.User, nil
}

// RegisterInput carries the fields for a new account.
type RegisterInput struct {
	Email    string
	Password string
	Seed     domainauth.ProfileSeed
}

// RegisterResult describes a registration. Partial is set when the identity
// exists but the profile row could not be created.
type RegisterResult struct {
	SubjectID string
	Profile   *domainauth.UserProfile
	Partial   bool
}

// Register creates the provider identity and then the profile row. The two
// writes are not transactional: when provisioning fails the result is still
// returned, marked Partial, together with a PartialRegistration error.
func (a *AuthActions) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := normalizeEmail(in.Email)
	subject, err := a.provider.SignUp(ctx, ports.SignUpInput{
		Email:    email,
		Password: in.Password,
		Metadata: map[string]string{"name": strings.TrimSpace(in.Seed.Name)},
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	res := &RegisterResult{SubjectID: subject}
	p, err := a.profiles.Provision(ctx, subject, email, in.Seed)
	if err != nil {
		a.logger.WarnContext(ctx, "identity created but profile provisioning failed",
			"subject_id", subject, "error", err)
		res.Partial = true
		return res, domainauth.NewError(domainauth.KindPartialRegistration,
			"account created but profile setup failed; retry profile creation", err)
	}
	res.Profile = p
	a.adoptProvisioned(ctx, subject)
	return res, nil
}

// CompleteRegistration retries profile provisioning for the signed-in
// identity after a partial registration.
func (a *AuthActions) CompleteRegistration(ctx context.Context, seed domainauth.ProfileSeed) (*domainauth.UserProfile, error) {
	sess := a.store.Session()
	if sess == nil {
		return nil, ErrNoMatchingSession
	}
	p, err := a.profiles.Provision(ctx, sess.SubjectID, sess.Email, seed)
	if err != nil {
		return nil, domainauth.NewError(domainauth.KindPartialRegistration, "profile setup failed", err)
	}
	a.adoptProvisioned(ctx, sess.SubjectID)
	return p, nil
}

// adoptProvisioned re-reconciles the live session so a fallback state produced
// before the profile existed is replaced by the real profile.
func (a *AuthActions) adoptProvisioned(ctx context.Context, subject string) {
	seq := a.store.Reserve()
	sess, err := a.provider.CurrentSession(ctx)
	if err != nil || sess == nil || sess.SubjectID != subject {
		// The provider event stream will reconcile once a session appears.
		return
	}
	if _, err := a.store.ReconcileReserved(ctx, seq, *sess); err != nil {
		a.logger.DebugContext(ctx, "post-registration reconcile did not apply", "error", err)
	}
}

// UpdateName changes the current user's display name and publishes the fresh
// profile through SetUser.
func (a *AuthActions) UpdateName(ctx context.Context, name string) (*domainauth.UserProfile, error) {
	st := a.store.Snapshot()
	if st.Status != domainauth.StatusAuthenticated {
		return nil, ErrNoMatchingSession
	}
	p, err := a.profiles.UpdateName(ctx, st.User.ID, name)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetUser(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Logout delegates to the LogoutCoordinator.
func (a *AuthActions) Logout(ctx context.Context) (LogoutResult, error) {
	return a.logout.Logout(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// classifyProviderError maps provider failures onto the AuthError taxonomy.
// Timeouts and transport errors become a retryable ProviderUnavailable.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	var ae *domainauth.AuthError
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider unreachable", err)
	}
	return domainauth.NewError(domainauth.KindProviderUnavailable, "identity provider error", err)
}
