package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/ports"
	"golang.org/x/sync/singleflight"
)

// ProfileResolverOptions groups dependencies for ProfileResolver.
type ProfileResolverOptions struct {
	Store ports.ProfileStore
	// Retries is the number of extra attempts made on transient store errors.
	Retries    int
	RetryDelay time.Duration
	// Timeout bounds one shared lookup, retries included. Defaults to 10s.
	Timeout time.Duration
	// AutoProvision creates a student profile when a proven session has none.
	AutoProvision bool
	Logger        *slog.Logger
}

// ProfileResolver maps a proven identity subject to its UserProfile.
type ProfileResolver struct {
	store         ports.ProfileStore
	retries       int
	retryDelay    time.Duration
	timeout       time.Duration
	autoProvision bool
	logger        *slog.Logger
	group         singleflight.Group
}

// NewProfileResolver constructs a ProfileResolver.
func NewProfileResolver(opts ProfileResolverOptions) *ProfileResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProfileResolver{
		store:         opts.Store,
		retries:       retries,
		retryDelay:    opts.RetryDelay,
		timeout:       timeout,
		autoProvision: opts.AutoProvision,
		logger:        logger.With("component", "profile_resolver"),
	}
}

// Resolve fetches the profile for subjectID. It returns ErrProfileNotFound when
// no row exists and a TransientStoreError when the store keeps failing.
// Concurrent calls for one subject share a single store round trip. The shared
// lookup is detached from every caller, so one caller giving up only ends its
// own wait.
func (r *ProfileResolver) Resolve(ctx context.Context, subjectID string) (*domainauth.UserProfile, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, domainauth.ErrProfileNotFound
	}
	ch := r.group.DoChan(subjectID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolveWithRetry(flightCtx, subjectID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, domainauth.NewError(domainauth.KindTransientStore, "resolve profile", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	p, ok := res.Val.(*domainauth.UserProfile)
	if !ok || p == nil {
		return nil, domainauth.ErrProfileNotFound
	}
	out := *p
	return &out, nil
}

// ResolveSession resolves the profile for a proven session, provisioning a
// student profile first when auto-provisioning is enabled.
func (r *ProfileResolver) ResolveSession(ctx context.Context, s domainauth.Session) (*domainauth.UserProfile, error) {
	p, err := r.Resolve(ctx, s.SubjectID)
	if err == nil || !r.autoProvision || !errors.Is(err, domainauth.ErrProfileNotFound) {
		return p, err
	}
	r.logger.InfoContext(ctx, "provisioning profile on first login", "subject_id", s.SubjectID)
	return r.Provision(ctx, s.SubjectID, s.Email, domainauth.ProfileSeed{})
}

func (r *ProfileResolver) resolveWithRetry(ctx context.Context, subjectID string) (*domainauth.UserProfile, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, r.retryDelay); err != nil {
				return nil, domainauth.NewError(domainauth.KindTransientStore, "resolve profile", err)
			}
		}
		p, err := r.store.GetProfile(ctx, subjectID)
		if err == nil {
			if p.ID != subjectID {
				return nil, fmt.Errorf("profile id %q does not match subject: %w", p.ID, domainauth.ErrProfileNotFound)
			}
			return p, nil
		}
		if errors.Is(err, domainauth.ErrProfileNotFound) {
			return nil, err
		}
		lastErr = err
		r.logger.DebugContext(ctx, "profile lookup failed", "subject_id", subjectID, "attempt", attempt+1, "error", err)
	}
	return nil, domainauth.NewError(domainauth.KindTransientStore, "resolve profile", lastErr)
}

// Provision inserts a profile for subjectID. The role is always student;
// elevated roles are assigned elsewhere. An existing row is returned as is.
func (r *ProfileResolver) Provision(
	ctx context.Context,
	subjectID, email string,
	seed domainauth.ProfileSeed,
) (*domainauth.UserProfile, error) {
	if strings.TrimSpace(subjectID) == "" {
		return nil, errors.New("subject id is required")
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = domainauth.FallbackProfile(domainauth.Session{SubjectID: subjectID, Email: email}).Name
	}
	p, err := r.store.InsertProfile(ctx, domainauth.UserProfile{
		ID:       subjectID,
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Name:     name,
		Role:     domainauth.RoleStudent,
		IsActive: false,
	})
	if errors.Is(err, ports.ErrProfileExists) {
		r.group.Forget(subjectID)
		return r.Resolve(ctx, subjectID)
	}
	if err != nil {
		return nil, domainauth.NewError(domainauth.KindTransientStore, "provision profile", err)
	}
	r.group.Forget(subjectID)
	return p, nil
}

// RefreshActive reads the current activation flag for subjectID from the store,
// bypassing any cached profile.
func (r *ProfileResolver) RefreshActive(ctx context.Context, subjectID string) (bool, error) {
	active, err := r.store.GetActive(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domainauth.ErrProfileNotFound) {
			return false, err
		}
		return false, domainauth.NewError(domainauth.KindTransientStore, "refresh activation", err)
	}
	return active, nil
}

// UpdateName changes the display name and returns the fresh row.
func (r *ProfileResolver) UpdateName(ctx context.Context, subjectID, name string) (*domainauth.UserProfile, error) {
	p, err := r.store.UpdateName(ctx, subjectID, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, domainauth.ErrProfileNotFound) {
			return nil, err
		}
		return nil, domainauth.NewError(domainauth.KindTransientStore, "update profile", err)
	}
	r.group.Forget(subjectID)
	return p, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
