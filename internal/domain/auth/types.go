package auth

// Package auth contains domain-level types for identity sessions, user profiles
// and the derived authentication state. It is pure and free of adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of application roles.
// Keep string form for easy persistence and JSON.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Roles lists every valid role.
func Roles() []Role { return []Role{RoleAdmin, RoleTeacher, RoleStudent} }

// ParseRole converts a persisted string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role: %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// UserProfile is the application-side record for an identity subject.
// ID always equals the subject id of the session it was resolved for.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
	// Fallback marks a minimal profile synthesized from the session because no
	// profile row could be found.
	Fallback bool `json:"fallback,omitempty"`
}

// Active reports whether the account counts as active.
// Only students carry an activation requirement.
func (p UserProfile) Active() bool {
	if p.Role != RoleStudent {
		return true
	}
	return p.IsActive
}

// ProfileSeed carries the user-supplied fields used to provision a profile.
type ProfileSeed struct {
	Name string `json:"name"`
}

// FallbackProfile builds the minimal identity used when a proven session has no
// profile row. The role is always student and the account is inactive.
func FallbackProfile(s Session) UserProfile {
	name := s.Email
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return UserProfile{
		ID:       s.SubjectID,
		Email:    s.Email,
		Name:     name,
		Role:     RoleStudent,
		IsActive: false,
		Fallback: true,
	}
}

// Session is a read-only projection of an identity provider session.
type Session struct {
	SubjectID  string    `json:"subject_id"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
	CanRefresh bool      `json:"can_refresh"`
}

// Expired reports whether the session expiry has passed at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventKind names a provider session-change notification.
type EventKind string

const (
	EventInitialSession EventKind = "initial_session"
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
)

// SessionEvent is delivered by a provider whenever its session changes.
// Session is nil when the provider no longer holds a session.
type SessionEvent struct {
	Kind    EventKind
	Session *Session
}

// Status is the coarse authentication status.
type Status string

const (
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// AuthState is the published view of who is logged in.
// Status authenticated implies User is non-nil.
type AuthState struct {
	Status Status       `json:"status"`
	User   *UserProfile `json:"user"`
}

// Loading returns the initial state.
func Loading() AuthState { return AuthState{Status: StatusLoading} }

// Unauthenticated returns the signed-out state.
func Unauthenticated() AuthState { return AuthState{Status: StatusUnauthenticated} }

// Authenticated returns the signed-in state for a copy of p.
func Authenticated(p UserProfile) AuthState {
	return AuthState{Status: StatusAuthenticated, User: &p}
}

// Settled reports whether the state has left loading.
func (s AuthState) Settled() bool { return s.Status != StatusLoading }

// Clone returns a deep copy so readers never share the store's profile pointer.
func (s AuthState) Clone() AuthState {
	if s.User == nil {
		return s
	}
	u := *s.User
	s.User = &u
	return s
}
