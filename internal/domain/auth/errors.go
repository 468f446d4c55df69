package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies authentication failures.
type ErrorKind string

const (
	KindInvalidCredentials   ErrorKind = "invalid_credentials"
	KindProfileNotFound      ErrorKind = "profile_not_found"
	KindTransientStore       ErrorKind = "transient_store_error"
	KindProviderUnavailable  ErrorKind = "provider_unavailable"
	KindPartialRegistration  ErrorKind = "partial_registration"
	KindRegistrationRejected ErrorKind = "registration_rejected"
	KindSessionSuperseded    ErrorKind = "session_superseded"
)

// AuthError is the typed error returned by auth operations.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Is matches any *AuthError of the same kind, so sentinels work with errors.Is.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Retryable reports whether retrying the same operation may succeed.
func (e *AuthError) Retryable() bool {
	switch e.Kind {
	case KindTransientStore, KindProviderUnavailable, KindPartialRegistration:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidCredentials   = &AuthError{Kind: KindInvalidCredentials, Message: "invalid email or password"}
	ErrProfileNotFound      = &AuthError{Kind: KindProfileNotFound, Message: "profile not found"}
	ErrTransientStore       = &AuthError{Kind: KindTransientStore, Message: "profile store unavailable"}
	ErrProviderUnavailable  = &AuthError{Kind: KindProviderUnavailable, Message: "identity provider unavailable"}
	ErrPartialRegistration  = &AuthError{Kind: KindPartialRegistration, Message: "identity created but profile provisioning failed"}
	ErrRegistrationRejected = &AuthError{Kind: KindRegistrationRejected, Message: "registration rejected"}
	ErrSessionSuperseded    = &AuthError{Kind: KindSessionSuperseded, Message: "session changed before login completed"}
)

// NewError builds an AuthError of kind wrapping cause.
func NewError(kind ErrorKind, message string, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first AuthError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable AuthError.
func IsRetryable(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return false
}
