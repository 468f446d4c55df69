package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	apperrors "github.com/target/learnhub/internal/errors"
	"github.com/target/learnhub/internal/service"
)

func TestErrorParamsFor(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      int
		errCode   string
		message   string
		retryable bool
	}{
		{
			name:    "invalid credentials",
			err:     domainauth.ErrInvalidCredentials,
			code:    http.StatusUnauthorized,
			errCode: "invalid_credentials",
			message: "invalid email or password",
		},
		{
			name:      "transient store hides cause",
			err:       domainauth.NewError(domainauth.KindTransientStore, "profile store unavailable", errors.New("dial tcp 10.0.0.5:5432")),
			code:      http.StatusServiceUnavailable,
			errCode:   "transient_store_error",
			message:   "profile store unavailable",
			retryable: true,
		},
		{
			name:      "partial registration",
			err:       fmt.Errorf("register: %w", domainauth.ErrPartialRegistration),
			code:      http.StatusAccepted,
			errCode:   "partial_registration",
			message:   "identity created but profile provisioning failed",
			retryable: true,
		},
		{
			name:    "superseded",
			err:     domainauth.ErrSessionSuperseded,
			code:    http.StatusConflict,
			errCode: "session_superseded",
			message: "session changed before login completed",
		},
		{
			name:    "no session",
			err:     service.ErrNoMatchingSession,
			code:    http.StatusUnauthorized,
			errCode: "authentication_required",
			message: service.ErrNoMatchingSession.Error(),
		},
		{
			name:      "app error",
			err:       apperrors.Unavailable("try later"),
			code:      http.StatusServiceUnavailable,
			errCode:   "unavailable",
			message:   "try later",
			retryable: true,
		},
		{
			name:    "unknown error is opaque",
			err:     errors.New("pq: password authentication failed"),
			code:    http.StatusInternalServerError,
			errCode: "internal",
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := errorParamsFor(tt.err)
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, tt.errCode, p.ErrCode)
			require.Error(t, p.Err)
			assert.Equal(t, tt.message, p.Err.Error())
			assert.Equal(t, tt.retryable, p.Retryable)
		})
	}
}

func TestErrorParamsFor_ValidationFields(t *testing.T) {
	err := validation.Errors{
		"email": errors.New("must be a valid email address"),
		"name":  nil,
	}

	p := errorParamsFor(err)

	assert.Equal(t, http.StatusBadRequest, p.Code)
	assert.Equal(t, "validation_failed", p.ErrCode)
	assert.Equal(t, map[string]string{"email": "must be a valid email address"}, p.Fields)
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, ErrorParams{
		Code:       http.StatusForbidden,
		ErrCode:    "insufficient_role",
		RedirectTo: "/student",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "insufficient_role", body.Error)
	assert.Equal(t, "Forbidden", body.Message)
	assert.Equal(t, "/student", body.RedirectTo)
}
