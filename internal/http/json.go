package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	apperrors "github.com/target/learnhub/internal/errors"
	"github.com/target/learnhub/internal/service"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	// Optional envelope fields.
	Retryable  bool
	RedirectTo string
	Fields     map[string]string
}

type errorBody struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable,omitempty"`
	RedirectTo string            `json:"redirect_to,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	msg := http.StatusText(p.Code)
	if p.Err != nil {
		msg = p.Err.Error()
	}
	WriteJSON(w, p.Code, errorBody{
		Error:      p.ErrCode,
		Message:    msg,
		Retryable:  p.Retryable,
		RedirectTo: p.RedirectTo,
		Fields:     p.Fields,
	})
}

// authErrorStatus maps AuthError kinds to HTTP statuses.
func authErrorStatus(kind domainauth.ErrorKind) int {
	switch kind {
	case domainauth.KindInvalidCredentials:
		return http.StatusUnauthorized
	case domainauth.KindProfileNotFound:
		return http.StatusForbidden
	case domainauth.KindTransientStore, domainauth.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case domainauth.KindPartialRegistration:
		return http.StatusAccepted
	case domainauth.KindRegistrationRejected, domainauth.KindSessionSuperseded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorParamsFor classifies err into a response envelope.
func errorParamsFor(err error) ErrorParams {
	var ae *domainauth.AuthError
	var verrs validation.Errors
	switch {
	case errors.As(err, &ae):
		// Only the outermost message is shown; causes may carry driver detail.
		return ErrorParams{
			Code:      authErrorStatus(ae.Kind),
			ErrCode:   string(ae.Kind),
			Err:       errors.New(ae.Message),
			Retryable: ae.Retryable(),
		}
	case errors.As(err, &verrs):
		return ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation_failed",
			Err:     errors.New("invalid input"),
			Fields:  fieldErrors(verrs),
		}
	case errors.Is(err, service.ErrNoMatchingSession):
		return ErrorParams{Code: http.StatusUnauthorized, ErrCode: "authentication_required", Err: err}
	case apperrors.GetCode(err) != "":
		p := ErrorParams{
			Code:      apperrors.HTTPStatus(err),
			ErrCode:   string(apperrors.GetCode(err)),
			Err:       err,
			Retryable: apperrors.IsTransient(err),
		}
		if f := apperrors.GetField(err); f != "" {
			p.Fields = map[string]string{f: err.Error()}
		}
		return p
	default:
		return ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "internal",
			Err:     errors.New("internal error"),
		}
	}
}

// WriteAuthError writes the JSON envelope for an error returned by an auth action.
func WriteAuthError(w http.ResponseWriter, err error) {
	WriteError(w, errorParamsFor(err))
}

func fieldErrors(errs validation.Errors) map[string]string {
	out := make(map[string]string, len(errs))
	for field, err := range errs {
		if err != nil {
			out[field] = err.Error()
		}
	}
	return out
}
