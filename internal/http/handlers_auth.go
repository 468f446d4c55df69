package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/observability/metrics"
	"github.com/target/learnhub/internal/observability/statsd"
	"github.com/target/learnhub/internal/service"
)

const maxNameLength = 120

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Paths    GuardPaths
	Renderer *TemplateRenderer
	Sessions *SessionRotation
	Logger   *slog.Logger
	// Metrics is optional.
	Metrics statsd.Sink
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) observe(op string, start time.Time, err error) {
	metrics.EmitAuthAttempt(h.Metrics, metrics.AuthMetric{Operation: op, Duration: time.Since(start), Err: err})
}

// formDecoder is implemented by request types that also accept form posts.
type formDecoder interface {
	fromForm(v url.Values)
}

// decodeInput reads a JSON body or a url-encoded form into dst.
func decodeInput(w http.ResponseWriter, r *http.Request, dst formDecoder) bool {
	if isJSONBody(r) {
		return DecodeJSON(w, r, dst)
	}
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return false
	}
	dst.fromForm(r.PostForm)
	return true
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

func (req *loginRequest) fromForm(v url.Values) {
	req.Email = v.Get("email")
	req.Password = v.Get("password")
	req.RedirectURI = v.Get("redirect_uri")
}

func (req loginRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Email, validation.Required, is.EmailFormat),
		validation.Field(&req.Password, validation.Required),
	)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (req *registerRequest) fromForm(v url.Values) {
	req.Email = v.Get("email")
	req.Password = v.Get("password")
	req.Name = v.Get("name")
}

func (req registerRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Email, validation.Required, is.EmailFormat),
		validation.Field(&req.Password, validation.Required, validation.RuneLength(8, 128)),
		validation.Field(&req.Name, validation.RuneLength(0, maxNameLength)),
	)
}

type profileRequest struct {
	Name string `json:"name"`
}

func (req *profileRequest) fromForm(v url.Values) {
	req.Name = v.Get("name")
}

func (req profileRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, validation.RuneLength(1, maxNameLength)),
	)
}

type userResponse struct {
	User       *domainauth.UserProfile `json:"user"`
	RedirectTo string                  `json:"redirect_to,omitempty"`
}

// client returns the browser client or writes an error.
func (h *AuthHandlers) client(w http.ResponseWriter, r *http.Request) (*service.Client, bool) {
	c, ok := ClientFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Err:     errors.New("no browser session"),
		})
	}
	return c, ok
}

// postLoginTarget picks where to go after sign-in: the requested location when
// it is a safe path, otherwise the role's landing area.
func (h *AuthHandlers) postLoginTarget(requested string, user *domainauth.UserProfile) string {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		if target := safeRedirectPath(requested); target != "/" && !samePath(h.Paths.Login, target) {
			return target
		}
	}
	if user == nil {
		return h.Paths.Login
	}
	return h.Paths.LandingFor(user.Role)
}

// respond answers a successful mutating request with a redirect for form
// posts, an Hx-Redirect for htmx and JSON otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, target string, body any) {
	switch {
	case wantsRedirect(r):
		http.Redirect(w, r, target, http.StatusSeeOther)
	case IsHTMX(r):
		SetHXRedirect(w, target)
		WriteJSON(w, status, body)
	default:
		WriteJSON(w, status, body)
	}
}

// fail answers a failed form post by returning to the login page with an
// error code. Other clients get the JSON envelope.
func (h *AuthHandlers) fail(w http.ResponseWriter, r *http.Request, err error, redirectURI string) {
	if !wantsRedirect(r) {
		WriteAuthError(w, err)
		return
	}
	p := errorParamsFor(err)
	u := url.URL{Path: h.Paths.Login}
	q := url.Values{}
	q.Set("error", p.ErrCode)
	if redirectURI != "" {
		q.Set("redirect_uri", safeRedirectPath(redirectURI))
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// beginSignIn starts the fresh client a sign-in runs on.
func (h *AuthHandlers) beginSignIn(w http.ResponseWriter, r *http.Request) (*service.Client, bool) {
	next, err := h.Sessions.Begin(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "start sign-in session", "error", err)
		WriteError(w, ErrorParams{
			Code:      http.StatusServiceUnavailable,
			ErrCode:   "session_unavailable",
			Err:       errors.New("browser session unavailable"),
			Retryable: true,
		})
		return nil, false
	}
	return next, true
}

// commitSignIn hands the browser the signed-in session id.
func (h *AuthHandlers) commitSignIn(w http.ResponseWriter, r *http.Request, prev, next *service.Client) bool {
	if err := h.Sessions.Commit(w, prev, next); err != nil {
		h.logger().ErrorContext(r.Context(), "encode session cookie", "error", err)
		h.Sessions.Abandon(next)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "session_unavailable",
			Err:     errors.New("could not store the browser session"),
		})
		return false
	}
	return true
}

// Login verifies credentials. The sign-in runs on a new session id, which
// replaces the browser's id only when it succeeds.
// POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	var req loginRequest
	if !decodeInput(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(); err != nil {
		h.fail(w, r, err, req.RedirectURI)
		return
	}
	next, ok := h.beginSignIn(w, r)
	if !ok {
		return
	}

	start := time.Now()
	user, err := next.Actions.Login(r.Context(), req.Email, req.Password)
	h.observe(metrics.OpLogin, start, err)
	if err != nil {
		h.Sessions.Abandon(next)
		h.logger().InfoContext(r.Context(), "login failed", "kind", string(domainauth.KindOf(err)))
		h.fail(w, r, err, req.RedirectURI)
		return
	}
	if !h.commitSignIn(w, r, c, next) {
		return
	}
	target := h.postLoginTarget(req.RedirectURI, user)
	respond(w, r, http.StatusOK, target, userResponse{User: user, RedirectTo: target})
}

type registerResponse struct {
	SubjectID  string                  `json:"subject_id"`
	User       *domainauth.UserProfile `json:"user,omitempty"`
	Partial    bool                    `json:"partial,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Message    string                  `json:"message,omitempty"`
	Retryable  bool                    `json:"retryable,omitempty"`
	RetryURL   string                  `json:"retry_url,omitempty"`
	RedirectTo string                  `json:"redirect_to,omitempty"`
}

// Register creates an identity and its profile.
// POST /auth/register.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeInput(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(); err != nil {
		h.fail(w, r, err, "")
		return
	}
	next, ok := h.beginSignIn(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res, err := next.Actions.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Seed:     domainauth.ProfileSeed{Name: req.Name},
	})
	h.observe(metrics.OpRegister, start, err)
	if res == nil {
		h.Sessions.Abandon(next)
		h.fail(w, r, err, "")
		return
	}
	// The identity exists and is signed in, even when its profile is not.
	if !h.commitSignIn(w, r, c, next) {
		return
	}
	if res.Partial {
		h.logger().WarnContext(r.Context(), "partial registration", "subject_id", res.SubjectID, "error", err)
		p := errorParamsFor(err)
		// The identity is signed in; the fallback profile lands as a student.
		target := h.Paths.LandingFor(domainauth.RoleStudent)
		respond(w, r, http.StatusAccepted, target, registerResponse{
			SubjectID:  res.SubjectID,
			Partial:    true,
			Error:      p.ErrCode,
			Message:    p.Err.Error(),
			Retryable:  true,
			RetryURL:   "/auth/register/profile",
			RedirectTo: target,
		})
		return
	}

	target := h.postLoginTarget("", res.Profile)
	if st := next.Store.Snapshot(); st.Status == domainauth.StatusAuthenticated {
		target = h.postLoginTarget("", st.User)
	}
	respond(w, r, http.StatusCreated, target, registerResponse{
		SubjectID:  res.SubjectID,
		User:       res.Profile,
		RedirectTo: target,
	})
}

// CompleteProfile retries profile provisioning after a partial registration.
// POST /auth/register/profile.
func (h *AuthHandlers) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decodeInput(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAuthError(w, err)
		return
	}
	start := time.Now()
	p, err := c.Actions.CompleteRegistration(r.Context(), domainauth.ProfileSeed{Name: strings.TrimSpace(req.Name)})
	h.observe(metrics.OpCompleteProfile, start, err)
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	target := h.postLoginTarget("", p)
	respond(w, r, http.StatusCreated, target, userResponse{User: p, RedirectTo: target})
}

type logoutResponse struct {
	Status     string `json:"status"`
	RedirectTo string `json:"redirect_to"`
	Warning    string `json:"warning,omitempty"`
}

// Logout ends the session. Local state is always cleared, so the response is
// a success even when the provider could not be reached. The browser leaves
// with a new session id either way.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	start := time.Now()
	res, err := c.Actions.Logout(r.Context())
	h.observe(metrics.OpLogout, start, err)
	body := logoutResponse{Status: "signed_out", RedirectTo: res.RedirectTo}
	if err != nil {
		h.logger().WarnContext(r.Context(), "logout completed with errors", "error", err)
		body.Warning = errorParamsFor(err).ErrCode
	}
	if body.RedirectTo == "" {
		body.RedirectTo = h.Paths.Login
	}
	if rerr := h.Sessions.Retire(w, c); rerr != nil {
		h.logger().ErrorContext(r.Context(), "rotate session cookie after logout", "error", rerr)
	}
	respond(w, r, http.StatusOK, body.RedirectTo, body)
}

// UpdateProfile changes the signed-in user's display name.
// PUT /api/profile.
func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		WriteAuthError(w, err)
		return
	}
	p, err := c.Actions.UpdateName(r.Context(), req.Name)
	if err != nil {
		WriteAuthError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, userResponse{User: p})
}

var loginErrorMessages = map[string]string{ //nolint:gochecknoglobals // read-only lookup
	string(domainauth.KindInvalidCredentials):   "Invalid email or password.",
	string(domainauth.KindProviderUnavailable):  "Sign-in is temporarily unavailable. Please try again.",
	string(domainauth.KindTransientStore):       "Your profile could not be loaded. Please try again.",
	string(domainauth.KindProfileNotFound):      "Your account has no profile yet.",
	string(domainauth.KindRegistrationRejected): "That account could not be created.",
	string(domainauth.KindSessionSuperseded):    "Your session changed while signing in. Please try again.",
	"validation_failed":                         "Please check the email and password you entered.",
}

// LoginPage renders the sign-in form, or sends an authenticated user on.
// GET /login.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	requested := r.URL.Query().Get("redirect_uri")
	st := c.Store.Snapshot()
	if st.Status == domainauth.StatusAuthenticated {
		http.Redirect(w, r, h.postLoginTarget(requested, st.User), http.StatusSeeOther)
		return
	}
	if h.Renderer == nil {
		WriteJSON(w, http.StatusOK, stateResponse{Status: st.Status, User: st.User})
		return
	}

	data := PageData{Title: "Sign in", Hint: c.Store.Hint()}
	if requested != "" {
		data.RedirectURI = safeRedirectPath(requested)
	}
	if code := r.URL.Query().Get("error"); code != "" {
		msg, known := loginErrorMessages[code]
		if !known {
			msg = "Something went wrong. Please try again."
		}
		data.Error = msg
	}
	w.Header().Set("Cache-Control", "no-store")
	if err := h.Renderer.Render(w, http.StatusOK, "login", data); err != nil {
		h.logger().ErrorContext(r.Context(), "render login page", "error", err)
	}
}
