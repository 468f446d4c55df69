package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

// PageHandlers render the guarded landing pages.
type PageHandlers struct {
	Paths    GuardPaths
	Renderer *TemplateRenderer
	Logger   *slog.Logger
}

func (h *PageHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Dashboard returns a handler rendering a landing page with heading. API
// clients get the admitted user as JSON.
func (h *PageHandlers) Dashboard(title, heading string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, "dashboard", PageData{Title: title, Heading: heading})
	}
}

// Checkout renders the activation entry point.
// GET /checkout.
func (h *PageHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "checkout", PageData{Title: "Activate your account"})
}

// Home sends visitors to their landing area or to login.
// GET /{$}.
func (h *PageHandlers) Home(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, h.Paths.Login, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.Paths.LandingFor(user.Role), http.StatusSeeOther)
}

func (h *PageHandlers) render(w http.ResponseWriter, r *http.Request, page string, data PageData) {
	user := UserFromContext(r.Context())
	if !IsBrowserRequest(r) || h.Renderer == nil {
		WriteJSON(w, http.StatusOK, userResponse{User: user})
		return
	}
	data.User = user
	if user != nil {
		data.Landing = h.Paths.LandingFor(user.Role)
	} else {
		data.Landing = h.Paths.LandingFor(domainauth.RoleStudent)
	}
	w.Header().Set("Cache-Control", "no-store")
	if err := h.Renderer.Render(w, http.StatusOK, page, data); err != nil {
		h.logger().ErrorContext(r.Context(), "render page", "page", page, "error", err)
	}
}
