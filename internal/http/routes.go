package httpx

import (
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/target/learnhub/internal/domain/auth"
	"github.com/target/learnhub/internal/observability/statsd"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Clients SessionClients
	Cookies *SessionCookies
	// NewSID mints session ids on sign-in and sign-out; uuid.NewString when nil.
	NewSID func() string
	Paths   GuardPaths
	// GuardWait bounds how long guards wait for a loading state.
	GuardWait time.Duration
	Readiness []ReadinessCheck
	// Renderer is optional; when nil the embedded templates are used.
	Renderer *TemplateRenderer
	// Metrics is optional.
	Metrics statsd.Sink
	Logger  *slog.Logger
}

// NewRouter creates and configures the HTTP router. Health endpoints are
// served without a browser session; everything else runs behind BrowserSession.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := services.Renderer
	if renderer == nil {
		var err error
		renderer, err = NewTemplateRenderer(TemplateRendererConfig{Logger: logger})
		if err != nil {
			logger.Error("templates unavailable, serving JSON only", "error", err)
		}
	}

	guard := &Guard{Paths: services.Paths, Wait: services.GuardWait, Logger: logger, Renderer: renderer}
	authHandlers := &AuthHandlers{
		Paths:    services.Paths,
		Renderer: renderer,
		Sessions: &SessionRotation{Cookies: services.Cookies, Clients: services.Clients, NewSID: services.NewSID},
		Metrics:  services.Metrics,
		Logger:   logger,
	}
	stateHandlers := &StateHandlers{Wait: services.GuardWait, Logger: logger}
	pages := &PageHandlers{Paths: services.Paths, Renderer: renderer, Logger: logger}

	sessioned := http.NewServeMux()
	registerAuthRoutes(sessioned, authHandlers, stateHandlers, guard)
	registerPageRoutes(sessioned, pages, guard, services.Paths)

	root := http.NewServeMux()
	root.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	root.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	root.Handle("GET /readyz", readyHandler(services.Readiness, 0, logger))
	root.Handle("/", BrowserSession(services.Cookies, services.Clients, logger)(sessioned))

	return BrowserDetection()(root)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, s *StateHandlers, g *Guard) {
	mux.Handle("GET "+h.Paths.Login, http.HandlerFunc(h.LoginPage))
	mux.Handle("POST /auth/login", http.HandlerFunc(h.Login))
	mux.Handle("POST /auth/register", http.HandlerFunc(h.Register))
	mux.Handle("POST /auth/register/profile", http.HandlerFunc(h.CompleteProfile))
	mux.Handle("POST /auth/logout", http.HandlerFunc(h.Logout))
	mux.Handle("GET /auth/state", http.HandlerFunc(s.State))
	mux.Handle("GET /auth/events", http.HandlerFunc(s.Events))
	mux.Handle("PUT /api/profile", g.RequireAuth()(http.HandlerFunc(h.UpdateProfile)))
}

func registerPageRoutes(mux *http.ServeMux, p *PageHandlers, g *Guard, paths GuardPaths) {
	mux.Handle("GET /{$}", g.RequireAuth()(http.HandlerFunc(p.Home)))
	mux.Handle("GET "+paths.Admin,
		g.RequireRole(domainauth.RoleAdmin)(p.Dashboard("Admin", "Administration")))
	mux.Handle("GET "+paths.Teacher,
		g.RequireRole(domainauth.RoleTeacher)(p.Dashboard("Teaching", "Your classes")))
	mux.Handle("GET "+paths.Student,
		g.RequireActive(domainauth.RoleStudent)(p.Dashboard("Learning", "Your courses")))
	mux.Handle("GET "+paths.Checkout, g.RequireAuth()(http.HandlerFunc(p.Checkout)))
	mux.Handle("GET /courses", g.RequireAuth()(p.Dashboard("Courses", "Course catalog")))
}
