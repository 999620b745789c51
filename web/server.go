// Package web serves the site pages and the JSON session API.
package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/contact"
	"github.com/goliatone/go-session/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// VisitorCookie holds the opaque id selecting the visitor's session.
	VisitorCookie = "site_visitor"

	visitorKey = "visitor"
)

//go:embed views/*.html
var viewsFS embed.FS

// Config wires the server dependencies. Visitors is required.
type Config struct {
	Visitors *Visitors
	Contact  *contact.Service
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Logger   session.Logger
	// SecureCookies marks the visitor cookie Secure.
	SecureCookies bool
	// VisitorCookieTTL defaults to DefaultVisitorTTL.
	VisitorCookieTTL time.Duration
	// CSRFKey signs the tokens required on state changing visitor routes.
	// A random key is generated when empty, which invalidates tokens on
	// restart.
	CSRFKey []byte
	// CSRFTTL defaults to DefaultCSRFTTL.
	CSRFTTL time.Duration
}

type Server struct {
	srv      router.Server[*fiber.App]
	visitors *Visitors
	contact  *contact.Service
	metrics  *metrics.Collector
	csrf     *csrfGuard
	logger   session.Logger
	config   Config
}

// New builds the HTTP server and registers every route.
func New(cfg Config) (*Server, error) {
	views, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	if cfg.Contact == nil {
		cfg.Contact = contact.NewService(nil, contact.WithLogger(cfg.Logger))
	}
	if cfg.VisitorCookieTTL <= 0 {
		cfg.VisitorCookieTTL = DefaultVisitorTTL
	}

	guard, err := newCSRFGuard(cfg.CSRFKey, cfg.CSRFTTL)
	if err != nil {
		return nil, err
	}

	s := &Server{
		visitors: cfg.Visitors,
		contact:  cfg.Contact,
		metrics:  cfg.Metrics,
		csrf:     guard,
		logger:   cfg.Logger,
		config:   cfg,
	}

	s.srv = router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "site",
			DisableStartupMessage: true,
			PassLocalsToViews:     true,
			Views:                 django.NewFileSystem(http.FS(views), ".html"),
			ErrorHandler:          s.handleError,
		}))
		app.Use(s.observe)
		if cfg.Gatherer != nil {
			app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(cfg.Gatherer)))
		}
		return app
	})

	s.routes(s.srv.Router())
	return s, nil
}

func (s *Server) routes(r router.Router[*fiber.App]) {
	r.Post("/api/contact", s.submitContact)

	site := []router.MiddlewareFunc{s.visitor, s.csrf.middleware}

	r.Get("/", s.homePage, site...)
	r.Get("/login", s.loginPage, site...)
	r.Get("/register", s.registerPage, site...)
	r.Get("/profile", s.profilePage, site...)
	r.Get("/auth/callback", s.providerCallback, site...)

	r.Get("/api/session", s.sessionState, site...)
	r.Get("/api/csrf", s.csrfState, site...)

	r.Post("/api/auth/login", s.login, site...)
	r.Post("/api/auth/register", s.register, site...)
	r.Post("/api/auth/logout", s.logout, site...)
	r.Post("/api/auth/password-reset", s.passwordReset, site...)
	r.Get("/api/auth/provider/:provider", s.providerLogin, site...)

	r.Patch("/api/profile", s.updateProfile, site...)
	r.Get("/api/profile/draft", s.getDraft, site...)
	r.Put("/api/profile/draft", s.saveDraft, site...)
	r.Post("/api/profile/avatar", s.uploadAvatar, site...)
	r.Delete("/api/profile/avatar", s.removeAvatar, site...)
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.srv.WrappedRouter()
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.srv.Serve(addr)
}

// Shutdown stops accepting connections and waits for in flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// observe renders handler errors and counts response statuses.
func (s *Server) observe(c *fiber.Ctx) error {
	if err := c.Next(); err != nil {
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}
	if s.metrics != nil {
		s.metrics.RecordHTTPStatus(c.Response().StatusCode())
	}
	return nil
}

// visitor resolves the visitor cookie, issuing a new id when absent.
func (s *Server) visitor(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		id := ctx.Cookies(VisitorCookie)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		ctx.Cookie(&router.Cookie{
			Name:     VisitorCookie,
			Value:    id,
			Path:     "/",
			Expires:  time.Now().Add(s.config.VisitorCookieTTL),
			HTTPOnly: true,
			Secure:   s.config.SecureCookies,
			SameSite: "Lax",
		})

		v, err := s.visitors.Get(ctx.Context(), id)
		if err != nil {
			return err
		}
		ctx.Locals(visitorKey, v)
		return next(ctx)
	}
}

func currentVisitor(ctx router.Context) *Visitor {
	v, _ := ctx.Locals(visitorKey).(*Visitor)
	return v
}
