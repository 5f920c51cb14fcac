// Package server wires the portal together and runs the HTTP server.
//
// This is the composition root: New picks the backend from configuration,
// builds the services on top of it and hands them to the handlers. Nothing
// else in the tree constructs its own collaborators.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/config"
	"github.com/sakif/course-portal/internal/gate"
	"github.com/sakif/course-portal/internal/handler"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/middleware"
	"github.com/sakif/course-portal/internal/service"
	"github.com/sakif/course-portal/web"
)

// Server is the HTTP server and the backend it owns.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *zap.Logger
	backend *backend
	events  *handler.EventsHandler
}

// New connects to the configured backend and sets up every route. The
// caller must Start the server or Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		backend: b,
	}
	if err := s.setupRoutes(); err != nil {
		b.close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, e.g. for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the backend without serving.
func (s *Server) Close() {
	s.backend.close()
}

// setupRoutes configures middleware and routes.
//
// Pages come in two groups. Public pages resolve the session when there is
// one and render for everyone. Gated pages resolve it afresh on every
// request and send anyone without a live session to /login.
//
// Middleware order:
//  1. RequestID: unique id per request, logged with every line
//  2. RealIP: client address from proxy headers
//  3. Logger: request-scoped logger and access log
//  4. Recoverer: a panic becomes a 500 instead of a crash
func (s *Server) setupRoutes() error {
	cfg, b := s.config, s.backend

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Services ===
	validate := service.NewValidator()
	profiles := service.NewProfileService(b.profiles, b.storage, validate)
	courses := service.NewCourseService(service.CourseDeps{
		Courses:     b.courses,
		Lessons:     b.lessons,
		Enrollments: b.enrollments,
		Profiles:    profiles,
		Storage:     b.storage,
		Validator:   validate,
	})
	lessons := service.NewLessonService(b.lessons, courses, b.storage, validate)
	enrollments := service.NewEnrollmentService(b.enrollments, courses)
	authService := service.NewAuthService(b.provider, validate)

	// === Handlers ===
	render, err := handler.NewRenderer(web.Templates(), profiles)
	if err != nil {
		return err
	}
	cookies := auth.Cookies{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure}

	authHandler := handler.NewAuthHandler(handler.AuthDeps{
		Service: authService,
		GitHub:  b.github,
		Cookies: cookies,
		Render:  render,
		BaseURL: cfg.App.BaseURL,
	})
	courseHandler := handler.NewCourseHandler(handler.CourseDeps{
		Courses:        courses,
		Lessons:        lessons,
		Enrollments:    enrollments,
		Render:         render,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	})
	profileHandler := handler.NewProfileHandler(handler.ProfileDeps{
		Profiles:       profiles,
		Courses:        courses,
		Enrollments:    enrollments,
		Render:         render,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	})
	apiHandler := handler.NewAPIHandler(profiles, courses)
	s.events = handler.NewEventsHandler(b.provider)

	// === Session handling ===
	optional := auth.OptionalSession(b.provider, cookies, cfg.Session.RefreshWindow)
	g := gate.New(b.provider, cookies,
		gate.WithRefreshWindow(cfg.Session.RefreshWindow),
		gate.WithObserver(logObserver),
	)
	protectPage := g.Protect(gate.RedirectToLogin("/login"))
	protectAPI := g.Protect(gate.Unauthorized())

	// === Files ===
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))
	if b.localFiles != nil && strings.HasPrefix(cfg.Storage.PublicBaseURL, "/") {
		prefix := strings.TrimRight(cfg.Storage.PublicBaseURL, "/")
		s.router.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(b.localFiles.Root()))))
	}

	s.router.Get("/healthz", handler.HandleHealth(b.pinger))
	s.router.NotFound(render.HandleNotFound)

	// === Public pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(optional)

		r.Get("/", render.HandleHome)
		r.Get("/courses", courseHandler.HandleList)
		r.Get("/courses/{id}", courseHandler.HandleShow)
		r.Get("/lessons/{id}", courseHandler.HandleLesson)

		r.Get("/signup", authHandler.HandleSignupPage)
		r.Post("/signup", authHandler.HandleSignup)
		r.Get("/login", authHandler.HandleLoginPage)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/login/link", authHandler.HandleRequestLink)
		r.Get("/auth/link", authHandler.HandleVerifyLink)
		r.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		r.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
		r.Post("/logout", authHandler.HandleLogout)

		r.Get("/api/courses", apiHandler.HandleCourses)
	})

	// === Gated pages ===
	s.router.Group(func(r chi.Router) {
		r.Use(protectPage)

		r.Get("/courses/new", courseHandler.HandleNew)
		r.Post("/courses", courseHandler.HandleCreate)
		r.Get("/courses/{id}/edit", courseHandler.HandleEdit)
		r.Post("/courses/{id}", courseHandler.HandleUpdate)
		r.Post("/courses/{id}/delete", courseHandler.HandleDelete)
		r.Post("/courses/{id}/enroll", courseHandler.HandleEnroll)
		r.Post("/courses/{id}/unenroll", courseHandler.HandleUnenroll)
		r.Get("/courses/{id}/lessons/new", courseHandler.HandleNewLesson)
		r.Post("/courses/{id}/lessons", courseHandler.HandleCreateLesson)

		r.Get("/enrolled", profileHandler.HandleEnrolled)
		r.Get("/dashboard", profileHandler.HandleDashboard)
		r.Get("/profile", profileHandler.HandleShow)
		r.Post("/profile", profileHandler.HandleUpdate)
		r.Post("/profile/avatar", profileHandler.HandleAvatar)
	})

	// === Gated API ===
	s.router.Group(func(r chi.Router) {
		r.Use(protectAPI)

		r.Get("/api/me", apiHandler.HandleMe)
		r.Get("/events/session", s.events.HandleSession)
	})

	return nil
}

// logObserver traces gate activations at debug level.
func logObserver(r *http.Request) gate.Observer {
	return gateLog{log: logger.FromContext(r.Context())}
}

type gateLog struct {
	log *zap.Logger
}

func (g gateLog) Transitioned(from, to gate.State) {
	g.log.Debug("session gate resolved", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (g gateLog) Rendered(r gate.Render) {
	if r == gate.RenderRedirect {
		g.log.Debug("session gate redirected")
	}
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully: stop
// accepting connections, end event streams, wait for in-flight requests,
// close the backend.
func (s *Server) Start() error {
	defer s.backend.close()

	srv := &http.Server{
		Addr:         ":" + s.config.App.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
	srv.RegisterOnShutdown(s.events.Shutdown)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("url", s.config.App.BaseURL),
			zap.String("backend", s.config.Backend.Mode),
			zap.String("env", s.config.App.Env),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
