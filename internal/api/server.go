package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voicereach/voicereach/internal/api/middleware"
	"github.com/voicereach/voicereach/internal/audio"
	"github.com/voicereach/voicereach/internal/config"
	"github.com/voicereach/voicereach/internal/database"
	"github.com/voicereach/voicereach/internal/dialog"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	renderer   *audio.Renderer
	catalog    *audio.Catalog
	fragments  *audio.LocalStore
	calls      *dialog.SessionStore
	artifacts  database.RenderArtifactRepository
	archive    database.CallSessionRepository
	adminUsers database.AdminUserRepository

	adminSessions *middleware.SessionStore
	jwtSecret     []byte
	metrics       http.Handler
}

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Config     *config.Config
	Renderer   *audio.Renderer
	Catalog    *audio.Catalog
	Fragments  *audio.LocalStore
	Calls      *dialog.SessionStore
	Artifacts  database.RenderArtifactRepository
	Archive    database.CallSessionRepository
	AdminUsers database.AdminUserRepository
	JWTSecret  []byte
	// Metrics is the prometheus scrape handler; nil disables the endpoint.
	Metrics http.Handler
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		cfg:           d.Config,
		renderer:      d.Renderer,
		catalog:       d.Catalog,
		fragments:     d.Fragments,
		calls:         d.Calls,
		artifacts:     d.Artifacts,
		archive:       d.Archive,
		adminUsers:    d.AdminUsers,
		adminSessions: middleware.NewSessionStore(),
		jwtSecret:     d.JWTSecret,
		metrics:       d.Metrics,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AdminSessions exposes the admin session store so main can run the expiry
// ticker alongside the other background sweeps.
func (s *Server) AdminSessions() *middleware.SessionStore {
	return s.adminSessions
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	// Telephony platform webhooks. Authenticated by playback tokens on the
	// audio URLs they receive, not by admin sessions.
	r.Route("/webhook/call", func(r chi.Router) {
		r.Post("/answer", s.handleCallAnswer)
		r.Post("/{callID}/turn", s.handleCallTurn)
		r.Post("/{callID}/hangup", s.handleCallHangup)
	})

	// Rendered audio playback, guarded by a signed token in the query string.
	r.Get("/audio/{artifact}", s.handleAudioPlayback)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Management API under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.Post("/setup", s.handleSetup)
		r.Post("/auth/login", s.handleLogin)

		// Authenticated admin routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.adminSessions))

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/fragments/{kind}", func(r chi.Router) {
				r.Get("/", s.handleListFragments)
				r.Post("/", s.handleUploadFragment)
				r.Delete("/{key}", s.handleDeleteFragment)
			})

			r.Get("/templates", s.handleListTemplates)
			r.Post("/renders/preview", s.handleRenderPreview)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/active", s.handleActiveSessions)
				r.Get("/archive", s.handleArchivedSessions)
			})

			r.Get("/stats", s.handleStats)
		})
	})

	slog.Info("api routes mounted")
}
