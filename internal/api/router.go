package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/config"
	"github.com/savegress/medvault/internal/privacy"
	"github.com/savegress/medvault/internal/retention"
	"github.com/savegress/medvault/internal/session"
	"github.com/savegress/medvault/internal/store"
)

// Server represents the API server.
type Server struct {
	config   *config.Config
	router   chi.Router
	sessions *session.Manager
	auditLog *audit.Logger
	handlers *Handlers
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st *store.Store, transform *privacy.Transform,
	eng *retention.Engine, auditLog *audit.Logger, sessions *session.Manager) *Server {

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		auditLog: auditLog,
		handlers: NewHandlers(st, transform, eng, auditLog, sessions, cfg.Retention.WarnThresholdDays),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(s.recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1/medvault", func(r chi.Router) {
		r.Post("/auth/login", s.handlers.Login)

		// Everything past this point requires an authenticated session.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Post("/auth/logout", s.handlers.Logout)

			r.Route("/patients", func(r chi.Router) {
				r.Get("/", s.handlers.ListPatients)
				r.Post("/", s.handlers.AddPatient)
				r.Get("/export", s.handlers.ExportPatients)
				r.Post("/anonymize", s.handlers.AnonymizePatients)
				r.Post("/encrypt", s.handlers.EncryptPatients)
				r.Get("/{id}", s.handlers.GetPatient)
				r.Put("/{id}", s.handlers.UpdatePatient)
				r.Delete("/{id}", s.handlers.DeletePatient)
				r.Get("/{id}/decrypt", s.handlers.DecryptPatient)
			})

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", s.handlers.ListLogs)
				r.Get("/export", s.handlers.ExportLogs)
			})

			r.Route("/retention", func(r chi.Router) {
				r.Get("/expiring", s.handlers.ListExpiring)
				r.Post("/cleanup", s.handlers.Cleanup)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handlers.ListUsers)
				r.Post("/", s.handlers.CreateUser)
			})
		})
	})
}

// Router returns the chi router.
func (s *Server) Router() http.Handler {
	return s.router
}
