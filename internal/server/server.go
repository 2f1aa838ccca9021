// Package server provides the HTTP server and routing for the governor:
// the review API, status and version read endpoints, job triggers, and the
// live event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/config"
	"github.com/quantpilot/governor/internal/database"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/modules/optimization"
	"github.com/quantpilot/governor/internal/modules/review"
	"github.com/quantpilot/governor/internal/modules/status"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
	"github.com/quantpilot/governor/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log    zerolog.Logger
	Cfg    *config.Config
	DB     *database.DB
	Bus    *events.Bus
	Outbox *events.Outbox

	Store      *versions.Store
	StatusSvc  *status.Service
	Engine     *optimization.Engine
	ReviewSvc  *review.Service
	Thresholds *thresholds.Repository
}

// Server is the governor HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    *config.Config
	db     *database.DB
	bus    *events.Bus
	outbox *events.Outbox

	store      *versions.Store
	statusSvc  *status.Service
	engine     *optimization.Engine
	reviewSvc  *review.Service
	thresholds *thresholds.Repository

	dailyJob   scheduler.Job
	monthlyJob scheduler.Job
	startedAt  time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Cfg,
		db:         cfg.DB,
		bus:        cfg.Bus,
		outbox:     cfg.Outbox,
		store:      cfg.Store,
		statusSvc:  cfg.StatusSvc,
		engine:     cfg.Engine,
		reviewSvc:  cfg.ReviewSvc,
		thresholds: cfg.Thresholds,
		startedAt:  time.Now().UTC(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetJobs registers jobs for manual triggering via the API.
func (s *Server) SetJobs(daily, monthly scheduler.Job) {
	s.dailyJob = daily
	s.monthlyJob = monthly
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		// The event stream is long-lived, so it lives outside the group
		// that carries the request timeout.
		r.Get("/events/stream", s.handleEventStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)

			r.Route("/status", func(r chi.Router) {
				r.Get("/", s.handleListStatus)
				r.Get("/{symbol}", s.handleGetStatus)
				r.Get("/{symbol}/eligibility", s.handleEligibility)
				r.Post("/{symbol}/reactivate", s.handleReactivate)
			})

			r.Route("/versions", func(r chi.Router) {
				r.Get("/active", s.handleActiveVersion)
				r.Get("/history", s.handleVersionHistory)
				r.Post("/bootstrap", s.handleBootstrap)
			})
			r.Get("/changelog", s.handleChangeLog)

			r.Route("/runs", func(r chi.Router) {
				r.Get("/pending", s.handlePendingRuns)
				r.Get("/{id}", s.handleGetRun)
				r.Post("/{id}/approve", s.handleApprove)
				r.Post("/{id}/reject", s.handleReject)
				r.Post("/{id}/apply", s.handleApply)
			})
			r.Post("/rollback", s.handleRollback)

			r.Route("/thresholds", func(r chi.Router) {
				r.Get("/", s.handleGetThresholds)
				r.Put("/", s.handlePutThresholds)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/daily-evaluation", s.handleTriggerJob(func() scheduler.Job { return s.dailyJob }))
				r.Post("/optimization", s.handleTriggerJob(func() scheduler.Job { return s.monthlyJob }))
			})

			r.Get("/events/recent", s.handleRecentEvents)
		})
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
