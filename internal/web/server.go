package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/singleflight"

	"github.com/conorfennell/songquiz/internal/metrics"
	"github.com/conorfennell/songquiz/internal/quiz"
	"github.com/conorfennell/songquiz/internal/storage"
)

// Options tunes the HTTP layer.
type Options struct {
	// ReposDir is where git sources are cloned during a sync.
	ReposDir string
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
	// RateLimit is the sustained number of write requests per second allowed
	// per client. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db      *storage.DB
	quiz    *quiz.Service
	metrics *metrics.Collector
	router  chi.Router
	opts    Options

	limiter *clientLimiter
	syncs   singleflight.Group
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, svc *quiz.Service, m *metrics.Collector, opts Options) *Server {
	if m == nil {
		m = metrics.NewCollector()
	}
	if opts.ReposDir == "" {
		opts.ReposDir = "repos"
	}
	s := &Server{
		db:      db,
		quiz:    svc,
		metrics: m,
		router:  chi.NewRouter(),
		opts:    opts,
	}
	if opts.RateLimit > 0 {
		s.limiter = newClientLimiter(opts.RateLimit, opts.RateBurst, 10*time.Minute)
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(slog.Default()))
	r.Use(s.instrument)

	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Get("/songs/{songID}/questions", s.handleListQuestions)

	r.Route("/sessions", func(r chi.Router) {
		r.With(s.rateLimit).Post("/", s.handleStartSession)
		r.Get("/{sessionID}", s.handleGetSession)
		r.With(s.rateLimit).Post("/{sessionID}/answers", s.handleAnswer)
		r.With(s.rateLimit).Post("/{sessionID}/complete", s.handleComplete)
	})

	r.Route("/users/{userID}/songs/{songID}", func(r chi.Router) {
		r.Get("/progress", s.handleGetProgress)
		r.Get("/history", s.handleGetHistory)
	})

	// Source management routes
	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleGetSources)
		r.With(s.rateLimit).Post("/", s.handlePostSource)
		r.With(s.rateLimit).Delete("/{sourceID}", s.handleDeleteSource)
	})
	r.With(s.rateLimit).Post("/sync", s.handlePostSync)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}
