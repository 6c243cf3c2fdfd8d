package controlplane

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/pkg/config"
)

// Config holds settings for the fake control plane
type Config struct {
	// PublicURL is the base of every URL handed to clients. When empty it is
	// derived from the request Host header.
	PublicURL      string
	JWTSecret      string
	TokenTTL       time.Duration
	AutoApprove    bool
	StreamDuration time.Duration
	StreamInterval time.Duration
	RateLimit      RateLimitConfig
}

// NewConfig maps application configuration onto server settings
func NewConfig(cfg *config.Config) Config {
	return Config{
		PublicURL:      cfg.FakeHost.PublicURL,
		JWTSecret:      cfg.FakeHost.JWTSecret,
		TokenTTL:       cfg.FakeHost.TokenTTL,
		AutoApprove:    cfg.FakeHost.AutoApprove,
		StreamDuration: cfg.FakeHost.StreamDuration,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: cfg.FakeHost.UploadRate,
			BurstSize:         cfg.FakeHost.UploadBurst,
		},
	}
}

// Server is the HTTP API of the fake control plane
type Server struct {
	router   *chi.Mux
	config   Config
	store    *Store
	tokens   *TokenIssuer
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates the API server on top of store
func NewServer(cfg Config, store *Store) *Server {
	if cfg.StreamDuration <= 0 {
		cfg.StreamDuration = 5 * time.Minute
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 500 * time.Millisecond
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		store:  store,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Component("controlplane"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestLogger)
	s.router.Use(CORSMiddleware())
	s.router.Use(middleware.RealIP)

	limit := RateLimitMiddleware(s.config.RateLimit)

	s.router.Get("/health", s.healthCheck)
	s.router.Post("/admin/reset", s.reset)

	// Browser login
	s.router.Get("/cli-auth", s.authPage)
	s.router.With(limit).Post("/cli-auth/approve", s.approveLogin)
	s.router.Get("/authenticate/{requestID}", s.fetchToken)

	s.router.With(BearerAuth(s.tokens)).Post("/authenticate/me", s.me)

	s.router.Route("/deployments", func(r chi.Router) {
		// The live log socket authenticates through the query string
		r.Get("/{key}/logs", s.streamLogs)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(s.tokens))

			r.Get("/", s.listDeployments)
			r.With(limit).Post("/", s.uploadDeployment)
			r.Post("/prepare", s.prepareDeployment)
			r.Post("/logs", s.fetchLogs)
			r.Get("/regions", s.listRegions)
			r.Delete("/{key}", s.deleteDeployment)
			r.Get("/{key}/status", s.deploymentStatus)
		})
	})

	// Stand-ins for the deployed app
	s.router.Route("/apps/{key}", func(r chi.Router) {
		r.Get("/", s.serveFrontend)
		r.Get("/sidecar", s.serveSidecar)
		r.Get("/api/ping", s.servePing)
	})
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Tokens returns the issuer used to sign access tokens
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := s.store.Ping(); err != nil {
		dbStatus = "error"
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": dbStatus})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset state")
		RespondWithError(w, http.StatusInternalServerError, "Failed to reset state")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// baseURL is the externally visible root of this server
func (s *Server) baseURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
