package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/sslshop/internal/api/handler"
	mw "github.com/edvin/sslshop/internal/api/middleware"
	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/core"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	db             Pinger
	temporalClient temporalclient.Client
	cfg            *config.Config
}

func NewServer(logger zerolog.Logger, services *core.Services, db Pinger, temporalClient temporalclient.Client, cfg *config.Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		db:             db,
		temporalClient: temporalClient,
		cfg:            cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Provider callbacks authenticate by signature, not API key.
	webhook := handler.NewWebhook(s.services.Webhooks)
	s.router.Post("/webhooks/square", webhook.Square)
	s.router.Post("/webhooks/gogetssl", webhook.GoGetSSL)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKey(s.cfg.APIKeyHashes))

		// Orders
		order := handler.NewOrder(s.services.Order)
		r.Get("/orders", order.List)
		r.Post("/orders", order.Place)
		r.Get("/orders/{id}", order.Get)
		r.Post("/orders/{id}/reissue", order.Reissue)
		r.Get("/orders/{id}/events", order.Events)

		// Subscriptions
		subscription := handler.NewSubscription(s.services.Subscription)
		r.Get("/subscriptions/{id}", subscription.Get)
		r.Post("/subscriptions/{id}/{action}", subscription.Apply)

		// Notifications
		notification := handler.NewNotification(s.services.Notification)
		r.Get("/notifications", notification.List)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
