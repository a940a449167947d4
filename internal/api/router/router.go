// Package router provides HTTP routing configuration using Chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/remiblancher/certengine/internal/api/handler"
	"github.com/remiblancher/certengine/internal/api/middleware"
	"github.com/remiblancher/certengine/pkg/ca"
	"github.com/remiblancher/certengine/pkg/custody"
)

// Config holds router configuration.
type Config struct {
	Version string
	Logger  *zap.Logger

	// Verifier serves /api/v1/verify. A default verifier is used when nil.
	Verifier *ca.Verifier
	// Issuers are listed by /api/v1/capabilities.
	Issuers []ca.CertIssuer

	// Custody, when set, is exposed under /v1/keys.
	Custody custody.Custody
	// Token, when set, is required as a bearer token on /api/v1 and /v1.
	Token string

	// Gatherer backs /metrics; the endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
}

// services lists the enabled services for the health endpoint.
func (c *Config) services() []string {
	s := []string{"api"}
	if c.Custody != nil {
		s = append(s, "custody")
	}
	if c.Gatherer != nil {
		s = append(s, "metrics")
	}
	return s
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = ca.NewVerifier(ca.VerifyConfig{MaxDepth: ca.DefaultMaxDepth}, ca.WithLogger(logger))
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	// Health endpoints (always enabled)
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.services())
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	certHandler := handler.NewCertHandler(verifier, cfg.Issuers)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Token != "" {
			r.Use(middleware.BearerAuth(cfg.Token, handler.Unauthorized))
		}
		r.Post("/verify", certHandler.Verify)
		r.Post("/parse", certHandler.Parse)
		r.Get("/capabilities", certHandler.Capabilities)
	})

	if cfg.Custody != nil {
		custodyHandler := handler.NewCustodyHandler(cfg.Custody, logger)
		r.Route("/v1/keys/{handle}", func(r chi.Router) {
			if cfg.Token != "" {
				r.Use(middleware.BearerAuth(cfg.Token, custodyHandler.Unauthorized))
			}
			r.Get("/public-key", custodyHandler.PublicKey)
			r.Post("/sign", custodyHandler.Sign)
		})
	}

	return r
}
