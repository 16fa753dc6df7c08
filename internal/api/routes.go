// Package api provides the HTTP API for the Aegis server.
package api

import (
	"errors"

	"github.com/MacJediWizard/aegis/internal/api/handlers"
	"github.com/MacJediWizard/aegis/internal/api/middleware"
	"github.com/MacJediWizard/aegis/internal/config"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/soar"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config holds configuration for the API router.
type Config struct {
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins outside production.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// Redis backs the rate limiter when set; otherwise counters are per process.
	Redis        *redis.Client
	MaxBodyBytes int64
	// ServiceName labels spans when tracing is enabled.
	ServiceName    string
	TracingEnabled bool
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		MaxBodyBytes:      middleware.DefaultMaxBodyBytes,
		ServiceName:       "aegis-server",
	}
}

// Dependencies are the services the handlers are built on.
type Dependencies struct {
	Verifier middleware.TokenVerifier
	Database handlers.DatabaseHealthChecker
	// Storage is nil when artifacts are kept in memory.
	Storage  handlers.StoragePinger
	Gatherer prometheus.Gatherer

	Settings        handlers.SettingsService
	Backups         handlers.BackupStore
	BackupTrigger   handlers.ManualTrigger
	Dependencies    handlers.DependencyService
	Exporter        handlers.ReportExporter
	Incidents       handlers.IncidentService
	Detector        handlers.IncidentDetector
	Alerts          handlers.AlertStore
	Advisory        handlers.AdvisoryService
	Playbooks       handlers.PlaybookService
	PlaybookLibrary []soar.Template
	SIEM            handlers.SIEMProcessor
	Publisher       events.Publisher
}

func (d Dependencies) validate() error {
	if d.Verifier == nil {
		return errors.New("token verifier is required")
	}
	if d.Gatherer == nil {
		return errors.New("metrics gatherer is required")
	}
	if d.Settings == nil || d.Backups == nil || d.BackupTrigger == nil || d.Dependencies == nil {
		return errors.New("settings and backup services are required")
	}
	if d.Exporter == nil || d.Incidents == nil || d.Detector == nil || d.Alerts == nil {
		return errors.New("export and incident services are required")
	}
	if d.Advisory == nil || d.Playbooks == nil || d.SIEM == nil {
		return errors.New("advisory, playbook and siem services are required")
	}
	return nil
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	if cfg.TracingEnabled {
		r.Engine.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Engine.Use(middleware.RequestID())
	r.Engine.Use(middleware.RequestLogger(logger))

	cors, err := middleware.CORS(cfg.AllowedOrigins, cfg.Environment, logger)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(cors)

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodyBytes
	}
	r.Engine.Use(middleware.BodyLimit(maxBody))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.Redis)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(deps.Database, deps.Storage, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	metricsHandler := handlers.NewMetricsHandler(deps.Gatherer)
	metricsHandler.RegisterPublicRoutes(r.Engine)

	// SIEM webhooks live outside /api/v1 and authenticate with a per-tenant token, not a JWT.
	webhooksHandler := handlers.NewWebhooksHandler(deps.SIEM, logger)
	webhooksHandler.RegisterRoutes(&r.Engine.RouterGroup)

	// API v1 routes (auth required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(deps.Verifier, logger))

	handlers.NewSettingsHandler(deps.Settings, logger).RegisterRoutes(apiV1)
	handlers.NewBackupsHandler(deps.Backups, deps.BackupTrigger, deps.Dependencies, logger).RegisterRoutes(apiV1)
	handlers.NewReportsHandler(deps.Exporter, logger).RegisterRoutes(apiV1)
	handlers.NewIncidentsHandler(deps.Incidents, deps.Detector, logger).RegisterRoutes(apiV1)
	handlers.NewAlertsHandler(deps.Alerts, deps.Publisher, logger).RegisterRoutes(apiV1)
	handlers.NewRecommendationsHandler(deps.Advisory, logger).RegisterRoutes(apiV1)
	handlers.NewPlaybooksHandler(deps.Playbooks, deps.PlaybookLibrary, logger).RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
