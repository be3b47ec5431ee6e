package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/security"
	"github.com/govvens/visitor-tracking/internal/transport/http/handlers"
	"github.com/govvens/visitor-tracking/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Sessions   handlers.SessionAdmin
	Activities handlers.ActivityAdmin
	Events     handlers.CustomEventRecorder
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Tracker     *middleware.Tracker
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Verifier    *security.TokenVerifier
	Services    ServiceSet
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.Logger(log))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(middleware.OptionalAuth(deps.Verifier, cfg.Auth.CookieName, log))
	if deps.RateLimiter != nil && cfg.RateLimit.Enabled {
		r.Use(deps.RateLimiter.RateLimit(middleware.ClientIPIdentifier()))
	}
	if deps.Tracker != nil {
		r.Use(deps.Tracker.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		trackHandler := handlers.NewTrackHandler(deps.Services.Events)
		trackHandler.RegisterRoutes(api.Group("/track"))

		admin := api.Group("/admin")
		admin.Use(middleware.RequireStaff())

		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions)
		sessionHandler.RegisterRoutes(admin.Group("/sessions"))

		activityHandler := handlers.NewActivityHandler(deps.Services.Activities)
		activityHandler.RegisterRoutes(admin.Group("/activities"))
	}

	return r
}
