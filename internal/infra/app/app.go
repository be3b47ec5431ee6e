package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/database"
	"github.com/govvens/visitor-tracking/internal/infra/geoip"
	kafkainfra "github.com/govvens/visitor-tracking/internal/infra/kafka"
	"github.com/govvens/visitor-tracking/internal/infra/logger"
	redisinfra "github.com/govvens/visitor-tracking/internal/infra/redis"
	"github.com/govvens/visitor-tracking/internal/infra/security"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
	postgresrepo "github.com/govvens/visitor-tracking/internal/repository/postgres"
	redisrepo "github.com/govvens/visitor-tracking/internal/repository/redis"
	"github.com/govvens/visitor-tracking/internal/transport/http/middleware"
	"github.com/govvens/visitor-tracking/internal/transport/http/routes"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			log.Warn("failed to init tracer provider, spans disabled", zap.Error(err))
			tracer = nil
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	trackingMetrics, err := telemetry.NewTrackingMetrics(telemetry.TrackingMetricsOptions{})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init tracking metrics: %w", err)
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var geo port.GeoLocator
	if cfg.GeoIP.Enabled {
		geo = geoip.NewClient(cfg.GeoIP, &http.Client{Timeout: cfg.GeoIP.Timeout}, trackingMetrics, log)
	} else {
		log.Info("geoip disabled")
		geo = geoip.Nop{}
	}

	// Initialize Kafka event publisher
	var eventPublisher port.EventPublisher
	var producer *kafkainfra.Producer
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			producer = nil
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	sessionService := usecase.NewSessionService(repos.Sessions, repos.Activities, geo, eventPublisher, trackingMetrics, log)
	activityService := usecase.NewActivityService(repos.Activities, eventPublisher, usecase.ClassifierRules{
		APIPrefixes:  cfg.Tracking.APIPrefixes,
		AuthPrefixes: cfg.Tracking.AuthPrefixes,
	}, trackingMetrics, log)
	botService := usecase.NewBotService(usecase.NewBotClassifier(cfg.BotDetection), repos.Sessions, eventPublisher, trackingMetrics, log)

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.FixedWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, cfg.RateLimit, log)

	tracker := middleware.NewTracker(middleware.TrackerOptions{
		Settings:   cfg.Tracking,
		Secure:     !cfg.App.Debug,
		Visitors:   usecase.NewVisitorResolver(),
		Sessions:   sessionService,
		Activities: activityService,
		Bots:       botService,
		Metrics:    trackingMetrics,
		Logger:     log,
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set, every caller is anonymous and the admin API is closed")
	}

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Tracker:     tracker,
		HTTPMetrics: httpMetrics,
		Verifier:    security.NewTokenVerifier(cfg.Auth.JWTSecret),
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Sessions:   sessionService,
			Activities: activityService,
			Events:     activityService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		tracer:   tracer,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Warn("failed to close kafka producer", zap.Error(err))
			}
		}
	}()
	defer func() {
		if a.tracer != nil {
			if err := a.tracer.Shutdown(context.Background()); err != nil {
				a.logger.Warn("failed to shut down tracer provider", zap.Error(err))
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting visitor tracking API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
