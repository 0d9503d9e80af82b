package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/medbook/medbook/internal/config"
	"github.com/medbook/medbook/internal/domain/admin"
	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/events"
	"github.com/medbook/medbook/internal/platform/lock"
	"github.com/medbook/medbook/internal/platform/middleware"
	"github.com/medbook/medbook/internal/platform/telemetry"
)

const apiVersion = "1.0"

// deps are the process-wide resources the router is built on.
type deps struct {
	pool      *pgxpool.Pool
	redis     *redis.Client
	locker    lock.Locker
	publisher events.Publisher
	metrics   *telemetry.Provider
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	d := deps{pool: pool, metrics: telemetry.NewProvider()}
	var closers []io.Closer

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		d.redis = redis.NewClient(opts)
		closers = append(closers, d.redis)
	}
	d.locker = newLocker(cfg, d.redis, d.metrics, logger)

	publisher, closer := newPublisher(cfg, logger)
	if closer != nil {
		closers = append(closers, closer)
	}
	d.publisher = events.Observe(publisher, d.metrics)

	e := newServer(cfg, logger, d)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("lock_backend", cfg.LockBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.Shutdown(shutdownCtx)
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		logger.Error().Err(err).Msg("shutdown finished with errors")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newLocker picks the slot lock backend. The redis backend keeps an
// in-process fallback so bookings on this replica stay serialized while
// redis is unreachable.
func newLocker(cfg *config.Config, rdb *redis.Client, metrics *telemetry.Provider, logger zerolog.Logger) lock.Locker {
	local := lock.NewKeyedMutex(cfg.LockWait)
	if cfg.LockBackend != config.LockBackendRedis || rdb == nil {
		return lock.Observe(local, config.LockBackendMemory, metrics)
	}
	l := lock.NewRedisLocker(rdb, lock.RedisConfig{
		Prefix: "medbook:slot:",
		TTL:    cfg.LockTTL,
		Wait:   cfg.LockWait,
	}, config.NewCircuitBreaker(config.BreakerRedisLock, logger), local, logger)
	return lock.Observe(l, config.LockBackendRedis, metrics)
}

// newPublisher returns the RabbitMQ publisher when AMQP_URL is set. A broker
// that cannot be reached at startup degrades to logging events.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, io.Closer) {
	if cfg.AMQPURL == "" {
		return events.NewLogPublisher(logger), nil
	}
	p, err := events.NewRabbitMQPublisher(cfg.AMQPURL, cfg.EventsQueue,
		config.NewCircuitBreaker(config.BreakerRabbitMQ, logger))
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, logging appointment events instead")
		return events.NewLogPublisher(logger), nil
	}
	logger.Info().Str("queue", cfg.EventsQueue).Msg("publishing appointment events to rabbitmq")
	return p, p
}

func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	if cfg.MetricsEnabled {
		e.Use(d.metrics.Middleware())
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader, auth.DevRoleHeader},
	}))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Medical Appointment System API",
			"version": apiVersion,
		})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": apiVersion})
	})
	checks := []db.Check{{Name: "database", Ping: func(ctx context.Context) error { return d.pool.Ping(ctx) }}}
	if d.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}})
	}
	e.GET("/health/db", db.HealthHandler(d.pool))
	e.GET("/health/ready", db.ReadyHandler(checks...))
	if cfg.MetricsEnabled {
		e.GET("/metrics", d.metrics.Handler())
	}

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
	}
	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	} else {
		authMW = auth.JWTMiddleware(jwtCfg)
	}
	apiV1 := e.Group("/api/v1", authMW)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Identity
	identitySvc := identity.NewService(identity.NewUserRepoPG(d.pool), identity.NewDoctorProfileRepoPG(d.pool))
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	// Scheduling
	schedSvc := scheduling.NewService(
		scheduling.NewScheduleRepoPG(d.pool),
		scheduling.NewAppointmentRepoPG(d.pool),
		identitySvc,
	)
	schedSvc.SetTransactor(db.NewTxRunner(d.pool))
	schedSvc.SetRecorder(d.metrics)
	schedSvc.SetLogger(logger.With().Str("component", "scheduling").Logger())
	if d.locker != nil {
		schedSvc.SetLocker(d.locker)
	}
	if d.publisher != nil {
		schedSvc.SetPublisher(d.publisher)
	}
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)

	// Admin
	adminSvc := admin.NewService(admin.NewStatsRepoPG(d.pool), identitySvc)
	admin.NewHandler(adminSvc).RegisterRoutes(apiV1)

	return e
}
