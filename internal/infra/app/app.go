package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/core/port"
	"github.com/arklim/appmarket-accounts/internal/infra/config"
	"github.com/arklim/appmarket-accounts/internal/infra/database"
	kafkainfra "github.com/arklim/appmarket-accounts/internal/infra/kafka"
	"github.com/arklim/appmarket-accounts/internal/infra/logger"
	redisinfra "github.com/arklim/appmarket-accounts/internal/infra/redis"
	"github.com/arklim/appmarket-accounts/internal/infra/security"
	"github.com/arklim/appmarket-accounts/internal/infra/telemetry"
	postgresrepo "github.com/arklim/appmarket-accounts/internal/repository/postgres"
	redisrepo "github.com/arklim/appmarket-accounts/internal/repository/redis"
	"github.com/arklim/appmarket-accounts/internal/transport/http/handlers"
	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
	"github.com/arklim/appmarket-accounts/internal/transport/http/routes"
	"github.com/arklim/appmarket-accounts/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	tracer   *telemetry.TracerProvider
	producer io.Closer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	if cfg.Postgres.MigrateOnStart {
		if err := database.Migrate(cfg.Postgres, log); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	application := &Application{
		cfg:    cfg,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		tracer: tracer,
	}

	if err := application.wire(cfg, log); err != nil {
		application.close(context.Background())
		return nil, err
	}

	return application, nil
}

func (a *Application) wire(cfg *config.AppConfig, log *zap.Logger) error {
	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory)
	if err != nil {
		return fmt.Errorf("init key provider: %w", err)
	}
	issuer := security.NewJWTIssuer(keyProvider, cfg.JWT.Issuer)

	hasher, err := security.NewArgon2Hasher(port.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("configure argon2: %w", err)
	}

	maxTopUp, err := cfg.Ledger.MaxTopUpAmount()
	if err != nil {
		return err
	}

	eventPublisher := a.eventPublisher(cfg, log)

	rateLimitTTL := cfg.Redis.RateLimitTTL
	if rateLimitTTL <= 0 {
		rateLimitTTL = 2 * cfg.RateLimit.WindowDuration
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(a.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       rateLimitTTL,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	metrics := telemetry.NewLedgerMetrics(prometheus.DefaultRegisterer)
	repos := postgresrepo.NewRepositories(a.pool)

	ledger := usecase.NewLedgerService(repos.Ledger, repos.Catalog, eventPublisher, usecase.LedgerConfig{
		MaxTopUp: maxTopUp,
	}, log).WithMetrics(metrics)

	gate := usecase.NewAccessGate(repos.Accounts, hasher, issuer, eventPublisher, usecase.AccessGateConfig{
		MaxAttempts:     cfg.Access.MaxAttempts,
		LockoutDuration: cfg.Access.LockoutDuration,
		SessionTTL:      cfg.Access.SessionTTL,
	}, log).
		WithMetrics(metrics).
		WithPasswordPolicy(security.NewPasswordPolicy())

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Services:    routes.ServiceSet{Access: gate, Ledger: ledger},
		Sessions:    issuer,
		Keys:        issuer,
		Readiness: map[string]handlers.ReadinessCheck{
			"postgres": a.pool.Ping,
			"redis":    a.redis.HealthCheck,
		},
	})

	return nil
}

// eventPublisher falls back to the logging stub when no brokers are configured or the
// producer cannot connect, so wallet operations never depend on Kafka being up.
func (a *Application) eventPublisher(cfg *config.AppConfig, log *zap.Logger) port.EventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}

	a.producer = producer
	log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, cfg.App, log)
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting accounts API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("accounts API stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
