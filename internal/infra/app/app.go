package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/domain"
	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/audit"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/infra/database"
	kafkainfra "github.com/sigmapli/cadastro-auth/internal/infra/kafka"
	"github.com/sigmapli/cadastro-auth/internal/infra/logger"
	"github.com/sigmapli/cadastro-auth/internal/infra/notify"
	redisinfra "github.com/sigmapli/cadastro-auth/internal/infra/redis"
	"github.com/sigmapli/cadastro-auth/internal/infra/security"
	"github.com/sigmapli/cadastro-auth/internal/infra/telemetry"
	"github.com/sigmapli/cadastro-auth/internal/repository/memory"
	postgresrepo "github.com/sigmapli/cadastro-auth/internal/repository/postgres"
	redisrepo "github.com/sigmapli/cadastro-auth/internal/repository/redis"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/handlers"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/routes"
	"github.com/sigmapli/cadastro-auth/internal/usecase"
)

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	auditFile  *audit.FileSink
	dispatcher *audit.Dispatcher
	sweeper    *usecase.SessionSweeper
	tracer     *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger
	reg := prometheus.DefaultRegisterer

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	repos := postgresrepo.NewRepositories(pool)

	counters, err := a.counterStore(ctx)
	if err != nil {
		return err
	}

	// Audit: rotating file always, Kafka when brokers are configured.
	a.auditFile, err = audit.NewFileSink(cfg.Audit)
	if err != nil {
		return fmt.Errorf("init audit file: %w", err)
	}
	sinks := audit.MultiSink{a.auditFile}

	var notifier port.ResetNotifier = notify.NewLoggingNotifier(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka producer unavailable, audit stays local and reset links are only logged", zap.Error(err))
		} else {
			a.producer = producer
			publisher := kafkainfra.NewPublisher(producer, cfg.Kafka, cfg.App, log)
			sinks = append(sinks, publisher)
			notifier = publisher
			log.Info("kafka publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	}

	auditMetrics, err := audit.NewMetrics(reg, "")
	if err != nil {
		return fmt.Errorf("init audit metrics: %w", err)
	}
	a.dispatcher = audit.NewDispatcher(audit.Config{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks, auditMetrics, log)

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return fmt.Errorf("init password hasher: %w", err)
	}

	tokens, err := a.tokenService()
	if err != nil {
		return err
	}

	sessions := usecase.NewSessionService(repos.Sessions, cfg.Session, log)
	auth := usecase.NewAuthService(cfg.Auth, repos.Accounts, hasher, tokens, security.DefaultPasswordValidator(), log).
		WithSessions(sessions).
		WithResetNotifier(notifier).
		WithAuditSink(a.dispatcher)

	a.sweeper = usecase.NewSessionSweeper(sessions, counters, cfg.RateLimit.CounterRetention, cfg.Session.SweepInterval, log)
	if err := a.observeSweeps(reg, sessions); err != nil {
		return err
	}

	var tracing gin.HandlerFunc
	if cfg.Telemetry.Enabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		tracing = a.tracer.Middleware()
	}

	checks := map[string]handlers.HealthCheck{"postgres": pool.Ping}
	if a.redis != nil {
		checks["redis"] = a.redis.HealthCheck
	}

	a.engine, err = routes.Register(routes.Dependencies{
		Config:       cfg,
		Logger:       log,
		Registerer:   reg,
		AuditSink:    a.dispatcher,
		CounterStore: counters,
		Tokens:       tokens,
		Auth:         auth,
		Sessions:     sessions,
		HealthChecks: checks,
		Tracing:      tracing,
	})
	if err != nil {
		return fmt.Errorf("register routes: %w", err)
	}
	return nil
}

// counterStore picks the shared Redis store when enabled, the in-process map otherwise.
func (a *Application) counterStore(ctx context.Context) (port.CounterStore, error) {
	cfg := a.cfg
	if !cfg.Redis.Enabled {
		return memory.NewCounterStore(), nil
	}

	client, err := redisinfra.NewClient(ctx, cfg.Redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = client

	ttl := cfg.RateLimit.Window * 2
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return redisrepo.NewCounterStore(client.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.KeyPrefix,
		TTL:       ttl,
	}), nil
}

// tokenService builds the signer. Outside production a missing secret is replaced by a random one,
// which invalidates tokens on restart.
func (a *Application) tokenService() (*security.TokenService, error) {
	secret := a.cfg.JWT.Secret
	if secret == "" && !a.cfg.App.IsProduction() {
		generated, err := security.GenerateHexToken(32)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = generated
		a.logger.Warn("jwt secret not configured, using an ephemeral secret")
	}
	tokens, err := security.NewTokenService(secret, a.cfg.JWT.Issuer, a.cfg.JWT.Audience, a.cfg.JWT.TTL)
	if err != nil {
		return nil, fmt.Errorf("init token service: %w", err)
	}
	return tokens, nil
}

// observeSweeps exports sweep counts and, after every pass, a snapshot of session statistics.
func (a *Application) observeSweeps(reg prometheus.Registerer, sessions *usecase.SessionService) error {
	swept, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pli",
		Subsystem: "sessions",
		Name:      "swept_total",
		Help:      "Sessions, windows and counters removed by the maintenance sweep.",
	}, []string{"kind"}))
	if err != nil {
		return err
	}
	snapshot, err := registerCollector(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pli",
		Subsystem: "sessions",
		Name:      "snapshot",
		Help:      "Session statistics taken after the last sweep (active, unique_users, logins_24h).",
	}, []string{"metric"}))
	if err != nil {
		return err
	}

	a.sweeper.OnSweep(func(r domain.SweepResult) {
		swept.WithLabelValues("expired").Add(float64(r.Expired))
		swept.WithLabelValues("idle").Add(float64(r.Idle))
		swept.WithLabelValues("windows_closed").Add(float64(r.WindowsClosed))
		swept.WithLabelValues("purged").Add(float64(r.Purged))
		swept.WithLabelValues("counters").Add(float64(r.Counters))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stats, err := sessions.Stats(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			a.logger.Warn("session stats failed", zap.Error(err))
			return
		}
		snapshot.WithLabelValues("active").Set(float64(stats.Active))
		snapshot.WithLabelValues("unique_users").Set(float64(stats.UniqueUsers))
		snapshot.WithLabelValues("logins_24h").Set(float64(stats.LoginsSince))
	})
	return nil
}

// registerCollector registers c or returns the collector already registered under the same name.
func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	a.sweeper.Start(ctx)
	defer a.sweeper.Stop()

	readHeaderTimeout := a.cfg.HTTP.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting cadastro-auth API",
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
		shutdownTimeout := a.cfg.HTTP.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// close releases resources in reverse dependency order. The dispatcher drains before its sinks close.
func (a *Application) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.auditFile != nil {
		_ = a.auditFile.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}
