package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sigmapli/cadastro-auth/internal/core/port"
	"github.com/sigmapli/cadastro-auth/internal/infra/config"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/handlers"
	"github.com/sigmapli/cadastro-auth/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config       *config.AppConfig
	Logger       *zap.Logger
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
	AuditSink    port.AuditSink
	CounterStore port.CounterStore
	Tokens       middleware.TokenVerifier
	Auth         handlers.AuthService
	Sessions     SessionService
	HealthChecks map[string]handlers.HealthCheck
	// Tracing, when set, runs first so its span covers the whole pipeline.
	Tracing gin.HandlerFunc
}

// SessionService is what both the session routes and the auth guard need.
type SessionService interface {
	handlers.SessionService
	middleware.SessionToucher
}

// Register builds the gin engine with the security pipeline and every route.
//
// Global order: tracing, context, request id, logging, metrics, security headers, CORS, audit, brute-force
// counter, error handler, timeout, sanitizer, attack detector. Audit and brute-force wrap the error
// handler so they observe the final status of rejected requests.
func Register(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	production := cfg.App.IsProduction()
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}
	securityMetrics, err := middleware.NewSecurityMetrics(reg, "")
	if err != nil {
		return nil, fmt.Errorf("security metrics: %w", err)
	}

	auditor := middleware.NewAuditor(deps.AuditSink, log)
	sanitizer := middleware.NewSanitizer()

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	if deps.Tracing != nil {
		r.Use(deps.Tracing)
	}
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(httpMetrics.Handler())
	r.Use(middleware.SecurityHeaders(production))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	r.Use(auditor.Handler())
	if deps.CounterStore != nil {
		bruteForce := middleware.NewBruteForceDetector(deps.CounterStore, cfg.BruteForce, auditor, securityMetrics, log)
		r.Use(bruteForce.Handler())
	}
	r.Use(middleware.ErrorHandler(auditor, log, production))
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout, auditor, securityMetrics))
	r.Use(sanitizer.Handler())
	r.Use(middleware.DetectAttacks(auditor, securityMetrics))

	r.NoRoute(middleware.NoRoute())

	health := handlers.NewHealthHandler(deps.HealthChecks)
	r.GET("/healthz", health.Status)
	r.GET("/readyz", health.Ready)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	guards := handlers.RouteGuards{}
	api := r.Group("/api")
	if deps.CounterStore != nil {
		limiter := middleware.NewRateLimiter(deps.CounterStore, log).
			WithAuditor(auditor).
			WithMetrics(securityMetrics)
		api.Use(limiter.RateLimit(middleware.GeneralRule(cfg.RateLimit)))
		guards.Login = limiter.RateLimit(middleware.LoginRule(cfg.RateLimit))
		guards.Sensitive = limiter.RateLimit(middleware.SensitiveRule(cfg.RateLimit))
	}

	var toucher middleware.SessionToucher
	if deps.Sessions != nil {
		toucher = deps.Sessions
	}
	if deps.Tokens != nil {
		guards.Auth = middleware.RequireAuth(deps.Tokens, toucher)
	}

	if deps.Auth != nil {
		handlers.NewAuthHandler(deps.Auth).RegisterRoutes(api.Group("/auth"), guards)
	}
	if deps.Sessions != nil {
		handlers.NewSessionHandler(deps.Sessions).RegisterRoutes(api.Group("/sessions"), guards)
	}

	return r, nil
}
