package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/appmarket-accounts/internal/infra/config"
	"github.com/arklim/appmarket-accounts/internal/transport/http/handlers"
	"github.com/arklim/appmarket-accounts/internal/transport/http/middleware"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Access handlers.AccessGate
	Ledger handlers.Ledger
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Sessions    middleware.SessionVerifier
	Keys        handlers.KeySet
	Readiness   map[string]handlers.ReadinessCheck
	// Registry receives the HTTP collectors and backs /metrics. Defaults to the global registry.
	Registry *prometheus.Registry
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if deps.Registry != nil {
		registerer = deps.Registry
		gatherer = deps.Registry
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registerer})
	if err != nil {
		log.Warn("http metrics disabled", zap.Error(err))
	} else {
		r.Use(httpMetrics.Handler())
	}

	if len(deps.Config.App.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler(deps.Readiness)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	jwksHandler := handlers.NewJWKSHandler(deps.Keys)
	r.GET("/.well-known/jwks.json", jwksHandler.Keys)

	api := r.Group("/api/v1")
	{
		if deps.Services.Access != nil {
			authHandler := handlers.NewAuthHandler(deps.Services.Access)
			authHandler.RegisterRoutes(api.Group("/auth"), buildLoginMiddlewares(deps), buildRegisterMiddlewares(deps))
		}

		if deps.Services.Ledger != nil && deps.Sessions != nil {
			accountGroup := api.Group("")
			accountGroup.Use(middleware.RequireAuth(deps.Sessions))

			handlers.NewWalletHandler(deps.Services.Ledger).RegisterRoutes(accountGroup)
			handlers.NewPurchaseHandler(deps.Services.Ledger).RegisterRoutes(accountGroup)
		}
	}

	return r
}

func buildLoginMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.LoginMaxAttempts
	if limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      limit,
		Window:     rateLimitWindow(deps.Config),
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func buildRegisterMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.RegisterMaxAttempts
	if limit <= 0 {
		return nil
	}

	rule := middleware.RateLimitRule{
		Name:       "auth_register_ip",
		Limit:      limit,
		Window:     rateLimitWindow(deps.Config),
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}

func rateLimitWindow(cfg *config.AppConfig) time.Duration {
	if cfg.RateLimit.WindowDuration <= 0 {
		return time.Minute
	}
	return cfg.RateLimit.WindowDuration
}
