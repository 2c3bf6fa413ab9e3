package main

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/config"
	"github.com/ehr/claims/internal/domain/claimstatus"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
	"github.com/ehr/claims/internal/platform/middleware"
)

const dbHealthTimeout = 5 * time.Second

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		return auth.DevAuthMiddleware()
	case config.AuthModeSigningKey:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		})
	default:
		return auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		})
	}
}

// newServer wires the HTTP surface. pool is only touched by request
// handlers.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.TenantHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BatchBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(authMiddleware(cfg))
	e.Use(middleware.Audit(logger))

	var metrics *claimstatus.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = claimstatus.NewMetrics(reg)
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats {
		return db.GetPoolStats(pool)
	}, dbHealthTimeout))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	svc := claimstatus.NewService(claimstatus.NewClaimStorePG(pool), claimstatus.Options{
		StaleDaysDefault: cfg.StaleDaysDefault,
		BatchWorkers:     cfg.BatchWorkers,
		Logger:           &logger,
		Metrics:          metrics,
	})
	claimstatus.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}
