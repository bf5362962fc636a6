// Package api wires the HTTP surface: page fetches and driver management
// behind API-key auth and per-key rate limiting.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/chromefetch/api/handler"
	"github.com/use-agent/chromefetch/api/middleware"
	"github.com/use-agent/chromefetch/cache"
	"github.com/use-agent/chromefetch/config"
)

// Deps are the services behind the routes.
type Deps struct {
	Fetcher     handler.PageFetcher
	Resolver    handler.DriverResolver
	DriverCache handler.DriverCache
	Cache       *cache.Cache // nil disables response caching
	ProxyPools  int
	StartTime   time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → request log
//	API:     Auth (if enabled) → RateLimit
//
// The health endpoint sits outside auth so monitoring probes always work.
// ctx bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLog())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.Fetcher, d.ProxyPools, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/fetch", handler.Fetch(d.Fetcher, d.Cache))
	protected.POST("/driver/resolve", handler.ResolveDriver(d.Resolver, d.DriverCache))
	protected.GET("/driver/cache", handler.ListDriverCache(d.Resolver, d.DriverCache))

	return r
}

// requestLog logs one line per request through slog.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
