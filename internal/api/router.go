// Package api wires together all HTTP routes for the split backend.
//
// Route grouping:
//   - /split/* are the connected-account endpoints called by the onboarding
//     frontend. They are unauthenticated and rate limited per client.
//   - /api/v1/admin/* are operator endpoints and always require the admin key.
//   - /health, /ready and /version are probes for orchestration.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/split-connect/split-backend/internal/api/admin"
	"github.com/split-connect/split-backend/internal/api/split"
	"github.com/split-connect/split-backend/internal/archive"
	"github.com/split-connect/split-backend/internal/audit"
	"github.com/split-connect/split-backend/internal/config"
	"github.com/split-connect/split-backend/internal/jobs"
	"github.com/split-connect/split-backend/internal/middleware"
	"github.com/split-connect/split-backend/internal/payments"
)

// Version is the build version reported by /version. Overridden at link time.
var Version = "0.1.0"

// Dependencies are the collaborators the router hands to its handlers.
type Dependencies struct {
	Provider payments.Provider
	Recorder *audit.Recorder
	// Archive may be nil; the archive endpoint then answers 503.
	Archive archive.Backend
}

// BackgroundServices holds resources that must be released during graceful
// shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has
// drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	archiveJob   *jobs.AuditArchiveJob
	recorder     *audit.Recorder
}

// Shutdown stops the archive job and rate limiter cleanup, then flushes audit
// shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.archiveJob != nil {
		bg.archiveJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{recorder: deps.Recorder}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(&cfg.Security.TLS)))

	var store *audit.Store
	if deps.Recorder != nil {
		store = deps.Recorder.Store()
	}

	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(store))
	router.GET("/version", versionHandler())

	// Connected-account endpoints
	splitGroup := router.Group("/split")
	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfigFrom(&cfg.Security.RateLimiting))
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		splitGroup.Use(middleware.RateLimitMiddleware(limiter))
	}
	split.NewHandlers(cfg, deps.Provider, deps.Recorder).RegisterRoutes(splitGroup)

	// Operator endpoints
	adminGroup := router.Group("/api/v1/admin")
	adminGroup.Use(middleware.AdminKeyMiddleware(cfg.Security.AdminKeyHash))
	if store != nil {
		admin.NewAuditHandler(store, deps.Archive, cfg.Archive.Prefix).RegisterRoutes(adminGroup)
	}

	// Scheduled snapshots
	if cfg.Archive.Interval > 0 && deps.Archive != nil && store != nil {
		bg.archiveJob = jobs.NewAuditArchiveJob(store, deps.Archive, cfg.Archive.Prefix)
		bg.archiveJob.Start(context.Background(), cfg.Archive.Interval)
	}

	return router, bg
}

// @Summary      Health check
// @Description  Liveness probe. Always healthy while the process serves HTTP.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks that the audit log directory is writable.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: audit log not writable"
// @Router       /ready [get]
// readinessHandler fails when audit entries could not be written, so a
// readiness gate keeps traffic away from an instance that would lose its trail.
func readinessHandler(store *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if store == nil {
			checks["audit"] = "disabled"
		} else if err := store.CheckWritable(); err != nil {
			slog.Warn("readiness probe failed", "check", "audit", "error", err)
			checks["audit"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "audit log not writable",
			})
			return
		} else {
			checks["audit"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current build and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging. The slog default
// handler decides between JSON and text output (telemetry.SetupLogger).
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(
		c.Request.Context(),
		level,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS. The onboarding page is usually served from a
// different origin than the API.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" || wildcard {
				// credentials are never combined with a wildcard origin
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, "+middleware.AdminKeyHeader)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
