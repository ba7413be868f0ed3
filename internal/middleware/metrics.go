// Package middleware provides the Gin middleware shared by every route of the
// split backend. Registration order lives in internal/api/router.go.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/split-connect/split-backend/internal/telemetry"
)

// unmatchedRoute labels 404/405 traffic so unknown paths cannot inflate label
// cardinality.
const unmatchedRoute = "<no-route>"

// MetricsMiddleware records http_requests_total{method,path,status} and
// http_request_duration_seconds{method,path}. The path label is the Gin route
// template from c.FullPath().
//
// Register after gin.Recovery() and RequestIDMiddleware so the final status
// written by recovery is the one counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
