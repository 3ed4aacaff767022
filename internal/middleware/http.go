package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpDuration = promauto.NewSummaryVec(
	prometheus.SummaryOpts{
		Name: "tillsync_http_duration_seconds",
		Help: "Duration of HTTP requests.",
	},
	[]string{"route", "method", "status"},
)

// MetricsMiddleware records request duration per route. Requests that fall
// through to the upstream interceptor share the "intercepted" route label.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "intercepted"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpDuration.WithLabelValues(route, c.Request.Method, status).Observe(time.Since(start).Seconds())
	}
}
