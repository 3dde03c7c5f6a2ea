package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// routeOf is the matched route template, so per-path labels stay bounded.
func routeOf(c *gin.Context, unmatched string) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return unmatched
}

// RequestLogger writes one event per status request. Scrapes of /metrics are
// logged at trace level; errors are raised to warn or error.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := routeOf(c, c.Request.URL.Path)
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route == "/metrics":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("status request")
	}
}

// RequestMetricsMiddleware records every request against component.
func RequestMetricsMiddleware(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(component, c.Request.Method, routeOf(c, "unmatched"), c.Writer.Status(), time.Since(start))
	}
}
