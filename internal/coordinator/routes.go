package coordinator

import (
	"net/http"
	"time"

	"github.com/danmuck/lifegrid/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func (c *Coordinator) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(c.cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(c.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(c.started).String(),
			"component": c.cfg.ID,
			"version":   "0.1.0",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Ready means the run has every worker and is computing or done.
	r.GET("/ready", func(ctx *gin.Context) {
		phase := c.phaseOf()
		status := http.StatusOK
		ready := phase == PhaseRunning || phase == PhaseFinalized
		if !ready {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, gin.H{
			"ready":  ready,
			"phase":  phase,
			"run_id": c.cfg.RunID,
		})
	})

	r.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Status())
	})
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
