package httpserver

import (
	"context"
	"net/http"
	"time"

	"cdr.dev/slog"
	"github.com/gin-gonic/gin"

	"github.com/codelesshq/analytics/internal/config"
	"github.com/codelesshq/analytics/internal/handlers"
	"github.com/codelesshq/analytics/internal/store"
	"github.com/codelesshq/analytics/payload"
)

// NewRouter wires the collector, the dashboard API and the health pair.
// Everything is public: collection beacons cannot carry credentials, and the
// dashboard API is read-only like the original deployment.
func NewRouter(cfg config.Config, st *store.PostgresStore, alerts handlers.Notifier, logger slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	collectorCfg := handlers.CollectorConfig{
		Encryption: cfg.Encryption,
		Alerts:     cfg.FeishuAlerts && alerts != nil,
	}
	if cfg.Encryption {
		collectorCfg.Key = payload.DeriveKey(cfg.SecretKey)
	}

	handlers.RegisterCollectRoutes(r, collectorCfg, st, alerts, logger)
	handlers.RegisterQueryRoutes(r, st, logger)

	return r
}
