package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/gorilla/handlers"

	"github.com/codelesshq/analytics/internal/alert"
	"github.com/codelesshq/analytics/internal/config"
	apihandlers "github.com/codelesshq/analytics/internal/handlers"
	"github.com/codelesshq/analytics/internal/httpserver"
	"github.com/codelesshq/analytics/internal/store"
)

// main boots the server: config → DB → schema → router → listen.
func main() {
	ctx := context.Background()
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelDebug)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(ctx, "load config", slog.Error(err))
	}

	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		logger.Fatal(ctx, "connect database", slog.Error(err))
	}
	defer db.Close()

	if err := db.EnsureSchema(); err != nil {
		logger.Fatal(ctx, "apply schema", slog.Error(err))
	}

	// A typed-nil Dispatcher must not reach the Notifier interface, so the
	// assignment only happens when alerts are actually on.
	var alerts apihandlers.Notifier
	if cfg.FeishuAlerts {
		d := alert.NewDispatcher(cfg.FeishuWebhook, logger)
		d.MinInterval = cfg.FeishuMinInterval
		d.MaxPerMinute = cfg.FeishuMaxPerMinute
		alerts = d
	}

	router := httpserver.NewRouter(cfg, db, alerts, logger)

	logger.Info(ctx, "server listening",
		slog.F("port", cfg.Port),
		slog.F("encryption", cfg.Encryption),
		slog.F("feishu_alerts", cfg.FeishuAlerts),
	)

	// Dashboards are served from another origin; CORS wraps the whole engine.
	corsRouter := handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(router)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := http.ListenAndServe(addr, corsRouter); err != nil {
		logger.Fatal(ctx, "server exited", slog.Error(err))
	}
}
