package handlers

import (
	"context"
	"net/http"
	"strconv"

	"cdr.dev/slog"
	"github.com/gin-gonic/gin"

	"github.com/codelesshq/analytics/internal/models"
	"github.com/codelesshq/analytics/internal/store"
)

// EventReader is the read side of the store needed by the dashboard API.
type EventReader interface {
	ListEvents(ctx context.Context, opts store.ListOptions) ([]models.StoredEvent, int64, error)
	Stats(ctx context.Context, appID string) (models.Stats, error)
	SearchUsers(ctx context.Context, q string) ([]models.User, error)
	UserJourney(ctx context.Context, distinctID string) (models.Journey, error)
	Apps(ctx context.Context) ([]models.AppSummary, error)
}

const defaultPageSize = 20

// RegisterQueryRoutes registers the read-only dashboard API under /api.
func RegisterQueryRoutes(r gin.IRoutes, st EventReader, logger slog.Logger) {
	r.GET("/api/events", func(c *gin.Context) {
		limit := intQuery(c, "limit", defaultPageSize)
		offset := intQuery(c, "offset", 0)

		events, total, err := st.ListEvents(c.Request.Context(), store.ListOptions{
			Limit:  limit,
			Offset: offset,
			UserID: c.Query("userId"),
			AppID:  c.Query("appId"),
		})
		if err != nil {
			logger.Error(c.Request.Context(), "list events", slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, models.EventPage{
			Events:   events,
			Total:    total,
			Page:     offset/limit + 1,
			PageSize: limit,
		})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		stats, err := st.Stats(c.Request.Context(), c.Query("appId"))
		if err != nil {
			logger.Error(c.Request.Context(), "stats", slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	r.GET("/api/users/search", func(c *gin.Context) {
		q := c.Query("q")
		if q == "" {
			c.JSON(http.StatusOK, []models.User{})
			return
		}

		users, err := st.SearchUsers(c.Request.Context(), q)
		if err != nil {
			logger.Error(c.Request.Context(), "search users", slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, users)
	})

	r.GET("/api/users/:distinctId/journey", func(c *gin.Context) {
		journey, err := st.UserJourney(c.Request.Context(), c.Param("distinctId"))
		if err != nil {
			logger.Error(c.Request.Context(), "user journey", slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, journey)
	})

	r.GET("/api/apps", func(c *gin.Context) {
		apps, err := st.Apps(c.Request.Context())
		if err != nil {
			logger.Error(c.Request.Context(), "apps", slog.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, apps)
	})
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if key == "limit" && n == 0 {
		return def
	}
	return n
}
