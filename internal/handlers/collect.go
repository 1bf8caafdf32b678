package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cdr.dev/slog"
	"github.com/gin-gonic/gin"
	"github.com/mileusna/useragent"

	"github.com/codelesshq/analytics/internal/models"
	"github.com/codelesshq/analytics/payload"
)

// EventWriter is the write side of the store needed by the collector.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []models.StoredEvent) error
}

// Notifier receives error-classified events. Implementations must not block
// the caller.
type Notifier interface {
	Notify(ev models.Event)
}

// CollectorConfig controls the ingest decode path.
type CollectorConfig struct {
	// Encryption enables the decrypt-first decode path. Content type alone
	// cannot disambiguate sealed blobs from JSON, so this flag drives it.
	Encryption bool
	Key        payload.Key
	// Alerts enables error-event fan-out to the Notifier.
	Alerts bool
}

// RegisterCollectRoutes registers the ingestion endpoint.
//
// POST /collect
//   - body is a JSON array of events, or a sealed blob of the same
//   - 200 OK on any syntactically acceptable batch, even when persistence
//     fails (best-effort by design: the client must never retry)
//   - 400 only when every decode strategy fails
func RegisterCollectRoutes(r gin.IRoutes, cfg CollectorConfig, st EventWriter, alerts Notifier, logger slog.Logger) {
	r.POST("/collect", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusBadRequest, "Invalid Data")
			return
		}

		events, ok := decodeBatch(cfg, body)
		if !ok {
			logger.Warn(c.Request.Context(), "failed to decrypt/parse events",
				slog.F("bytes", len(body)))
			c.String(http.StatusBadRequest, "Invalid Data")
			return
		}

		if cfg.Alerts {
			for _, ev := range events {
				if ev.Name() == "error" {
					alerts.Notify(ev)
				}
			}
		}

		rows := resolveBatch(events, c.Request)
		if err := st.InsertEvents(c.Request.Context(), rows); err != nil {
			// Logged, not surfaced: acknowledging anyway avoids client-side
			// retry storms. Accepted data loss.
			logger.Error(c.Request.Context(), "database error", slog.Error(err))
		} else {
			logger.Info(c.Request.Context(), "saved events", slog.F("count", len(rows)))
		}

		c.String(http.StatusOK, "OK")
	})
}

// decodeBatch runs the decode fallback chain:
//  1. encryption on: open the blob (raw or JSON-quoted) and parse the
//     plaintext as a JSON array
//  2. open failed or empty, or encryption off: parse the raw body as JSON
//  3. both failed: reject
func decodeBatch(cfg CollectorConfig, body []byte) ([]models.Event, bool) {
	body = bytes.TrimSpace(body)

	if cfg.Encryption {
		blob := body
		// Some senders JSON-quote the sealed blob; unwrap before opening.
		var quoted string
		if json.Unmarshal(body, &quoted) == nil {
			blob = []byte(quoted)
		}

		if plain, err := payload.Open(cfg.Key, blob); err == nil && len(plain) > 0 {
			var events []models.Event
			if json.Unmarshal(plain, &events) == nil {
				return events, true
			}
		}
	}

	var events []models.Event
	if err := json.Unmarshal(body, &events); err == nil {
		return events, true
	}
	return nil, false
}

// resolveBatch turns wire events into storage rows, stamping the server clock
// when the client sent no time and enriching with the request's User-Agent.
// Event properties are stored verbatim.
func resolveBatch(events []models.Event, req *http.Request) []models.StoredEvent {
	ua := useragent.Parse(req.UserAgent())
	now := time.Now().UnixMilli()

	rows := make([]models.StoredEvent, 0, len(events))
	for _, ev := range events {
		ts := ev.ResolveTimestamp()
		if ts == 0 {
			ts = now
		}
		rows = append(rows, models.StoredEvent{
			EventName:  ev.Name(),
			DistinctID: ev.ResolveDistinctID(),
			SessionID:  ev.ResolveSessionID(),
			AppID:      ev.ResolveAppID(),
			Timestamp:  ts,
			URL:        ev.ResolveURL(),
			Referrer:   ev.ResolveReferrer(),
			Browser:    ua.Name,
			OS:         ua.OS,
			DeviceType: deviceType(ua),
			Properties: ev.Properties,
		})
	}
	return rows
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	}
	return ""
}
