package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelesshq/analytics/internal/models"
	"github.com/codelesshq/analytics/payload"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]models.StoredEvent
	err     error
}

func (f *fakeWriter) InsertEvents(_ context.Context, events []models.StoredEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeNotifier) Notify(ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func newCollectRouter(t *testing.T, cfg CollectorConfig, st *fakeWriter, alerts *fakeNotifier) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	RegisterCollectRoutes(r, cfg, st, alerts, logger)
	return r
}

func postCollect(r *gin.Engine, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("User-Agent", chromeUA)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCollectPlaintext(t *testing.T) {
	st := &fakeWriter{}
	alerts := &fakeNotifier{}
	r := newCollectRouter(t, CollectorConfig{Alerts: true}, st, alerts)

	body := []byte(`[{"event":"error","properties":{"message":"x","distinct_id":"u1","session_id":"s1","time":1}}]`)
	w := postCollect(r, body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())

	require.Len(t, st.batches, 1)
	require.Len(t, st.batches[0], 1)
	row := st.batches[0][0]
	assert.Equal(t, "error", row.EventName)
	assert.Equal(t, "u1", row.DistinctID)
	assert.Equal(t, "s1", row.SessionID)
	assert.EqualValues(t, 1, row.Timestamp)
	assert.Equal(t, "x", row.Properties["message"])

	// One alert dispatch attempt for the error event.
	require.Len(t, alerts.events, 1)
	assert.Equal(t, "error", alerts.events[0].Name())
}

func TestCollectEncrypted(t *testing.T) {
	key := payload.DeriveKey("shared-secret")
	st := &fakeWriter{}
	r := newCollectRouter(t, CollectorConfig{Encryption: true, Key: key}, st, &fakeNotifier{})

	plain := []byte(`[{"event":"click","properties":{"distinct_id":"u2","session_id":"s2","time":5,"tag":"a"}}]`)
	blob, err := payload.Seal(key, plain)
	require.NoError(t, err)

	w := postCollect(r, []byte(blob))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, st.batches, 1)
	require.Len(t, st.batches[0], 1)
	assert.Equal(t, "click", st.batches[0][0].EventName)
	assert.Equal(t, "u2", st.batches[0][0].DistinctID)
}

func TestCollectQuotedBlob(t *testing.T) {
	key := payload.DeriveKey("shared-secret")
	st := &fakeWriter{}
	r := newCollectRouter(t, CollectorConfig{Encryption: true, Key: key}, st, &fakeNotifier{})

	plain := []byte(`[{"event":"pageview","properties":{"path":"/"}}]`)
	blob, err := payload.Seal(key, plain)
	require.NoError(t, err)

	// Blob wrapped in a JSON string, as some senders do.
	w := postCollect(r, []byte(`"`+blob+`"`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, st.batches, 1)
	assert.Equal(t, "pageview", st.batches[0][0].EventName)
}

func TestCollectMismatchedKeyFallsBackToPlainParse(t *testing.T) {
	st := &fakeWriter{}
	r := newCollectRouter(t, CollectorConfig{
		Encryption: true,
		Key:        payload.DeriveKey("server-secret"),
	}, st, &fakeNotifier{})

	// Sealed under a different key: decryption fails, but the body is not
	// valid JSON either, so the whole request is rejected.
	blob, err := payload.Seal(payload.DeriveKey("client-secret"), []byte(`[{"event":"x"}]`))
	require.NoError(t, err)
	w := postCollect(r, []byte(blob))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Invalid Data", w.Body.String())

	// Plaintext JSON with encryption on: the fallback parse accepts it.
	w = postCollect(r, []byte(`[{"event":"click","properties":{}}]`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, st.batches, 1)
}

func TestCollectInvalidBody(t *testing.T) {
	st := &fakeWriter{}
	r := newCollectRouter(t, CollectorConfig{}, st, &fakeNotifier{})

	w := postCollect(r, []byte("definitely not json"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, st.batches)
}

func TestCollectStoreFailureStillAcknowledged(t *testing.T) {
	st := &fakeWriter{err: errors.New("connection refused")}
	r := newCollectRouter(t, CollectorConfig{}, st, &fakeNotifier{})

	w := postCollect(r, []byte(`[{"event":"click","properties":{}}]`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestCollectAlertsDisabled(t *testing.T) {
	alerts := &fakeNotifier{}
	r := newCollectRouter(t, CollectorConfig{Alerts: false}, &fakeWriter{}, alerts)

	w := postCollect(r, []byte(`[{"event":"error","properties":{"message":"x"}}]`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, alerts.events)
}

func TestCollectServerObservedFields(t *testing.T) {
	st := &fakeWriter{}
	r := newCollectRouter(t, CollectorConfig{}, st, &fakeNotifier{})

	// No client time: the collector stamps its own clock.
	w := postCollect(r, []byte(`[{"event":"click","properties":{"distinct_id":"u1"}}]`))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, st.batches, 1)
	row := st.batches[0][0]
	assert.NotZero(t, row.Timestamp)
	assert.Equal(t, "Chrome", row.Browser)
	assert.Equal(t, "desktop", row.DeviceType)
}
