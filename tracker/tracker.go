// Package tracker is the client SDK: it buffers tracked events, stamps them
// with identity, and ships batches to the collector.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"

	"github.com/codelesshq/analytics/payload"
)

const (
	defaultBufferSize    = 10
	defaultFlushInterval = 5 * time.Second

	distinctIDKey = "distinct_id"
	traitsKey     = "user_traits"
)

// Options configures a Tracker. The zero value of every optional field is
// usable; ServerURL is required, and SecretKey is required unless
// DisableEncryption is set.
type Options struct {
	// AppID is stamped onto every event as app_id.
	AppID string
	// ServerURL is the collector endpoint, e.g. "https://host/collect".
	ServerURL string
	// SecretKey is the shared secret payload batches are sealed with. It
	// must match the collector's configured key.
	SecretKey string
	// DisableEncryption sends batches as plaintext JSON.
	DisableEncryption bool
	// BufferSize is the flush threshold (default 10).
	BufferSize int
	// FlushInterval is the maximum buffering delay (default 5s).
	FlushInterval time.Duration
	// Debug logs every tracked event and delivery.
	Debug bool

	// IDStore persists the durable distinct_id and user traits across
	// tracker lifetimes. Defaults to an in-memory store.
	IDStore IDStore
	// HTTPClient overrides the delivery client.
	HTTPClient *http.Client
	Logger     slog.Logger
}

// Tracker buffers events and flushes them by size, by timer, or on Close.
// Construct one with New and hold it explicitly; there is no package-level
// instance.
type Tracker struct {
	opts Options
	key  payload.Key
	log  slog.Logger

	client *http.Client

	mu         sync.Mutex
	buf        []payload.Event
	timer      *time.Timer
	distinctID string
	sessionID  string
	pageURL    string
	referrer   string
	closed     bool
}

// New builds a Tracker. The distinct_id is loaded from the IDStore and
// generated (and persisted) when absent; the session_id is fresh per Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.ServerURL == "" {
		return nil, errors.New("tracker: ServerURL required")
	}
	if !opts.DisableEncryption && opts.SecretKey == "" {
		return nil, errors.New("tracker: SecretKey required when encryption is enabled")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.IDStore == nil {
		opts.IDStore = NewMemoryStore()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	t := &Tracker{
		opts:      opts,
		log:       opts.Logger,
		client:    client,
		sessionID: uuid.New().String(),
	}
	if !opts.DisableEncryption {
		t.key = payload.DeriveKey(opts.SecretKey)
	}

	id, err := opts.IDStore.Load(distinctIDKey)
	if err != nil || id == "" {
		id = uuid.New().String()
		if err := opts.IDStore.Store(distinctIDKey, id); err != nil {
			return nil, err
		}
	}
	t.distinctID = id

	return t, nil
}

// DistinctID returns the current durable identity.
func (t *Tracker) DistinctID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.distinctID
}

// SessionID returns the identity of this tracker lifetime.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetPage records the current page URL and referrer. They are stamped onto
// each event at track time, the way a browser SDK reads window.location.
func (t *Tracker) SetPage(url, referrer string) {
	t.mu.Lock()
	t.pageURL = url
	t.referrer = referrer
	t.mu.Unlock()
}

// Track appends a stamped event to the buffer. Identity, time, page context
// and app_id are captured now, not at flush time: changing identity later
// never rewrites events already enqueued. Reaching BufferSize flushes
// immediately; otherwise a single timer flush is scheduled.
func (t *Tracker) Track(name string, props map[string]any) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	stamped := make(map[string]any, len(props)+6)
	for k, v := range props {
		stamped[k] = v
	}
	stamped["distinct_id"] = t.distinctID
	stamped["session_id"] = t.sessionID
	stamped["time"] = time.Now().UnixMilli()
	stamped["url"] = t.pageURL
	stamped["referrer"] = t.referrer
	stamped["app_id"] = t.opts.AppID

	t.buf = append(t.buf, payload.Event{Name: name, Properties: stamped})

	if t.opts.Debug {
		t.log.Debug(context.Background(), "track",
			slog.F("event", name),
			slog.F("buffered", len(t.buf)),
		)
	}

	var batch []payload.Event
	if len(t.buf) >= t.opts.BufferSize {
		batch = t.swapLocked()
	} else if t.timer == nil {
		t.timer = time.AfterFunc(t.opts.FlushInterval, t.Flush)
	}
	t.mu.Unlock()

	if batch != nil {
		go t.send(batch)
	}
}

// Identify overwrites the durable distinct_id, persists it, merges traits
// into the IDStore, and emits an "identify" event. Already-buffered events
// keep the identity they were tracked under.
func (t *Tracker) Identify(userID string, traits map[string]any) {
	if userID == "" {
		t.log.Warn(context.Background(), "identify requires a user id")
		return
	}

	t.mu.Lock()
	t.distinctID = userID
	t.mu.Unlock()

	if err := t.opts.IDStore.Store(distinctIDKey, userID); err != nil {
		t.log.Warn(context.Background(), "persist distinct_id", slog.Error(err))
	}
	if len(traits) > 0 {
		t.mergeTraits(traits)
	}

	props := make(map[string]any, len(traits)+1)
	for k, v := range traits {
		props[k] = v
	}
	props["user_id"] = userID
	t.Track("identify", props)
}

// Traits returns the traits accumulated by Identify calls.
func (t *Tracker) Traits() map[string]any {
	raw, err := t.opts.IDStore.Load(traitsKey)
	if err != nil || raw == "" {
		return map[string]any{}
	}
	var traits map[string]any
	if json.Unmarshal([]byte(raw), &traits) != nil {
		return map[string]any{}
	}
	return traits
}

func (t *Tracker) mergeTraits(traits map[string]any) {
	merged := t.Traits()
	for k, v := range traits {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return
	}
	if err := t.opts.IDStore.Store(traitsKey, string(raw)); err != nil {
		t.log.Warn(context.Background(), "persist traits", slog.Error(err))
	}
}

// Reset rotates both identities (logout): a fresh distinct_id is generated
// and persisted, traits are cleared, and a new session begins.
func (t *Tracker) Reset() {
	newID := uuid.New().String()

	t.mu.Lock()
	t.distinctID = newID
	t.sessionID = uuid.New().String()
	t.mu.Unlock()

	if err := t.opts.IDStore.Store(distinctIDKey, newID); err != nil {
		t.log.Warn(context.Background(), "persist distinct_id", slog.Error(err))
	}
	if err := t.opts.IDStore.Delete(traitsKey); err != nil {
		t.log.Warn(context.Background(), "clear traits", slog.Error(err))
	}
}

// Flush hands the buffered batch to the transport. No-op when the buffer is
// empty. The swap is atomic: tracks arriving after it land in a fresh buffer.
func (t *Tracker) Flush() {
	t.mu.Lock()
	batch := t.swapLocked()
	t.mu.Unlock()

	if batch != nil {
		go t.send(batch)
	}
}

// Close flushes the final partial batch synchronously and rejects further
// tracks. This is the page-unload path: it must not depend on any
// asynchronous step completing afterward, so the send blocks.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.closed = true
	batch := t.swapLocked()
	t.mu.Unlock()

	if batch == nil {
		return nil
	}
	return t.send(batch)
}

// swapLocked cancels the pending timer and takes the whole buffer. Callers
// hold t.mu.
func (t *Tracker) swapLocked() []payload.Event {
	if len(t.buf) == 0 {
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	batch := t.buf
	t.buf = nil
	return batch
}

// send delivers one batch. Best effort: no retry, no resend, a failure drops
// the batch and is only logged. Freshness over completeness.
func (t *Tracker) send(batch []payload.Event) error {
	ctx := context.Background()

	body, err := payload.Marshal(batch)
	if err != nil {
		t.log.Warn(ctx, "encode batch", slog.Error(err))
		return err
	}

	if !t.opts.DisableEncryption {
		blob, err := payload.Seal(t.key, body)
		if err != nil {
			t.log.Warn(ctx, "seal batch", slog.Error(err))
			return err
		}
		body = []byte(blob)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.ServerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn(ctx, "deliver batch", slog.F("events", len(batch)), slog.Error(err))
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if t.opts.Debug {
		t.log.Debug(ctx, "batch delivered",
			slog.F("events", len(batch)),
			slog.F("status", resp.StatusCode),
		)
	}
	return nil
}
