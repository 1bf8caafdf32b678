package models

import "encoding/json"

// Event is the inbound wire shape accepted by POST /collect. Older SDK
// builds send the name under "event_name" and hoist some properties to the
// top level, so both spellings are accepted; the top-level field wins when
// present, otherwise the property of the same name is used.
type Event struct {
	Event      string         `json:"event,omitempty"`
	EventName  string         `json:"event_name,omitempty"`
	DistinctID string         `json:"distinct_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	AppID      string         `json:"app_id,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
	URL        string         `json:"url,omitempty"`
	Referrer   string         `json:"referrer,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Name resolves the event name, preferring the legacy "event_name" key.
func (e Event) Name() string {
	if e.EventName != "" {
		return e.EventName
	}
	return e.Event
}

// Prop returns a string property, or "" when absent or not a string.
func (e Event) Prop(key string) string {
	v, ok := e.Properties[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e Event) resolve(field, key string) string {
	if field != "" {
		return field
	}
	return e.Prop(key)
}

// ResolveDistinctID returns the event's distinct_id.
func (e Event) ResolveDistinctID() string { return e.resolve(e.DistinctID, "distinct_id") }

// ResolveSessionID returns the event's session_id.
func (e Event) ResolveSessionID() string { return e.resolve(e.SessionID, "session_id") }

// ResolveAppID returns the event's app_id.
func (e Event) ResolveAppID() string { return e.resolve(e.AppID, "app_id") }

// ResolveURL returns the page URL the event was tracked on.
func (e Event) ResolveURL() string { return e.resolve(e.URL, "url") }

// ResolveReferrer returns the referrer of the page the event was tracked on.
func (e Event) ResolveReferrer() string { return e.resolve(e.Referrer, "referrer") }

// ResolveTimestamp returns the client event time in epoch millis, preferring
// the top-level timestamp, then properties.time. Zero means the client sent
// neither and the collector stamps its own clock.
func (e Event) ResolveTimestamp() int64 {
	if e.Timestamp != 0 {
		return e.Timestamp
	}
	v, ok := e.Properties["time"]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case int64:
		return t
	}
	return 0
}

// StoredEvent is an event row: the client event plus server-observed fields.
// Rows are created on ingest and never mutated.
type StoredEvent struct {
	ID         int64          `json:"id"`
	EventName  string         `json:"event_name"`
	DistinctID string         `json:"distinct_id"`
	SessionID  string         `json:"session_id"`
	AppID      string         `json:"app_id"`
	Timestamp  int64          `json:"timestamp"`
	URL        string         `json:"url"`
	Referrer   string         `json:"referrer"`
	Browser    string         `json:"browser"`
	OS         string         `json:"os"`
	DeviceType string         `json:"device_type"`
	Properties map[string]any `json:"properties"`
}

// User is the per-distinct_id rollup, upserted on every ingested event.
type User struct {
	DistinctID  string `json:"distinct_id"`
	FirstSeen   int64  `json:"first_seen"`
	LastSeen    int64  `json:"last_seen"`
	TotalEvents int64  `json:"total_events"`
}

// Session is the per-session_id rollup, upserted on every ingested event.
type Session struct {
	SessionID  string `json:"session_id"`
	DistinctID string `json:"distinct_id"`
	StartTime  int64  `json:"start_time"`
	EndTime    int64  `json:"end_time"`
	EventCount int64  `json:"event_count"`
}
