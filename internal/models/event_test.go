package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamePrefersLegacyKey(t *testing.T) {
	require.Equal(t, "click", Event{Event: "click"}.Name())
	require.Equal(t, "tap", Event{Event: "click", EventName: "tap"}.Name())
	require.Empty(t, Event{}.Name())
}

func TestResolvePrefersTopLevelFields(t *testing.T) {
	ev := Event{
		DistinctID: "top",
		Properties: map[string]any{
			"distinct_id": "prop",
			"session_id":  "s1",
			"url":         "https://example.com",
		},
	}
	require.Equal(t, "top", ev.ResolveDistinctID())
	require.Equal(t, "s1", ev.ResolveSessionID())
	require.Equal(t, "https://example.com", ev.ResolveURL())
	require.Empty(t, ev.ResolveAppID())
}

func TestResolveTimestamp(t *testing.T) {
	// Top-level wins.
	ev := Event{Timestamp: 42, Properties: map[string]any{"time": float64(7)}}
	require.EqualValues(t, 42, ev.ResolveTimestamp())

	// properties.time as decoded from JSON (float64).
	var decoded Event
	require.NoError(t, json.Unmarshal(
		[]byte(`{"event":"click","properties":{"time":1717171717000}}`), &decoded))
	require.EqualValues(t, 1717171717000, decoded.ResolveTimestamp())

	// Neither present: zero, the collector stamps its own clock.
	require.Zero(t, Event{}.ResolveTimestamp())
}
