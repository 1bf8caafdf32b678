package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelesshq/analytics/internal/models"
)

func TestSendFormatsFeishuCard(t *testing.T) {
	var got feishuMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, slogtest.Make(t, nil))
	ev := models.Event{
		Event: "error",
		Properties: map[string]any{
			"type":        "unhandledrejection",
			"message":     "boom",
			"distinct_id": "u1",
			"url":         "https://example.com/checkout",
		},
	}
	require.NoError(t, d.Send(context.Background(), ev))

	assert.Equal(t, "post", got.MsgType)
	card := got.Content.Post.ZhCN
	assert.Equal(t, "🚨 Analytics 错误报警", card.Title)
	require.Len(t, card.Content, 4)
	assert.Equal(t, "错误类型: unhandledrejection", card.Content[0][0].Text)
	assert.Equal(t, "错误信息: boom", card.Content[1][0].Text)
	assert.Equal(t, "用户ID: u1", card.Content[2][0].Text)
	require.Len(t, card.Content[3], 2)
	assert.Equal(t, "a", card.Content[3][1].Tag)
	assert.Equal(t, "https://example.com/checkout", card.Content[3][1].Href)
}

func TestSendDefaults(t *testing.T) {
	var got feishuMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, slogtest.Make(t, nil))
	require.NoError(t, d.Send(context.Background(), models.Event{Event: "error"}))

	card := got.Content.Post.ZhCN
	assert.Equal(t, "错误类型: runtime", card.Content[0][0].Text)
	assert.Equal(t, "错误信息: Unknown Error", card.Content[1][0].Text)
	assert.Equal(t, "用户ID: Unknown User", card.Content[2][0].Text)
	assert.Equal(t, "N/A", card.Content[3][1].Text)
}

func TestSendStackFallsBackAsMessage(t *testing.T) {
	var got feishuMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, slogtest.Make(t, nil))
	ev := models.Event{Event: "error", Properties: map[string]any{"stack": "at main.go:10"}}
	require.NoError(t, d.Send(context.Background(), ev))

	assert.Equal(t, "错误信息: at main.go:10", got.Content.Post.ZhCN.Content[1][0].Text)
}

func TestSendUnreachableWebhook(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1/hook", slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
	err := d.Send(context.Background(), models.Event{Event: "error"})
	require.Error(t, err)
}
