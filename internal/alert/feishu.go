// Package alert pushes error-classified events to a Feishu webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cdr.dev/slog"

	"github.com/codelesshq/analytics/internal/models"
)

// Dispatcher formats a human-readable notification per error event and posts
// it to the configured webhook. Fire-and-forget: the webhook's status and
// body are logged only, and no failure ever reaches the ingest path.
//
// MinInterval and MaxPerMinute are the declared rate limits. They are carried
// here so deployments keep their knobs, but the current behavior is one alert
// per error event with no suppression; enforcing them is pending a product
// decision.
type Dispatcher struct {
	WebhookURL   string
	MinInterval  time.Duration
	MaxPerMinute int

	client *http.Client
	log    slog.Logger
}

// NewDispatcher builds a Dispatcher. The outbound client carries a timeout so
// a hung webhook cannot exhaust connections under load.
func NewDispatcher(webhookURL string, logger slog.Logger) *Dispatcher {
	return &Dispatcher{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        logger,
	}
}

// Feishu interactive "post" card, nested exactly as the webhook expects.
type feishuMessage struct {
	MsgType string        `json:"msg_type"`
	Content feishuContent `json:"content"`
}

type feishuContent struct {
	Post feishuPost `json:"post"`
}

type feishuPost struct {
	ZhCN feishuPostBody `json:"zh_cn"`
}

type feishuPostBody struct {
	Title   string            `json:"title"`
	Content [][]feishuElement `json:"content"`
}

type feishuElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// buildMessage extracts error type, message, user and URL from the event.
func buildMessage(ev models.Event) feishuMessage {
	errMsg := ev.Prop("message")
	if errMsg == "" {
		errMsg = ev.Prop("stack")
	}
	if errMsg == "" {
		errMsg = "Unknown Error"
	}
	user := ev.ResolveDistinctID()
	if user == "" {
		user = "Unknown User"
	}
	pageURL := ev.ResolveURL()
	if pageURL == "" {
		pageURL = "N/A"
	}
	errType := ev.Prop("type")
	if errType == "" {
		errType = "runtime"
	}

	return feishuMessage{
		MsgType: "post",
		Content: feishuContent{
			Post: feishuPost{
				ZhCN: feishuPostBody{
					Title: "🚨 Analytics 错误报警",
					Content: [][]feishuElement{
						{{Tag: "text", Text: "错误类型: " + errType}},
						{{Tag: "text", Text: "错误信息: " + errMsg}},
						{{Tag: "text", Text: "用户ID: " + user}},
						{
							{Tag: "text", Text: "页面URL: "},
							{Tag: "a", Text: pageURL, Href: pageURL},
						},
					},
				},
			},
		},
	}
}

// Notify dispatches the alert on a detached goroutine so ingest latency is
// never extended by the webhook.
func (d *Dispatcher) Notify(ev models.Event) {
	go func() {
		if err := d.Send(context.Background(), ev); err != nil {
			d.log.Warn(context.Background(), "feishu dispatch failed", slog.Error(err))
		}
	}()
}

// Send posts one alert and logs the webhook's response. Exposed for tests and
// synchronous callers; Notify is the ingest-path entry point.
func (d *Dispatcher) Send(ctx context.Context, ev models.Event) error {
	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	d.log.Debug(ctx, "feishu webhook response",
		slog.F("status", resp.StatusCode),
		slog.F("body", string(respBody)),
	)
	return nil
}
