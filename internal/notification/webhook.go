package notification

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WebhookAlerter sends alerts to a generic HTTP webhook endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhookAlerter creates a webhook alerter.
// url: The HTTP endpoint to POST alerts to.
func NewWebhookAlerter(url string, log *zap.Logger) *WebhookAlerter {
	return &WebhookAlerter{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log.Named("webhook"),
	}
}

type webhookPayload struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	TS      string     `json:"ts"`
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	body, err := sonic.Marshal(webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "webhook: marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "webhook: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	w.log.Debug("alert sent", zap.String("title", alert.Title))
	return nil
}
