package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bothost/pkg/logger"
)

// WebhookNotifier posts notifications as JSON to an HTTP endpoint. The body
// carries a Feishu/Lark compatible text message plus structured fields.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewWebhookNotifier creates a webhook notifier; an empty URL disables it
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	if webhookURL == "" {
		logger.Warn("notification webhook URL not configured, webhook notifications disabled")
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type webhookPayload struct {
	MsgType string         `json:"msg_type"`
	Content webhookContent `json:"content"`
	UserID  int64          `json:"user_id"`
	Message string         `json:"message"`
	SentAt  time.Time      `json:"sent_at"`
}

type webhookContent struct {
	Text string `json:"text"`
}

// Notify implements Notifier
func (w *WebhookNotifier) Notify(ctx context.Context, userID int64, message string) error {
	if w.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Content: webhookContent{Text: fmt.Sprintf("[user %d] %s", userID, message)},
		UserID:  userID,
		Message: message,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}
