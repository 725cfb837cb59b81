package notify

import (
	"context"
	"net/http"
	"time"
)

// WebhookSender posts a generic JSON body, for buyer ERP integrations.
type WebhookSender struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender for url.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: newHTTPClient(), now: time.Now}
}

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, w.client, w.Name(), w.url, map[string]string{
		"title":   title,
		"message": message,
		"sent_at": w.now().UTC().Format(time.RFC3339),
	})
}

func (w *WebhookSender) Name() string { return "webhook" }
