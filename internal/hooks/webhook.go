package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// webhookPayload is the body POSTed to a webhook.
type webhookPayload struct {
	Hook      HookType       `json:"hook"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewWebhookHandler returns a handler that POSTs hookType and data to url.
// Non-2xx responses are errors.
func NewWebhookHandler(url string, hookType HookType, client *http.Client) HookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, data map[string]any) error {
		body, err := json.Marshal(webhookPayload{Hook: hookType, Timestamp: time.Now().UTC(), Data: data})
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	}
}

// RegisterWebhook registers a webhook handler for every hook type when the
// configuration names a URL.
func (h *HookManager) RegisterWebhook(client *http.Client) {
	if h.config.WebhookURL == "" {
		return
	}
	for _, t := range []HookType{HookSessionStart, HookSessionCompleted, HookSessionTerminated} {
		h.RegisterHandler(t, NewWebhookHandler(h.config.WebhookURL, t, client))
	}
}
