package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swingold/escrowd/internal/crypto"
)

// WebhookSender delivers event payloads to an HTTP endpoint, typically the
// marketplace backend that fulfils completed trades. Deliveries are signed
// with HMAC when a shared secret is configured.
type WebhookSender struct {
	url    string
	auth   *crypto.WebhookAuth
	client *http.Client
	nowFn  func() time.Time
}

// NewWebhookSender creates a WebhookSender for the given URL. If secret is
// non-empty, each delivery carries X-Swingold-Timestamp and
// X-Swingold-Signature headers the receiver can verify.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		nowFn:  time.Now,
	}
	if secret != "" {
		w.auth = &crypto.WebhookAuth{Secret: secret}
	}
	return w
}

// envelope is the wire format for a webhook delivery.
type envelope struct {
	Event   string          `json:"event"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// Send posts the event payload to the webhook endpoint. Non-2xx responses
// are treated as delivery failures.
func (w *WebhookSender) Send(ctx context.Context, event string, payload []byte) error {
	now := w.nowFn()

	body, err := json.Marshal(envelope{
		Event:   event,
		SentAt:  now.UTC(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Swingold-Event", event)

	if w.auth != nil {
		for k, v := range w.auth.Headers(body, now.Unix()) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string {
	return "webhook"
}
