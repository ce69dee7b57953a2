package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	signatureHeader = "X-Snapkeep-Signature"
	userAgent       = "snapkeep-webhook/1.0"
	sendTimeout     = 10 * time.Second
)

// ErrSendFailed wraps any delivery failure returned by webhookSender.send:
// a marshal error, a transport error, or a non-2xx response.
var ErrSendFailed = errors.New("notify: webhook delivery failed")

// webhookPayload is the JSON body POSTed to the configured URL. Body uses
// the "text" key so the same payload also renders in Slack- and
// Discord-style incoming webhooks; Payload carries the full structured
// event for integrations that want more than a one-line message.
type webhookPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// webhookSender POSTs a notification to a single-use URL per call, signing
// the body with HMAC-SHA256 whenever the caller supplies a secret.
type webhookSender struct {
	client *http.Client
}

func newWebhookSender() *webhookSender {
	return &webhookSender{client: &http.Client{Timeout: sendTimeout}}
}

// send builds, optionally signs, and delivers one notification. A non-2xx
// response is treated the same as a transport failure: both surface as
// ErrSendFailed so the caller never needs to branch on the reason.
func (s *webhookSender) send(ctx context.Context, cfg Config, notifType, title, body string, payload map[string]any) error {
	data, err := json.Marshal(webhookPayload{
		Type:      notifType,
		Title:     title,
		Body:      body,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %s", ErrSendFailed, err)
	}

	req, err := newWebhookRequest(ctx, cfg, data)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: endpoint returned status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}

// newWebhookRequest assembles the outbound POST, attaching an HMAC-SHA256
// signature over the raw body whenever cfg carries a secret. The signature
// travels in signatureHeader as "sha256=<hex>", the same scheme GitHub and
// Stripe use for their own webhook deliveries.
func newWebhookRequest(ctx context.Context, cfg Config, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if cfg.Secret != "" {
		req.Header.Set(signatureHeader, "sha256="+signBody(body, cfg.Secret))
	}
	return req, nil
}

// signBody returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
