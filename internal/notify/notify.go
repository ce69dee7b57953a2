// Package notify fans a completed run out to an optional webhook sink.
// Each job descriptor may carry its own webhook_url/webhook_secret, so
// unlike a multi-tenant server's notification service there is no settings
// repository to load from — the config travels with the call.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Event carries the data for a single run-completion notification.
type Event struct {
	JobKey       string // short digest of the job's source and destination, identifies the job
	Outcome      string // "success" or "failure"
	TransferMode string // "full", "incremental", or "none" when no mode was chosen
	BytesSent    int64
	Duration     time.Duration
	Err          string // populated only when Outcome == "failure"
}

// Sink delivers run-completion events to an external collaborator.
type Sink interface {
	Notify(ctx context.Context, cfg Config, ev Event) error
}

// Config is the per-job webhook configuration, sourced from the job
// descriptor's webhook_url/webhook_secret fields.
type Config struct {
	URL    string
	Secret string
}

// Enabled reports whether cfg names a webhook to send to.
func (c Config) Enabled() bool { return c.URL != "" }

// WebhookService is a Sink backed by an outbound HTTP POST, optionally
// HMAC-SHA256 signed.
type WebhookService struct {
	sender *webhookSender
}

// NewWebhookService builds a Sink that delivers events over HTTP.
func NewWebhookService() *WebhookService {
	return &WebhookService{sender: newWebhookSender()}
}

// Notify sends ev to cfg.URL. A zero-value Config (no URL configured) is a
// silent no-op rather than an error, since most jobs have no webhook
// configured at all.
func (s *WebhookService) Notify(ctx context.Context, cfg Config, ev Event) error {
	if !cfg.Enabled() {
		return nil
	}

	notifType := "job_success"
	title := fmt.Sprintf("Backup completed: %s", ev.JobKey)
	body := fmt.Sprintf("Job %q completed (%s transfer, %d bytes) at %s.",
		ev.JobKey, ev.TransferMode, ev.BytesSent, time.Now().UTC().Format(time.RFC3339))
	if ev.Outcome == "failure" {
		notifType = "job_failure"
		title = fmt.Sprintf("Backup failed: %s", ev.JobKey)
		body = fmt.Sprintf("Job %q failed at %s: %s", ev.JobKey, time.Now().UTC().Format(time.RFC3339), ev.Err)
	}

	payload := map[string]any{
		"job_key":       ev.JobKey,
		"outcome":       ev.Outcome,
		"transfer_mode": ev.TransferMode,
		"bytes_sent":    ev.BytesSent,
		"duration_ms":   ev.Duration.Milliseconds(),
	}
	if ev.Err != "" {
		payload["error"] = ev.Err
	}

	return s.sender.send(ctx, cfg, notifType, title, body, payload)
}
