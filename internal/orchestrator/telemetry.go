package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/notify"
)

// hashJobKey condenses a job's (source, destination) identity into a short,
// stable key for the run-history table and notification payloads. A plain
// cryptographic digest is sufficient here — this is an internal cache key,
// not a security boundary, so crypto/sha256 needs no ecosystem library.
func hashJobKey(j *Job) string {
	sum := sha256.Sum256([]byte(jobKey(j)))
	return hex.EncodeToString(sum[:])[:16]
}

func recordHistory(ctx context.Context, deps Deps, j *Job, command string, started, ended time.Time, res *RunResult, runErr error) {
	if deps.History == nil {
		return
	}
	rec := &history.RunRecord{
		JobKey:       hashJobKey(j),
		Command:      command,
		StartedAt:    started,
		EndedAt:      ended,
		Outcome:      string(res.Outcome),
		TransferMode: res.TransferMode.String(),
		BytesSent:    res.BytesSent,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := deps.History.Record(ctx, rec); err != nil {
		deps.Logger.Warn("failed to record run history", zap.Error(err))
	}
}

func fireNotification(ctx context.Context, deps Deps, j *Job, started, ended time.Time, res *RunResult, runErr error) {
	if deps.Notify == nil {
		return
	}
	cfg := notify.Config{URL: j.Descriptor.WebhookURL, Secret: j.Descriptor.WebhookSecret}
	if !cfg.Enabled() {
		return
	}
	notifyOutcome := "success"
	if res.Outcome != OutcomeSuccess {
		notifyOutcome = "failure"
	}
	ev := notify.Event{
		JobKey:       hashJobKey(j),
		Outcome:      notifyOutcome,
		TransferMode: res.TransferMode.String(),
		BytesSent:    res.BytesSent,
		Duration:     ended.Sub(started),
	}
	if runErr != nil {
		ev.Err = runErr.Error()
	}
	if err := deps.Notify.Notify(ctx, cfg, ev); err != nil {
		deps.Logger.Warn("failed to send notification", zap.Error(err))
	}
}

func recordMetrics(deps Deps, started, ended time.Time, res *RunResult) {
	if deps.Metrics == nil {
		return
	}
	if res.Snapshot != nil {
		deps.Metrics.SnapshotsCreated.Inc()
	}
	deps.Metrics.TransferBytes.Add(float64(res.BytesSent))
	deps.Metrics.RunOutcome.WithLabelValues(string(res.Outcome)).Inc()
	deps.Metrics.RunDuration.Observe(ended.Sub(started).Seconds())
}
