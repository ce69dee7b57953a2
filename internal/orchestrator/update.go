package orchestrator

import "context"

// CompressSetting is a tri-state flag: leave the persisted Compress value
// untouched unless the caller explicitly asked to turn it on or off. This
// distinguishes "flag absent" from "flag false" so update no longer forces
// compression on by default.
type CompressSetting int

const (
	CompressUnchanged CompressSetting = iota
	CompressOn
	CompressOff
)

// UpdateOptions carries the fields `update` may rewrite. A zero-value
// string field means "leave unchanged" — callers that want to clear a
// field pass an explicit empty-string sentinel via the Clear* flags.
type UpdateOptions struct {
	SourceRetention  string
	DestRetention    string
	Compress         CompressSetting
	HookPreSnapshot  string
	ClearHookPre     bool
	HookPostTransfer string
	ClearHookPost    bool
	WebhookURL       string
	WebhookSecret    string
	ClearWebhook     bool
}

// Update rewrites the retention and compression fields of j's descriptor on
// both sides. Fields left at their zero value in opts are not modified.
func Update(ctx context.Context, j *Job, opts UpdateOptions) error {
	updated := *j.Descriptor

	if opts.SourceRetention != "" {
		updated.SourceRetention = opts.SourceRetention
	}
	if opts.DestRetention != "" {
		updated.DestinationRetention = opts.DestRetention
	}
	switch opts.Compress {
	case CompressOn:
		updated.Compress = true
	case CompressOff:
		updated.Compress = false
	}

	switch {
	case opts.ClearHookPre:
		updated.HookPreSnapshot = ""
	case opts.HookPreSnapshot != "":
		updated.HookPreSnapshot = opts.HookPreSnapshot
	}
	switch {
	case opts.ClearHookPost:
		updated.HookPostTransfer = ""
	case opts.HookPostTransfer != "":
		updated.HookPostTransfer = opts.HookPostTransfer
	}
	switch {
	case opts.ClearWebhook:
		updated.WebhookURL = ""
		updated.WebhookSecret = ""
	default:
		if opts.WebhookURL != "" {
			updated.WebhookURL = opts.WebhookURL
		}
		if opts.WebhookSecret != "" {
			updated.WebhookSecret = opts.WebhookSecret
		}
	}

	return syncDescriptor(ctx, j, &updated)
}
