package orchestrator

import (
	"context"
	"fmt"
	"path"

	"github.com/snapkeep/snapkeep/internal/endpoint"
	jobpkg "github.com/snapkeep/snapkeep/internal/job"
	"github.com/snapkeep/snapkeep/internal/snapshot"
)

// InitOptions names the pair and the authoritative configuration that
// `init` persists. Both locators use the standard endpoint URL syntax.
//
// SourceLocator addresses the source subvolume itself, not its container:
// the container path defaults to jobpkg.DefaultContainerName immediately
// below it, matching the historical "container sits under the subvolume
// it protects" convention. SourceContainerOverride opts out of that
// default — for example to keep using a pre-existing "sxbackup" (no dot)
// container. DestLocator has no equivalent default: it always names the
// destination container path directly, since the destination has no
// subvolume of its own to default from.
type InitOptions struct {
	SourceLocator           string
	SourceContainerOverride string
	DestLocator             string
	SourceRetention         string
	DestRetention           string
	Compress                bool
	SourceSubvolume         string
	HookPreSnapshot         string
	HookPostTransfer        string
	WebhookURL              string
	WebhookSecret           string
}

// Init validates that both endpoints' container subvolumes exist — creating
// them if missing — and writes a matching descriptor to both sides. It
// creates no snapshots.
func Init(ctx context.Context, opts InitOptions) (*Job, error) {
	sourceEP, subvolumePath, err := endpoint.ParseURL(opts.SourceLocator)
	if err != nil {
		return nil, &ConfigError{Op: "parse source locator", Err: err}
	}
	destEP, destPath, err := endpoint.ParseURL(opts.DestLocator)
	if err != nil {
		return nil, &ConfigError{Op: "parse destination locator", Err: err}
	}

	sourcePath := opts.SourceContainerOverride
	if sourcePath == "" {
		sourcePath = path.Join(subvolumePath, jobpkg.DefaultContainerName)
	}

	if err := ensureContainer(ctx, sourceEP, sourcePath); err != nil {
		return nil, err
	}
	if err := ensureContainer(ctx, destEP, destPath); err != nil {
		return nil, err
	}

	desc := &jobpkg.Descriptor{
		SourceURL:                endpointURLOf(sourceEP),
		DestinationURL:           endpointURLOf(destEP),
		SourceContainerPath:      sourcePath,
		DestinationContainerPath: destPath,
		SourceRetention:          opts.SourceRetention,
		DestinationRetention:     opts.DestRetention,
		Compress:                 opts.Compress,
		SourceSubvolume:          opts.SourceSubvolume,
		HookPreSnapshot:          opts.HookPreSnapshot,
		HookPostTransfer:         opts.HookPostTransfer,
		WebhookURL:               opts.WebhookURL,
		WebhookSecret:            opts.WebhookSecret,
		FormatVersion:            jobpkg.CurrentFormatVersion,
	}

	j := &Job{
		Descriptor:          desc,
		SourceEndpoint:      sourceEP,
		SourceContainerPath: sourcePath,
		DestEndpoint:        destEP,
		DestContainerPath:   destPath,
	}
	j.SourceStore = snapshot.New(sourceEP, sourcePath)
	j.DestStore = snapshot.New(destEP, destPath)

	if err := syncDescriptor(ctx, j, desc); err != nil {
		return nil, err
	}
	return j, nil
}

// ensureContainer creates containerPath on ep if it does not already exist.
// The container is a plain directory — the managed filesystem vocabulary
// names no "subvolume create" operation, only snapshot/delete/list/send/
// receive, so a directory is the correct primitive here (a genuine btrfs
// deployment would pre-provision it as a subvolume; this tool only needs it
// to exist).
func ensureContainer(ctx context.Context, ep endpoint.Endpoint, path string) error {
	if _, _, err := ep.Exec(ctx, []string{"mkdir", "-p", path}); err != nil {
		return &EndpointError{Op: fmt.Sprintf("create container %s", path), Err: err}
	}
	return nil
}

// endpointURLOf renders ep back to the URL form stored in the descriptor's
// "source"/"destination" keys — the endpoint only, no path.
func endpointURLOf(ep endpoint.Endpoint) string {
	if r, ok := ep.(*endpoint.Remote); ok {
		if r.User != "" {
			return fmt.Sprintf("ssh://%s@%s:%d", r.User, r.Host, r.Port)
		}
		return fmt.Sprintf("ssh://%s:%d", r.Host, r.Port)
	}
	return ""
}
