// Package orchestrator drives a backup job — the pair of a source
// subvolume and a destination container subvolume — through init, run,
// update, info, purge, destroy and transfer. It is the state machine named
// in the job orchestrator component: identifying the synchronisation
// parent, choosing between incremental and full transfer, and sequencing
// snapshot creation, transfer, and retention across two potentially remote
// endpoints with correct recovery semantics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapkeep/snapkeep/internal/endpoint"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/hooks"
	jobpkg "github.com/snapkeep/snapkeep/internal/job"
	"github.com/snapkeep/snapkeep/internal/metrics"
	"github.com/snapkeep/snapkeep/internal/notify"
	"github.com/snapkeep/snapkeep/internal/snapshot"
)

// Clock supplies the reference time used for snapshot naming and retention
// evaluation. Injected so tests can pin it; production code passes
// time.Now.
type Clock func() time.Time

// Job is a loaded, addressable backup job: both endpoints, both container
// paths, and the descriptor that bound them — whichever side it was opened
// from.
type Job struct {
	Descriptor *jobpkg.Descriptor

	SourceEndpoint      endpoint.Endpoint
	SourceContainerPath string
	DestEndpoint        endpoint.Endpoint
	DestContainerPath   string

	SourceStore *snapshot.Store
	DestStore   *snapshot.Store
}

// Deps bundles the optional collaborators a run wires in. Every field may
// be left at its zero value; Run and Transfer treat a nil collaborator as
// "not configured" rather than an error, matching the external-collaborator
// framing: notifications, metrics, and run history are injected, not
// required.
type Deps struct {
	Logger  *zap.Logger
	Clock   Clock
	Hooks   *hooks.Runner
	History history.Recorder
	Notify  notify.Sink
	Metrics *metrics.Collector
}

// withDefaults fills a zero Logger, Clock and Hooks with working defaults.
// History, Notify and Metrics stay nil when unset and are nil-checked where
// they are used.
func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Hooks == nil {
		d.Hooks = hooks.NewRunner(hooks.DefaultTimeout)
	}
	return d
}

// parseEndpointOnly parses an endpoint URL that carries no meaningful path
// component — the "source"/"destination" descriptor keys name only the
// endpoint, with the container path tracked separately.
func parseEndpointOnly(raw string) (endpoint.Endpoint, error) {
	if raw == "" {
		return &endpoint.Local{}, nil
	}
	ep, _, err := endpoint.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", &ConfigError{Op: "parse endpoint url", Err: err}, raw)
	}
	return ep, nil
}

// Open loads the job descriptor reachable at locator and resolves both
// sides of the job from it. locator identifies either side — the
// descriptor is symmetric and stored on both, so whichever side answers
// first tells the whole story.
func Open(ctx context.Context, locator string) (*Job, error) {
	locEP, locPath, err := endpoint.ParseURL(locator)
	if err != nil {
		return nil, &ConfigError{Op: "parse locator", Err: err}
	}

	desc, err := jobpkg.Load(ctx, locEP, locPath)
	if err != nil {
		if errors.Is(err, jobpkg.ErrMissing) {
			return nil, fmt.Errorf("%s: %w", locator, ErrNotInitialised)
		}
		return nil, &ConfigError{Op: "load descriptor", Err: err}
	}

	j := &Job{Descriptor: desc}

	switch locPath {
	case desc.SourceContainerPath:
		j.SourceEndpoint, j.SourceContainerPath = locEP, locPath
		j.DestEndpoint, err = parseEndpointOnly(desc.DestinationURL)
		if err != nil {
			return nil, err
		}
		j.DestContainerPath = desc.DestinationContainerPath
	case desc.DestinationContainerPath:
		j.DestEndpoint, j.DestContainerPath = locEP, locPath
		j.SourceEndpoint, err = parseEndpointOnly(desc.SourceURL)
		if err != nil {
			return nil, err
		}
		j.SourceContainerPath = desc.SourceContainerPath
	default:
		return nil, fmt.Errorf("%s: %w", locator, ErrDescriptorDisagrees)
	}

	j.SourceStore = snapshot.New(j.SourceEndpoint, j.SourceContainerPath)
	j.DestStore = snapshot.New(j.DestEndpoint, j.DestContainerPath)

	return j, nil
}

// syncDescriptor writes d to both sides of the job, keeping the two copies
// identical per the descriptor's "stored on both sides" invariant. It is
// the last step of every mutating command.
func syncDescriptor(ctx context.Context, j *Job, d *jobpkg.Descriptor) error {
	if err := jobpkg.Save(ctx, j.SourceEndpoint, j.SourceContainerPath, d); err != nil {
		return &ConfigError{Op: "save source descriptor", Err: err}
	}
	if err := jobpkg.Save(ctx, j.DestEndpoint, j.DestContainerPath, d); err != nil {
		return &ConfigError{Op: "save destination descriptor", Err: err}
	}
	j.Descriptor = d
	return nil
}
