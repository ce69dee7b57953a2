package orchestrator

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ConfigError reports a missing, malformed, version-incompatible, or
// cross-side-disagreeing job descriptor.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error during %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// EndpointError reports a failed command against an endpoint, preserving
// the exit code and stderr tail carried on the underlying endpoint.Error.
type EndpointError struct {
	Op  string
	Err error
}

func (e *EndpointError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *EndpointError) Unwrap() error { return e.Err }

// FilesystemError reports a failed snapshot create/delete/list operation.
type FilesystemError struct {
	Op  string
	Err error
}

func (e *FilesystemError) Error() string { return fmt.Sprintf("filesystem error during %s: %v", e.Op, e.Err) }
func (e *FilesystemError) Unwrap() error { return e.Err }

// Interrupted reports that a run was cancelled by the caller's context.
var Interrupted = fmt.Errorf("orchestrator: interrupted: %w", errdefs.ErrCanceled)

// ErrDescriptorDisagrees reports that the source and destination
// descriptors reference each other inconsistently.
var ErrDescriptorDisagrees = fmt.Errorf("orchestrator: descriptors disagree: %w", errdefs.ErrFailedPrecondition)

// ErrNotInitialised is returned by run/transfer/update/purge when a
// descriptor is missing on one side that the other side expects to exist;
// unlike init, these commands refuse rather than reconstruct it.
var ErrNotInitialised = fmt.Errorf("orchestrator: job is not initialised on this side, run init first: %w", errdefs.ErrNotFound)
