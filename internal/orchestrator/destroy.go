package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/snapkeep/snapkeep/internal/endpoint"
	jobpkg "github.com/snapkeep/snapkeep/internal/job"
)

// DestroyOptions controls whether managed snapshots are also removed.
type DestroyOptions struct {
	Purge  bool
	Logger *zap.Logger
}

// DestroyResult reports which side(s) were actually reachable, so the
// caller can render "remote cleanup skipped" without treating it as an
// error.
type DestroyResult struct {
	SourceCleaned bool
	DestCleaned   bool
	DestSkipped   bool
}

// Destroy deletes the job descriptor on both sides and, with Purge, every
// managed snapshot too. An unreachable destination is downgraded to a
// skipped warning rather than failing the whole command, so that local
// cleanup always completes even when the remote side is gone.
func Destroy(ctx context.Context, j *Job, opts DestroyOptions) (*DestroyResult, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	res := &DestroyResult{}

	if opts.Purge {
		if snaps, err := j.SourceStore.List(ctx); err == nil {
			for _, s := range snaps {
				if delErr := j.SourceStore.Delete(ctx, s); delErr != nil {
					return res, &FilesystemError{Op: "purge source snapshot", Err: delErr}
				}
			}
		} else {
			return res, &FilesystemError{Op: "list source for purge", Err: err}
		}
	}

	if err := removeDescriptor(ctx, j.SourceEndpoint, j.SourceContainerPath); err != nil {
		return res, &EndpointError{Op: "remove source descriptor", Err: err}
	}
	res.SourceCleaned = true

	destErr := destroyDestinationSide(ctx, j, opts.Purge)
	if destErr != nil {
		log.Warn("destination unreachable during destroy; local cleanup completed, remote cleanup skipped", zap.Error(destErr))
		res.DestSkipped = true
		return res, nil
	}
	res.DestCleaned = true

	return res, nil
}

func destroyDestinationSide(ctx context.Context, j *Job, purge bool) error {
	if purge {
		snaps, err := j.DestStore.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			if err := j.DestStore.Delete(ctx, s); err != nil {
				return err
			}
		}
	}
	return removeDescriptor(ctx, j.DestEndpoint, j.DestContainerPath)
}

func removeDescriptor(ctx context.Context, ep endpoint.Endpoint, containerPath string) error {
	_, _, err := ep.Exec(ctx, []string{"rm", "-f", containerPath + "/" + jobpkg.FileName})
	return err
}
