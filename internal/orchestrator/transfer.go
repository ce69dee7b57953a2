package orchestrator

import "context"

// Transfer re-sends the newest existing source snapshot to the
// destination without taking a new one first — a recovery command for when
// a prior run's TRANSFERRED step failed after SNAPSHOT_TAKEN succeeded, so
// the source snapshot already exists but never reached the destination.
// It still runs retention and syncs metadata afterwards, exactly like Run.
func Transfer(ctx context.Context, j *Job, opts RunOptions) (*RunResult, error) {
	opts.skipSnapshotCreate = true
	opts.commandLabel = "transfer"
	return Run(ctx, j, opts)
}
