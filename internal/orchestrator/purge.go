package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/snapshot"
)

// PurgeOptions lets the caller override retention expressions for a single
// sweep without persisting them back to the job descriptor.
type PurgeOptions struct {
	SourceRetentionOverride string
	DestRetentionOverride   string
	Clock                   Clock
}

// PurgeResult reports how many snapshots were deleted on each side.
type PurgeResult struct {
	SourceDeleted int
	DestDeleted   int
}

// Purge runs retention evaluation and deletion on both sides without
// creating or transferring a snapshot.
func Purge(ctx context.Context, j *Job, opts PurgeOptions) (*PurgeResult, error) {
	sourceExpr := j.Descriptor.SourceRetention
	if opts.SourceRetentionOverride != "" {
		sourceExpr = opts.SourceRetentionOverride
	}
	destExpr := j.Descriptor.DestinationRetention
	if opts.DestRetentionOverride != "" {
		destExpr = opts.DestRetentionOverride
	}

	sourceList, err := j.SourceStore.List(ctx)
	if err != nil {
		return nil, &FilesystemError{Op: "list source", Err: err}
	}
	destList, err := j.DestStore.List(ctx)
	if err != nil {
		return nil, &FilesystemError{Op: "list destination", Err: err}
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock()

	sourceDropped, err := countDropped(sourceExpr, sourceList, now)
	if err != nil {
		return nil, err
	}
	if err := applyRetention(ctx, j.SourceStore, sourceExpr, sourceList, now); err != nil {
		return nil, err
	}

	destDropped, err := countDropped(destExpr, destList, now)
	if err != nil {
		return nil, err
	}
	if err := applyRetention(ctx, j.DestStore, destExpr, destList, now); err != nil {
		return nil, err
	}

	return &PurgeResult{SourceDeleted: sourceDropped, DestDeleted: destDropped}, nil
}

// countDropped reports how many of snaps expr would drop at now, without
// mutating anything — used only to populate PurgeResult's counts before the
// real deletion pass runs.
func countDropped(expr string, snaps []snapshot.Snapshot, now time.Time) (int, error) {
	if expr == "" {
		return 0, nil
	}
	parsed, err := retention.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: retention expression %q: %w", expr, err)
	}
	timestamps := make([]time.Time, len(snaps))
	for i, s := range snaps {
		timestamps[i] = s.Timestamp
	}
	keep := retention.Evaluate(parsed, timestamps, now)
	dropped := 0
	for _, k := range keep {
		if !k {
			dropped++
		}
	}
	return dropped, nil
}
