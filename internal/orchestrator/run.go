package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/snapkeep/snapkeep/internal/dockersrc"
	"github.com/snapkeep/snapkeep/internal/pipeline"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/snapshot"
)

// maxNameCollisionRetries bounds the retry loop when a freshly minted
// snapshot name collides with an existing one: wait, retry, give up.
const maxNameCollisionRetries = 3

const nameCollisionBackoff = 1 * time.Second

// RunOptions configures a run/transfer invocation beyond the job itself.
type RunOptions struct {
	Deps Deps

	// Docker resolves docker-volume:// source references; nil disables
	// Docker source resolution (a plain path reference still works, only a
	// docker-volume:// one would fail).
	Docker *dockersrc.Client

	// MetricsAddr is the address the caller serves Deps.Metrics on. Run
	// does not read it and starts no listener of its own; cmd/snapkeep runs
	// the /metrics server around the call.
	MetricsAddr string

	// skipSnapshotCreate powers the transfer command's "catch up an
	// already-taken snapshot" mode: run skips SNAPSHOT_TAKEN and transfers
	// the newest existing source snapshot instead of minting a new one.
	skipSnapshotCreate bool

	// commandLabel names the command recorded in run history; defaults to
	// "run".
	commandLabel string
}

// RunResult is the outcome of one Run invocation.
type RunResult struct {
	State        State
	Outcome      Outcome
	TransferMode TransferMode
	BytesSent    int64
	Snapshot     *snapshot.Snapshot
	Warnings     []string
}

// Run drives the job through its full lifecycle: select the transfer
// parent, create a new source snapshot, transfer it, apply retention on
// both sides, and sync metadata.
func Run(ctx context.Context, j *Job, opts RunOptions) (*RunResult, error) {
	deps := opts.Deps.withDefaults()
	log := deps.Logger.With(zap.String("job", jobKey(j)))
	started := deps.Clock()

	result := &RunResult{State: StateStart}
	res, err := runLocked(ctx, j, opts, deps, log, result)
	ended := deps.Clock()

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, Interrupted) || errors.Is(ctx.Err(), context.Canceled):
		outcome = OutcomeInterrupted
	case err != nil:
		outcome = OutcomeFailed
	}
	res.Outcome = outcome

	command := opts.commandLabel
	if command == "" {
		command = "run"
	}
	recordHistory(ctx, deps, j, command, started, ended, res, err)
	fireNotification(ctx, deps, j, started, ended, res, err)
	recordMetrics(deps, started, ended, res)

	return res, err
}

func runLocked(ctx context.Context, j *Job, opts RunOptions, deps Deps, log *zap.Logger, result *RunResult) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return result, Interrupted
	}

	// READY: list both sides.
	sourceList, err := j.SourceStore.List(ctx)
	if err != nil {
		return result, &FilesystemError{Op: "list source", Err: err}
	}
	destList, err := j.DestStore.List(ctx)
	if err != nil {
		return result, &FilesystemError{Op: "list destination", Err: err}
	}
	result.State = StateReady
	log.Debug("inventory loaded", zap.Int("source_count", len(sourceList)), zap.Int("dest_count", len(destList)))

	// PARENT_SELECTED: resolve the sync point. A nil parent on a non-empty
	// destination means the two sides have diverged — still a full
	// transfer, but surfaced as a warning rather than silently treated as a
	// cold first run.
	parent := snapshot.LatestCommonOf(sourceList, destList)
	mode := TransferIncremental
	if parent == nil {
		mode = TransferFull
		if len(destList) > 0 {
			result.Warnings = append(result.Warnings, "destination holds snapshots but none match source; sending a full snapshot")
			log.Warn("no matching parent found on a non-empty destination; falling back to full transfer")
		}
	}
	result.State = StateParentSelected
	result.TransferMode = mode

	if err := runHook(ctx, deps, j.Descriptor.HookPreSnapshot, "pre-snapshot"); err != nil {
		return result, err
	}

	// SNAPSHOT_TAKEN.
	var newSnap snapshot.Snapshot
	if opts.skipSnapshotCreate {
		if len(sourceList) == 0 {
			return result, fmt.Errorf("orchestrator: transfer requested but source has no snapshots to send: %w", ErrNotInitialised)
		}
		newSnap = sourceList[len(sourceList)-1]
	} else {
		subvolume, err := resolveSourceSubvolume(ctx, j, opts.Docker)
		if err != nil {
			return result, err
		}
		newSnap, err = createSnapshotWithRetry(ctx, j.SourceStore, deps.Clock, subvolume)
		if err != nil {
			return result, &FilesystemError{Op: "create source snapshot", Err: err}
		}
	}
	result.State = StateSnapshotTaken
	result.Snapshot = &newSnap
	log.Info("snapshot created", zap.String("name", newSnap.Name()), zap.Stringer("mode", mode))

	// TRANSFERRED.
	bytesSent, transferErr := transferSnapshot(ctx, j, parent, newSnap, mode, deps)
	if transferErr != nil {
		// Atomicity of a failed run: remove the orphan source snapshot
		// unless it already existed before this invocation (transfer-catch-up
		// mode never creates one).
		if !opts.skipSnapshotCreate {
			if delErr := j.SourceStore.Delete(ctx, newSnap); delErr != nil {
				log.Error("failed to clean up orphan snapshot after failed transfer", zap.Error(delErr))
			}
		}
		return result, transferErr
	}
	result.State = StateTransferred
	result.BytesSent = bytesSent

	if err := runHook(ctx, deps, j.Descriptor.HookPostTransfer, "post-transfer"); err != nil {
		log.Warn("post-transfer hook failed, continuing", zap.Error(err))
	}

	// RETAINED_SOURCE. The transfer has completed, so the parent is no longer
	// pinned and may be dropped like any other snapshot; the global floor
	// keeps newSnap. In transfer catch-up mode newSnap is already the last
	// entry of sourceList and is not added a second time.
	sourceAfter := sourceList
	if !opts.skipSnapshotCreate {
		sourceAfter = append(sourceList, newSnap)
	}
	if err := applyRetention(ctx, j.SourceStore, j.Descriptor.SourceRetention, sourceAfter, deps.Clock()); err != nil {
		return result, err
	}
	result.State = StateRetainedSource

	// RETAINED_DEST.
	destAfter := append(destList, newSnap)
	if err := applyRetention(ctx, j.DestStore, j.Descriptor.DestinationRetention, destAfter, deps.Clock()); err != nil {
		return result, err
	}
	result.State = StateRetainedDest

	// METADATA_SYNCED.
	updated := *j.Descriptor
	updated.LastSyncedSnapshot = newSnap.Name()
	if err := syncDescriptor(ctx, j, &updated); err != nil {
		return result, err
	}
	result.State = StateMetadataSynced

	result.State = StateDone
	return result, nil
}

// resolveSourceSubvolume returns the real filesystem path to snapshot,
// resolving a docker-volume:// reference through the Docker client when
// present.
func resolveSourceSubvolume(ctx context.Context, j *Job, docker *dockersrc.Client) (string, error) {
	ref := j.Descriptor.SourceSubvolume
	if ref == "" {
		ref = path.Dir(j.SourceContainerPath)
	}
	resolved, err := dockersrc.Resolve(ctx, docker, ref)
	if err != nil {
		return "", &FilesystemError{Op: "resolve source subvolume", Err: err}
	}
	return resolved, nil
}

// createSnapshotWithRetry implements the NameCollision retry contract:
// wait a second and retry, up to maxNameCollisionRetries times, re-reading
// the clock on every attempt.
func createSnapshotWithRetry(ctx context.Context, store *snapshot.Store, clock Clock, subvolume string) (snapshot.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= maxNameCollisionRetries; attempt++ {
		snap, err := store.Create(ctx, clock(), subvolume)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, snapshot.ErrNameCollision) {
			return snapshot.Snapshot{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return snapshot.Snapshot{}, Interrupted
		case <-time.After(nameCollisionBackoff):
		}
	}
	return snapshot.Snapshot{}, lastErr
}

// transferSnapshot runs the send | [compress]? | [ssh]? | [decompress]? |
// receive pipeline for newSnap, using parent as the incremental reference
// when mode is TransferIncremental.
func transferSnapshot(ctx context.Context, j *Job, parent *snapshot.Snapshot, newSnap snapshot.Snapshot, mode TransferMode, deps Deps) (int64, error) {
	producerArgv := []string{"btrfs", "send"}
	if mode == TransferIncremental {
		producerArgv = append(producerArgv, "-p", parent.Path())
	}
	producerArgv = append(producerArgv, newSnap.Path())

	spec := pipeline.Spec{
		Producer: pipeline.Stage{Endpoint: j.SourceEndpoint, Argv: producerArgv},
		Consumer: pipeline.Stage{Endpoint: j.DestEndpoint, Argv: []string{"btrfs", "receive", j.DestContainerPath}},
	}
	if j.Descriptor.Compress {
		spec.Compressor = &pipeline.Stage{Endpoint: j.SourceEndpoint, Argv: []string{"lzop", "-c"}}
		spec.Decompressor = &pipeline.Stage{Endpoint: j.DestEndpoint, Argv: []string{"lzop", "-d"}}
	}

	res, err := pipeline.Run(ctx, spec)
	if err != nil {
		return 0, err
	}
	return res.BytesTransferred, nil
}

// applyRetention evaluates expr over snaps at reference time now and
// deletes every snapshot the evaluator dropped.
func applyRetention(ctx context.Context, store *snapshot.Store, expr string, snaps []snapshot.Snapshot, now time.Time) error {
	if expr == "" {
		return nil
	}
	parsed, err := retention.Parse(expr)
	if err != nil {
		return fmt.Errorf("orchestrator: retention expression %q: %w", expr, err)
	}

	timestamps := make([]time.Time, len(snaps))
	for i, s := range snaps {
		timestamps[i] = s.Timestamp
	}
	keep := retention.Evaluate(parsed, timestamps, now)

	for i, s := range snaps {
		if keep[i] {
			continue
		}
		if err := store.Delete(ctx, s); err != nil {
			return &FilesystemError{Op: fmt.Sprintf("delete %s during retention", s.Name()), Err: err}
		}
	}
	return nil
}

func runHook(ctx context.Context, deps Deps, command, label string) error {
	if command == "" {
		return nil
	}
	res, err := deps.Hooks.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("orchestrator: %s hook: %w", label, err)
	}
	deps.Logger.Debug("hook completed", zap.String("hook", label), zap.Duration("duration", res.Duration))
	return nil
}

func jobKey(j *Job) string {
	return j.SourceEndpoint.String() + ":" + j.SourceContainerPath + "->" + j.DestEndpoint.String() + ":" + j.DestContainerPath
}
