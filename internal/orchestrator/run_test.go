package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobpkg "github.com/snapkeep/snapkeep/internal/job"
	"github.com/snapkeep/snapkeep/internal/snapshot"
	"github.com/snapkeep/snapkeep/internal/testfs"
)

// fakeClock hands out a fixed instant until the test advances it, so a
// single run's several clock reads agree and successive runs can be told
// apart by name.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// newTestJob wires a Job entirely against testfs endpoints rooted under the
// test's temp directory, bypassing Init (which only ever resolves real
// Local/Remote endpoints from a locator string).
func newTestJob(t *testing.T) *Job {
	t.Helper()
	root := t.TempDir()

	subvolume := filepath.Join(root, "subvolume")
	require.NoError(t, os.MkdirAll(subvolume, 0o755))
	sourceContainer := testfs.MkContainer(filepath.Join(root, "source-container"))
	destContainer := testfs.MkContainer(filepath.Join(root, "dest-container"))

	sourceEP := testfs.New("source")
	destEP := testfs.New("dest")

	desc := &jobpkg.Descriptor{
		SourceContainerPath:      sourceContainer,
		DestinationContainerPath: destContainer,
		SourceSubvolume:          subvolume,
		FormatVersion:            jobpkg.CurrentFormatVersion,
	}

	return &Job{
		Descriptor:          desc,
		SourceEndpoint:      sourceEP,
		SourceContainerPath: sourceContainer,
		DestEndpoint:        destEP,
		DestContainerPath:   destContainer,
		SourceStore:         snapshot.New(sourceEP, sourceContainer),
		DestStore:           snapshot.New(destEP, destContainer),
	}
}

func TestRun_ColdFirstRunIsFullWithNoWarning(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()

	res, err := Run(context.Background(), j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, TransferFull, res.TransferMode)
	assert.Empty(t, res.Warnings)

	srcNames := testfs.ListNames(j.SourceContainerPath)
	destNames := testfs.ListNames(j.DestContainerPath)
	require.Len(t, srcNames, 1)
	require.Len(t, destNames, 1)
	assert.Equal(t, srcNames[0], destNames[0])
	assert.Equal(t, srcNames[0], j.Descriptor.LastSyncedSnapshot)
}

func TestRun_SecondRunIsIncrementalAgainstTheFirstSnapshot(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()
	ctx := context.Background()

	first, err := Run(ctx, j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	clk.t = clk.t.Add(time.Hour)
	second, err := Run(ctx, j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	assert.Equal(t, TransferIncremental, second.TransferMode)
	assert.Empty(t, second.Warnings)
	assert.NotEqual(t, first.Snapshot.Name(), second.Snapshot.Name())

	assert.Len(t, testfs.ListNames(j.SourceContainerPath), 2)
	assert.Len(t, testfs.ListNames(j.DestContainerPath), 2)
	assert.Equal(t, second.Snapshot.Name(), j.Descriptor.LastSyncedSnapshot)
}

func TestRun_DivergedDestinationFallsBackToFullTransferWithWarning(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()

	// Seed the destination with a snapshot that does not, and never did,
	// exist on the source side.
	foreign := snapshot.Encode(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, os.MkdirAll(filepath.Join(j.DestContainerPath, foreign), 0o755))

	res, err := Run(context.Background(), j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	assert.Equal(t, TransferFull, res.TransferMode)
	require.Len(t, res.Warnings, 1)

	destNames := testfs.ListNames(j.DestContainerPath)
	assert.Contains(t, destNames, foreign)
	assert.Contains(t, destNames, res.Snapshot.Name())
}

func TestRun_RetentionKeepsOnlyMostRecentTwoOnBothSides(t *testing.T) {
	j := newTestJob(t)
	j.Descriptor.SourceRetention = "2"
	j.Descriptor.DestinationRetention = "2"
	clk := newFakeClock()
	ctx := context.Background()

	var names []string
	for i := 0; i < 3; i++ {
		res, err := Run(ctx, j, RunOptions{Deps: Deps{Clock: clk.now}})
		require.NoError(t, err)
		names = append(names, res.Snapshot.Name())
		clk.t = clk.t.Add(time.Hour)
	}

	assert.Equal(t, names[1:], testfs.ListNames(j.SourceContainerPath))
	assert.Equal(t, names[1:], testfs.ListNames(j.DestContainerPath))
}

func TestRun_FailedTransferDeletesTheOrphanSourceSnapshot(t *testing.T) {
	j := newTestJob(t)
	j.DestEndpoint = &flakyReceiveEndpoint{Endpoint: j.DestEndpoint.(*testfs.Endpoint)}
	j.DestStore = snapshot.New(j.DestEndpoint, j.DestContainerPath)
	clk := newFakeClock()

	_, err := Run(context.Background(), j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.Error(t, err)

	assert.Empty(t, testfs.ListNames(j.SourceContainerPath), "orphan snapshot must be rolled back")
	assert.Empty(t, testfs.ListNames(j.DestContainerPath))
}

func TestTransfer_ResendsTheNewestSourceSnapshotWithoutTakingANewOne(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()
	ctx := context.Background()

	// Simulate a prior run that created the source snapshot but never
	// reached the destination: create it directly via the store, bypassing
	// Run entirely.
	snap, err := j.SourceStore.Create(ctx, clk.t, j.Descriptor.SourceSubvolume)
	require.NoError(t, err)

	res, err := Transfer(ctx, j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	assert.Equal(t, snap.Name(), res.Snapshot.Name())
	assert.Len(t, testfs.ListNames(j.SourceContainerPath), 1, "transfer must not mint a new snapshot")
	assert.Equal(t, []string{snap.Name()}, testfs.ListNames(j.DestContainerPath))
}

func TestDestroy_PurgeDowngradesAnUnreachableDestinationToAWarning(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()
	ctx := context.Background()

	_, err := Run(ctx, j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	j.DestEndpoint = &unreachableEndpoint{}
	j.DestStore = snapshot.New(j.DestEndpoint, j.DestContainerPath)

	res, err := Destroy(ctx, j, DestroyOptions{Purge: true})
	require.NoError(t, err)

	assert.True(t, res.SourceCleaned)
	assert.True(t, res.DestSkipped)
	assert.False(t, res.DestCleaned)
	assert.Empty(t, testfs.ListNames(j.SourceContainerPath))
	assert.False(t, jobpkg.Exists(ctx, j.SourceEndpoint, j.SourceContainerPath))
}

// flakyReceiveEndpoint wraps a real testfs endpoint but makes every
// "btrfs receive" invocation fail, simulating a destination that rejects an
// incoming transfer after the source snapshot has already been created.
type flakyReceiveEndpoint struct {
	*testfs.Endpoint
}

func (f *flakyReceiveEndpoint) Command(ctx context.Context, argv []string) *exec.Cmd {
	if len(argv) >= 2 && argv[0] == "btrfs" && argv[1] == "receive" {
		return exec.CommandContext(ctx, "sh", "-c", "cat >/dev/null; exit 1")
	}
	return f.Endpoint.Command(ctx, argv)
}

// unreachableEndpoint fails every command, simulating a destination host
// that cannot be reached at all (network partition, host down).
type unreachableEndpoint struct{}

func (unreachableEndpoint) Exec(ctx context.Context, argv []string) ([]byte, []byte, error) {
	return nil, nil, context.DeadlineExceeded
}

func (unreachableEndpoint) Command(ctx context.Context, argv []string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", "exit 1")
}

func (unreachableEndpoint) ShellQuote(argv []string) string { return "" }

func (unreachableEndpoint) String() string { return "unreachable" }
