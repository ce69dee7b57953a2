package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInfo_SnapshotsCarryBothUTCAndLocalTimestamps(t *testing.T) {
	j := newTestJob(t)
	clk := newFakeClock()

	_, err := Run(context.Background(), j, RunOptions{Deps: Deps{Clock: clk.now}})
	require.NoError(t, err)

	info, err := LoadInfo(context.Background(), j, nil)
	require.NoError(t, err)

	require.Len(t, info.SourceSnapshots, 1)
	snap := info.SourceSnapshots[0]
	assert.Equal(t, clk.t, snap.UTC)
	assert.True(t, snap.UTC.Equal(snap.Local), "UTC and local must denote the same instant")
	assert.Equal(t, "UTC", snap.UTC.Location().String())

	require.Len(t, info.DestSnapshots, 1)
	assert.Equal(t, snap.Name, info.DestSnapshots[0].Name)
}

func TestLoadInfo_NilRecorderOmitsRecentRuns(t *testing.T) {
	j := newTestJob(t)

	info, err := LoadInfo(context.Background(), j, nil)
	require.NoError(t, err)

	assert.Empty(t, info.SourceSnapshots)
	assert.Empty(t, info.RecentRuns)
}
