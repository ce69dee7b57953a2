package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) Recorder {
	t.Helper()
	db, err := Open(Config{DSN: "file::memory:?cache=shared", Logger: zap.NewNop()})
	require.NoError(t, err)
	return NewRecorder(db)
}

func TestRecorder_RecordAndRecent(t *testing.T) {
	rec := openTestDB(t)
	ctx := context.Background()

	jobKey := "local:/src|local:/dst"
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Record(ctx, &RunRecord{
		JobKey: jobKey, Command: "run", StartedAt: now, EndedAt: now.Add(time.Second),
		Outcome: "success", TransferMode: "full", BytesSent: 100,
	}))
	require.NoError(t, rec.Record(ctx, &RunRecord{
		JobKey: jobKey, Command: "run", StartedAt: now.Add(time.Hour), EndedAt: now.Add(time.Hour + time.Second),
		Outcome: "failure", Error: "transfer failed",
	}))

	got, err := rec.Recent(ctx, jobKey, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	other, err := rec.Recent(ctx, "other-job", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecorder_RecentRespectsLimit(t *testing.T) {
	rec := openTestDB(t)
	ctx := context.Background()
	jobKey := "local:/a|local:/b"

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.Record(ctx, &RunRecord{JobKey: jobKey, Command: "run", Outcome: "success"}))
	}

	got, err := rec.Recent(ctx, jobKey, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
