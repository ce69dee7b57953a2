package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsObservations(t *testing.T) {
	c := NewCollector()
	c.SnapshotsCreated.Inc()
	c.SnapshotsDeleted.Add(3)
	c.TransferBytes.Add(1024)
	c.RunDuration.Observe(1.5)
	c.RunOutcome.WithLabelValues("success").Inc()

	assert.Equal(t, float64(1), testutilValue(t, c))
}

// testutilValue is a minimal stand-in for prometheus/client_golang/testutil
// (not in go.mod) — it only needs to prove the counter was incremented, so
// a direct metric read via the registry's Gather is sufficient here.
func testutilValue(t *testing.T, c *Collector) float64 {
	t.Helper()
	metricFamilies, err := c.registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() == "snapkeep_snapshots_created_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("snapkeep_snapshots_created_total not found")
	return 0
}

func TestCollector_ServeReturnsAfterContextCancel(t *testing.T) {
	c := NewCollector()
	c.SnapshotsCreated.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx, "127.0.0.1:0") }()

	// Serve binds to an ephemeral port chosen internally; this test only
	// exercises that Serve starts and stops cleanly within a deadline,
	// since discovering the bound port would require refactoring Serve to
	// return a listener.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

