package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	instants := []time.Time{
		time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
		time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 1, 2, 3, 0, 0, 0, time.FixedZone("CET", 3600)),
	}
	for _, ts := range instants {
		name := Encode(ts)
		got, ok := Decode(name)
		assert.True(t, ok, name)
		assert.True(t, ts.UTC().Truncate(time.Second).Equal(got), "round trip mismatch for %s", name)
	}
}

func TestEncodeOrderPreserving(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 1, 1, 3, 0, 1, 0, time.UTC)
	t3 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.Less(t, Encode(t1), Encode(t2))
	assert.Less(t, Encode(t2), Encode(t3))
}

func TestDecodeRejectsUnmanagedNames(t *testing.T) {
	for _, bad := range []string{
		"",
		"sx-20240101-030000",
		"snapshot-20240101-030000-utc",
		"sx-2024010-030000-utc",
		"sx-20240101-030000-UTC",
		"not-a-snapshot",
	} {
		_, ok := Decode(bad)
		assert.False(t, ok, bad)
	}
}
