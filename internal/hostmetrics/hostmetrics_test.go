package hostmetrics

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsage_RootIsReadable(t *testing.T) {
	u, err := DiskUsage(os.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, u.TotalBytes)
	assert.GreaterOrEqual(t, u.UsedPercent, 0.0)
	assert.LessOrEqual(t, u.UsedPercent, 100.0)
}

func TestDiskUsage_UnknownPathErrors(t *testing.T) {
	_, err := DiskUsage("/this/path/does/not/exist/hopefully")
	assert.Error(t, err)
}
