package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_EmptyCommandSucceeds(t *testing.T) {
	r := NewRunner(0)
	res, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Output)
}

func TestRun_CapturesOutput(t *testing.T) {
	r := NewRunner(time.Second)
	res, err := r.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "hello")
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonZeroExitIsHookFailed(t *testing.T) {
	r := NewRunner(time.Second)
	res, err := r.Run(context.Background(), "exit 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHookFailed)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_TimeoutKillsProcess(t *testing.T) {
	r := NewRunner(50 * time.Millisecond)
	_, err := r.Run(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHookFailed)
}
