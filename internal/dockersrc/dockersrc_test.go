package dockersrc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDockerVolumeRef(t *testing.T) {
	assert.True(t, IsDockerVolumeRef("docker-volume://app-data"))
	assert.False(t, IsDockerVolumeRef("/mnt/subvol/app-data"))
	assert.False(t, IsDockerVolumeRef(""))
}

func TestResolve_PassthroughForNonDockerRef(t *testing.T) {
	got, err := Resolve(context.Background(), nil, "/mnt/subvol/app-data")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/subvol/app-data", got)
}

func TestResolve_NilClientErrorsForDockerRef(t *testing.T) {
	_, err := Resolve(context.Background(), nil, "docker-volume://app-data")
	assert.Error(t, err)
}

func TestErrors_AreDistinguishable(t *testing.T) {
	assert.False(t, errors.Is(ErrDockerUnavailable, ErrVolumeNotFound))
}
