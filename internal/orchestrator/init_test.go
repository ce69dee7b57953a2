package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobpkg "github.com/snapkeep/snapkeep/internal/job"
)

func TestInit_DefaultsSourceContainerToDotSxbackupBelowTheSubvolume(t *testing.T) {
	root := t.TempDir()
	subvolume := filepath.Join(root, "data")
	destination := filepath.Join(root, "dest-container")

	j, err := Init(context.Background(), InitOptions{
		SourceLocator: subvolume,
		DestLocator:   destination,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(subvolume, jobpkg.DefaultContainerName), j.SourceContainerPath)
	assert.Equal(t, destination, j.DestContainerPath)

	// Reloading from the source side must see the same derived path.
	reloaded, err := Open(context.Background(), j.SourceContainerPath)
	require.NoError(t, err)
	assert.Equal(t, j.SourceContainerPath, reloaded.SourceContainerPath)
	assert.Equal(t, destination, reloaded.DestContainerPath)
}

func TestInit_SourceContainerOverrideSkipsTheDefault(t *testing.T) {
	root := t.TempDir()
	subvolume := filepath.Join(root, "data")
	legacyContainer := filepath.Join(root, "data", "sxbackup")
	destination := filepath.Join(root, "dest-container")

	j, err := Init(context.Background(), InitOptions{
		SourceLocator:           subvolume,
		SourceContainerOverride: legacyContainer,
		DestLocator:             destination,
	})
	require.NoError(t, err)

	assert.Equal(t, legacyContainer, j.SourceContainerPath)
	assert.NotEqual(t, filepath.Join(subvolume, jobpkg.DefaultContainerName), j.SourceContainerPath)
}

func TestInit_DestinationContainerPathIsAlwaysExplicit(t *testing.T) {
	root := t.TempDir()
	subvolume := filepath.Join(root, "data")
	destination := filepath.Join(root, "somewhere", "nested", "dest")

	j, err := Init(context.Background(), InitOptions{
		SourceLocator: subvolume,
		DestLocator:   destination,
	})
	require.NoError(t, err)

	assert.Equal(t, destination, j.DestContainerPath)
}
