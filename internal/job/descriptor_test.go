package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

func TestSaveLoad_RoundTripsAllFields(t *testing.T) {
	dir := t.TempDir()
	ep := &endpoint.Local{}
	ctx := context.Background()

	d := &Descriptor{
		SourceURL:                "ssh://user@host:2222",
		DestinationURL:           "",
		SourceContainerPath:      "/srv/backup/source-container",
		DestinationContainerPath: "/srv/backup/dest-container",
		SourceRetention:          "1d:4/h, 1w:1/d",
		DestinationRetention:     "2",
		Compress:                 true,
		SourceSubvolume:          "docker-volume://app-data",
		LastSyncedSnapshot:       "sx-20240101-000000-utc",
		HookPreSnapshot:          "sync; fsfreeze -f /data",
		HookPostTransfer:         "curl -s https://example.test/done",
		WebhookURL:               "https://hooks.example.test/job",
		WebhookSecret:            "s3cr3t",
		FormatVersion:            CurrentFormatVersion,
	}

	require.NoError(t, Save(ctx, ep, dir, d))

	got, err := Load(ctx, ep, dir)
	require.NoError(t, err)

	assert.Equal(t, d.SourceURL, got.SourceURL)
	assert.Equal(t, d.SourceContainerPath, got.SourceContainerPath)
	assert.Equal(t, d.DestinationContainerPath, got.DestinationContainerPath)
	assert.Equal(t, d.SourceRetention, got.SourceRetention)
	assert.Equal(t, d.DestinationRetention, got.DestinationRetention)
	assert.Equal(t, d.Compress, got.Compress)
	assert.Equal(t, d.SourceSubvolume, got.SourceSubvolume)
	assert.Equal(t, d.LastSyncedSnapshot, got.LastSyncedSnapshot)
	assert.Equal(t, d.HookPreSnapshot, got.HookPreSnapshot)
	assert.Equal(t, d.HookPostTransfer, got.HookPostTransfer)
	assert.Equal(t, d.WebhookURL, got.WebhookURL)
	assert.Equal(t, d.WebhookSecret, got.WebhookSecret)
	assert.Equal(t, d.FormatVersion, got.FormatVersion)
	assert.Empty(t, got.Unknown)
}

func TestLoad_MissingFileReturnsErrMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(context.Background(), &endpoint.Local{}, dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestLoad_UnknownKeysArePreservedAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	raw := "[Job]\n" +
		"source-container = /srv/backup/source-container\n" +
		"destination-container = /srv/backup/dest-container\n" +
		"format-version = 1\n" +
		"future-field = some-value-this-build-does-not-know\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(raw), 0o644))

	d, err := Load(context.Background(), &endpoint.Local{}, dir)
	require.NoError(t, err)
	assert.Equal(t, "some-value-this-build-does-not-know", d.Unknown["future-field"])

	require.NoError(t, Save(context.Background(), &endpoint.Local{}, dir, d))

	reloaded, err := Load(context.Background(), &endpoint.Local{}, dir)
	require.NoError(t, err)
	assert.Equal(t, "some-value-this-build-does-not-know", reloaded.Unknown["future-field"])
}

func TestLoad_IncompatibleFormatVersionRejected(t *testing.T) {
	dir := t.TempDir()
	raw := "[Job]\n" +
		"source-container = /srv/backup/source-container\n" +
		"destination-container = /srv/backup/dest-container\n" +
		"format-version = 999\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(raw), 0o644))

	_, err := Load(context.Background(), &endpoint.Local{}, dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionIncompatible))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	ep := &endpoint.Local{}
	ctx := context.Background()

	assert.False(t, Exists(ctx, ep, dir))
	require.NoError(t, Save(ctx, ep, dir, &Descriptor{
		SourceContainerPath:      dir,
		DestinationContainerPath: dir,
		FormatVersion:            CurrentFormatVersion,
	}))
	assert.True(t, Exists(ctx, ep, dir))
}
