// Package dockersrc resolves a job's source subvolume when it is declared
// as "docker-volume://<name>" in the job descriptor, mapping it to the
// volume's host mountpoint via the Docker API before a snapshot is taken.
package dockersrc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/filters"
	volumetypes "github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
)

// Prefix is the source reference scheme recognised as a Docker volume
// source.
const Prefix = "docker-volume://"

// ErrDockerUnavailable is returned when the Docker daemon cannot be
// reached. Callers should treat this as a skip condition, not a hard
// failure, when Docker resolution is optional for the job at hand.
var ErrDockerUnavailable = errors.New("dockersrc: daemon unavailable")

// ErrVolumeNotFound is returned when a requested volume does not exist.
var ErrVolumeNotFound = errors.New("dockersrc: volume not found")

// IsDockerVolumeRef reports whether ref names a Docker volume source.
func IsDockerVolumeRef(ref string) bool { return strings.HasPrefix(ref, Prefix) }

// VolumeInfo holds the metadata of a Docker volume relevant to a snapshot
// source.
type VolumeInfo struct {
	Name       string
	Mountpoint string
	Driver     string
}

// Client wraps the Docker SDK client and provides the single lookup the
// orchestrator needs: volume name to host mountpoint.
type Client struct {
	docker *dockerclient.Client
}

// NewClient creates a Client connected to the socket at socketPath. Use the
// empty string to fall back to the Docker SDK default (DOCKER_HOST env var,
// or /var/run/docker.sock on Linux/macOS).
func NewClient(socketPath string) (*Client, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socketPath))
	}

	dc, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}
	return &Client{docker: dc}, nil
}

// Ping checks that the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}
	return nil
}

// InspectVolume returns the metadata of a single volume by name.
func (c *Client) InspectVolume(ctx context.Context, name string) (*VolumeInfo, error) {
	v, err := c.docker.VolumeInspect(ctx, name)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, ErrVolumeNotFound
		}
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}
	return &VolumeInfo{Name: v.Name, Mountpoint: v.Mountpoint, Driver: v.Driver}, nil
}

// ListVolumes returns all Docker volumes visible to the daemon, optionally
// restricted by a label filter ("key=value"). Pass an empty string for no
// filter.
func (c *Client) ListVolumes(ctx context.Context, labelFilter string) ([]VolumeInfo, error) {
	opts := volumetypes.ListOptions{}
	if labelFilter != "" {
		opts.Filters = filters.NewArgs(filters.Arg("label", labelFilter))
	}

	list, err := c.docker.VolumeList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}

	volumes := make([]VolumeInfo, 0, len(list.Volumes))
	for _, v := range list.Volumes {
		volumes = append(volumes, VolumeInfo{Name: v.Name, Mountpoint: v.Mountpoint, Driver: v.Driver})
	}
	return volumes, nil
}

// Close releases the underlying Docker client resources.
func (c *Client) Close() error { return c.docker.Close() }

// Resolve maps a source reference to the real filesystem path the
// orchestrator should snapshot. References without the docker-volume://
// scheme are returned unchanged. client may be nil, in which case a
// docker-volume:// reference is reported as unresolvable.
func Resolve(ctx context.Context, client *Client, ref string) (string, error) {
	if !IsDockerVolumeRef(ref) {
		return ref, nil
	}
	name := strings.TrimPrefix(ref, Prefix)
	if client == nil {
		return "", fmt.Errorf("source %q requires Docker but Docker is unavailable on this host", ref)
	}
	info, err := client.InspectVolume(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect Docker volume %q: %w", name, err)
	}
	return info.Mountpoint, nil
}
