package snapshot

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

// ErrNameCollision is returned by Create when a snapshot with the requested
// timestamp's name already exists. It is transient and retried by the
// orchestrator with a small, bounded back-off. It classifies as
// errdefs.ErrAlreadyExists so callers can use errdefs.IsAlreadyExists
// interchangeably with errors.Is(err, ErrNameCollision).
var ErrNameCollision = fmt.Errorf("snapshot: name collision: %w", errdefs.ErrAlreadyExists)

// Snapshot is a single timestamped, read-only copy of a subvolume living
// under a container at an endpoint.
type Snapshot struct {
	Timestamp     time.Time
	Endpoint      endpoint.Endpoint
	ContainerPath string
}

// Name returns the snapshot's encoded name.
func (s Snapshot) Name() string { return Encode(s.Timestamp) }

// Path returns the absolute path of the snapshot subvolume.
func (s Snapshot) Path() string { return path.Join(s.ContainerPath, s.Name()) }

// Store manages the snapshots under one (endpoint, container path) pair.
type Store struct {
	Endpoint      endpoint.Endpoint
	ContainerPath string
}

// New builds a Store for the container at containerPath on ep.
func New(ep endpoint.Endpoint, containerPath string) *Store {
	return &Store{Endpoint: ep, ContainerPath: containerPath}
}

// List enumerates the entries in the container whose names parse as
// snapshot names, sorted ascending by timestamp. Entries with unparseable
// names are ignored, never deleted.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	out, _, err := s.Endpoint.Exec(ctx, []string{"btrfs", "subvolume", "list", "-o", s.ContainerPath})
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", s.ContainerPath, err)
	}

	var snaps []Snapshot
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name := path.Base(fields[len(fields)-1])
		ts, ok := Decode(name)
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{Timestamp: ts, Endpoint: s.Endpoint, ContainerPath: s.ContainerPath})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

// Create atomically creates a read-only snapshot of sourceSubvolume inside
// the container, named encoding(now). It returns ErrNameCollision if that
// name is already taken.
func (s *Store) Create(ctx context.Context, now time.Time, sourceSubvolume string) (Snapshot, error) {
	now = now.UTC().Truncate(time.Second)
	name := Encode(now)

	existing, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	for _, e := range existing {
		if e.Name() == name {
			return Snapshot{}, ErrNameCollision
		}
	}

	dst := path.Join(s.ContainerPath, name)
	if _, _, err := s.Endpoint.Exec(ctx, []string{"btrfs", "subvolume", "snapshot", "-r", sourceSubvolume, dst}); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: create %s: %w", dst, err)
	}

	return Snapshot{Timestamp: now, Endpoint: s.Endpoint, ContainerPath: s.ContainerPath}, nil
}

// Delete removes the snapshot's subvolume. Deleting a snapshot that is no
// longer present is a no-op, satisfying the idempotence contract.
func (s *Store) Delete(ctx context.Context, snap Snapshot) error {
	existing, err := s.List(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, e := range existing {
		if e.Name() == snap.Name() {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	p := path.Join(s.ContainerPath, snap.Name())
	if _, _, err := s.Endpoint.Exec(ctx, []string{"btrfs", "subvolume", "delete", p}); err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", p, err)
	}
	return nil
}

// LatestCommon returns the highest-timestamp snapshot present in both s and
// other under an identical name — the sync-point contract the orchestrator
// uses to pick a transfer parent. Equality is by UTC timestamp name only; no
// content check is performed.
func (s *Store) LatestCommon(ctx context.Context, other *Store) (*Snapshot, error) {
	a, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	b, err := other.List(ctx)
	if err != nil {
		return nil, err
	}
	return LatestCommonOf(a, b), nil
}

// LatestCommonOf is the pure form of LatestCommon, usable directly by
// orchestrator code and tests that already have both inventories in hand.
func LatestCommonOf(a, b []Snapshot) *Snapshot {
	names := make(map[string]bool, len(b))
	for _, snap := range b {
		names[snap.Name()] = true
	}
	for i := len(a) - 1; i >= 0; i-- {
		if names[a[i].Name()] {
			found := a[i]
			return &found
		}
	}
	return nil
}
