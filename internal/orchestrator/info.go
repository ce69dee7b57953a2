package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/snapkeep/snapkeep/internal/endpoint"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/hostmetrics"
	"github.com/snapkeep/snapkeep/internal/snapshot"
)

var errNotLocal = errors.New("orchestrator: disk usage is only available for a local endpoint")

// SnapshotInfo renders one snapshot with both UTC and local timestamps for
// the read-only info view.
type SnapshotInfo struct {
	Name  string
	UTC   time.Time
	Local time.Time
}

// Info is the read-only view of a job: both sides' descriptors (already
// unified into Job.Descriptor), both inventories, and, best-effort, disk
// usage and recent run history.
type Info struct {
	Job             *Job
	SourceSnapshots []SnapshotInfo
	DestSnapshots   []SnapshotInfo
	SourceDiskUsage *hostmetrics.Usage
	DestDiskUsage   *hostmetrics.Usage
	RecentRuns      []history.RunRecord
}

// LoadInfo gathers everything Info reports. Disk usage is only meaningful
// for a Local endpoint — info silently omits it for a Remote side rather
// than failing the whole command over a cosmetic field. recorder may be nil
// to skip the recent-runs section.
func LoadInfo(ctx context.Context, j *Job, recorder history.Recorder) (*Info, error) {
	sourceList, err := j.SourceStore.List(ctx)
	if err != nil {
		return nil, &FilesystemError{Op: "list source", Err: err}
	}
	destList, err := j.DestStore.List(ctx)
	if err != nil {
		return nil, &FilesystemError{Op: "list destination", Err: err}
	}

	info := &Info{
		Job:             j,
		SourceSnapshots: toSnapshotInfo(sourceList),
		DestSnapshots:   toSnapshotInfo(destList),
	}

	if u, err := diskUsageIfLocal(j.SourceEndpoint, j.SourceContainerPath); err == nil {
		info.SourceDiskUsage = u
	}
	if u, err := diskUsageIfLocal(j.DestEndpoint, j.DestContainerPath); err == nil {
		info.DestDiskUsage = u
	}

	if recorder != nil {
		runs, err := recorder.Recent(ctx, hashJobKey(j), 10)
		if err == nil {
			info.RecentRuns = runs
		}
	}

	return info, nil
}

func toSnapshotInfo(snaps []snapshot.Snapshot) []SnapshotInfo {
	out := make([]SnapshotInfo, len(snaps))
	for i, s := range snaps {
		out[i] = SnapshotInfo{Name: s.Name(), UTC: s.Timestamp.UTC(), Local: s.Timestamp.Local()}
	}
	return out
}

// diskUsageIfLocal reports disk usage for path when ep is the local
// endpoint. A Remote endpoint returns an error, since gopsutil only ever
// sees the local machine's filesystems.
func diskUsageIfLocal(ep endpoint.Endpoint, path string) (*hostmetrics.Usage, error) {
	if _, ok := ep.(*endpoint.Local); !ok {
		return nil, errNotLocal
	}
	u, err := hostmetrics.DiskUsage(path)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
