// Package hostmetrics reports host disk usage for a container path, feeding
// the info command.
package hostmetrics

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// Usage is a snapshot of disk utilization for the filesystem backing a
// container path.
type Usage struct {
	Path        string
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	UsedPercent float64
}

// DiskUsage reports usage for the filesystem mounted at path. path must be
// resolvable on the local host — it is meaningless for a Remote endpoint,
// so info only calls this for the side it happens to run on.
func DiskUsage(path string) (Usage, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return Usage{}, fmt.Errorf("hostmetrics: disk usage for %s: %w", path, err)
	}
	return Usage{
		Path:        path,
		TotalBytes:  stat.Total,
		UsedBytes:   stat.Used,
		FreeBytes:   stat.Free,
		UsedPercent: stat.UsedPercent,
	}, nil
}
