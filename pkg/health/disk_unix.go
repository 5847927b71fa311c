//go:build unix

package health

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskCheck checks free space on the filesystem holding Path, typically the
// directory of the outbox database. MinFreePercent takes precedence over
// MinFreeBytes when both are set.
type DiskCheck struct {
	Path           string
	MinFreeBytes   uint64
	MinFreePercent float64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	path := c.Path
	if path == "" {
		path = "/"
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("statfs %s: %v", path, err)}
	}

	total := st.Blocks * uint64(st.Bsize) //nolint:gosec // Bsize is positive
	free := st.Bavail * uint64(st.Bsize)  //nolint:gosec // Bsize is positive
	var freePercent float64
	if total > 0 {
		freePercent = float64(free) / float64(total) * 100
	}

	res := CheckResult{
		Metadata: map[string]any{
			"path":         path,
			"total_bytes":  total,
			"free_bytes":   free,
			"free_percent": fmt.Sprintf("%.2f%%", freePercent),
		},
	}

	switch {
	case c.MinFreePercent > 0 && freePercent < c.MinFreePercent:
		res.Status = StatusUnhealthy
		res.Error = fmt.Sprintf("free space %.2f%% is below %.2f%%", freePercent, c.MinFreePercent)
	case c.MinFreePercent <= 0 && c.MinFreeBytes > 0 && free < c.MinFreeBytes:
		res.Status = StatusUnhealthy
		res.Error = fmt.Sprintf("free space %d bytes is below %d bytes", free, c.MinFreeBytes)
	default:
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("%.2f%% free", freePercent)
	}
	return res
}
