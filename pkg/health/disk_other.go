//go:build !unix

package health

import (
	"context"
	"runtime"
)

// DiskCheck is not supported on this platform and always reports unknown.
type DiskCheck struct {
	Path           string
	MinFreeBytes   uint64
	MinFreePercent float64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: StatusUnknown, Message: "disk check not supported on " + runtime.GOOS}
}
