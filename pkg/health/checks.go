package health

import (
	"context"
	"fmt"

	"github.com/exploopio/grc/pkg/retry"
)

// LoopCheck reports whether a background loop is running.
type LoopCheck struct {
	Running func() bool

	// Skipped optionally reports how many ticks the loop has skipped.
	Skipped func() int64
}

func (c *LoopCheck) Check(ctx context.Context) CheckResult {
	if c.Running == nil {
		return CheckResult{Status: StatusUnknown, Message: "no running function configured"}
	}

	res := CheckResult{Metadata: map[string]any{}}
	if c.Skipped != nil {
		res.Metadata["skipped_ticks"] = c.Skipped()
	}
	if !c.Running() {
		res.Status = StatusUnhealthy
		res.Error = "loop is not running"
		return res
	}
	res.Status = StatusHealthy
	res.Message = "running"
	return res
}

// OutboxStats is implemented by retry.SQLiteOutbox.
type OutboxStats interface {
	Stats(ctx context.Context) (*retry.Stats, error)
}

// OutboxCheck reports on the deferred-write backlog. Items that exhausted
// their attempts, or a pending backlog above MaxPending, degrade the agent.
type OutboxCheck struct {
	Outbox     OutboxStats
	MaxPending int
}

func (c *OutboxCheck) Check(ctx context.Context) CheckResult {
	stats, err := c.Outbox.Stats(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}

	res := CheckResult{
		Status: StatusHealthy,
		Metadata: map[string]any{
			"pending": stats.Pending,
			"failed":  stats.Failed,
		},
	}
	if !stats.Oldest.IsZero() {
		res.Metadata["oldest"] = stats.Oldest
	}

	switch {
	case stats.Failed > 0:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%d write(s) gave up retrying", stats.Failed)
	case c.MaxPending > 0 && stats.Pending > c.MaxPending:
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%d write(s) pending, above %d", stats.Pending, c.MaxPending)
	default:
		res.Message = fmt.Sprintf("%d write(s) pending", stats.Pending)
	}
	return res
}

// PingCheck calls Ping and reports unhealthy when it fails.
type PingCheck struct {
	Ping func(ctx context.Context) error
}

func (c *PingCheck) Check(ctx context.Context) CheckResult {
	if c.Ping == nil {
		return CheckResult{Status: StatusUnknown, Message: "no ping function configured"}
	}
	if err := c.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

var (
	_ Checker     = (*LoopCheck)(nil)
	_ Checker     = (*OutboxCheck)(nil)
	_ Checker     = (*PingCheck)(nil)
	_ Checker     = (*DiskCheck)(nil)
	_ Checker     = CheckFunc(nil)
	_ OutboxStats = (*retry.SQLiteOutbox)(nil)
)
