// Package poller keeps client dashboards fresh by recomposing them on a
// fixed interval.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exploopio/grc/pkg/core"
	"github.com/exploopio/grc/pkg/dashboard"
	"github.com/exploopio/grc/pkg/metrics"
)

// DefaultInterval is the refresh interval when none is configured.
const DefaultInterval = 30 * time.Second

// Source recomposes a client's dashboard. *dashboard.Service implements it.
type Source interface {
	Refresh(ctx context.Context, clientID string) (*dashboard.Dashboard, error)
}

// Config configures the Refresher.
type Config struct {
	// ClientIDs are refreshed in order on every tick.
	ClientIDs []string

	// Interval between ticks. Default 30s.
	Interval time.Duration

	// RefreshTimeout bounds one refresh of one client. Zero means no bound
	// beyond the transport's own timeout.
	RefreshTimeout time.Duration

	// OnRefresh is called after every client refresh, successful or not.
	OnRefresh func(clientID string, d *dashboard.Dashboard, err error)

	Logger  core.Logger
	Metrics metrics.Collector
}

// Refresher re-polls dashboards on a ticker. A tick that fires while the
// previous refresh is still running is skipped.
type Refresher struct {
	source  Source
	config  Config
	logger  core.Logger
	metrics metrics.Collector

	running  int32 // atomic
	inFlight int32 // atomic
	skipped  int64 // atomic

	mu     sync.Mutex
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRefresher creates a Refresher over source.
func NewRefresher(source Source, cfg Config) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Refresher{
		source:  source,
		config:  cfg,
		logger:  core.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
	}
}

// Start refreshes once immediately, then on every interval until Stop or
// until ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	if len(r.config.ClientIDs) == 0 {
		return fmt.Errorf("refresher needs at least one client id")
	}
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return fmt.Errorf("refresher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()

	r.logger.Info("refresher starting (clients=%d, interval=%v)", len(r.config.ClientIDs), r.config.Interval)

	r.wg.Add(1)
	go r.loop(runCtx, stopCh)
	return nil
}

// Stop cancels any in-flight refresh and waits up to timeout for it to
// return.
func (r *Refresher) Stop(timeout time.Duration) error {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return nil
	}

	r.mu.Lock()
	r.cancel()
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("refresher stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for refresh to finish")
	}
}

// Running reports whether the refresher has been started and not stopped.
func (r *Refresher) Running() bool {
	return atomic.LoadInt32(&r.running) == 1
}

// Skipped returns the number of ticks skipped by the in-flight guard.
func (r *Refresher) Skipped() int64 {
	return atomic.LoadInt64(&r.skipped)
}

func (r *Refresher) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick starts a refresh round unless one is still running.
func (r *Refresher) tick(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&r.inFlight, 0, 1) {
		atomic.AddInt64(&r.skipped, 1)
		r.metrics.CounterInc(metrics.DashboardRefreshSkipped.Name)
		r.logger.Debug("refresh still in flight, skipping tick")
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer atomic.StoreInt32(&r.inFlight, 0)
		r.refreshAll(ctx)
	}()
	return true
}

func (r *Refresher) refreshAll(ctx context.Context) {
	for _, clientID := range r.config.ClientIDs {
		if ctx.Err() != nil {
			return
		}
		r.refreshOne(ctx, clientID)
	}
}

func (r *Refresher) refreshOne(ctx context.Context, clientID string) {
	if r.config.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RefreshTimeout)
		defer cancel()
	}

	d, err := r.source.Refresh(ctx, clientID)
	switch {
	case err != nil && ctx.Err() != nil:
		r.logger.Debug("refresh of %s cancelled: %v", clientID, err)
	case err != nil:
		r.logger.Error("refresh of %s failed: %v", clientID, err)
	default:
		r.logger.Debug("refreshed %s: overall %d", clientID, d.OverallScore)
	}

	if r.config.OnRefresh != nil {
		r.config.OnRefresh(clientID, d, err)
	}
}

var _ Source = (*dashboard.Service)(nil)
