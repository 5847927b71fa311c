package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exploopio/grc/pkg/core"
	"github.com/exploopio/grc/pkg/metrics"
)

// Worker replays outbox items in the background.
type Worker struct {
	outbox  Outbox
	sender  Sender
	backoff *BackoffConfig

	interval  time.Duration
	batchSize int
	ttl       time.Duration

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	onExhaust func(item *Item)

	stats   WorkerStats
	statsMu sync.RWMutex

	logger  core.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// WorkerStats contains lifetime counters of the worker.
type WorkerStats struct {
	Attempts    int64     `json:"attempts"`
	Replayed    int64     `json:"replayed"`
	Failed      int64     `json:"failed"`
	Exhausted   int64     `json:"exhausted"`
	LastCheckAt time.Time `json:"last_check_at"`
}

// WorkerConfig configures the worker.
type WorkerConfig struct {
	Interval  time.Duration  `yaml:"interval" json:"interval"`
	BatchSize int            `yaml:"batch_size" json:"batch_size"`
	TTL       time.Duration  `yaml:"ttl" json:"ttl"`
	Backoff   *BackoffConfig `yaml:"backoff" json:"backoff"`

	Logger  core.Logger       `yaml:"-" json:"-"`
	Metrics metrics.Collector `yaml:"-" json:"-"`
}

// DefaultWorkerConfig returns a configuration with default values.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Interval:  DefaultRetryInterval,
		BatchSize: DefaultBatchSize,
		TTL:       DefaultTTL,
		Backoff:   DefaultBackoffConfig(),
	}
}

// NewWorker creates a replay worker.
func NewWorker(cfg *WorkerConfig, outbox Outbox, sender Sender) *Worker {
	if cfg == nil {
		cfg = DefaultWorkerConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetryInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoffConfig()
	}

	return &Worker{
		outbox:    outbox,
		sender:    sender,
		backoff:   cfg.Backoff,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		ttl:       cfg.TTL,
		stopCh:    make(chan struct{}),
		logger:    core.OrNop(cfg.Logger),
		metrics:   metrics.OrNop(cfg.Metrics),
		now:       time.Now,
	}
}

// OnExhaust sets a callback invoked when an item is parked as failed.
func (w *Worker) OnExhaust(fn func(item *Item)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onExhaust = fn
}

// Start runs the replay loop in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("outbox worker started (interval: %v, batch: %d)", w.interval, w.batchSize)
	return nil
}

// Stop stops the loop and waits for the current batch.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("outbox worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timed out: %w", ctx.Err())
	}
}

// IsRunning reports whether the loop is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns the worker counters.
func (w *Worker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// ProcessNow replays one batch synchronously and returns its results.
func (w *Worker) ProcessNow(ctx context.Context) ([]*Result, error) {
	return w.processBatch(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	if _, err := w.processBatch(ctx); err != nil {
		w.logger.Warn("outbox initial batch: %v", err)
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.processBatch(ctx); err != nil {
				w.logger.Warn("outbox batch: %v", err)
			}
		case <-cleanupTicker.C:
			if removed, err := w.outbox.Cleanup(ctx, w.ttl); err != nil {
				w.logger.Warn("outbox cleanup: %v", err)
			} else if removed > 0 {
				w.logger.Info("outbox cleanup removed %d items", removed)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) ([]*Result, error) {
	w.statsMu.Lock()
	w.stats.LastCheckAt = w.now()
	w.statsMu.Unlock()

	items, err := w.outbox.Ready(ctx, w.now(), w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}

	results := make([]*Result, 0, len(items))
	for _, item := range items {
		select {
		case <-w.stopCh:
			return results, nil
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
		results = append(results, w.replay(ctx, item))
	}

	w.refreshPending(ctx)
	return results, nil
}

func (w *Worker) replay(ctx context.Context, item *Item) *Result {
	start := w.now()
	err := w.sender.Post(ctx, item.Path, item.Payload, nil)
	result := &Result{
		ItemID:   item.ID,
		Attempt:  item.Attempts + 1,
		Duration: w.now().Sub(start),
		Success:  err == nil,
	}

	w.statsMu.Lock()
	w.stats.Attempts++
	w.statsMu.Unlock()

	if err == nil {
		if derr := w.outbox.Delete(ctx, item.ID); derr != nil {
			w.logger.Warn("outbox: delete replayed item %s: %v", item.ID, derr)
		}
		w.statsMu.Lock()
		w.stats.Replayed++
		w.statsMu.Unlock()
		w.metrics.CounterInc(metrics.OutboxReplays.Name, "status", "success")
		w.logger.Debug("outbox: replayed %s %s", item.Kind, item.ID)
		return result
	}

	result.Error = err.Error()
	item.Attempts++
	item.LastError = result.Error

	w.statsMu.Lock()
	w.stats.Failed++
	w.statsMu.Unlock()

	if item.HasExhaustedRetries() {
		if merr := w.outbox.MarkFailed(ctx, item.ID, item.Attempts, item.LastError); merr != nil {
			w.logger.Warn("outbox: mark item %s failed: %v", item.ID, merr)
		}
		w.statsMu.Lock()
		w.stats.Exhausted++
		w.statsMu.Unlock()
		w.metrics.CounterInc(metrics.OutboxReplays.Name, "status", "exhausted")
		w.logger.Error("outbox: item %s exhausted %d attempts: %s", item.ID, item.Attempts, item.LastError)

		w.mu.Lock()
		onExhaust := w.onExhaust
		w.mu.Unlock()
		if onExhaust != nil {
			onExhaust(item)
		}
		return result
	}

	next := w.backoff.NextRetryFrom(w.now(), item.Attempts)
	if rerr := w.outbox.Reschedule(ctx, item.ID, item.Attempts, item.LastError, next); rerr != nil {
		w.logger.Warn("outbox: reschedule item %s: %v", item.ID, rerr)
	}
	w.metrics.CounterInc(metrics.OutboxReplays.Name, "status", "error")
	w.logger.Debug("outbox: item %s retry %d at %s", item.ID, item.Attempts, next.Format(time.RFC3339))
	return result
}

func (w *Worker) refreshPending(ctx context.Context) {
	stats, err := w.outbox.Stats(ctx)
	if err != nil {
		return
	}
	w.metrics.GaugeSet(metrics.OutboxPending.Name, float64(stats.Pending))
}
