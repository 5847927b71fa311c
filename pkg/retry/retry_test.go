package retry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/exploopio/grc/pkg/metrics"
)

func newTestOutbox(t *testing.T, maxAttempts int) *SQLiteOutbox {
	t.Helper()
	o, err := NewSQLiteOutbox(&SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "outbox.db"),
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("NewSQLiteOutbox() error = %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func mappingItem(findingID string) *Item {
	return &Item{
		Kind:        ItemKindFindingRiskMapping,
		Path:        "/findings_to_risk/assessmentFindings",
		Payload:     json.RawMessage(`{"findingId":"` + findingID + `","riskId":"r1"}`),
		Fingerprint: findingID + ":r1",
	}
}

type fakeSender struct {
	mu     sync.Mutex
	err    error
	paths  []string
	bodies []string
}

func (s *fakeSender) Post(ctx context.Context, path string, body, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(body)
	s.paths = append(s.paths, path)
	s.bodies = append(s.bodies, string(data))
	return s.err
}

func TestSQLiteOutbox_EnqueueAndReady(t *testing.T) {
	o := newTestOutbox(t, 3)
	ctx := context.Background()

	id, err := o.Enqueue(ctx, mappingItem("fnd-001"))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	if _, err := o.Enqueue(ctx, mappingItem("fnd-001")); !errors.Is(err, ErrDuplicateItem) {
		t.Errorf("second Enqueue() error = %v, want ErrDuplicateItem", err)
	}
	if _, err := o.Enqueue(ctx, &Item{Path: "/x"}); !errors.Is(err, ErrInvalidItem) {
		t.Errorf("empty payload error = %v, want ErrInvalidItem", err)
	}

	ready, err := o.Ready(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("ready = %d, want 1", len(ready))
	}
	got := ready[0]
	if got.ID != id || got.MaxAttempts != 3 || got.Status != ItemStatusPending {
		t.Errorf("item = %+v", got)
	}
	if string(got.Payload) != `{"findingId":"fnd-001","riskId":"r1"}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestSQLiteOutbox_RescheduleAndFail(t *testing.T) {
	o := newTestOutbox(t, 3)
	ctx := context.Background()
	id, _ := o.Enqueue(ctx, mappingItem("fnd-002"))

	later := time.Now().Add(time.Hour)
	if err := o.Reschedule(ctx, id, 1, "boom", later); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	ready, _ := o.Ready(ctx, time.Now(), 10)
	if len(ready) != 0 {
		t.Errorf("rescheduled item should not be ready yet")
	}

	item, err := o.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Attempts != 1 || item.LastError != "boom" {
		t.Errorf("item = %+v", item)
	}

	if err := o.MarkFailed(ctx, id, 3, "gave up"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	stats, _ := o.Stats(ctx)
	if stats.Pending != 0 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// A failed item no longer blocks a new one with the same fingerprint.
	if _, err := o.Enqueue(ctx, mappingItem("fnd-002")); err != nil {
		t.Errorf("Enqueue after failure error = %v", err)
	}

	removed, err := o.Cleanup(ctx, DefaultTTL)
	if err != nil || removed != 1 {
		t.Errorf("Cleanup() = %d, %v; want 1", removed, err)
	}
	if err := o.Delete(ctx, "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestSQLiteOutbox_Closed(t *testing.T) {
	o, err := NewSQLiteOutbox(&SQLiteConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteOutbox() error = %v", err)
	}
	o.Close()
	if _, err := o.Enqueue(context.Background(), mappingItem("f")); !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Enqueue after close = %v", err)
	}
	if _, err := NewSQLiteOutbox(nil); err == nil {
		t.Error("expected error without path")
	}
}

func TestWorker_ReplaysSuccessfully(t *testing.T) {
	o := newTestOutbox(t, 3)
	ctx := context.Background()
	o.Enqueue(ctx, mappingItem("fnd-001"))
	o.Enqueue(ctx, mappingItem("fnd-002"))

	sender := &fakeSender{}
	m := metrics.NewInMemoryCollector()
	w := NewWorker(&WorkerConfig{Metrics: m}, o, sender)

	results, err := w.ProcessNow(ctx)
	if err != nil {
		t.Fatalf("ProcessNow() error = %v", err)
	}
	if len(results) != 2 || !results[0].Success || !results[1].Success {
		t.Fatalf("results = %+v", results)
	}
	if sender.paths[0] != "/findings_to_risk/assessmentFindings" {
		t.Errorf("path = %s", sender.paths[0])
	}
	if sender.bodies[0] != `{"findingId":"fnd-001","riskId":"r1"}` {
		t.Errorf("body = %s, payload must be sent verbatim", sender.bodies[0])
	}

	stats, _ := o.Stats(ctx)
	if stats.Pending != 0 {
		t.Errorf("pending = %d, want 0", stats.Pending)
	}
	if got := m.GetCounter(metrics.OutboxReplays.Name, "status", "success"); got != 2 {
		t.Errorf("replay counter = %v", got)
	}
	if got := m.GetGauge(metrics.OutboxPending.Name); got != 0 {
		t.Errorf("pending gauge = %v", got)
	}
}

func TestWorker_BacksOffThenExhausts(t *testing.T) {
	o := newTestOutbox(t, 2)
	ctx := context.Background()
	id, _ := o.Enqueue(ctx, mappingItem("fnd-003"))

	sender := &fakeSender{err: errors.New("backend down")}
	w := NewWorker(&WorkerConfig{
		Backoff: &BackoffConfig{Strategy: BackoffConstant, BaseInterval: time.Minute},
	}, o, sender)

	clock := time.Now()
	w.now = func() time.Time { return clock }

	var exhausted []*Item
	w.OnExhaust(func(item *Item) { exhausted = append(exhausted, item) })

	results, _ := w.ProcessNow(ctx)
	if len(results) != 1 || results[0].Success {
		t.Fatalf("first attempt results = %+v", results)
	}
	item, _ := o.Get(ctx, id)
	if item.Attempts != 1 || !item.NextRetry.Equal(clock.Add(time.Minute).UTC().Truncate(0)) {
		t.Errorf("after first failure item = %+v", item)
	}

	results, _ = w.ProcessNow(ctx)
	if len(results) != 0 {
		t.Errorf("item replayed before its backoff elapsed")
	}

	clock = clock.Add(2 * time.Minute)
	w.ProcessNow(ctx)

	item, _ = o.Get(ctx, id)
	if item.Status != ItemStatusFailed || item.Attempts != 2 {
		t.Errorf("item = %+v, want failed after 2 attempts", item)
	}
	if len(exhausted) != 1 {
		t.Errorf("exhaust callback calls = %d", len(exhausted))
	}
	if s := w.Stats(); s.Attempts != 2 || s.Exhausted != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestWorker_StartStop(t *testing.T) {
	o := newTestOutbox(t, 3)
	w := NewWorker(&WorkerConfig{Interval: 10 * time.Millisecond}, o, &fakeSender{})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if !w.IsRunning() {
		t.Error("worker should be running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("worker should be stopped")
	}
}

func TestBackoffConfig_Schedule(t *testing.T) {
	cfg := &BackoffConfig{Strategy: BackoffExponential, BaseInterval: time.Second, MaxInterval: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	got := cfg.Schedule(4)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schedule[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	linear := &BackoffConfig{Strategy: BackoffLinear, BaseInterval: time.Second}
	if d := linear.Interval(3); d != 3*time.Second {
		t.Errorf("linear Interval(3) = %v", d)
	}

	jittered := &BackoffConfig{Strategy: BackoffConstant, BaseInterval: 10 * time.Second, Jitter: 0.1}
	for i := 0; i < 50; i++ {
		d := jittered.Interval(1)
		if d < 9*time.Second || d > 11*time.Second {
			t.Fatalf("jittered interval %v outside ±10%%", d)
		}
	}
	if cfg.Schedule(0) != nil {
		t.Error("Schedule(0) should be nil")
	}
}
