package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/audit"
	"github.com/exploopio/grc/pkg/cache"
	"github.com/exploopio/grc/pkg/dashboard"
	"github.com/exploopio/grc/pkg/health"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/poller"
	"github.com/exploopio/grc/pkg/retry"
)

var (
	watchClients     []string
	watchInterval    time.Duration
	watchMetricsAddr string
	watchMaxPending  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep dashboards fresh and serve Prometheus metrics",
	Long: `Runs until interrupted. Every interval the dashboards of the watched
clients are recomposed; a tick that fires while the previous refresh is
still running is skipped. Scores, refresh outcomes and backend latency are
exported on /metrics; /healthz and /readyz serve liveness and readiness.

When outbox.path is configured, deferred mapping writes are replayed in
the background.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringSliceVar(&watchClients, "clients", nil, "Client ids to watch (default: poller.clients, then --client)")
	f.DurationVar(&watchInterval, "interval", 0, "Refresh interval (default: poller.interval, 30s)")
	f.StringVar(&watchMetricsAddr, "metrics-addr", "", "Listen address of the metrics endpoint (default: poller.metrics_addr)")
	f.IntVar(&watchMaxPending, "max-pending", 100, "Outbox backlog above which /readyz reports degraded")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{RegisterDefaultMetrics: true})
	a, err := newApp(ctx, prom)
	if err != nil {
		return err
	}
	defer a.Close()

	clients := watchClients
	if len(clients) == 0 {
		clients = a.cfg.Poller.Clients
	}
	if len(clients) == 0 && a.cfg.ClientID != "" {
		clients = []string{a.cfg.ClientID}
	}
	if len(clients) == 0 {
		return fmt.Errorf("no clients to watch: use --clients, poller.clients or --client")
	}
	interval := a.cfg.Poller.Interval
	if watchInterval > 0 {
		interval = watchInterval
	}
	addr := a.cfg.Poller.MetricsAddr
	if watchMetricsAddr != "" {
		addr = watchMetricsAddr
	}

	svc, store, err := newDashboardService(a, cache.NewMemoryStore())
	if err != nil {
		return err
	}
	defer store.Close()

	refresher := poller.NewRefresher(svc, poller.Config{
		ClientIDs:      clients,
		Interval:       interval,
		RefreshTimeout: interval,
		Logger:         a.logger,
		Metrics:        prom,
		OnRefresh: func(clientID string, d *dashboard.Dashboard, err error) {
			if err == nil {
				a.logger.Info("%s: overall score %d", clientID, d.OverallScore)
			}
		},
	})

	var worker *retry.Worker
	if a.outbox != nil {
		wc := a.cfg.WorkerConfig()
		wc.Logger = a.logger
		wc.Metrics = prom
		worker = retry.NewWorker(wc, a.outbox, a.client)
		recorder := audit.OrNop(a.auditRecorder())
		worker.OnExhaust(func(item *retry.Item) {
			recorder.Log(audit.Event{
				Type:     audit.EventOutboxExhausted,
				Severity: audit.SeverityError,
				Message:  fmt.Sprintf("gave up replaying %s after %d attempts", item.Kind, item.Attempts),
				Error:    item.LastError,
				Details:  map[string]any{"item_id": item.ID, "path": item.Path},
			})
		})
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}

	probes := health.NewHandler(health.WithVersion(appVersion))
	probes.Register("refresher", &health.LoopCheck{Running: refresher.Running, Skipped: refresher.Skipped})
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		probes.Register("cache", &health.PingCheck{Ping: p.Ping})
	}
	if worker != nil {
		probes.Register("outbox_worker", &health.LoopCheck{Running: worker.IsRunning})
		probes.Register("outbox", &health.OutboxCheck{Outbox: a.outbox, MaxPending: watchMaxPending})
		probes.Register("disk", &health.DiskCheck{Path: filepath.Dir(a.cfg.Outbox.Path), MinFreeBytes: 64 << 20})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	probes.RegisterRoutes(mux)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := refresher.Start(ctx); err != nil {
		return err
	}
	probes.SetReady(true)

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err = <-serverErr:
		a.logger.Error("metrics server: %v", err)
	}
	probes.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if stopErr := refresher.Stop(10 * time.Second); stopErr != nil {
		a.logger.Warn("%v", stopErr)
	}
	if worker != nil {
		if stopErr := worker.Stop(shutdownCtx); stopErr != nil {
			a.logger.Warn("%v", stopErr)
		}
	}
	if stopErr := server.Shutdown(shutdownCtx); stopErr != nil {
		a.logger.Warn("metrics server shutdown: %v", stopErr)
	}
	return err
}
