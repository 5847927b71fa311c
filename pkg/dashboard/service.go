package dashboard

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/cache"
	"github.com/exploopio/grc/pkg/core"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/model"
)

// DefaultCacheTTL is how long a composed dashboard is served from cache.
const DefaultCacheTTL = 30 * time.Second

// Service fetches a client's entities and composes its dashboard.
type Service struct {
	api      *api.Service
	cache    cache.Store
	cacheTTL time.Duration
	metrics  metrics.Collector
	logger   core.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache serves dashboards from store for ttl.
func WithCache(store cache.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = store
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Service) { s.metrics = metrics.OrNop(m) }
}

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(s *Service) { s.logger = core.OrNop(l) }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a dashboard service.
func NewService(svc *api.Service, opts ...Option) *Service {
	s := &Service{
		api:      svc,
		cacheTTL: DefaultCacheTTL,
		metrics:  &metrics.NopCollector{},
		logger:   core.NopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(clientID string) string {
	return "dashboard:" + clientID
}

// ExecutiveDashboard returns the client's dashboard, from cache when a
// fresh copy is available.
func (s *Service) ExecutiveDashboard(ctx context.Context, clientID string) (*Dashboard, error) {
	if s.cache != nil {
		var cached Dashboard
		ok, err := cache.GetJSON(ctx, s.cache, cacheKey(clientID), &cached)
		switch {
		case err != nil:
			s.logger.Warn("dashboard cache read for %s: %v", clientID, err)
			s.metrics.CounterInc(metrics.CacheLookups.Name, "result", "error")
		case ok:
			s.metrics.CounterInc(metrics.CacheLookups.Name, "result", "hit")
			return &cached, nil
		default:
			s.metrics.CounterInc(metrics.CacheLookups.Name, "result", "miss")
		}
	}
	return s.Refresh(ctx, clientID)
}

// Refresh recomposes the dashboard from the backend, bypassing the cache,
// and stores the result.
func (s *Service) Refresh(ctx context.Context, clientID string) (*Dashboard, error) {
	timer := metrics.NewTimer(s.metrics, metrics.HTTPRequestDuration.Name, "method", "DASHBOARD", "resource", "dashboard")
	defer timer.ObserveDuration()

	findings, risks, assessments, err := s.fetch(ctx, clientID)
	if err != nil {
		s.metrics.CounterInc(metrics.DashboardRefreshes.Name, "status", "error")
		return nil, err
	}

	d := Build(clientID, findings, risks, assessments, s.now())
	s.metrics.CounterInc(metrics.DashboardRefreshes.Name, "status", "success")
	s.exportScores(d)

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, cacheKey(clientID), d, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard cache write for %s: %v", clientID, err)
		}
	}
	s.logger.Debug("dashboard for %s composed: overall %d", clientID, d.OverallScore)
	return d, nil
}

// Invalidate drops the cached dashboard of a client.
func (s *Service) Invalidate(ctx context.Context, clientID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey(clientID))
}

// fetch loads the three entity lists concurrently. The first failure
// cancels the remaining requests.
func (s *Service) fetch(ctx context.Context, clientID string) ([]model.Finding, []model.Risk, []model.Assessment, error) {
	var (
		findings    []model.Finding
		risks       []model.Risk
		assessments []model.Assessment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		findings, err = s.api.Findings.List(gctx, clientID, nil)
		return err
	})
	g.Go(func() error {
		var err error
		risks, err = s.api.Risks.List(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		assessments, err = s.api.Assessments.List(gctx, clientID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return findings, risks, assessments, nil
}

func (s *Service) exportScores(d *Dashboard) {
	scores := map[string]int{
		"overall":    d.OverallScore,
		"assessment": d.Summary.AssessmentScore,
		"finding":    d.Summary.FindingScore,
		"risk":       d.Summary.RiskScore,
	}
	for kind, v := range scores {
		s.metrics.GaugeSet(metrics.DashboardScore.Name, float64(v), "client", d.ClientID, "kind", kind)
	}
	for control, v := range d.Compliance {
		s.metrics.GaugeSet(metrics.DashboardScore.Name, float64(v), "client", d.ClientID, "kind", "control:"+control)
	}
}
