package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/cache"
	"github.com/exploopio/grc/pkg/client"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/mocks"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/scoring"
	"github.com/exploopio/grc/pkg/trend"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func risk(id, impact, likelihood, status, date string) map[string]any {
	return map[string]any{
		"id": id, "clientId": "c1", "name": "Risk " + id, "category": "access_control",
		"impact": impact, "likelihood": likelihood, "status": status, "lastAssessed": date,
	}
}

func seededBackend(t *testing.T) *mocks.Backend {
	t.Helper()
	b := mocks.NewBackend()
	t.Cleanup(b.Close)
	b.Seed("assessmentHistory",
		map[string]any{
			"id": "asmt-001", "clientId": "c1", "name": "Q1 Pentest", "type": "penetration_test",
			"date": "2024-02-20", "status": "completed", "score": 80,
			"generatedFindings": []any{
				map[string]any{"id": "fnd-001", "title": "Weak TLS", "severity": "critical", "status": "open", "category": "encryption"},
				map[string]any{"id": "fnd-002", "title": "Verbose errors", "severity": "low", "status": "closed", "category": "logging"},
			},
		},
		map[string]any{
			"id": "asmt-002", "clientId": "c1", "name": "Policy review", "type": "policy_review",
			"date": "2024-01-10", "status": "completed", "score": 60,
			"generatedFindings": []any{
				map[string]any{"id": "fnd-010", "title": "No MFA", "severity": "high", "status": "open", "category": "authentication"},
			},
		},
	)
	b.Seed("risks",
		risk("r1", "high", "high", "active", "2024-02-28"),
		risk("r2", "low", "low", "open", "2024-02-27"),
		risk("r3", "medium", "high", "active", "2024-01-05"),
		risk("r4", "high", "medium", "open", "2024-01-04"),
		risk("r5", "medium", "medium", "active", "2024-01-03"),
		risk("r6", "low", "medium", "active", "2024-01-02"),
		risk("r7", "high", "high", "mitigated", "2024-01-01"),
	)
	return b
}

func newService(t *testing.T, b *mocks.Backend, opts ...Option) (*Service, *metrics.InMemoryCollector) {
	t.Helper()
	c := client.New(&client.Config{BaseURL: b.URL()})
	m := metrics.NewInMemoryCollector()
	opts = append([]Option{WithMetrics(m), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(api.New(c), opts...), m
}

func TestExecutiveDashboard(t *testing.T) {
	b := seededBackend(t)
	svc, m := newService(t, b)

	d, err := svc.ExecutiveDashboard(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", d.ClientID)
	assert.Equal(t, fixedNow, d.GeneratedAt)

	assert.Equal(t, 70, d.Summary.AssessmentScore)
	assert.Equal(t, 3, d.Summary.TotalFindings)
	assert.Equal(t, 2, d.Summary.OpenFindings)
	assert.Equal(t, 1, d.Summary.CriticalFindings)
	assert.Equal(t, 7, d.Summary.TotalRisks)
	assert.Equal(t, 6, d.Summary.ActiveRisks)
	assert.Equal(t, 2, d.Summary.CompletedAssessments)
	assert.Equal(t,
		scoring.OverallScore(d.Summary.AssessmentScore, d.Summary.FindingScore, d.Summary.RiskScore),
		d.OverallScore)

	assert.Len(t, d.Compliance, len(scoring.Controls()))
	for _, control := range scoring.Controls() {
		assert.Contains(t, d.Compliance, control)
	}

	ids := make([]string, len(d.TopRisks))
	for i, r := range d.TopRisks {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"r1", "r3", "r4", "r5", "r6"}, ids, "mitigated r7 excluded, ties keep input order")
	assert.Equal(t, 9, d.TopRisks[0].Score)

	require.Len(t, d.RecentActivity, RecentActivityLimit)
	assert.Equal(t, "r1", d.RecentActivity[0].ID)
	assert.Equal(t, "r2", d.RecentActivity[1].ID)
	for i := 1; i < len(d.RecentActivity); i++ {
		assert.False(t, d.RecentActivity[i].Date.After(d.RecentActivity[i-1].Date))
	}

	assert.Equal(t, trend.Delta{Current: 2, Previous: 1, Change: 1}, d.Trends.Findings30d)
	assert.Equal(t, trend.Increasing, d.Trends.AssessmentScore.Direction)

	require.Len(t, d.Timeline, 3)
	assert.Equal(t, "2024-02-20", d.Timeline[0].Date)
	assert.Equal(t, 3, d.Timeline[0].Total())
	assert.Equal(t, "2024-02-28", d.Timeline[2].Date)

	assert.Equal(t, float64(1), m.GetCounter(metrics.DashboardRefreshes.Name, "status", "success"))
	assert.Equal(t, float64(d.OverallScore), m.GetGauge(metrics.DashboardScore.Name, "client", "c1", "kind", "overall"))
}

func TestExecutiveDashboard_ServedFromCache(t *testing.T) {
	b := seededBackend(t)
	store := cache.NewMemoryStore()
	svc, m := newService(t, b, WithCache(store, time.Minute))
	ctx := context.Background()

	first, err := svc.ExecutiveDashboard(ctx, "c1")
	require.NoError(t, err)
	requests := len(b.Requests())

	second, err := svc.ExecutiveDashboard(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, b.Requests(), requests, "cache hit makes no backend calls")
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.TopRisks, second.TopRisks)

	assert.Equal(t, float64(1), m.GetCounter(metrics.CacheLookups.Name, "result", "miss"))
	assert.Equal(t, float64(1), m.GetCounter(metrics.CacheLookups.Name, "result", "hit"))

	require.NoError(t, svc.Invalidate(ctx, "c1"))
	_, err = svc.ExecutiveDashboard(ctx, "c1")
	require.NoError(t, err)
	assert.Greater(t, len(b.Requests()), requests)
}

func TestExecutiveDashboard_RedisCache(t *testing.T) {
	b := seededBackend(t)
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore(cache.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, _ := newService(t, b, WithCache(store, 2*time.Minute))
	d, err := svc.ExecutiveDashboard(context.Background(), "c1")
	require.NoError(t, err)

	assert.True(t, mr.Exists("grc:dashboard:c1"))
	assert.Equal(t, 2*time.Minute, mr.TTL("grc:dashboard:c1"))

	other, _ := newService(t, b, WithCache(store, 2*time.Minute))
	requests := len(b.Requests())
	cached, err := other.ExecutiveDashboard(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, b.Requests(), requests)
	assert.Equal(t, d.OverallScore, cached.OverallScore)
}

func TestExecutiveDashboard_FetchFailure(t *testing.T) {
	b := seededBackend(t)
	b.Fail(http.MethodGet, "/risks", http.StatusInternalServerError)
	c := client.New(&client.Config{BaseURL: b.URL(), MaxRetries: 0})
	m := metrics.NewInMemoryCollector()
	svc := NewService(api.New(c), WithMetrics(m))

	_, err := svc.ExecutiveDashboard(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to fetch risks")
	assert.Equal(t, float64(1), m.GetCounter(metrics.DashboardRefreshes.Name, "status", "error"))
}

func TestBuild_Empty(t *testing.T) {
	d := Build("c1", nil, nil, nil, fixedNow)

	assert.Equal(t, 0, d.Summary.AssessmentScore)
	assert.Equal(t, scoring.PerfectScore, d.Summary.FindingScore)
	assert.Equal(t, scoring.PerfectScore, d.Summary.RiskScore)
	assert.Empty(t, d.TopRisks)
	assert.NotNil(t, d.TopRisks)
	assert.Empty(t, d.RecentActivity)
	assert.Empty(t, d.Timeline)
	assert.Equal(t, trend.Stable, d.Trends.AssessmentScore.Direction)
}

func TestRecentActivity_SkipsUndated(t *testing.T) {
	findings := []model.Finding{{ID: "f1", CreatedDate: "not a date"}, {ID: "f2", CreatedDate: "2024-02-01"}}
	risks := []model.Risk{{ID: "r1"}}

	got := RecentActivity(findings, risks, nil, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "f2", got[0].ID)
	assert.Equal(t, trend.EventFinding, got[0].Kind)
}
