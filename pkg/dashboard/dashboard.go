// Package dashboard composes the executive dashboard of a client: overall
// score, per-control compliance, trends, top risks and recent activity.
package dashboard

import (
	"sort"
	"time"

	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/scoring"
	"github.com/exploopio/grc/pkg/shared/severity"
	"github.com/exploopio/grc/pkg/trend"
)

// Composition limits.
const (
	TopRisksLimit       = 5
	RecentActivityLimit = 10
	TimelineWindow      = 30 * 24 * time.Hour
	ShortWindow         = 30 * 24 * time.Hour
	LongWindow          = 90 * 24 * time.Hour
)

// Dashboard is the executive view of one client.
type Dashboard struct {
	ClientID       string                  `json:"clientId"`
	GeneratedAt    time.Time               `json:"generatedAt"`
	OverallScore   int                     `json:"overallScore"`
	Summary        Summary                 `json:"summary"`
	Compliance     map[string]int          `json:"compliance"`
	Trends         Trends                  `json:"trends"`
	TopRisks       []RiskSummary           `json:"topRisks"`
	RecentActivity []Activity              `json:"recentActivity"`
	Timeline       []trend.Entry           `json:"timeline"`
	FindingMetrics *scoring.FindingMetrics `json:"findingMetrics"`
	RiskStats      *scoring.RiskStats      `json:"riskStats"`
}

// Summary holds the sub-scores and headline counts.
type Summary struct {
	AssessmentScore      int `json:"assessmentScore"`
	FindingScore         int `json:"findingScore"`
	RiskScore            int `json:"riskScore"`
	TotalFindings        int `json:"totalFindings"`
	OpenFindings         int `json:"openFindings"`
	CriticalFindings     int `json:"criticalFindings"`
	PromotedFindings     int `json:"promotedFindings"`
	TotalRisks           int `json:"totalRisks"`
	ActiveRisks          int `json:"activeRisks"`
	TotalAssessments     int `json:"totalAssessments"`
	CompletedAssessments int `json:"completedAssessments"`
}

// Trends holds the 30/90-day deltas and the assessment score trend.
type Trends struct {
	Findings30d     trend.Delta `json:"findings30d"`
	Findings90d     trend.Delta `json:"findings90d"`
	Risks30d        trend.Delta `json:"risks30d"`
	Risks90d        trend.Delta `json:"risks90d"`
	AssessmentScore trend.Line  `json:"assessmentScore"`
}

// RiskSummary is one entry of the top risks list.
type RiskSummary struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Impact     severity.Rating  `json:"impact"`
	Likelihood severity.Rating  `json:"likelihood"`
	Status     model.RiskStatus `json:"status"`
	Score      int              `json:"score"`
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	Kind   trend.EventKind `json:"kind"`
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Status string          `json:"status"`
	Date   time.Time       `json:"date"`
}

// Build composes the dashboard from already fetched entities.
func Build(clientID string, findings []model.Finding, risks []model.Risk, assessments []model.Assessment, now time.Time) *Dashboard {
	fm := scoring.ComputeFindingMetrics(findings)
	rs := scoring.ComputeRiskStats(risks)

	summary := Summary{
		AssessmentScore:  scoring.AssessmentScore(assessments),
		FindingScore:     scoring.FindingScore(fm),
		RiskScore:        scoring.RiskScore(rs),
		TotalFindings:    fm.Total,
		OpenFindings:     fm.ByStatus[model.FindingOpen] + fm.ByStatus[model.FindingInProgress] + fm.ByStatus[model.FindingReopened],
		CriticalFindings: fm.BySeverity[severity.Critical],
		PromotedFindings: fm.PromotedToRisk,
		TotalRisks:       rs.Total,
		TotalAssessments: len(assessments),
	}
	for i := range risks {
		if risks[i].Status.IsActive() {
			summary.ActiveRisks++
		}
	}
	for _, a := range assessments {
		if a.Status == model.AssessmentCompleted {
			summary.CompletedAssessments++
		}
	}

	findingTimes := trend.FindingTimes(findings)
	riskTimes := trend.RiskTimes(risks)

	return &Dashboard{
		ClientID:     clientID,
		GeneratedAt:  now.UTC(),
		OverallScore: scoring.OverallScore(summary.AssessmentScore, summary.FindingScore, summary.RiskScore),
		Summary:      summary,
		Compliance:   scoring.Compliance(findings, risks, assessments),
		Trends: Trends{
			Findings30d:     trend.WindowDelta(findingTimes, now, ShortWindow),
			Findings90d:     trend.WindowDelta(findingTimes, now, LongWindow),
			Risks30d:        trend.WindowDelta(riskTimes, now, ShortWindow),
			Risks90d:        trend.WindowDelta(riskTimes, now, LongWindow),
			AssessmentScore: trend.CalculateTrendLine(trend.AssessmentScorePoints(assessments)),
		},
		TopRisks:       TopRisks(risks, TopRisksLimit),
		RecentActivity: RecentActivity(findings, risks, assessments, RecentActivityLimit),
		Timeline:       trend.GenerateTimeline(findings, risks, assessments, now.Add(-TimelineWindow), now),
		FindingMetrics: fm,
		RiskStats:      rs,
	}
}

// TopRisks returns up to limit active risks ordered by impact rank times
// likelihood rank, highest first. Ties keep input order.
func TopRisks(risks []model.Risk, limit int) []RiskSummary {
	out := make([]RiskSummary, 0, len(risks))
	for i := range risks {
		r := &risks[i]
		if !r.Status.IsActive() {
			continue
		}
		out = append(out, RiskSummary{
			ID:         r.ID,
			Name:       r.Name,
			Impact:     r.Impact,
			Likelihood: r.Likelihood,
			Status:     r.Status,
			Score:      r.RankScore(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecentActivity merges dated findings, risks and assessments, newest
// first, capped at limit. Undated entities are left out.
func RecentActivity(findings []model.Finding, risks []model.Risk, assessments []model.Assessment, limit int) []Activity {
	out := make([]Activity, 0, len(findings)+len(risks)+len(assessments))
	add := func(kind trend.EventKind, id, title, status, date string) {
		if t, ok := model.ParseDate(date); ok {
			out = append(out, Activity{Kind: kind, ID: id, Title: title, Status: status, Date: t})
		}
	}
	for _, f := range findings {
		add(trend.EventFinding, f.ID, f.Title, string(f.Status), f.CreatedDate)
	}
	for _, r := range risks {
		add(trend.EventRisk, r.ID, r.Name, string(r.Status), r.LastAssessed)
	}
	for _, a := range assessments {
		add(trend.EventAssessment, a.ID, a.Name, string(a.Status), a.Date)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
