// Package scoring computes finding metrics, risk statistics and the weighted
// compliance scores shown on the executive dashboard.
//
// Every score is an integer in [0,100]. Percentages are rounded half-up at
// the point they are computed, and composite scores blend the already
// rounded sub-scores.
package scoring

import (
	"math"

	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/shared/severity"
)

// Weights of the overall security score.
const (
	WeightAssessment = 0.3
	WeightFinding    = 0.4
	WeightRisk       = 0.3
)

// PerfectScore is returned when there is nothing to penalize.
const PerfectScore = 100

// Round rounds half-up, so Round(40.5) == 41 and Round(-0.5) == 0.
func Round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// percent returns round(part/total·100), or PerfectScore when total is 0.
func percent(part, total int) int {
	if total == 0 {
		return PerfectScore
	}
	return clamp(Round(float64(part) / float64(total) * 100))
}

// FindingScore is round(100 − Σ(weight·count)/total·100). Informational
// findings count toward total but carry no weight. No findings scores 100.
func FindingScore(m *FindingMetrics) int {
	if m == nil || m.Total == 0 {
		return PerfectScore
	}
	var weighted float64
	for _, level := range severity.AllLevels() {
		weighted += level.Weight() * float64(m.BySeverity[level])
	}
	return clamp(Round(100 - weighted/float64(m.Total)*100))
}

// RiskScore is the impact-weighted counterpart of FindingScore
// (high 1.0, medium 0.6, low 0.3). No risks scores 100.
func RiskScore(s *RiskStats) int {
	if s == nil || s.Total == 0 {
		return PerfectScore
	}
	var weighted float64
	for _, rating := range severity.AllRatings() {
		weighted += rating.ScoreWeight() * float64(s.ByImpact[rating])
	}
	return clamp(Round(100 - weighted/float64(s.Total)*100))
}

// AssessmentScore is the rounded mean score of completed assessments, or 0
// when none is completed.
func AssessmentScore(assessments []model.Assessment) int {
	var sum float64
	n := 0
	for _, a := range assessments {
		if a.Status != model.AssessmentCompleted {
			continue
		}
		sum += a.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp(Round(sum / float64(n)))
}

// OverallScore blends the three rounded sub-scores:
// round(assessment·0.3 + finding·0.4 + risk·0.3).
func OverallScore(assessment, finding, risk int) int {
	return clamp(Round(float64(assessment)*WeightAssessment +
		float64(finding)*WeightFinding +
		float64(risk)*WeightRisk))
}
