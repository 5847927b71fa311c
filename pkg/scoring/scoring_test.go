package scoring

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/client"
	"github.com/exploopio/grc/pkg/mocks"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/shared/severity"
)

func findingsWith(levels ...severity.Level) []model.Finding {
	out := make([]model.Finding, len(levels))
	for i, l := range levels {
		out[i] = model.Finding{ID: "f", Severity: l, Status: model.FindingOpen}
	}
	return out
}

func risksWith(impacts ...severity.Rating) []model.Risk {
	out := make([]model.Risk, len(impacts))
	for i, r := range impacts {
		out[i] = model.Risk{ID: "r", Impact: r, Likelihood: severity.RatingLow, Status: model.RiskActive}
	}
	return out
}

func TestRound(t *testing.T) {
	tests := map[float64]int{40: 40, 40.4: 40, 40.5: 41, 59.99: 60, 0.49: 0, -0.5: 0}
	for in, want := range tests {
		assert.Equal(t, want, Round(in), "Round(%v)", in)
	}
}

// P1: empty collections score exactly 100.
func TestScores_EmptyIsPerfect(t *testing.T) {
	assert.Equal(t, 100, FindingScore(ComputeFindingMetrics(nil)))
	assert.Equal(t, 100, RiskScore(ComputeRiskStats(nil)))
	assert.Equal(t, 100, FindingScore(nil))
	assert.Equal(t, 100, RiskScore(nil))
}

// P2: any non-empty input scores within [0,100].
func TestScores_Range(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	levels := severity.AllLevels()
	ratings := severity.AllRatings()

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(40)
		ls := make([]severity.Level, n)
		rs := make([]severity.Rating, n)
		for j := range ls {
			ls[j] = levels[rng.Intn(len(levels))]
			rs[j] = ratings[rng.Intn(len(ratings))]
		}

		fs := FindingScore(ComputeFindingMetrics(findingsWith(ls...)))
		rsScore := RiskScore(ComputeRiskStats(risksWith(rs...)))
		require.True(t, fs >= 0 && fs <= 100, "finding score %d out of range", fs)
		require.True(t, rsScore >= 0 && rsScore <= 100, "risk score %d out of range", rsScore)
	}

	assert.Equal(t, 0, FindingScore(ComputeFindingMetrics(findingsWith(severity.Critical, severity.Critical))))
	assert.Equal(t, 0, RiskScore(ComputeRiskStats(risksWith(severity.RatingHigh))))
	assert.Equal(t, 100, FindingScore(ComputeFindingMetrics(findingsWith(severity.Informational))))
}

// Scenario A: critical + low ⇒ round(100 − 1.2/2·100) = 40.
func TestFindingScore_CriticalAndLow(t *testing.T) {
	m := ComputeFindingMetrics(findingsWith(severity.Critical, severity.Low))
	assert.Equal(t, 2, m.Total)
	assert.Equal(t, 40, FindingScore(m))
}

func TestRiskScore(t *testing.T) {
	s := ComputeRiskStats(risksWith(severity.RatingHigh, severity.RatingMedium, severity.RatingLow, severity.RatingLow))
	// 100 − (1.0+0.6+0.3+0.3)/4·100 = 45
	assert.Equal(t, 45, RiskScore(s))
}

// Scenario B: no risks ⇒ score 100 and all-zero buckets.
func TestRiskStats_NoRisks(t *testing.T) {
	b := mocks.NewBackend()
	defer b.Close()
	svc := NewService(api.New(client.New(&client.Config{BaseURL: b.URL()})))

	stats, err := svc.RiskStats(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, 100, RiskScore(stats))
	assert.Zero(t, stats.Total)
	for _, r := range severity.AllRatings() {
		assert.Zero(t, stats.ByImpact[r])
		assert.Zero(t, stats.ByLikelihood[r])
	}
	assert.Len(t, stats.ByImpact, 3)
	assert.Equal(t, map[model.RiskStatus]int{
		model.RiskActive: 0, model.RiskMitigated: 0, model.RiskAccepted: 0, model.RiskTransferred: 0,
	}, stats.ByStatus)
	assert.Zero(t, stats.SourceAnalysis.FromFindings)
	assert.Zero(t, stats.SourceAnalysis.ManuallyIdentified)
}

func TestComputeFindingMetrics(t *testing.T) {
	findings := []model.Finding{
		{Severity: severity.Critical, Status: model.FindingOpen, SourceType: "penetration_test"},
		{Severity: severity.High, Status: model.FindingPromotedToRisk, PromotedToRisk: true, SourceType: "penetration_test"},
		{Severity: severity.Informational, Status: model.FindingNotApplicable, SourceType: "audit"},
		{Severity: severity.Low, Status: model.FindingDeferred},
	}
	m := ComputeFindingMetrics(findings)

	assert.Equal(t, 4, m.Total)
	assert.Equal(t, 1, m.BySeverity[severity.Critical])
	assert.Equal(t, 1, m.BySeverity[severity.Informational])
	assert.Len(t, m.ByStatus, 7)
	assert.Equal(t, 1, m.ByStatus[model.FindingNotApplicable])
	assert.Equal(t, 1, m.ByStatus[model.FindingDeferred])
	_, hasPromoted := m.ByStatus[model.FindingPromotedToRisk]
	assert.False(t, hasPromoted)
	assert.Equal(t, 1, m.PromotedToRisk)
	assert.Equal(t, map[string]int{"penetration_test": 2, "audit": 1, "unknown": 1}, m.BySource)
}

func TestComputeRiskStats(t *testing.T) {
	risks := []model.Risk{
		{Impact: severity.RatingHigh, Likelihood: severity.RatingHigh, Status: model.RiskOpen,
			Treatment: model.Treatment{Approach: "mitigate"},
			SourceFindings: []model.SourceFinding{{FindingID: "f1", SourceType: "penetration_test"}}},
		{Impact: severity.RatingLow, Likelihood: severity.RatingMedium, Status: model.RiskAccepted,
			Treatment: model.Treatment{Approach: "accept"}},
	}
	s := ComputeRiskStats(risks)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByImpact[severity.RatingHigh])
	assert.Equal(t, 1, s.ByLikelihood[severity.RatingMedium])
	assert.Equal(t, 1, s.ByStatus[model.RiskOpen])
	assert.Equal(t, map[string]int{"mitigate": 1, "accept": 1}, s.ByTreatment)
	assert.Equal(t, 1, s.SourceAnalysis.FromFindings)
	assert.Equal(t, 1, s.SourceAnalysis.ManuallyIdentified)
	assert.Equal(t, 1, s.SourceAnalysis.BySourceType["penetration_test"])
}

// Sub-scores are rounded before they are blended. Rounding only the final
// composite would give 60 for this input set:
//
//	0.3·70.5 + 0.4·62.5 + 0.3·46.67 = 60.15
//	0.3·71   + 0.4·63   + 0.3·47    = 60.6
func TestOverallScore_RoundsAtEachStep(t *testing.T) {
	assessments := []model.Assessment{
		{ID: "a1", Status: model.AssessmentCompleted, Score: 70},
		{ID: "a2", Status: model.AssessmentCompleted, Score: 71},
		{ID: "a3", Status: model.AssessmentInProgress, Score: 10},
	}
	findings := findingsWith(severity.High, severity.Medium, severity.Low, severity.Informational)
	risks := risksWith(severity.RatingHigh, severity.RatingLow, severity.RatingLow)

	a := AssessmentScore(assessments)
	f := FindingScore(ComputeFindingMetrics(findings))
	r := RiskScore(ComputeRiskStats(risks))

	assert.Equal(t, 71, a)
	assert.Equal(t, 63, f)
	assert.Equal(t, 47, r)
	assert.Equal(t, 61, OverallScore(a, f, r))
}

func TestAssessmentScore_NoneCompleted(t *testing.T) {
	assert.Equal(t, 0, AssessmentScore(nil))
	assert.Equal(t, 0, AssessmentScore([]model.Assessment{{Status: model.AssessmentFailed, Score: 80}}))
}

func TestMapCategoryToControl(t *testing.T) {
	tests := map[string]string{
		"authentication":   ControlAccess,
		"Access Control":   ControlAccess,
		"Encryption":       ControlData,
		"patch-management": ControlVulnerability,
		" logging ":        ControlIncident,
		"physical":         "",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, MapCategoryToControl(in), "MapCategoryToControl(%q)", in)
	}
}

func TestControlCoverage(t *testing.T) {
	findings := []model.Finding{
		{ID: "f1", Category: "authentication", Status: model.FindingClosed, AssessmentID: "a1"},
		{ID: "f2", Category: "iam", Status: model.FindingOpen, AssessmentID: "a1"},
		{ID: "f3", Category: "password", Status: model.FindingOpen, AssessmentID: "a2"},
		{ID: "f4", Category: "encryption", Status: model.FindingClosed, AssessmentID: "a3"},
		{ID: "f5", Category: "physical", Status: model.FindingOpen},
	}
	risks := []model.Risk{
		{ID: "r1", Category: "access_control", Status: model.RiskMitigated},
		{ID: "r2", Category: "identity", Status: model.RiskActive},
	}
	assessments := []model.Assessment{
		{ID: "a1", Score: 80},
		{ID: "a2", Score: 65},
		{ID: "a3", Score: 90},
	}

	// closure round(1/3·100)=33, mitigation 50, assessed round(72.5)=73
	// round(13.2 + 15 + 21.9) = round(50.1) = 50
	assert.Equal(t, 50, ControlCoverage(findings, risks, assessments, ControlAccess))
	// closure 100, no risks 100, assessed 90 ⇒ 97
	assert.Equal(t, 97, ControlCoverage(findings, risks, assessments, ControlData))
	assert.Equal(t, 100, ControlCoverage(findings, risks, assessments, ControlIncident))

	compliance := Compliance(findings, risks, assessments)
	assert.Len(t, compliance, 4)
	assert.Equal(t, 50, compliance[ControlAccess])
}
