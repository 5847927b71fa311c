package scoring

import (
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/shared/severity"
)

// UnknownSource labels findings and risks without a source type.
const UnknownSource = "unknown"

// FindingMetrics aggregates a client's findings.
type FindingMetrics struct {
	Total          int                         `json:"total"`
	BySeverity     map[severity.Level]int      `json:"bySeverity"`
	ByStatus       map[model.FindingStatus]int `json:"byStatus"`
	BySource       map[string]int              `json:"bySource"`
	PromotedToRisk int                         `json:"promotedToRisk"`
}

// ComputeFindingMetrics buckets findings by severity, status and source.
// Every severity and metric status is present even when zero. Promoted
// findings are counted through PromotedToRisk rather than a status bucket.
func ComputeFindingMetrics(findings []model.Finding) *FindingMetrics {
	m := &FindingMetrics{
		Total:      len(findings),
		BySeverity: make(map[severity.Level]int),
		ByStatus:   make(map[model.FindingStatus]int),
		BySource:   make(map[string]int),
	}
	for _, level := range severity.AllLevels() {
		m.BySeverity[level] = 0
	}
	for _, status := range model.MetricStatuses() {
		m.ByStatus[status] = 0
	}

	for _, f := range findings {
		if _, ok := m.BySeverity[f.Severity]; ok {
			m.BySeverity[f.Severity]++
		}
		if _, ok := m.ByStatus[f.Status]; ok {
			m.ByStatus[f.Status]++
		}
		source := f.SourceType
		if source == "" {
			source = UnknownSource
		}
		m.BySource[source]++
		if f.PromotedToRisk {
			m.PromotedToRisk++
		}
	}
	return m
}

// SourceAnalysis splits risks by origin.
type SourceAnalysis struct {
	FromFindings       int            `json:"fromFindings"`
	ManuallyIdentified int            `json:"manuallyIdentified"`
	BySourceType       map[string]int `json:"bySourceType"`
}

// RiskStats aggregates a client's risks.
type RiskStats struct {
	Total          int                      `json:"total"`
	ByImpact       map[severity.Rating]int  `json:"byImpact"`
	ByLikelihood   map[severity.Rating]int  `json:"byLikelihood"`
	ByStatus       map[model.RiskStatus]int `json:"byStatus"`
	ByTreatment    map[string]int           `json:"byTreatment"`
	SourceAnalysis SourceAnalysis           `json:"sourceAnalysis"`
}

// ComputeRiskStats buckets risks by rating, status, treatment and origin.
func ComputeRiskStats(risks []model.Risk) *RiskStats {
	s := &RiskStats{
		Total:        len(risks),
		ByImpact:     make(map[severity.Rating]int),
		ByLikelihood: make(map[severity.Rating]int),
		ByStatus:     make(map[model.RiskStatus]int),
		ByTreatment:  make(map[string]int),
		SourceAnalysis: SourceAnalysis{
			BySourceType: make(map[string]int),
		},
	}
	for _, r := range severity.AllRatings() {
		s.ByImpact[r] = 0
		s.ByLikelihood[r] = 0
	}
	for _, st := range model.RiskStatuses() {
		s.ByStatus[st] = 0
	}

	for i := range risks {
		r := &risks[i]
		if r.Impact.Valid() {
			s.ByImpact[r.Impact]++
		}
		if r.Likelihood.Valid() {
			s.ByLikelihood[r.Likelihood]++
		}
		if r.Status != "" {
			s.ByStatus[r.Status]++
		}
		if r.Treatment.Approach != "" {
			s.ByTreatment[r.Treatment.Approach]++
		}

		if !r.FromFindings() {
			s.SourceAnalysis.ManuallyIdentified++
			continue
		}
		s.SourceAnalysis.FromFindings++
		for _, sf := range r.SourceFindings {
			source := sf.SourceType
			if source == "" {
				source = UnknownSource
			}
			s.SourceAnalysis.BySourceType[source]++
		}
	}
	return s
}
