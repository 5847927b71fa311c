package scoring

import (
	"strings"

	"github.com/exploopio/grc/pkg/model"
)

// Control buckets.
const (
	ControlAccess        = "Access Control"
	ControlData          = "Data Protection"
	ControlVulnerability = "Vulnerability Management"
	ControlIncident      = "Incident Response"
)

// Coverage blend weights.
const (
	WeightClosure    = 0.4
	WeightMitigation = 0.3
	WeightAssessed   = 0.3
)

// Controls returns the control buckets in display order.
func Controls() []string {
	return []string{ControlAccess, ControlData, ControlVulnerability, ControlIncident}
}

var categoryControls = map[string]string{
	"access_control":  ControlAccess,
	"authentication":  ControlAccess,
	"authorization":   ControlAccess,
	"identity":        ControlAccess,
	"iam":             ControlAccess,
	"password":        ControlAccess,
	"privilege":       ControlAccess,

	"data_protection": ControlData,
	"encryption":      ControlData,
	"cryptography":    ControlData,
	"privacy":         ControlData,
	"data_leakage":    ControlData,
	"backup":          ControlData,

	"vulnerability_management": ControlVulnerability,
	"vulnerability":            ControlVulnerability,
	"patch_management":         ControlVulnerability,
	"configuration":            ControlVulnerability,
	"misconfiguration":         ControlVulnerability,
	"network":                  ControlVulnerability,
	"web_application":          ControlVulnerability,

	"incident_response": ControlIncident,
	"logging":           ControlIncident,
	"monitoring":        ControlIncident,
	"detection":         ControlIncident,
	"forensics":         ControlIncident,
}

// MapCategoryToControl maps a raw finding or risk category onto a control
// bucket. Matching ignores case, spaces and hyphens. Unmapped categories
// return "".
func MapCategoryToControl(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return categoryControls[key]
}

// ControlCoverage blends, for one control bucket, the finding closure rate,
// the risk mitigation rate and the mean score of the assessments that
// produced the control's findings:
//
//	round(closure·0.4 + mitigation·0.3 + assessed·0.3)
//
// Each term is rounded first and is 100 when it has no input.
func ControlCoverage(findings []model.Finding, risks []model.Risk, assessments []model.Assessment, control string) int {
	var total, closed int
	assessmentIDs := make(map[string]bool)
	for _, f := range findings {
		if MapCategoryToControl(f.Category) != control {
			continue
		}
		total++
		if f.Status == model.FindingClosed {
			closed++
		}
		if f.AssessmentID != "" {
			assessmentIDs[f.AssessmentID] = true
		}
	}
	closure := percent(closed, total)

	var riskTotal, mitigated int
	for _, r := range risks {
		if MapCategoryToControl(r.Category) != control {
			continue
		}
		riskTotal++
		if r.Status == model.RiskMitigated {
			mitigated++
		}
	}
	mitigation := percent(mitigated, riskTotal)

	assessed := PerfectScore
	var sum float64
	n := 0
	for _, a := range assessments {
		if !assessmentIDs[a.ID] {
			continue
		}
		sum += a.Score
		n++
	}
	if n > 0 {
		assessed = clamp(Round(sum / float64(n)))
	}

	return clamp(Round(float64(closure)*WeightClosure +
		float64(mitigation)*WeightMitigation +
		float64(assessed)*WeightAssessed))
}

// Compliance returns ControlCoverage for every control bucket.
func Compliance(findings []model.Finding, risks []model.Risk, assessments []model.Assessment) map[string]int {
	out := make(map[string]int, 4)
	for _, control := range Controls() {
		out[control] = ControlCoverage(findings, risks, assessments, control)
	}
	return out
}
