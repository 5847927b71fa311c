package model

import "github.com/exploopio/grc/pkg/shared/severity"

// RiskStatus is the lifecycle state of a risk.
type RiskStatus string

const (
	RiskOpen        RiskStatus = "open"
	RiskActive      RiskStatus = "active"
	RiskMitigated   RiskStatus = "mitigated"
	RiskAccepted    RiskStatus = "accepted"
	RiskTransferred RiskStatus = "transferred"
)

// RiskStatuses are the statuses always present in risk statistics.
func RiskStatuses() []RiskStatus {
	return []RiskStatus{RiskActive, RiskMitigated, RiskAccepted, RiskTransferred}
}

// IsActive reports whether the risk still needs treatment. Promoted risks
// start as "open" and count as active.
func (s RiskStatus) IsActive() bool {
	return s == RiskActive || s == RiskOpen
}

// SourceFinding references a finding a risk was promoted from.
type SourceFinding struct {
	FindingID  string `json:"findingId"`
	Title      string `json:"title"`
	SourceType string `json:"sourceType,omitempty"`
	Date       string `json:"date,omitempty"`
}

// Treatment is the risk treatment plan.
type Treatment struct {
	Approach   string   `json:"approach,omitempty"`
	Plan       string   `json:"plan,omitempty"`
	Status     string   `json:"status,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
}

// Risk is a tracked adverse-outcome record.
type Risk struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"clientId"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Impact         severity.Rating `json:"impact"`
	Likelihood     severity.Rating `json:"likelihood"`
	Category       string          `json:"category"`
	Status         RiskStatus      `json:"status"`
	LastAssessed   string          `json:"lastAssessed,omitempty"`
	Source         string          `json:"source,omitempty"`
	SourceFindings []SourceFinding `json:"sourceFindings,omitempty"`
	Treatment      Treatment       `json:"treatment"`
	BusinessImpact string          `json:"businessImpact,omitempty"`
}

// RankScore is impact rank × likelihood rank, used to order top risks.
func (r *Risk) RankScore() int {
	return r.Impact.Rank() * r.Likelihood.Rank()
}

// FromFindings reports whether the risk was promoted from at least one finding.
func (r *Risk) FromFindings() bool {
	return len(r.SourceFindings) > 0
}
