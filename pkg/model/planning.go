package model

import "strings"

// RiskBasedObjectivePrefix marks objectives synthesized from a risk on read.
// Such objectives are never persisted under this id.
const RiskBasedObjectivePrefix = "risk-"

// Objective is a security objective a risk treatment plan links to.
type Objective struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	SourceRisk  string `json:"sourceRiskId,omitempty"`
	RiskBased   bool   `json:"riskBased,omitempty"`
}

// IsRiskBasedObjectiveID reports whether id is a synthetic risk-based
// objective id. Check it before any persistence call.
func IsRiskBasedObjectiveID(id string) bool {
	return strings.HasPrefix(id, RiskBasedObjectivePrefix)
}

// RiskBasedObjectiveID returns the synthetic objective id for a risk.
func RiskBasedObjectiveID(riskID string) string {
	return RiskBasedObjectivePrefix + riskID
}

// ObjectiveFromRisk synthesizes the transient risk-based objective for r.
func ObjectiveFromRisk(r Risk) Objective {
	status := "planned"
	if r.Status == RiskMitigated {
		status = "achieved"
	}
	return Objective{
		ID:          RiskBasedObjectiveID(r.ID),
		ClientID:    r.ClientID,
		Name:        "Mitigate: " + r.Name,
		Description: r.Description,
		Status:      status,
		Category:    r.Category,
		Priority:    string(r.Impact),
		SourceRisk:  r.ID,
		RiskBased:   true,
	}
}

// Initiative is a planned piece of work delivering one or more objectives.
type Initiative struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Owner       string `json:"owner,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// RiskObjectiveLink is a row of the risk_to_objective table.
type RiskObjectiveLink struct {
	ID          string `json:"id"`
	RiskID      string `json:"riskId"`
	ObjectiveID string `json:"objectiveId"`
	DateLinked  string `json:"dateLinked"`
}

// ObjectiveInitiativeLink is a row of the objective_to_initiative table.
type ObjectiveInitiativeLink struct {
	ID           string `json:"id"`
	ObjectiveID  string `json:"objectiveId"`
	InitiativeID string `json:"initiativeId"`
	DateLinked   string `json:"dateLinked"`
}

// FindingRiskLink is the best-effort findings_to_risk mapping row.
type FindingRiskLink struct {
	ID           string `json:"id"`
	FindingID    string `json:"findingId"`
	RiskID       string `json:"riskId"`
	AssessmentID string `json:"assessmentId,omitempty"`
	DateLinked   string `json:"dateLinked"`
}
