package model

// AssessmentStatus is the lifecycle state of an assessment.
type AssessmentStatus string

const (
	AssessmentCompleted     AssessmentStatus = "completed"
	AssessmentInProgress    AssessmentStatus = "in_progress"
	AssessmentPendingReview AssessmentStatus = "pending_review"
	AssessmentFailed        AssessmentStatus = "failed"
)

// Assessment is a scored evaluation of a client that generates findings.
type Assessment struct {
	ID                string             `json:"id"`
	ClientID          string             `json:"clientId"`
	Name              string             `json:"name"`
	Type              string             `json:"type"`
	Date              string             `json:"date"`
	Status            AssessmentStatus   `json:"status"`
	Score             float64            `json:"score"`
	GeneratedFindings FindingsCollection `json:"generatedFindings"`
}
