// Package severity defines finding severity levels and risk ratings together
// with the weight tables the scoring code uses.
package severity

import "strings"

// Level is the severity of a finding.
type Level string

const (
	Critical      Level = "critical"
	High          Level = "high"
	Medium        Level = "medium"
	Low           Level = "low"
	Informational Level = "informational"
)

// AllLevels returns all severity levels, highest first.
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low, Informational}
}

func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric priority of the level. Higher is worse.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Informational:
		return 1
	default:
		return 0
	}
}

// Weight is the defect weight used by the finding score.
// Informational findings carry no weight.
func (l Level) Weight() float64 {
	switch l {
	case Critical:
		return 1.0
	case High:
		return 0.8
	case Medium:
		return 0.5
	case Low:
		return 0.2
	default:
		return 0
	}
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// FromString normalizes common spellings to a Level. Unknown input maps to
// Informational.
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return Critical
	case "HIGH", "SEVERE":
		return High
	case "MEDIUM", "MODERATE", "MED":
		return Medium
	case "LOW":
		return Low
	default:
		return Informational
	}
}

// Rating is the three-point scale used for risk impact and likelihood.
type Rating string

const (
	RatingHigh   Rating = "high"
	RatingMedium Rating = "medium"
	RatingLow    Rating = "low"
)

// AllRatings returns the ratings, highest first.
func AllRatings() []Rating {
	return []Rating{RatingHigh, RatingMedium, RatingLow}
}

// ScoreWeight is the weight of an impact rating in the risk score.
func (r Rating) ScoreWeight() float64 {
	switch r {
	case RatingHigh:
		return 1.0
	case RatingMedium:
		return 0.6
	case RatingLow:
		return 0.3
	default:
		return 0
	}
}

// Rank is the ordinal used to rank risks (impact rank × likelihood rank).
func (r Rating) Rank() int {
	switch r {
	case RatingHigh:
		return 3
	case RatingMedium:
		return 2
	case RatingLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the three ratings.
func (r Rating) Valid() bool {
	return r.Rank() > 0
}
