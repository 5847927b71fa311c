package trend

import (
	"time"
)

// Direction classifies a trend line.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// StableThreshold is the absolute slope (value per day) below which a
// series is stable.
const StableThreshold = 0.1

// Point is one sample of a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Line is a fitted trend.
type Line struct {
	Slope     float64   `json:"slope"`
	Direction Direction `json:"direction"`
}

// CalculateTrendLine fits an ordinary least-squares line to points, with x
// measured in days since the earliest point. Fewer than two points, or
// points that all share one instant, give {0, stable}.
func CalculateTrendLine(points []Point) Line {
	if len(points) < 2 {
		return Line{Slope: 0, Direction: Stable}
	}

	origin := points[0].Time
	for _, p := range points[1:] {
		if p.Time.Before(origin) {
			origin = p.Time
		}
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Time.Sub(origin).Hours() / 24
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Line{Slope: 0, Direction: Stable}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return Line{Slope: slope, Direction: Classify(slope)}
}

// Classify maps a slope onto a direction.
func Classify(slope float64) Direction {
	switch {
	case slope > StableThreshold:
		return Increasing
	case slope < -StableThreshold:
		return Decreasing
	default:
		return Stable
	}
}
