// Package trend buckets GRC entities into a daily timeline and fits trend
// lines to score series.
package trend

import (
	"sort"
	"time"

	"github.com/exploopio/grc/pkg/model"
)

// DayLayout is the date format of timeline entries.
const DayLayout = "2006-01-02"

// EventKind names the entity behind a timeline event.
type EventKind string

const (
	EventFinding    EventKind = "finding"
	EventRisk       EventKind = "risk"
	EventAssessment EventKind = "assessment"
)

// Event is one entity dated on a timeline day.
type Event struct {
	Kind  EventKind `json:"kind"`
	ID    string    `json:"id"`
	Title string    `json:"title"`
}

// Entry is one day of the timeline.
type Entry struct {
	Date        string  `json:"date"`
	Findings    int     `json:"findings"`
	Risks       int     `json:"risks"`
	Assessments int     `json:"assessments"`
	Events      []Event `json:"events"`
}

// Total returns the number of events on the day.
func (e *Entry) Total() int {
	return e.Findings + e.Risks + e.Assessments
}

// GenerateTimeline walks day by day from start to now (both truncated to
// the UTC day, inclusive) and returns an entry for every day with at least
// one event. Findings are dated by createdDate, risks by lastAssessed and
// assessments by date. Entities with missing or unparseable dates, or dated
// outside the range, are skipped.
func GenerateTimeline(findings []model.Finding, risks []model.Risk, assessments []model.Assessment, start, now time.Time) []Entry {
	first, last := model.Day(start), model.Day(now)
	if last.Before(first) {
		return []Entry{}
	}

	buckets := make(map[time.Time]*Entry)
	add := func(date string, kind EventKind, id, title string) {
		t, ok := model.ParseDate(date)
		if !ok {
			return
		}
		day := model.Day(t)
		if day.Before(first) || day.After(last) {
			return
		}
		entry, ok := buckets[day]
		if !ok {
			entry = &Entry{Date: day.Format(DayLayout), Events: []Event{}}
			buckets[day] = entry
		}
		switch kind {
		case EventFinding:
			entry.Findings++
		case EventRisk:
			entry.Risks++
		case EventAssessment:
			entry.Assessments++
		}
		entry.Events = append(entry.Events, Event{Kind: kind, ID: id, Title: title})
	}

	for _, f := range findings {
		add(f.CreatedDate, EventFinding, f.ID, f.Title)
	}
	for _, r := range risks {
		add(r.LastAssessed, EventRisk, r.ID, r.Name)
	}
	for _, a := range assessments {
		add(a.Date, EventAssessment, a.ID, a.Name)
	}

	out := make([]Entry, 0, len(buckets))
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if entry, ok := buckets[day]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// Delta compares event counts in the current window with the window
// before it.
type Delta struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
	Change   int `json:"change"`
}

// WindowDelta counts times in (now−window, now] and in the window before.
func WindowDelta(times []time.Time, now time.Time, window time.Duration) Delta {
	var d Delta
	currentStart := now.Add(-window)
	previousStart := currentStart.Add(-window)
	for _, t := range times {
		switch {
		case t.After(now):
		case t.After(currentStart):
			d.Current++
		case t.After(previousStart):
			d.Previous++
		}
	}
	d.Change = d.Current - d.Previous
	return d
}

// FindingTimes returns the parseable createdDate of every finding.
func FindingTimes(findings []model.Finding) []time.Time {
	out := make([]time.Time, 0, len(findings))
	for _, f := range findings {
		if t, ok := model.ParseDate(f.CreatedDate); ok {
			out = append(out, t)
		}
	}
	return out
}

// RiskTimes returns the parseable lastAssessed date of every risk.
func RiskTimes(risks []model.Risk) []time.Time {
	out := make([]time.Time, 0, len(risks))
	for _, r := range risks {
		if t, ok := model.ParseDate(r.LastAssessed); ok {
			out = append(out, t)
		}
	}
	return out
}

// AssessmentScorePoints returns the scores of completed assessments in date
// order, ready for CalculateTrendLine.
func AssessmentScorePoints(assessments []model.Assessment) []Point {
	points := make([]Point, 0, len(assessments))
	for _, a := range assessments {
		if a.Status != model.AssessmentCompleted {
			continue
		}
		t, ok := model.ParseDate(a.Date)
		if !ok {
			continue
		}
		points = append(points, Point{Time: t, Value: a.Score})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points
}
