// Package model defines the GRC entities exchanged with the REST backend.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/exploopio/grc/pkg/shared/severity"
)

// FindingStatus is the lifecycle state of a finding.
type FindingStatus string

const (
	FindingOpen           FindingStatus = "open"
	FindingInProgress     FindingStatus = "in_progress"
	FindingClosed         FindingStatus = "closed"
	FindingReopened       FindingStatus = "reopened"
	FindingDuplicate      FindingStatus = "duplicate"
	FindingDeferred       FindingStatus = "deferred"
	FindingPromotedToRisk FindingStatus = "promoted_to_risk"
	FindingNotApplicable  FindingStatus = "not_applicable"
)

// MetricStatuses are the statuses bucketed by finding metrics.
// promoted_to_risk is reported separately through the promoted counter.
func MetricStatuses() []FindingStatus {
	return []FindingStatus{
		FindingOpen, FindingInProgress, FindingClosed, FindingReopened,
		FindingDuplicate, FindingDeferred, FindingNotApplicable,
	}
}

// Finding is a discrete observation of a security gap.
type Finding struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Severity       severity.Level    `json:"severity"`
	Status         FindingStatus     `json:"status"`
	SourceType     string            `json:"sourceType,omitempty"`
	SourceDetails  string            `json:"sourceDetails,omitempty"`
	CreatedDate    string            `json:"createdDate,omitempty"`
	Category       string            `json:"category,omitempty"`
	NISTControl    string            `json:"nistControl,omitempty"`
	Evidence       []json.RawMessage `json:"evidence,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	PromotedToRisk bool              `json:"promotedToRisk"`
	RiskID         string            `json:"riskId,omitempty"`
	AssessmentID   string            `json:"assessmentId,omitempty"`
}

// MarkPromoted flags the finding as promoted to riskID. Both fields are
// always set together.
func (f *Finding) MarkPromoted(riskID string) {
	f.Status = FindingPromotedToRisk
	f.RiskID = riskID
	f.PromotedToRisk = true
}

// HasAnyTag reports whether the finding carries any of the given tags.
func (f *Finding) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range f.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// FindingsCollection is the generatedFindings field of an assessment. The
// backend stores it either as an array or as an object keyed by an arbitrary
// name; both decode into Items in a stable order. Keys remembers the object
// keys so the collection is written back in the shape it was read.
type FindingsCollection struct {
	Items []Finding
	Keys  []string
}

// IsKeyed reports whether the collection arrived as a keyed object.
func (c FindingsCollection) IsKeyed() bool {
	return c.Keys != nil
}

// Len returns the number of findings.
func (c FindingsCollection) Len() int {
	return len(c.Items)
}

// IndexOf returns the position of the finding with the given id, or -1.
func (c FindingsCollection) IndexOf(id string) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// UnmarshalJSON accepts an array, an object of findings, or null.
func (c *FindingsCollection) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	c.Items, c.Keys = nil, nil
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []Finding
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode findings array: %w", err)
		}
		c.Items = items
	case '{':
		var keyed map[string]Finding
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return fmt.Errorf("decode findings object: %w", err)
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c.Keys = keys
		c.Items = make([]Finding, 0, len(keys))
		for _, k := range keys {
			f := keyed[k]
			if f.ID == "" {
				f.ID = k
			}
			c.Items = append(c.Items, f)
		}
	default:
		return fmt.Errorf("findings collection must be an array or object, got %q", trimmed[:1])
	}
	return nil
}

// MarshalJSON writes the collection back in the shape it was decoded from.
func (c FindingsCollection) MarshalJSON() ([]byte, error) {
	if !c.IsKeyed() {
		if c.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Items)
	}

	keyed := make(map[string]Finding, len(c.Items))
	for i, f := range c.Items {
		key := f.ID
		if i < len(c.Keys) {
			key = c.Keys[i]
		}
		keyed[key] = f
	}
	return json.Marshal(keyed)
}
