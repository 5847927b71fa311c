package api

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/exploopio/grc/pkg/core"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/model"
)

// Assessments accesses /assessmentHistory.
type Assessments struct {
	t      Transport
	logger core.Logger
}

// List returns the client's assessments. A payload that is not an array
// yields an empty list; individually malformed assessments are skipped.
func (a *Assessments) List(ctx context.Context, clientID string) ([]model.Assessment, error) {
	out, err := a.list(ctx, clientID)
	if err != nil {
		return nil, sdkerrors.Failed("fetch", "assessments", err)
	}
	return out, nil
}

func (a *Assessments) list(ctx context.Context, clientID string) ([]model.Assessment, error) {
	var raw json.RawMessage
	if err := a.t.Get(ctx, PathAssessments, clientQuery(clientID), &raw); err != nil {
		return nil, err
	}
	return a.decodeList(raw), nil
}

func (a *Assessments) decodeList(raw json.RawMessage) []model.Assessment {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		a.logger.Warn("assessment list payload is not an array, treating as empty")
		return []model.Assessment{}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		a.logger.Warn("decode assessment list: %v", err)
		return []model.Assessment{}
	}

	out := make([]model.Assessment, 0, len(elems))
	for i, elem := range elems {
		var asmt model.Assessment
		if err := json.Unmarshal(elem, &asmt); err != nil {
			a.logger.Warn("skipping malformed assessment at index %d: %v", i, err)
			continue
		}
		out = append(out, asmt)
	}
	return out
}

// Get returns one assessment.
func (a *Assessments) Get(ctx context.Context, id string) (*model.Assessment, error) {
	if err := sdkerrors.RequireFields("assessments.get", "id", id); err != nil {
		return nil, err
	}
	var asmt model.Assessment
	if err := a.t.Get(ctx, PathAssessments+"/"+id, nil, &asmt); err != nil {
		return nil, notFoundOr("Assessment", "fetch", "assessment", err)
	}
	return &asmt, nil
}

// PatchFindings replaces the assessment's whole generatedFindings collection.
func (a *Assessments) PatchFindings(ctx context.Context, id string, findings model.FindingsCollection) error {
	if err := sdkerrors.RequireFields("assessments.patch_findings", "id", id); err != nil {
		return err
	}
	body := map[string]any{"generatedFindings": findings}
	if err := a.t.Patch(ctx, PathAssessments+"/"+id, body, nil); err != nil {
		return sdkerrors.Failed("update", "assessment findings", err)
	}
	return nil
}

// FindContaining scans the assessments for the one embedding findingID.
func FindContaining(assessments []model.Assessment, findingID string) (*model.Assessment, bool) {
	for i := range assessments {
		if assessments[i].GeneratedFindings.IndexOf(findingID) >= 0 {
			return &assessments[i], true
		}
	}
	return nil, false
}
