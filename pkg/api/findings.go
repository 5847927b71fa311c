package api

import (
	"context"
	"encoding/json"

	"github.com/google/cel-go/cel"

	"github.com/exploopio/grc/pkg/core"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/shared/severity"
)

// FindingFilter narrows Findings.List. Zero fields are ignored.
type FindingFilter struct {
	SourceType string
	Severity   severity.Level
	Status     model.FindingStatus
	// Tags matches findings carrying at least one of the tags.
	Tags []string
	// Expression is a CEL boolean expression over the variable "finding",
	// e.g. `finding.severity == "critical" && "pci" in finding.tags`.
	Expression string
}

// Findings reads the findings embedded in a client's assessments.
type Findings struct {
	assessments *Assessments
	logger      core.Logger
}

// List fetches every assessment of the client, flattens their findings and
// applies filter. Each finding is tagged with its parent's type, name, date
// and id.
func (f *Findings) List(ctx context.Context, clientID string, filter *FindingFilter) ([]model.Finding, error) {
	var program cel.Program
	if filter != nil && filter.Expression != "" {
		var err error
		if program, err = compileFindingExpression(filter.Expression); err != nil {
			return nil, err
		}
	}

	assessments, err := f.assessments.list(ctx, clientID)
	if err != nil {
		return nil, sdkerrors.Failed("fetch", "findings", err)
	}

	findings := Flatten(assessments)
	if filter == nil {
		return findings, nil
	}

	out := findings[:0]
	for _, finding := range findings {
		if !filter.matches(&finding) {
			continue
		}
		if program != nil && !f.evalExpression(program, &finding) {
			continue
		}
		out = append(out, finding)
	}
	return out, nil
}

// Flatten extracts the findings of every assessment in order, tagging each
// with its parent.
func Flatten(assessments []model.Assessment) []model.Finding {
	var out []model.Finding
	for _, a := range assessments {
		for _, finding := range a.GeneratedFindings.Items {
			finding.SourceType = a.Type
			finding.SourceDetails = a.Name
			finding.CreatedDate = a.Date
			finding.AssessmentID = a.ID
			out = append(out, finding)
		}
	}
	if out == nil {
		out = []model.Finding{}
	}
	return out
}

func (ff *FindingFilter) matches(f *model.Finding) bool {
	if ff.SourceType != "" && f.SourceType != ff.SourceType {
		return false
	}
	if ff.Severity != "" && f.Severity != ff.Severity {
		return false
	}
	if ff.Status != "" && f.Status != ff.Status {
		return false
	}
	if len(ff.Tags) > 0 && !f.HasAnyTag(ff.Tags) {
		return false
	}
	return true
}

// =============================================================================
// CEL expressions
// =============================================================================

func compileFindingExpression(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("finding", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, sdkerrors.E(sdkerrors.KindInternal, "findings.filter", "create CEL environment", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "findings.filter", "invalid expression", iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "findings.filter",
			"expression must evaluate to bool, got "+ast.OutputType().String())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "findings.filter", "invalid expression", err)
	}
	return program, nil
}

// evalExpression treats evaluation errors (e.g. a missing optional field)
// as a non-match.
func (f *Findings) evalExpression(program cel.Program, finding *model.Finding) bool {
	activation, err := findingActivation(finding)
	if err != nil {
		f.logger.Debug("finding %s: build expression input: %v", finding.ID, err)
		return false
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		f.logger.Debug("finding %s: evaluate expression: %v", finding.ID, err)
		return false
	}
	match, ok := out.Value().(bool)
	return ok && match
}

func findingActivation(finding *model.Finding) (map[string]any, error) {
	data, err := json.Marshal(finding)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if _, ok := m["tags"]; !ok {
		m["tags"] = []any{}
	}
	return map[string]any{"finding": m}, nil
}
