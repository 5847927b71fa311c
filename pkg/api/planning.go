package api

import (
	"context"
	"strings"

	"github.com/google/uuid"

	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/model"
)

// Objectives accesses /objectives and synthesizes risk-based objectives.
type Objectives struct {
	t     Transport
	risks *Risks
	links *Links
}

// List returns the client's persisted objectives followed by one risk-based
// objective per risk that has no linked objective yet. Risk-based objectives
// exist only in this result and carry ids prefixed with "risk-".
func (o *Objectives) List(ctx context.Context, clientID string) ([]model.Objective, error) {
	var persisted []model.Objective
	if err := o.t.Get(ctx, PathObjectives, clientQuery(clientID), &persisted); err != nil {
		return nil, sdkerrors.Failed("fetch", "objectives", err)
	}

	risks, err := o.risks.List(ctx, clientID)
	if err != nil {
		return nil, err
	}
	links, err := o.links.ListRiskObjectiveMappings(ctx)
	if err != nil {
		return nil, err
	}

	linked := make(map[string]bool, len(links))
	for _, l := range links {
		linked[l.RiskID] = true
	}
	for _, obj := range persisted {
		if obj.SourceRisk != "" {
			linked[obj.SourceRisk] = true
		}
	}

	out := make([]model.Objective, 0, len(persisted)+len(risks))
	out = append(out, persisted...)
	for _, r := range risks {
		if linked[r.ID] || len(r.Treatment.Objectives) > 0 {
			continue
		}
		out = append(out, model.ObjectiveFromRisk(r))
	}
	return out, nil
}

// Save creates (empty id) or updates a persisted objective. Risk-based
// objective ids are rejected.
func (o *Objectives) Save(ctx context.Context, obj *model.Objective) (*model.Objective, error) {
	if obj == nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "objectives.save", "objective is nil")
	}
	if model.IsRiskBasedObjectiveID(obj.ID) {
		return nil, sdkerrors.ErrRiskBasedObjective
	}
	if err := sdkerrors.RequireFields("objectives.save", "clientId", obj.ClientID, "name", obj.Name); err != nil {
		return nil, err
	}

	var saved model.Objective
	if obj.ID == "" {
		if err := o.t.Post(ctx, PathObjectives, obj, &saved); err != nil {
			return nil, sdkerrors.Failed("create", "objective", err)
		}
		return &saved, nil
	}
	if err := o.t.Patch(ctx, PathObjectives+"/"+obj.ID, obj, &saved); err != nil {
		return nil, notFoundOr("Objective", "update", "objective", err)
	}
	return &saved, nil
}

// Materialize persists the risk-based objective objectiveID under a fresh id
// and links it to its risk.
func (o *Objectives) Materialize(ctx context.Context, clientID, objectiveID string) (*model.Objective, error) {
	if !model.IsRiskBasedObjectiveID(objectiveID) {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "objectives.materialize",
			"not a risk-based objective: "+objectiveID)
	}
	riskID := strings.TrimPrefix(objectiveID, model.RiskBasedObjectivePrefix)

	risk, err := o.risks.Get(ctx, clientID, riskID)
	if err != nil {
		return nil, err
	}

	obj := model.ObjectiveFromRisk(*risk)
	obj.ID = uuid.NewString()
	obj.RiskBased = false

	var saved model.Objective
	if err := o.t.Post(ctx, PathObjectives, obj, &saved); err != nil {
		return nil, sdkerrors.Failed("create", "objective", err)
	}
	if saved.ID == "" {
		saved = obj
	}

	if _, err := o.links.CreateRiskObjectiveMapping(ctx, riskID, saved.ID); err != nil {
		return nil, err
	}
	return &saved, nil
}

// Initiatives accesses /initiatives.
type Initiatives struct {
	t Transport
}

// List returns the client's initiatives.
func (i *Initiatives) List(ctx context.Context, clientID string) ([]model.Initiative, error) {
	var out []model.Initiative
	if err := i.t.Get(ctx, PathInitiatives, clientQuery(clientID), &out); err != nil {
		return nil, sdkerrors.Failed("fetch", "initiatives", err)
	}
	if out == nil {
		out = []model.Initiative{}
	}
	return out, nil
}

// Create persists a new initiative.
func (i *Initiatives) Create(ctx context.Context, in *model.Initiative) (*model.Initiative, error) {
	if in == nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "initiatives.create", "initiative is nil")
	}
	if err := sdkerrors.RequireFields("initiatives.create", "clientId", in.ClientID, "name", in.Name); err != nil {
		return nil, err
	}
	var created model.Initiative
	if err := i.t.Post(ctx, PathInitiatives, in, &created); err != nil {
		return nil, sdkerrors.Failed("create", "initiative", err)
	}
	return &created, nil
}
