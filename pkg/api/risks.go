package api

import (
	"context"

	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/model"
)

// Risks accesses /risks.
type Risks struct {
	t Transport
}

// List returns the client's risks.
func (r *Risks) List(ctx context.Context, clientID string) ([]model.Risk, error) {
	var risks []model.Risk
	if err := r.t.Get(ctx, PathRisks, clientQuery(clientID), &risks); err != nil {
		return nil, sdkerrors.Failed("fetch", "risks", err)
	}
	if risks == nil {
		risks = []model.Risk{}
	}
	return risks, nil
}

// Get returns one risk of the client. A missing risk yields "Risk not found".
func (r *Risks) Get(ctx context.Context, clientID, id string) (*model.Risk, error) {
	if err := sdkerrors.RequireFields("risks.get", "id", id); err != nil {
		return nil, err
	}
	var risk model.Risk
	if err := r.t.Get(ctx, PathRisks+"/"+id, clientQuery(clientID), &risk); err != nil {
		return nil, notFoundOr("Risk", "fetch", "risk", err)
	}
	if risk.ID == "" {
		return nil, sdkerrors.NotFound("Risk")
	}
	return &risk, nil
}

// Create persists a new risk and returns it with the assigned id.
func (r *Risks) Create(ctx context.Context, risk *model.Risk) (*model.Risk, error) {
	if risk == nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "risks.create", "risk is nil")
	}
	var created model.Risk
	if err := r.t.Post(ctx, PathRisks, risk, &created); err != nil {
		return nil, sdkerrors.Failed("create", "risk", err)
	}
	if created.ID == "" {
		created = *risk
	}
	return &created, nil
}

// Update applies a partial document to a risk.
func (r *Risks) Update(ctx context.Context, id string, patch map[string]any) (*model.Risk, error) {
	if err := sdkerrors.RequireFields("risks.update", "id", id); err != nil {
		return nil, err
	}
	var updated model.Risk
	if err := r.t.Patch(ctx, PathRisks+"/"+id, patch, &updated); err != nil {
		return nil, notFoundOr("Risk", "update", "risk", err)
	}
	return &updated, nil
}

// Delete removes a risk.
func (r *Risks) Delete(ctx context.Context, clientID, id string) error {
	if err := sdkerrors.RequireFields("risks.delete", "id", id); err != nil {
		return err
	}
	if err := r.t.Delete(ctx, PathRisks+"/"+id, clientQuery(clientID)); err != nil {
		return notFoundOr("Risk", "delete", "risk", err)
	}
	return nil
}
