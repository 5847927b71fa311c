package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/model"
)

// linkTable is a join table stored on the backend as one JSON document
// whose field holds every row. Reads and writes always move the whole
// collection. mu serializes read-modify-write cycles issued through this
// value only; other processes writing the same document can still
// interleave and lose updates.
type linkTable[T any] struct {
	name  string
	path  string
	field string
	mu    sync.Mutex
}

func (lt *linkTable[T]) read(ctx context.Context, t Transport) ([]T, error) {
	var doc map[string]json.RawMessage
	if err := t.Get(ctx, lt.path, nil, &doc); err != nil {
		return nil, sdkerrors.Failed("fetch", lt.name+" mappings", err)
	}

	rows := []T{}
	if raw, ok := doc[lt.field]; ok && len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, sdkerrors.E(sdkerrors.KindServer, "links.read", "decode "+lt.name+" mappings", err)
		}
	}
	return rows, nil
}

func (lt *linkTable[T]) write(ctx context.Context, t Transport, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	if err := t.Patch(ctx, lt.path, map[string]any{lt.field: rows}, nil); err != nil {
		return sdkerrors.Failed("update", lt.name+" mappings", err)
	}
	return nil
}

// Links maintains the risk_to_objective and objective_to_initiative tables.
type Links struct {
	t       Transport
	o       *options
	riskObj linkTable[model.RiskObjectiveLink]
	objInit linkTable[model.ObjectiveInitiativeLink]
}

func newLinks(t Transport, o *options) *Links {
	return &Links{
		t: t,
		o: o,
		riskObj: linkTable[model.RiskObjectiveLink]{
			name: "risk_to_objective", path: PathRiskObjective, field: "riskObjectives",
		},
		objInit: linkTable[model.ObjectiveInitiativeLink]{
			name: "objective_to_initiative", path: PathObjectiveInitiative, field: "objectiveInitiatives",
		},
	}
}

func (l *Links) recordWrite(table string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	l.o.metrics.CounterInc(metrics.MappingWrites.Name, "table", table, "status", status)
}

// =============================================================================
// Risk -> Objective
// =============================================================================

// CreateRiskObjectiveMapping links a risk to a persisted objective. When the
// pair is already linked the existing row is returned and nothing is written.
// Risk-based objective ids are rejected; materialize the objective first.
func (l *Links) CreateRiskObjectiveMapping(ctx context.Context, riskID, objectiveID string) (*model.RiskObjectiveLink, error) {
	if err := sdkerrors.RequireFields("links.create_risk_objective", "riskId", riskID, "objectiveId", objectiveID); err != nil {
		return nil, err
	}
	if model.IsRiskBasedObjectiveID(objectiveID) {
		return nil, sdkerrors.ErrRiskBasedObjective
	}

	l.riskObj.mu.Lock()
	defer l.riskObj.mu.Unlock()

	rows, err := l.riskObj.read(ctx, l.t)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].RiskID == riskID && rows[i].ObjectiveID == objectiveID {
			l.o.logger.Debug("risk %s already linked to objective %s", riskID, objectiveID)
			return &rows[i], nil
		}
	}

	link := model.RiskObjectiveLink{
		ID:          uuid.NewString(),
		RiskID:      riskID,
		ObjectiveID: objectiveID,
		DateLinked:  model.FormatDate(l.o.now()),
	}
	err = l.riskObj.write(ctx, l.t, append(rows, link))
	l.recordWrite(l.riskObj.name, err)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteRiskObjectiveMapping removes every row linking the pair.
func (l *Links) DeleteRiskObjectiveMapping(ctx context.Context, riskID, objectiveID string) error {
	if err := sdkerrors.RequireFields("links.delete_risk_objective", "riskId", riskID, "objectiveId", objectiveID); err != nil {
		return err
	}

	l.riskObj.mu.Lock()
	defer l.riskObj.mu.Unlock()

	rows, err := l.riskObj.read(ctx, l.t)
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.RiskID != riskID || row.ObjectiveID != objectiveID {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(rows) {
		return sdkerrors.NotFound("Risk-objective mapping")
	}

	err = l.riskObj.write(ctx, l.t, kept)
	l.recordWrite(l.riskObj.name, err)
	return err
}

// ListRiskObjectiveMappings returns every risk_to_objective row.
func (l *Links) ListRiskObjectiveMappings(ctx context.Context) ([]model.RiskObjectiveLink, error) {
	return l.riskObj.read(ctx, l.t)
}

// =============================================================================
// Objective -> Initiative
// =============================================================================

// CreateObjectiveInitiativeMapping links an objective to an initiative,
// returning the existing row when the pair is already linked.
func (l *Links) CreateObjectiveInitiativeMapping(ctx context.Context, objectiveID, initiativeID string) (*model.ObjectiveInitiativeLink, error) {
	if err := sdkerrors.RequireFields("links.create_objective_initiative", "objectiveId", objectiveID, "initiativeId", initiativeID); err != nil {
		return nil, err
	}
	if model.IsRiskBasedObjectiveID(objectiveID) {
		return nil, sdkerrors.ErrRiskBasedObjective
	}

	l.objInit.mu.Lock()
	defer l.objInit.mu.Unlock()

	rows, err := l.objInit.read(ctx, l.t)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].ObjectiveID == objectiveID && rows[i].InitiativeID == initiativeID {
			return &rows[i], nil
		}
	}

	link := model.ObjectiveInitiativeLink{
		ID:           uuid.NewString(),
		ObjectiveID:  objectiveID,
		InitiativeID: initiativeID,
		DateLinked:   model.FormatDate(l.o.now()),
	}
	err = l.objInit.write(ctx, l.t, append(rows, link))
	l.recordWrite(l.objInit.name, err)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteObjectiveInitiativeMapping removes every row linking the pair.
func (l *Links) DeleteObjectiveInitiativeMapping(ctx context.Context, objectiveID, initiativeID string) error {
	if err := sdkerrors.RequireFields("links.delete_objective_initiative", "objectiveId", objectiveID, "initiativeId", initiativeID); err != nil {
		return err
	}

	l.objInit.mu.Lock()
	defer l.objInit.mu.Unlock()

	rows, err := l.objInit.read(ctx, l.t)
	if err != nil {
		return err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.ObjectiveID != objectiveID || row.InitiativeID != initiativeID {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(rows) {
		return sdkerrors.NotFound("Objective-initiative mapping")
	}

	err = l.objInit.write(ctx, l.t, kept)
	l.recordWrite(l.objInit.name, err)
	return err
}

// ListObjectiveInitiativeMappings returns every objective_to_initiative row.
func (l *Links) ListObjectiveInitiativeMappings(ctx context.Context) ([]model.ObjectiveInitiativeLink, error) {
	return l.objInit.read(ctx, l.t)
}

// RecordFindingRisk appends a row to the findings_to_risk mapping resource.
func (l *Links) RecordFindingRisk(ctx context.Context, link *model.FindingRiskLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.DateLinked == "" {
		link.DateLinked = model.FormatDate(l.o.now())
	}
	err := l.t.Post(ctx, PathFindingRiskMappings, link, nil)
	l.recordWrite("findings_to_risk", err)
	if err != nil {
		return sdkerrors.Failed("record", "finding-risk mapping", err)
	}
	return nil
}
