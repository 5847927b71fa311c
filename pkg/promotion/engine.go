// Package promotion converts findings into risks.
//
// A promotion touches three backend resources that share no transaction:
// the new risk, the assessment embedding the finding, and the
// findings_to_risk mapping. Engine runs them as a saga. If the finding
// cannot be marked promoted, the risk created for it is deleted again; if
// that deletion fails too, a PartialFailureError names the orphaned risk.
// The mapping write is best-effort and is parked in the retry outbox when
// it fails.
package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/audit"
	"github.com/exploopio/grc/pkg/core"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/model"
	"github.com/exploopio/grc/pkg/retry"
	"github.com/exploopio/grc/pkg/shared/severity"
)

// Legacy assessment ids used when a finding cannot be located.
const (
	legacyAssessmentPrimary   = "asmt-001"
	legacyAssessmentSecondary = "asmt-002"
)

// compensationTimeout bounds the risk deletion run after a failed step.
const compensationTimeout = 10 * time.Second

// RiskInput is the user supplied part of the risk created by a promotion.
type RiskInput struct {
	ClientID       string          `json:"clientId"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Impact         severity.Rating `json:"impact"`
	Likelihood     severity.Rating `json:"likelihood"`
	Category       string          `json:"category"`
	BusinessImpact string          `json:"businessImpact,omitempty"`
	Treatment      model.Treatment `json:"treatment,omitempty"`
}

// Result is returned by a successful promotion.
type Result struct {
	Success bool   `json:"success"`
	RiskID  string `json:"riskId"`

	// AssessmentID is the assessment whose findings collection was patched.
	AssessmentID string `json:"assessmentId,omitempty"`

	// FindingPatched is false when the assessment came from the legacy
	// fallback and did not embed the finding.
	FindingPatched bool `json:"findingPatched"`

	// MappingDeferred is true when the findings_to_risk write failed and
	// was queued for replay (or dropped when no outbox is configured).
	MappingDeferred bool `json:"mappingDeferred"`
}

// Config configures an Engine.
type Config struct {
	// API is the backend accessor. Required.
	API *api.Service

	// Outbox receives failed mapping writes. Optional.
	Outbox retry.Outbox

	// LegacyAssessmentFallback enables the asmt-001/asmt-002 guess when a
	// finding has no assessmentId and no assessment embeds it.
	LegacyAssessmentFallback bool

	Logger  core.Logger
	Metrics metrics.Collector
	Audit   audit.Recorder

	// Now overrides the clock used for lastAssessed.
	Now func() time.Time
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig(svc *api.Service) *Config {
	return &Config{
		API:                      svc,
		LegacyAssessmentFallback: true,
	}
}

// Engine promotes findings to risks.
type Engine struct {
	api            *api.Service
	outbox         retry.Outbox
	legacyFallback bool

	logger  core.Logger
	metrics metrics.Collector
	audit   audit.Recorder
	now     func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.API == nil {
		return nil, sdkerrors.E(sdkerrors.KindInvalidInput, "promotion.new", "api service is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		api:            cfg.API,
		outbox:         cfg.Outbox,
		legacyFallback: cfg.LegacyAssessmentFallback,
		logger:         core.OrNop(cfg.Logger),
		metrics:        metrics.OrNop(cfg.Metrics),
		audit:          audit.OrNop(cfg.Audit),
		now:            now,
	}, nil
}

// PromoteToRisk creates a risk from finding and marks the finding promoted.
func (e *Engine) PromoteToRisk(ctx context.Context, finding *model.Finding, in RiskInput) (*Result, error) {
	findingID := ""
	if finding != nil {
		findingID = finding.ID
	}
	if err := sdkerrors.RequireFields("promotion.promote_to_risk",
		"findingId", findingID,
		"name", in.Name,
		"description", in.Description,
		"impact", string(in.Impact),
		"likelihood", string(in.Likelihood),
		"category", in.Category,
	); err != nil {
		e.audit.Log(audit.Event{
			Type:      audit.EventValidationError,
			Severity:  audit.SeverityWarning,
			ClientID:  in.ClientID,
			FindingID: findingID,
			Message:   "promotion rejected",
			Error:     err.Error(),
		})
		e.metrics.CounterInc(metrics.PromotionsTotal.Name, "status", "invalid")
		return nil, err
	}

	trail := audit.WithOperation(e.audit, uuid.NewString(), in.ClientID, finding.ID)
	trail.Begin(audit.EventPromotionStarted, fmt.Sprintf("Promoting finding %s", finding.ID))

	risk, err := e.createRisk(ctx, finding, in)
	if err != nil {
		trail.Done(audit.EventPromotionFailed, "risk creation failed", err)
		e.metrics.CounterInc(metrics.PromotionsTotal.Name, "status", "failed")
		return nil, err
	}
	trail.SetRisk(risk.ID)
	trail.Step(audit.EventRiskCreated, "Risk created", map[string]any{"name": risk.Name})

	result := &Result{RiskID: risk.ID}

	asmt, err := e.locateAssessment(ctx, in.ClientID, finding)
	if err != nil {
		return nil, e.compensate(ctx, trail, in.ClientID, risk.ID, "locate_assessment", err)
	}
	result.AssessmentID = asmt.ID
	trail.Step(audit.EventAssessmentLocated, "Assessment located", map[string]any{"assessment_id": asmt.ID})

	patched, err := e.markPromoted(ctx, asmt, finding.ID, risk.ID)
	if err != nil {
		return nil, e.compensate(ctx, trail, in.ClientID, risk.ID, "patch_finding", err)
	}
	result.FindingPatched = patched
	if patched {
		finding.MarkPromoted(risk.ID)
	}
	trail.Step(audit.EventFindingPatched, "Finding marked promoted", map[string]any{"patched": patched})

	result.MappingDeferred = !e.recordMapping(ctx, trail, finding.ID, risk.ID, asmt.ID)

	result.Success = true
	e.metrics.CounterInc(metrics.PromotionsTotal.Name, "status", "success")
	trail.Done(audit.EventPromotionCompleted, "Promotion completed", nil)
	e.logger.Info("finding %s promoted to risk %s (assessment %s)", finding.ID, risk.ID, asmt.ID)
	return result, nil
}

func (e *Engine) createRisk(ctx context.Context, finding *model.Finding, in RiskInput) (*model.Risk, error) {
	risk := &model.Risk{
		ID:             uuid.NewString(),
		ClientID:       in.ClientID,
		Name:           in.Name,
		Description:    in.Description,
		Impact:         in.Impact,
		Likelihood:     in.Likelihood,
		Category:       in.Category,
		Status:         model.RiskOpen,
		LastAssessed:   model.FormatDate(e.now()),
		Source:         "Finding: " + finding.ID,
		BusinessImpact: in.BusinessImpact,
		Treatment:      in.Treatment,
		SourceFindings: []model.SourceFinding{{
			FindingID:  finding.ID,
			Title:      finding.Title,
			SourceType: finding.SourceType,
			Date:       finding.CreatedDate,
		}},
	}
	created, err := e.api.Risks.Create(ctx, risk)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		created.ID = risk.ID
	}
	return created, nil
}

// locateAssessment finds the assessment embedding the finding: by its
// assessmentId, then by scanning the client's assessments, then (when
// enabled) by the legacy id heuristic.
func (e *Engine) locateAssessment(ctx context.Context, clientID string, finding *model.Finding) (*model.Assessment, error) {
	if finding.AssessmentID != "" {
		asmt, err := e.api.Assessments.Get(ctx, finding.AssessmentID)
		switch {
		case err == nil && asmt.GeneratedFindings.IndexOf(finding.ID) >= 0:
			return asmt, nil
		case err != nil && !sdkerrors.IsNotFoundError(err):
			return nil, err
		}
		e.logger.Warn("finding %s not embedded in its assessment %s, scanning", finding.ID, finding.AssessmentID)
	}

	assessments, err := e.api.Assessments.List(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if asmt, ok := api.FindContaining(assessments, finding.ID); ok {
		return asmt, nil
	}

	if !e.legacyFallback {
		return nil, sdkerrors.NotFound("Assessment")
	}
	legacyID := LegacyAssessmentID(finding.ID)
	e.logger.Warn("finding %s not found in any assessment, falling back to %s", finding.ID, legacyID)
	return e.api.Assessments.Get(ctx, legacyID)
}

// LegacyAssessmentID guesses the parent assessment of an unlocatable finding.
func LegacyAssessmentID(findingID string) string {
	if strings.Contains(findingID, "001") || strings.Contains(findingID, "002") {
		return legacyAssessmentPrimary
	}
	return legacyAssessmentSecondary
}

// markPromoted flags the finding inside the assessment's collection and
// writes the whole collection back. It reports whether the finding was
// present; the collection is written either way.
func (e *Engine) markPromoted(ctx context.Context, asmt *model.Assessment, findingID, riskID string) (bool, error) {
	coll := asmt.GeneratedFindings
	idx := coll.IndexOf(findingID)
	if idx >= 0 {
		coll.Items[idx].MarkPromoted(riskID)
	} else {
		e.logger.Warn("assessment %s does not contain finding %s, collection resent unchanged", asmt.ID, findingID)
	}
	if err := e.api.Assessments.PatchFindings(ctx, asmt.ID, coll); err != nil {
		return false, err
	}
	return idx >= 0, nil
}

// recordMapping writes the findings_to_risk row. It reports whether the
// write reached the backend.
func (e *Engine) recordMapping(ctx context.Context, trail *audit.OperationRecorder, findingID, riskID, assessmentID string) bool {
	link := &model.FindingRiskLink{
		FindingID:    findingID,
		RiskID:       riskID,
		AssessmentID: assessmentID,
	}
	err := e.api.Links.RecordFindingRisk(ctx, link)
	if err == nil {
		trail.Step(audit.EventMappingRecorded, "Finding-risk mapping recorded", nil)
		return true
	}

	e.logger.Warn("finding-risk mapping for %s -> %s failed: %v", findingID, riskID, err)
	if e.outbox == nil {
		trail.Failure(audit.EventMappingDeferred, "Finding-risk mapping dropped", err, nil)
		return false
	}

	payload, merr := json.Marshal(link)
	if merr != nil {
		e.logger.Error("encode finding-risk mapping: %v", merr)
		return false
	}
	id, qerr := e.outbox.Enqueue(ctx, &retry.Item{
		Kind:        retry.ItemKindFindingRiskMapping,
		Path:        api.PathFindingRiskMappings,
		Payload:     payload,
		Fingerprint: findingID + ":" + riskID,
	})
	if qerr != nil && !errors.Is(qerr, retry.ErrDuplicateItem) {
		e.logger.Error("queue finding-risk mapping: %v", qerr)
		trail.Failure(audit.EventMappingDeferred, "Finding-risk mapping dropped", qerr, nil)
		return false
	}
	trail.Failure(audit.EventMappingDeferred, "Finding-risk mapping queued for replay", err,
		map[string]any{"outbox_id": id})
	return false
}

// compensate deletes the risk created by a promotion whose later step
// failed. The deletion runs even when ctx is already cancelled.
func (e *Engine) compensate(ctx context.Context, trail *audit.OperationRecorder, clientID, riskID, step string, cause error) error {
	e.logger.Warn("promotion step %s failed, deleting risk %s: %v", step, riskID, cause)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	derr := e.api.Risks.Delete(cctx, clientID, riskID)
	if derr == nil || sdkerrors.IsNotFoundError(derr) {
		e.metrics.CounterInc(metrics.PromotionCompensations.Name, "status", "success")
		e.metrics.CounterInc(metrics.PromotionsTotal.Name, "status", "compensated")
		trail.Step(audit.EventCompensationApplied, "Risk deleted", map[string]any{"step": step})
		trail.Done(audit.EventPromotionFailed, "Promotion rolled back", cause)
		return sdkerrors.Failed("promote", "finding", cause)
	}

	e.metrics.CounterInc(metrics.PromotionCompensations.Name, "status", "error")
	e.metrics.CounterInc(metrics.PromotionsTotal.Name, "status", "partial")
	trail.Failure(audit.EventCompensationFailed, "Risk could not be deleted", derr, map[string]any{"step": step})
	trail.Done(audit.EventPromotionFailed, "Promotion left an orphaned risk", cause)
	e.logger.Error("risk %s orphaned after failed promotion step %s: %v", riskID, step, derr)

	return &sdkerrors.PartialFailureError{
		Op:         "promotion.promote_to_risk",
		Step:       step,
		OrphanKind: "risk",
		OrphanID:   riskID,
		Err:        cause,
		Compensate: derr,
	}
}
