// Package api provides typed accessors for the GRC REST resources:
// assessments (and the findings embedded in them), risks, objectives,
// initiatives and the link tables joining them.
package api

import (
	"context"
	"net/url"
	"time"

	"github.com/exploopio/grc/pkg/core"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/metrics"
)

// REST resource paths.
const (
	PathAssessments          = "/assessmentHistory"
	PathRisks                = "/risks"
	PathObjectives           = "/objectives"
	PathInitiatives          = "/initiatives"
	PathRiskObjective        = "/risk_to_objective"
	PathObjectiveInitiative  = "/objective_to_initiative"
	PathFindingRiskMappings  = "/findings_to_risk/assessmentFindings"
)

// Transport is the subset of the REST client used by the accessors.
// *client.Client implements it.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, query url.Values) error
}

// Service groups every accessor over one transport.
type Service struct {
	Findings    *Findings
	Risks       *Risks
	Assessments *Assessments
	Objectives  *Objectives
	Initiatives *Initiatives
	Links       *Links
}

type options struct {
	logger  core.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// Option configures the accessors.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = core.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = metrics.OrNop(m) }
}

// WithClock overrides the clock used for link dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:  core.NopLogger{},
		metrics: &metrics.NopCollector{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New wires every accessor over t.
func New(t Transport, opts ...Option) *Service {
	o := buildOptions(opts)

	assessments := &Assessments{t: t, logger: o.logger}
	risks := &Risks{t: t}
	links := newLinks(t, o)

	return &Service{
		Findings:    &Findings{assessments: assessments, logger: o.logger},
		Risks:       risks,
		Assessments: assessments,
		Objectives:  &Objectives{t: t, risks: risks, links: links},
		Initiatives: &Initiatives{t: t},
		Links:       links,
	}
}

// EnsureExists returns the first item matching match, or the
// "<Entity> not found" error.
func EnsureExists[T any](entity string, items []T, match func(T) bool) (T, error) {
	for _, item := range items {
		if match(item) {
			return item, nil
		}
	}
	var zero T
	return zero, sdkerrors.NotFound(entity)
}

func clientQuery(clientID string) url.Values {
	if clientID == "" {
		return nil
	}
	return url.Values{"clientId": {clientID}}
}

// notFoundOr maps a 404 onto the entity's not-found error and wraps
// anything else as a transport failure.
func notFoundOr(entity, verb, noun string, err error) error {
	if sdkerrors.IsNotFoundError(err) {
		return sdkerrors.NotFound(entity)
	}
	return sdkerrors.Failed(verb, noun, err)
}
