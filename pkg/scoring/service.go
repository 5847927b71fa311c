package scoring

import (
	"context"

	"github.com/exploopio/grc/pkg/api"
)

// Service fetches entities and computes their metrics.
type Service struct {
	api *api.Service
}

// NewService creates a scoring service over the API accessors.
func NewService(svc *api.Service) *Service {
	return &Service{api: svc}
}

// FindingMetrics fetches the client's findings and aggregates them.
func (s *Service) FindingMetrics(ctx context.Context, clientID string) (*FindingMetrics, error) {
	findings, err := s.api.Findings.List(ctx, clientID, nil)
	if err != nil {
		return nil, err
	}
	return ComputeFindingMetrics(findings), nil
}

// RiskStats fetches the client's risks and aggregates them.
func (s *Service) RiskStats(ctx context.Context, clientID string) (*RiskStats, error) {
	risks, err := s.api.Risks.List(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return ComputeRiskStats(risks), nil
}
