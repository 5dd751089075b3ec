package treatmentplan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/domain/prescription"
)

// Service generates and persists treatment plans.
type Service struct {
	generator *Generator
	repo      *Repository
	logger    *zap.Logger
}

// NewService creates a treatment plan service.
func NewService(generator *Generator, repo *Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{generator: generator, repo: repo, logger: logger}
}

// CreateForPrescription derives a plan from an approved prescription and
// stores it.
func (s *Service) CreateForPrescription(ctx context.Context, p *prescription.Prescription) (*Plan, error) {
	plan, err := s.generator.Generate(p)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	s.logger.Info("treatment plan created",
		zap.String("plan_id", plan.ID),
		zap.String("prescription_id", p.ID),
		zap.Int("total_doses", plan.TotalDoses),
	)
	return plan, nil
}
