package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/observability/metrics"
	"github.com/careloop/rx-engine/internal/safety"
)

// Store is the persistence surface the lifecycle engine needs. Implemented
// by prescription.Repository; mocked in tests.
type Store interface {
	GetWithItems(ctx context.Context, id string) (*prescription.Prescription, error)
	SaveValidation(ctx context.Context, p *prescription.Prescription) error
	SaveTransition(ctx context.Context, p *prescription.Prescription, expected prescription.Status) error
	SaveApproval(ctx context.Context, p *prescription.Prescription, expected prescription.Status, items []prescription.Item, corrections []prescription.FieldCorrection) error
	SaveClarification(ctx context.Context, p *prescription.Prescription, expected prescription.Status, c *prescription.Clarification) error
	LinkTreatmentPlan(ctx context.Context, prescriptionID, planID string) error
}

// Verdict is the single pass/fail decision of a validation run.
type Verdict string

const (
	VerdictValidated      Verdict = "validated"
	VerdictWarnings       Verdict = "warnings"
	VerdictCriticalIssues Verdict = "critical_issues"
)

// ValidationOutcome is the merged result of one validation run.
type ValidationOutcome struct {
	Verdict           Verdict                          `json:"verdict"`
	CanApprove        bool                             `json:"canApprove"`
	DrugInteractions  []safety.InteractionFinding      `json:"drugInteractions"`
	AllergyWarnings   []safety.AllergyFinding          `json:"allergyWarnings"`
	Contraindications []safety.ContraindicationFinding `json:"contraindications"`
	DegradedDomains   []string                         `json:"degradedDomains,omitempty"`
	ValidatedAt       time.Time                        `json:"validatedAt"`
}

// Validator fans out to the three safety checkers, merges their findings
// onto the prescription and computes the verdict.
type Validator struct {
	store             Store
	interactions      *safety.InteractionChecker
	allergies         *safety.AllergyChecker
	contraindications *safety.ContraindicationChecker
	metrics           *metrics.Metrics
	logger            *zap.Logger
}

// NewValidator creates a validation orchestrator.
func NewValidator(store Store, ic *safety.InteractionChecker, ac *safety.AllergyChecker, cc *safety.ContraindicationChecker, m *metrics.Metrics, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		store:             store,
		interactions:      ic,
		allergies:         ac,
		contraindications: cc,
		metrics:           m,
		logger:            logger,
	}
}

// Validate runs all three safety checks concurrently against the
// prescription's medication list, persists the merged findings and advances
// a pending prescription into review. Total latency is bounded by the
// slowest single check.
func (v *Validator) Validate(ctx context.Context, prescriptionID string) (*ValidationOutcome, error) {
	tracer := otel.Tracer("lifecycle")
	ctx, span := tracer.Start(ctx, "validate_prescription")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", prescriptionID))
	start := time.Now()

	p, err := v.store.GetWithItems(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("load prescription", err)
	}
	if !p.Editable() {
		return nil, StateError(CodeInvalidState,
			"prescription is in a terminal state and cannot be validated")
	}
	if len(p.Items) == 0 {
		return nil, StateError(CodeNoItems, "prescription has no items to validate")
	}

	meds := p.MedicationNames()

	var (
		wg      sync.WaitGroup
		iRes    safety.InteractionResult
		aRes    safety.AllergyResult
		cRes    safety.ContraindicationResult
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		iRes = v.interactions.Check(ctx, meds)
	}()
	go func() {
		defer wg.Done()
		aRes = v.allergies.Check(ctx, meds, p.PatientID)
	}()
	go func() {
		defer wg.Done()
		cRes = v.contraindications.Check(ctx, meds, p.PatientID)
	}()
	wg.Wait()

	now := time.Now().UTC()
	p.DrugInteractions = iRes.Findings
	p.AllergyWarnings = aRes.Findings
	p.Contraindications = cRes.Findings
	p.ValidatedAt = &now

	enteredReview := false
	if p.Status == prescription.StatusPending {
		if err := p.ToInReview(); err != nil {
			return nil, InternalError("advance to review", err)
		}
		enteredReview = true
	}

	if err := v.store.SaveValidation(ctx, p); err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, NotFoundError(prescriptionID)
		}
		return nil, &Error{
			Code:    CodeValidationFailed,
			Message: "failed to persist validation results",
			Status:  500,
			cause:   err,
		}
	}

	outcome := &ValidationOutcome{
		DrugInteractions:  iRes.Findings,
		AllergyWarnings:   aRes.Findings,
		Contraindications: cRes.Findings,
		ValidatedAt:       now,
	}
	for _, d := range []struct {
		name     string
		degraded bool
	}{
		{"interactions", iRes.Degraded},
		{"allergies", aRes.Degraded},
		{"contraindications", cRes.Degraded},
	} {
		if d.degraded {
			outcome.DegradedDomains = append(outcome.DegradedDomains, d.name)
			if v.metrics != nil {
				v.metrics.KnowledgeDegraded.WithLabelValues(d.name).Inc()
			}
		}
	}

	switch {
	case p.HasCriticalFindings():
		outcome.Verdict = VerdictCriticalIssues
	case iRes.HasFindings() || aRes.HasFindings() || cRes.HasFindings():
		outcome.Verdict = VerdictWarnings
	default:
		outcome.Verdict = VerdictValidated
	}
	outcome.CanApprove = outcome.Verdict != VerdictCriticalIssues

	if v.metrics != nil {
		v.metrics.ValidationsRun.Inc()
		v.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		if enteredReview {
			v.metrics.PrescriptionsInReview.Inc()
		}
	}
	v.logger.Info("prescription validated",
		zap.String("prescription_id", p.ID),
		zap.String("verdict", string(outcome.Verdict)),
		zap.Int("interactions", len(iRes.Findings)),
		zap.Int("allergy_warnings", len(aRes.Findings)),
		zap.Int("contraindications", len(cRes.Findings)),
		zap.Strings("degraded", outcome.DegradedDomains),
	)

	span.SetAttributes(attribute.String("verdict", string(outcome.Verdict)))
	return outcome, nil
}
