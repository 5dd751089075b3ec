package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/domain/treatmentplan"
	"github.com/careloop/rx-engine/internal/observability/metrics"
)

// MinReasonLength is the default shortest acceptable rejection reason or
// clarification question.
const MinReasonLength = 10

// Planner creates and persists a treatment plan for an approved
// prescription.
type Planner interface {
	CreateForPrescription(ctx context.Context, p *prescription.Prescription) (*treatmentplan.Plan, error)
}

// Notifier delivers lifecycle notifications. Implementations must be safe to
// call best-effort: a delivery failure never fails the operation it follows.
type Notifier interface {
	NotifyPatient(ctx context.Context, patientID, event string, payload interface{}) error
	NotifyDoctor(ctx context.Context, doctorID, event string, payload interface{}) error
}

// Auditor appends lifecycle events to the audit trail.
type Auditor interface {
	Record(ctx context.Context, event, prescriptionID string, payload interface{}) error
}

// Service executes the terminal lifecycle operations: approval with the
// verification gate, rejection and clarification requests.
type Service struct {
	store     Store
	gate      *Gate
	planner   Planner
	notifier  Notifier
	auditor   Auditor
	minReason int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a lifecycle service. Planner, notifier and auditor may
// be nil; the corresponding side effects are skipped. minReason bounds
// rejection reasons and clarification questions; zero uses the default.
func NewService(store Store, gate *Gate, planner Planner, notifier Notifier, auditor Auditor, minReason int, m *metrics.Metrics, logger *zap.Logger) *Service {
	if minReason <= 0 {
		minReason = MinReasonLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		gate:      gate,
		planner:   planner,
		notifier:  notifier,
		auditor:   auditor,
		minReason: minReason,
		metrics:   m,
		logger:    logger,
	}
}

// ApproveRequest carries the approving pharmacist's decision.
type ApproveRequest struct {
	PharmacistID          string            `json:"pharmacistId"`
	LowConfidenceVerified bool              `json:"lowConfidenceVerified"`
	Corrections           []CorrectionInput `json:"corrections,omitempty"`
}

// ApprovalResult is returned from a successful approval.
type ApprovalResult struct {
	Prescription  *prescription.Prescription `json:"prescription"`
	TreatmentPlan *treatmentplan.Plan        `json:"treatmentPlan,omitempty"`
	Corrections   int                        `json:"correctionsRecorded"`
}

// Approve runs the full approval pipeline: state and expiry guards, the
// low-confidence verification gate, the critical-findings backstop, the
// guarded persistence write and treatment plan generation. Plan generation
// failure does not undo an otherwise committed approval.
func (s *Service) Approve(ctx context.Context, prescriptionID string, req ApproveRequest) (*ApprovalResult, error) {
	tracer := otel.Tracer("lifecycle")
	ctx, span := tracer.Start(ctx, "approve_prescription")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", prescriptionID))

	if strings.TrimSpace(req.PharmacistID) == "" {
		return nil, StateError(CodeApproverRequired, "an approving pharmacist id is required")
	}

	p, err := s.store.GetWithItems(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("load prescription", err)
	}

	now := time.Now().UTC()
	expected := p.Status
	if !p.CanApprove(now) {
		if p.Status == prescription.StatusInReview && p.Expired(now) {
			return nil, StateError(CodePrescriptionExpired,
				"prescription is past its expiry date and cannot be approved")
		}
		return nil, StateError(CodeInvalidStateForApproval,
			fmt.Sprintf("prescription in status %s cannot be approved", p.Status))
	}
	if len(p.Items) == 0 {
		return nil, StateError(CodeNoItems, "prescription has no items to approve")
	}

	items, corrections, err := s.gate.Enforce(p, req.LowConfidenceVerified, req.Corrections, req.PharmacistID)
	if err != nil {
		return nil, err
	}

	if p.HasCriticalFindings() {
		if s.metrics != nil {
			s.metrics.CriticalBlocks.Inc()
		}
		return nil, StateErrorWithDetails(CodeCriticalSafetyIssues,
			"prescription has critical safety findings and cannot be approved",
			map[string]interface{}{
				"drugInteractions":  p.DrugInteractions,
				"allergyWarnings":   p.AllergyWarnings,
				"contraindications": p.Contraindications,
			})
	}

	if err := p.ToApproved(req.PharmacistID); err != nil {
		return nil, StateError(CodeInvalidStateForApproval, err.Error())
	}

	if err := s.store.SaveApproval(ctx, p, expected, items, corrections); err != nil {
		switch {
		case errors.Is(err, prescription.ErrStaleState):
			return nil, &Error{
				Code:    CodeInvalidStateForApproval,
				Message: "prescription status changed while approving, reload and retry",
				Status:  http.StatusConflict,
				cause:   err,
			}
		case errors.Is(err, prescription.ErrNotFound):
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("persist approval", err)
	}

	result := &ApprovalResult{Prescription: p, Corrections: len(corrections)}

	if s.planner != nil {
		plan, err := s.planner.CreateForPrescription(ctx, p)
		if err != nil {
			// The approval is already committed. Surface the failure in logs
			// and let the plan be regenerated out of band.
			s.logger.Error("treatment plan generation failed",
				zap.String("prescription_id", p.ID),
				zap.Error(err))
		} else {
			if err := s.store.LinkTreatmentPlan(ctx, p.ID, plan.ID); err != nil {
				s.logger.Error("treatment plan link failed",
					zap.String("prescription_id", p.ID),
					zap.String("plan_id", plan.ID),
					zap.Error(err))
			} else {
				p.TreatmentPlanID = &plan.ID
				result.TreatmentPlan = plan
				if s.metrics != nil {
					s.metrics.PlansCreated.Inc()
				}
			}
		}
	}

	if s.metrics != nil {
		s.metrics.Approvals.Inc()
		s.metrics.PrescriptionsInReview.Dec()
	}
	s.audit(ctx, "prescription.approved", p.ID, map[string]interface{}{
		"pharmacistId": req.PharmacistID,
		"corrections":  len(corrections),
	})
	s.notifyPatient(ctx, p.PatientID, "prescription.approved", p)

	s.logger.Info("prescription approved",
		zap.String("prescription_id", p.ID),
		zap.String("pharmacist_id", req.PharmacistID),
		zap.Int("corrections", len(corrections)),
		zap.Bool("plan_created", result.TreatmentPlan != nil),
	)
	return result, nil
}

// RejectRequest carries the rejecting pharmacist's decision.
type RejectRequest struct {
	PharmacistID string `json:"pharmacistId"`
	Reason       string `json:"reason"`
}

// RejectionResult is returned from a successful rejection. NotificationsSent
// lists the parties that were actually reached; delivery is best effort.
type RejectionResult struct {
	Prescription      *prescription.Prescription `json:"prescription"`
	NotificationsSent []string                   `json:"notificationsSent"`
}

// Reject moves an in-review prescription to rejected with a mandatory
// substantive reason. Patient and doctor notifications are attempted
// independently; neither failure affects the stored rejection.
func (s *Service) Reject(ctx context.Context, prescriptionID string, req RejectRequest) (*RejectionResult, error) {
	tracer := otel.Tracer("lifecycle")
	ctx, span := tracer.Start(ctx, "reject_prescription")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", prescriptionID))

	if strings.TrimSpace(req.PharmacistID) == "" {
		return nil, StateError(CodeApproverRequired, "a rejecting pharmacist id is required")
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < s.minReason {
		return nil, StateError(CodeReasonTooShort,
			fmt.Sprintf("rejection reason must be at least %d characters", s.minReason))
	}

	p, err := s.store.GetWithItems(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("load prescription", err)
	}

	expected := p.Status
	if !p.CanReject() {
		return nil, StateError(CodeInvalidStateForRejection,
			fmt.Sprintf("prescription in status %s cannot be rejected", p.Status))
	}
	if err := p.ToRejected(req.PharmacistID, reason); err != nil {
		return nil, StateError(CodeInvalidStateForRejection, err.Error())
	}

	if err := s.store.SaveTransition(ctx, p, expected); err != nil {
		switch {
		case errors.Is(err, prescription.ErrStaleState):
			return nil, &Error{
				Code:    CodeInvalidStateForRejection,
				Message: "prescription status changed while rejecting, reload and retry",
				Status:  http.StatusConflict,
				cause:   err,
			}
		case errors.Is(err, prescription.ErrNotFound):
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("persist rejection", err)
	}

	result := &RejectionResult{Prescription: p}
	if s.notifyPatient(ctx, p.PatientID, "prescription.rejected", p) {
		result.NotificationsSent = append(result.NotificationsSent, "patient")
	}
	if p.DoctorID != nil && *p.DoctorID != "" {
		if s.notifyDoctor(ctx, *p.DoctorID, "prescription.rejected", p) {
			result.NotificationsSent = append(result.NotificationsSent, "doctor")
		}
	}

	if s.metrics != nil {
		s.metrics.Rejections.Inc()
		s.metrics.PrescriptionsInReview.Dec()
	}
	s.audit(ctx, "prescription.rejected", p.ID, map[string]interface{}{
		"pharmacistId": req.PharmacistID,
		"reason":       reason,
	})

	s.logger.Info("prescription rejected",
		zap.String("prescription_id", p.ID),
		zap.String("pharmacist_id", req.PharmacistID),
		zap.Strings("notified", result.NotificationsSent),
	)
	return result, nil
}

// ClarifyRequest carries the pharmacist's question to the prescribing doctor.
type ClarifyRequest struct {
	PharmacistID string `json:"pharmacistId"`
	Question     string `json:"question"`
	Category     string `json:"category,omitempty"`
}

// ClarificationResult is returned from a successful clarification request.
type ClarificationResult struct {
	Prescription  *prescription.Prescription `json:"prescription"`
	Clarification *prescription.Clarification `json:"clarification"`
}

// RequestClarification parks an in-review prescription in
// clarification_needed and records the pharmacist's question for the
// prescribing doctor. A prescription with no doctor on record cannot be
// clarified.
func (s *Service) RequestClarification(ctx context.Context, prescriptionID string, req ClarifyRequest) (*ClarificationResult, error) {
	tracer := otel.Tracer("lifecycle")
	ctx, span := tracer.Start(ctx, "request_clarification")
	defer span.End()
	span.SetAttributes(attribute.String("prescription_id", prescriptionID))

	if strings.TrimSpace(req.PharmacistID) == "" {
		return nil, StateError(CodeApproverRequired, "a requesting pharmacist id is required")
	}
	question := strings.TrimSpace(req.Question)
	if len(question) < s.minReason {
		return nil, StateError(CodeQuestionTooShort,
			fmt.Sprintf("clarification question must be at least %d characters", s.minReason))
	}

	p, err := s.store.GetWithItems(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("load prescription", err)
	}

	expected := p.Status
	if p.DoctorID == nil || *p.DoctorID == "" {
		return nil, StateError(CodeNoPrescribingDoctor,
			"prescription has no prescribing doctor to route the question to")
	}
	if !p.CanRequestClarification() {
		return nil, StateError(CodeInvalidStateForClarify,
			fmt.Sprintf("prescription in status %s cannot request clarification", p.Status))
	}
	if err := p.ToClarificationNeeded(question); err != nil {
		return nil, StateError(CodeInvalidStateForClarify, err.Error())
	}

	c := &prescription.Clarification{
		ID:             uuid.New().String(),
		PrescriptionID: p.ID,
		PharmacistID:   req.PharmacistID,
		DoctorID:       *p.DoctorID,
		Question:       question,
		Category:       req.Category,
		Status:         prescription.ClarificationPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.SaveClarification(ctx, p, expected, c); err != nil {
		switch {
		case errors.Is(err, prescription.ErrStaleState):
			return nil, &Error{
				Code:    CodeInvalidStateForClarify,
				Message: "prescription status changed while requesting clarification, reload and retry",
				Status:  http.StatusConflict,
				cause:   err,
			}
		case errors.Is(err, prescription.ErrNotFound):
			return nil, NotFoundError(prescriptionID)
		}
		return nil, InternalError("persist clarification", err)
	}

	if s.metrics != nil {
		s.metrics.Clarifications.Inc()
		s.metrics.PrescriptionsInReview.Dec()
	}
	s.notifyDoctor(ctx, c.DoctorID, "prescription.clarification_requested", c)
	s.audit(ctx, "prescription.clarification_requested", p.ID, map[string]interface{}{
		"pharmacistId": req.PharmacistID,
		"doctorId":     c.DoctorID,
		"category":     req.Category,
	})

	s.logger.Info("clarification requested",
		zap.String("prescription_id", p.ID),
		zap.String("pharmacist_id", req.PharmacistID),
		zap.String("doctor_id", c.DoctorID),
	)
	return &ClarificationResult{Prescription: p, Clarification: c}, nil
}

// notifyPatient delivers best effort and reports whether it succeeded.
func (s *Service) notifyPatient(ctx context.Context, patientID, event string, payload interface{}) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.NotifyPatient(ctx, patientID, event, payload); err != nil {
		s.logger.Warn("patient notification failed",
			zap.String("patient_id", patientID),
			zap.String("event", event),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Service) notifyDoctor(ctx context.Context, doctorID, event string, payload interface{}) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.NotifyDoctor(ctx, doctorID, event, payload); err != nil {
		s.logger.Warn("doctor notification failed",
			zap.String("doctor_id", doctorID),
			zap.String("event", event),
			zap.Error(err))
		return false
	}
	return true
}

func (s *Service) audit(ctx context.Context, event, prescriptionID string, payload interface{}) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, event, prescriptionID, payload); err != nil {
		s.logger.Warn("audit record failed",
			zap.String("event", event),
			zap.String("prescription_id", prescriptionID),
			zap.Error(err))
	}
}
