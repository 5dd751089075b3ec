package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/domain/treatmentplan"
	"github.com/careloop/rx-engine/internal/safety"
)

type mockStore struct {
	prescriptions map[string]*prescription.Prescription

	saveValidationErr    error
	saveTransitionErr    error
	saveApprovalErr      error
	saveClarificationErr error
	linkErr              error

	savedCorrections []prescription.FieldCorrection
	savedClar        *prescription.Clarification
	linkedPlanID     string
}

func newMockStore(ps ...*prescription.Prescription) *mockStore {
	m := &mockStore{prescriptions: map[string]*prescription.Prescription{}}
	for _, p := range ps {
		m.prescriptions[p.ID] = p
	}
	return m
}

func (m *mockStore) GetWithItems(ctx context.Context, id string) (*prescription.Prescription, error) {
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	cp := *p
	cp.Items = append([]prescription.Item(nil), p.Items...)
	return &cp, nil
}

func (m *mockStore) SaveValidation(ctx context.Context, p *prescription.Prescription) error {
	if m.saveValidationErr != nil {
		return m.saveValidationErr
	}
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockStore) SaveTransition(ctx context.Context, p *prescription.Prescription, expected prescription.Status) error {
	if m.saveTransitionErr != nil {
		return m.saveTransitionErr
	}
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockStore) SaveApproval(ctx context.Context, p *prescription.Prescription, expected prescription.Status, items []prescription.Item, corrections []prescription.FieldCorrection) error {
	if m.saveApprovalErr != nil {
		return m.saveApprovalErr
	}
	m.savedCorrections = corrections
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockStore) SaveClarification(ctx context.Context, p *prescription.Prescription, expected prescription.Status, c *prescription.Clarification) error {
	if m.saveClarificationErr != nil {
		return m.saveClarificationErr
	}
	m.savedClar = c
	m.prescriptions[p.ID] = p
	return nil
}

func (m *mockStore) LinkTreatmentPlan(ctx context.Context, prescriptionID, planID string) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	m.linkedPlanID = planID
	return nil
}

type mockPlanner struct {
	plan *treatmentplan.Plan
	err  error
}

func (m *mockPlanner) CreateForPrescription(ctx context.Context, p *prescription.Prescription) (*treatmentplan.Plan, error) {
	return m.plan, m.err
}

type mockNotifier struct {
	patientErr error
	doctorErr  error
	patients   []string
	doctors    []string
}

func (m *mockNotifier) NotifyPatient(ctx context.Context, patientID, event string, payload interface{}) error {
	if m.patientErr != nil {
		return m.patientErr
	}
	m.patients = append(m.patients, event)
	return nil
}

func (m *mockNotifier) NotifyDoctor(ctx context.Context, doctorID, event string, payload interface{}) error {
	if m.doctorErr != nil {
		return m.doctorErr
	}
	m.doctors = append(m.doctors, event)
	return nil
}

type mockAuditor struct {
	events []string
}

func (m *mockAuditor) Record(ctx context.Context, event, prescriptionID string, payload interface{}) error {
	m.events = append(m.events, event)
	return nil
}

func reviewablePrescription() *prescription.Prescription {
	doctor := "doc-1"
	return &prescription.Prescription{
		ID:        "rx-1",
		PatientID: "pat-1",
		DoctorID:  &doctor,
		Status:    prescription.StatusInReview,
		Items: []prescription.Item{
			{ID: "item-1", MedicationName: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily", NameConfidence: intp(95)},
		},
	}
}

func newTestService(store Store, planner Planner, notifier Notifier, auditor Auditor) *Service {
	return NewService(store, NewGate(80, nil), planner, notifier, auditor, 0, nil, nil)
}

func TestApproveHappyPath(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	planner := &mockPlanner{plan: &treatmentplan.Plan{ID: "plan-1"}}
	notifier := &mockNotifier{}
	auditor := &mockAuditor{}
	svc := newTestService(store, planner, notifier, auditor)

	res, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if res.Prescription.Status != prescription.StatusApproved {
		t.Errorf("status = %s", res.Prescription.Status)
	}
	if res.TreatmentPlan == nil || res.TreatmentPlan.ID != "plan-1" {
		t.Error("treatment plan missing from result")
	}
	if store.linkedPlanID != "plan-1" {
		t.Error("plan not linked to prescription")
	}
	if res.Prescription.TreatmentPlanID == nil || *res.Prescription.TreatmentPlanID != "plan-1" {
		t.Error("prescription does not carry plan id")
	}
	if len(auditor.events) != 1 || auditor.events[0] != "prescription.approved" {
		t.Errorf("audit events = %v", auditor.events)
	}
	if len(notifier.patients) != 1 {
		t.Errorf("patient notifications = %v", notifier.patients)
	}
}

func TestApproveRequiresPharmacist(t *testing.T) {
	svc := newTestService(newMockStore(reviewablePrescription()), nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "  "})
	if e, ok := AsError(err); !ok || e.Code != CodeApproverRequired {
		t.Fatalf("got %v, want APPROVER_REQUIRED", err)
	}
}

func TestApproveNotFound(t *testing.T) {
	svc := newTestService(newMockStore(), nil, nil, nil)

	_, err := svc.Approve(context.Background(), "missing", ApproveRequest{PharmacistID: "ph-1"})
	e, ok := AsError(err)
	if !ok || e.Code != CodePrescriptionNotFound || e.Status != http.StatusNotFound {
		t.Fatalf("got %v", err)
	}
}

func TestApproveWrongState(t *testing.T) {
	p := reviewablePrescription()
	p.Status = prescription.StatusPending
	svc := newTestService(newMockStore(p), nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidStateForApproval {
		t.Fatalf("got %v, want INVALID_STATE_FOR_APPROVAL", err)
	}
}

func TestApproveExpiredPrescription(t *testing.T) {
	p := reviewablePrescription()
	past := time.Now().UTC().Add(-time.Hour)
	p.ExpiryDate = &past
	svc := newTestService(newMockStore(p), nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	if e, ok := AsError(err); !ok || e.Code != CodePrescriptionExpired {
		t.Fatalf("got %v, want PRESCRIPTION_EXPIRED", err)
	}
}

func TestApproveBlockedByCriticalFindings(t *testing.T) {
	p := reviewablePrescription()
	p.AllergyWarnings = []safety.AllergyFinding{
		{Medication: "Amoxicillin", Allergen: "penicillin", Severity: safety.AllergyLifeThreatening},
	}
	store := newMockStore(p)
	svc := newTestService(store, nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	e, ok := AsError(err)
	if !ok || e.Code != CodeCriticalSafetyIssues {
		t.Fatalf("got %v, want CRITICAL_SAFETY_ISSUES", err)
	}
	if e.Details == nil {
		t.Error("critical block must carry the findings as details")
	}
	if store.prescriptions["rx-1"].Status != prescription.StatusInReview {
		t.Error("blocked approval must not change stored status")
	}
}

func TestApproveStaleStateConflicts(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	store.saveApprovalErr = prescription.ErrStaleState
	svc := newTestService(store, nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	e, ok := AsError(err)
	if !ok || e.Status != http.StatusConflict {
		t.Fatalf("got %v, want 409 conflict", err)
	}
}

func TestApproveSurvivesPlanFailure(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	planner := &mockPlanner{err: errors.New("generator exploded")}
	svc := newTestService(store, planner, nil, nil)

	res, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	if err != nil {
		t.Fatalf("plan failure must not fail the approval: %v", err)
	}
	if res.TreatmentPlan != nil {
		t.Error("no plan should be attached")
	}
	if store.prescriptions["rx-1"].Status != prescription.StatusApproved {
		t.Error("approval must be committed despite plan failure")
	}
}

func TestApproveGateBlocksUnverifiedLowConfidence(t *testing.T) {
	p := reviewablePrescription()
	p.Items[0].NameConfidence = intp(60)
	svc := newTestService(newMockStore(p), nil, nil, nil)

	_, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{PharmacistID: "ph-1"})
	if e, ok := AsError(err); !ok || e.Code != CodeLowConfidenceVerificationRequired {
		t.Fatalf("got %v, want LOW_CONFIDENCE_VERIFICATION_REQUIRED", err)
	}
}

func TestApprovePersistsCorrectionRecords(t *testing.T) {
	p := reviewablePrescription()
	p.Items[0].DosageConfidence = intp(55)
	store := newMockStore(p)
	svc := newTestService(store, nil, nil, nil)

	res, err := svc.Approve(context.Background(), "rx-1", ApproveRequest{
		PharmacistID:          "ph-1",
		LowConfidenceVerified: true,
		Corrections: []CorrectionInput{
			{ItemID: "item-1", FieldName: prescription.FieldDosage, WasCorrected: true, CorrectedValue: "250mg"},
		},
	})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if res.Corrections != 1 {
		t.Errorf("corrections recorded = %d", res.Corrections)
	}
	if len(store.savedCorrections) != 1 || store.savedCorrections[0].CorrectedValue != "250mg" {
		t.Errorf("saved corrections = %+v", store.savedCorrections)
	}
}

func TestRejectReasonLength(t *testing.T) {
	svc := newTestService(newMockStore(reviewablePrescription()), nil, nil, nil)

	// 9 characters fails
	_, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "too short"})
	if e, ok := AsError(err); !ok || e.Code != CodeReasonTooShort {
		t.Fatalf("got %v, want REASON_TOO_SHORT", err)
	}

	// 10 characters passes
	res, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "long rsn!!"})
	if err != nil {
		t.Fatalf("10-character reason must pass: %v", err)
	}
	if res.Prescription.Status != prescription.StatusRejected {
		t.Errorf("status = %s", res.Prescription.Status)
	}
}

func TestRejectHonorsConfiguredReasonLength(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	svc := NewService(store, NewGate(80, nil), nil, nil, nil, 5, nil, nil)

	_, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "torn"})
	if e, ok := AsError(err); !ok || e.Code != CodeReasonTooShort {
		t.Fatalf("4 characters must fail a 5-character floor: %v", err)
	}

	if _, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "smear"}); err != nil {
		t.Fatalf("5-character reason must pass a 5-character floor: %v", err)
	}
}

func TestRejectTrimsReasonBeforeMeasuring(t *testing.T) {
	svc := newTestService(newMockStore(reviewablePrescription()), nil, nil, nil)

	_, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "   short    "})
	if e, ok := AsError(err); !ok || e.Code != CodeReasonTooShort {
		t.Fatalf("padding must not satisfy the length floor: %v", err)
	}
}

func TestRejectNotificationsAreBestEffort(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	notifier := &mockNotifier{patientErr: errors.New("webhook down")}
	svc := newTestService(store, nil, notifier, nil)

	res, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "illegible dosage line"})
	if err != nil {
		t.Fatalf("notification failure must not fail rejection: %v", err)
	}
	if len(res.NotificationsSent) != 1 || res.NotificationsSent[0] != "doctor" {
		t.Errorf("notifications sent = %v, want [doctor]", res.NotificationsSent)
	}
	if store.prescriptions["rx-1"].Status != prescription.StatusRejected {
		t.Error("rejection must be committed")
	}
}

func TestRejectBothPartiesNotified(t *testing.T) {
	notifier := &mockNotifier{}
	svc := newTestService(newMockStore(reviewablePrescription()), nil, notifier, nil)

	res, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "duplicate of rx-0 submitted yesterday"})
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if len(res.NotificationsSent) != 2 {
		t.Errorf("notifications sent = %v", res.NotificationsSent)
	}
}

func TestRejectWrongState(t *testing.T) {
	p := reviewablePrescription()
	p.Status = prescription.StatusApproved
	svc := newTestService(newMockStore(p), nil, nil, nil)

	_, err := svc.Reject(context.Background(), "rx-1", RejectRequest{PharmacistID: "ph-1", Reason: "changed my mind about it"})
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidStateForRejection {
		t.Fatalf("got %v, want INVALID_STATE_FOR_REJECTION", err)
	}
}

func TestRequestClarificationHappyPath(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	notifier := &mockNotifier{}
	svc := newTestService(store, nil, notifier, nil)

	res, err := svc.RequestClarification(context.Background(), "rx-1", ClarifyRequest{
		PharmacistID: "ph-1",
		Question:     "Is 500mg intended for a 12kg child?",
		Category:     "dosage",
	})
	if err != nil {
		t.Fatalf("RequestClarification failed: %v", err)
	}
	if res.Prescription.Status != prescription.StatusClarificationNeeded {
		t.Errorf("status = %s", res.Prescription.Status)
	}
	c := res.Clarification
	if c.Status != prescription.ClarificationPending || c.DoctorID != "doc-1" || c.PharmacistID != "ph-1" {
		t.Errorf("clarification = %+v", c)
	}
	if store.savedClar == nil {
		t.Error("clarification not persisted")
	}
	if len(notifier.doctors) != 1 {
		t.Errorf("doctor notifications = %v", notifier.doctors)
	}
}

func TestRequestClarificationRequiresDoctor(t *testing.T) {
	p := reviewablePrescription()
	p.DoctorID = nil
	svc := newTestService(newMockStore(p), nil, nil, nil)

	_, err := svc.RequestClarification(context.Background(), "rx-1", ClarifyRequest{
		PharmacistID: "ph-1",
		Question:     "Is 500mg intended for a 12kg child?",
	})
	if e, ok := AsError(err); !ok || e.Code != CodeNoPrescribingDoctor {
		t.Fatalf("got %v, want NO_PRESCRIBING_DOCTOR", err)
	}
}

func TestRequestClarificationQuestionLength(t *testing.T) {
	svc := newTestService(newMockStore(reviewablePrescription()), nil, nil, nil)

	_, err := svc.RequestClarification(context.Background(), "rx-1", ClarifyRequest{
		PharmacistID: "ph-1",
		Question:     "why?",
	})
	if e, ok := AsError(err); !ok || e.Code != CodeQuestionTooShort {
		t.Fatalf("got %v, want QUESTION_TOO_SHORT", err)
	}
}

func TestRequestClarificationStaleState(t *testing.T) {
	store := newMockStore(reviewablePrescription())
	store.saveClarificationErr = prescription.ErrStaleState
	svc := newTestService(store, nil, nil, nil)

	_, err := svc.RequestClarification(context.Background(), "rx-1", ClarifyRequest{
		PharmacistID: "ph-1",
		Question:     "Is 500mg intended for a 12kg child?",
	})
	e, ok := AsError(err)
	if !ok || e.Status != http.StatusConflict {
		t.Fatalf("got %v, want 409 conflict", err)
	}
}
