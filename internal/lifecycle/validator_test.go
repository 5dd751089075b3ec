package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/careloop/rx-engine/internal/domain/prescription"
	"github.com/careloop/rx-engine/internal/safety"
)

type stubInteractionSource struct {
	findings []safety.InteractionFinding
	err      error
}

func (s *stubInteractionSource) Interactions(ctx context.Context, meds []string) ([]safety.InteractionFinding, error) {
	return s.findings, s.err
}

type stubPatientSource struct {
	allergies  []safety.PatientAllergy
	conditions []safety.PatientCondition
	err        error
}

func (s *stubPatientSource) Allergies(ctx context.Context, patientID string) ([]safety.PatientAllergy, error) {
	return s.allergies, s.err
}

func (s *stubPatientSource) Conditions(ctx context.Context, patientID string) ([]safety.PatientCondition, error) {
	return s.conditions, s.err
}

func newTestValidator(store Store, is safety.InteractionSource, ps safety.PatientDataSource) *Validator {
	return NewValidator(store,
		safety.NewInteractionChecker(is, nil),
		safety.NewAllergyChecker(ps, nil),
		safety.NewContraindicationChecker(ps, nil),
		nil, nil)
}

func validatablePrescription() *prescription.Prescription {
	return &prescription.Prescription{
		ID:        "rx-1",
		PatientID: "pat-1",
		Status:    prescription.StatusPending,
		Items: []prescription.Item{
			{ID: "item-1", MedicationName: "Warfarin"},
			{ID: "item-2", MedicationName: "Aspirin"},
		},
	}
}

func TestValidateCleanRun(t *testing.T) {
	store := newMockStore(validatablePrescription())
	v := newTestValidator(store, &stubInteractionSource{}, &stubPatientSource{})

	out, err := v.Validate(context.Background(), "rx-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if out.Verdict != VerdictValidated {
		t.Errorf("verdict = %s, want validated", out.Verdict)
	}
	if !out.CanApprove {
		t.Error("clean run must allow approval")
	}
	if len(out.DegradedDomains) != 0 {
		t.Errorf("degraded domains = %v", out.DegradedDomains)
	}
	if store.prescriptions["rx-1"].Status != prescription.StatusInReview {
		t.Error("pending prescription must advance to in_review")
	}
	if store.prescriptions["rx-1"].ValidatedAt == nil {
		t.Error("validation timestamp not persisted")
	}
}

func TestValidateMergesFindingsIntoWarnings(t *testing.T) {
	store := newMockStore(validatablePrescription())
	is := &stubInteractionSource{findings: []safety.InteractionFinding{
		{MedicationA: "Warfarin", MedicationB: "Aspirin", Severity: safety.InteractionMajor},
	}}
	ps := &stubPatientSource{allergies: []safety.PatientAllergy{
		{Allergen: "aspirin", Severity: "mild"},
	}}
	v := newTestValidator(store, is, ps)

	out, err := v.Validate(context.Background(), "rx-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if out.Verdict != VerdictWarnings {
		t.Errorf("verdict = %s, want warnings", out.Verdict)
	}
	if !out.CanApprove {
		t.Error("warnings must not block approval")
	}
	if len(out.DrugInteractions) != 1 || len(out.AllergyWarnings) != 1 {
		t.Errorf("findings: interactions=%d allergies=%d",
			len(out.DrugInteractions), len(out.AllergyWarnings))
	}

	saved := store.prescriptions["rx-1"]
	if len(saved.DrugInteractions) != 1 || len(saved.AllergyWarnings) != 1 {
		t.Error("findings not persisted onto the prescription")
	}
}

func TestValidateCriticalIssuesBlockApproval(t *testing.T) {
	store := newMockStore(validatablePrescription())
	ps := &stubPatientSource{allergies: []safety.PatientAllergy{
		{Allergen: "aspirin", Severity: "anaphylaxis"},
	}}
	v := newTestValidator(store, &stubInteractionSource{}, ps)

	out, err := v.Validate(context.Background(), "rx-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if out.Verdict != VerdictCriticalIssues {
		t.Errorf("verdict = %s, want critical_issues", out.Verdict)
	}
	if out.CanApprove {
		t.Error("critical issues must block approval")
	}
}

func TestValidateDegradedSourceStillYieldsOutcome(t *testing.T) {
	store := newMockStore(validatablePrescription())
	is := &stubInteractionSource{err: errors.New("interaction db unreachable")}
	ps := &stubPatientSource{allergies: []safety.PatientAllergy{
		{Allergen: "aspirin", Severity: "mild"},
	}}
	v := newTestValidator(store, is, ps)

	out, err := v.Validate(context.Background(), "rx-1")
	if err != nil {
		t.Fatalf("degraded source must not fail validation: %v", err)
	}
	if len(out.DegradedDomains) != 1 || out.DegradedDomains[0] != "interactions" {
		t.Errorf("degraded domains = %v, want [interactions]", out.DegradedDomains)
	}
	if len(out.DrugInteractions) != 0 {
		t.Error("degraded domain must carry no findings")
	}
	// The allergy domain still contributed its findings
	if out.Verdict != VerdictWarnings {
		t.Errorf("verdict = %s, want warnings", out.Verdict)
	}
}

func TestValidateAllSourcesDown(t *testing.T) {
	store := newMockStore(validatablePrescription())
	v := newTestValidator(store,
		&stubInteractionSource{err: errors.New("down")},
		&stubPatientSource{err: errors.New("down")})

	out, err := v.Validate(context.Background(), "rx-1")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(out.DegradedDomains) != 3 {
		t.Errorf("degraded domains = %v, want all three", out.DegradedDomains)
	}
	if out.Verdict != VerdictValidated {
		t.Errorf("verdict = %s; empty findings still read validated", out.Verdict)
	}
}

func TestValidateNotFound(t *testing.T) {
	v := newTestValidator(newMockStore(), &stubInteractionSource{}, &stubPatientSource{})

	_, err := v.Validate(context.Background(), "missing")
	if e, ok := AsError(err); !ok || e.Code != CodePrescriptionNotFound {
		t.Fatalf("got %v, want PRESCRIPTION_NOT_FOUND", err)
	}
}

func TestValidateTerminalState(t *testing.T) {
	p := validatablePrescription()
	p.Status = prescription.StatusRejected
	v := newTestValidator(newMockStore(p), &stubInteractionSource{}, &stubPatientSource{})

	_, err := v.Validate(context.Background(), "rx-1")
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidState {
		t.Fatalf("got %v, want INVALID_STATE", err)
	}
}

func TestValidateNoItems(t *testing.T) {
	p := validatablePrescription()
	p.Items = nil
	v := newTestValidator(newMockStore(p), &stubInteractionSource{}, &stubPatientSource{})

	_, err := v.Validate(context.Background(), "rx-1")
	if e, ok := AsError(err); !ok || e.Code != CodeNoItems {
		t.Fatalf("got %v, want NO_ITEMS", err)
	}
}

func TestValidateRevalidationKeepsReviewStatus(t *testing.T) {
	p := validatablePrescription()
	p.Status = prescription.StatusInReview
	store := newMockStore(p)
	v := newTestValidator(store, &stubInteractionSource{}, &stubPatientSource{})

	if _, err := v.Validate(context.Background(), "rx-1"); err != nil {
		t.Fatalf("revalidation failed: %v", err)
	}
	if store.prescriptions["rx-1"].Status != prescription.StatusInReview {
		t.Error("revalidation must not change in_review status")
	}
}
