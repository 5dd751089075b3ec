package safety

import (
	"context"
	"errors"
	"testing"
)

type fakeInteractionSource struct {
	findings []InteractionFinding
	err      error
	calls    int
}

func (f *fakeInteractionSource) Interactions(ctx context.Context, meds []string) ([]InteractionFinding, error) {
	f.calls++
	return f.findings, f.err
}

type fakePatientSource struct {
	allergies  []PatientAllergy
	conditions []PatientCondition
	err        error
}

func (f *fakePatientSource) Allergies(ctx context.Context, patientID string) ([]PatientAllergy, error) {
	return f.allergies, f.err
}

func (f *fakePatientSource) Conditions(ctx context.Context, patientID string) ([]PatientCondition, error) {
	return f.conditions, f.err
}

func TestInteractionCheckSkipsSingleMedication(t *testing.T) {
	src := &fakeInteractionSource{}
	c := NewInteractionChecker(src, nil)

	res := c.Check(context.Background(), []string{"lisinopril"})
	if res.Degraded || res.HasFindings() {
		t.Error("single medication must yield a clean empty result")
	}
	if src.calls != 0 {
		t.Error("source must not be queried for fewer than two medications")
	}
}

func TestInteractionCheckDegradesOnSourceError(t *testing.T) {
	src := &fakeInteractionSource{err: errors.New("circuit breaker is open")}
	c := NewInteractionChecker(src, nil)

	res := c.Check(context.Background(), []string{"warfarin", "aspirin"})
	if !res.Degraded {
		t.Fatal("source error must degrade, not fail")
	}
	if res.DegradedReason == "" {
		t.Error("degraded reason missing")
	}
	if res.HasFindings() {
		t.Error("degraded result must carry no findings")
	}
}

func TestInteractionCheckDegradesWithNilSource(t *testing.T) {
	c := NewInteractionChecker(nil, nil)
	res := c.Check(context.Background(), []string{"warfarin", "aspirin"})
	if !res.Degraded {
		t.Fatal("nil source must degrade")
	}
}

func TestInteractionCheckSortsFindings(t *testing.T) {
	src := &fakeInteractionSource{findings: []InteractionFinding{
		{MedicationA: "a", MedicationB: "b", Severity: InteractionMinor},
		{MedicationA: "c", MedicationB: "d", Severity: InteractionContraindicated},
	}}
	c := NewInteractionChecker(src, nil)

	res := c.Check(context.Background(), []string{"a", "c"})
	if len(res.Findings) != 2 {
		t.Fatalf("got %d findings", len(res.Findings))
	}
	if res.Findings[0].Severity != InteractionContraindicated {
		t.Error("findings not sorted most severe first")
	}
}

func TestAllergyCheckMatchesDrugClass(t *testing.T) {
	src := &fakePatientSource{allergies: []PatientAllergy{
		{Allergen: "penicillin", Severity: "anaphylaxis"},
	}}
	c := NewAllergyChecker(src, nil)

	res := c.Check(context.Background(), []string{"Amoxicillin 500mg", "ibuprofen"}, "pat-1")
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	if f.Medication != "Amoxicillin 500mg" || f.Allergen != "penicillin" {
		t.Errorf("unexpected finding %+v", f)
	}
	if f.Severity != AllergyLifeThreatening {
		t.Errorf("anaphylaxis must map to life_threatening, got %s", f.Severity)
	}
}

func TestAllergyCheckUnknownSeverityDefaultsModerate(t *testing.T) {
	src := &fakePatientSource{allergies: []PatientAllergy{
		{Allergen: "ibuprofen", Severity: "weird"},
	}}
	c := NewAllergyChecker(src, nil)

	res := c.Check(context.Background(), []string{"ibuprofen"}, "pat-1")
	if len(res.Findings) != 1 || res.Findings[0].Severity != AllergyModerate {
		t.Fatalf("unknown severity must land on moderate, got %+v", res.Findings)
	}
}

func TestAllergyCheckDegradesOnError(t *testing.T) {
	src := &fakePatientSource{err: errors.New("timeout")}
	c := NewAllergyChecker(src, nil)

	res := c.Check(context.Background(), []string{"amoxicillin"}, "pat-1")
	if !res.Degraded || res.HasFindings() {
		t.Fatal("source error must degrade to empty findings")
	}
}

func TestContraindicationCheckMatchesActiveCondition(t *testing.T) {
	src := &fakePatientSource{conditions: []PatientCondition{
		{Condition: "Renal failure stage 4", Active: true},
		{Condition: "Peptic ulcer", Active: false},
	}}
	c := NewContraindicationChecker(src, nil)

	res := c.Check(context.Background(), []string{"Metformin 850mg", "Ibuprofen 400mg"}, "pat-1")
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.Medication != "Metformin 850mg" || f.Severity != ContraindicationAbsolute {
		t.Errorf("unexpected finding %+v", f)
	}
}

func TestContraindicationCheckClassRule(t *testing.T) {
	src := &fakePatientSource{conditions: []PatientCondition{
		{Condition: "pregnancy", Active: true},
	}}
	c := NewContraindicationChecker(src, nil)

	// lisinopril matches the "ace inhibitor" class keyword via the class table
	res := c.Check(context.Background(), []string{"Lisinopril 10mg"}, "pat-1")
	if len(res.Findings) != 1 || res.Findings[0].Severity != ContraindicationAbsolute {
		t.Fatalf("ACE inhibitor in pregnancy must flag absolute, got %+v", res.Findings)
	}
}

func TestMatchesSubstance(t *testing.T) {
	cases := []struct {
		med, sub string
		want     bool
	}{
		{"Amoxicillin 500mg", "amoxicillin", true},
		{"amoxicillin", "penicillin", true},
		{"ibuprofen", "nsaid", true},
		{"acetaminophen", "penicillin", false},
		{"", "penicillin", false},
		{"amoxicillin", "", false},
	}
	for _, tc := range cases {
		if got := matchesSubstance(tc.med, tc.sub); got != tc.want {
			t.Errorf("matchesSubstance(%q, %q) = %v, want %v", tc.med, tc.sub, got, tc.want)
		}
	}
}
