package safety

import "testing"

func TestSeverityRankOrdering(t *testing.T) {
	if !(InteractionMinor.Rank() < InteractionModerate.Rank() &&
		InteractionModerate.Rank() < InteractionMajor.Rank() &&
		InteractionMajor.Rank() < InteractionContraindicated.Rank()) {
		t.Error("interaction severity ranks out of order")
	}
	if !(AllergyMild.Rank() < AllergyModerate.Rank() &&
		AllergyModerate.Rank() < AllergySevere.Rank() &&
		AllergySevere.Rank() < AllergyLifeThreatening.Rank()) {
		t.Error("allergy severity ranks out of order")
	}
	if !(ContraindicationPrecaution.Rank() < ContraindicationRelative.Rank() &&
		ContraindicationRelative.Rank() < ContraindicationAbsolute.Rank()) {
		t.Error("contraindication severity ranks out of order")
	}
	if InteractionSeverity("bogus").Rank() != 0 {
		t.Error("unknown severity must rank below every defined tier")
	}
}

func TestSortAllergiesBySeverity(t *testing.T) {
	findings := []AllergyFinding{
		{Allergen: "a", Severity: AllergyMild},
		{Allergen: "b", Severity: AllergyLifeThreatening},
		{Allergen: "c", Severity: AllergyModerate},
	}
	SortAllergiesBySeverity(findings)

	want := []AllergySeverity{AllergyLifeThreatening, AllergyModerate, AllergyMild}
	for i, f := range findings {
		if f.Severity != want[i] {
			t.Fatalf("position %d = %s, want %s", i, f.Severity, want[i])
		}
	}
}

func TestSortIsStableWithinTier(t *testing.T) {
	findings := []InteractionFinding{
		{MedicationA: "first", Severity: InteractionModerate},
		{MedicationA: "second", Severity: InteractionModerate},
		{MedicationA: "third", Severity: InteractionMajor},
	}
	SortInteractionsBySeverity(findings)

	if findings[0].MedicationA != "third" {
		t.Fatal("major must sort first")
	}
	if findings[1].MedicationA != "first" || findings[2].MedicationA != "second" {
		t.Error("same-tier findings must keep insertion order")
	}
}

func TestFilterBySeverity(t *testing.T) {
	findings := []InteractionFinding{
		{Severity: InteractionMinor},
		{Severity: InteractionModerate},
		{Severity: InteractionContraindicated},
	}
	kept := FilterInteractionsBySeverity(findings, InteractionModerate)
	if len(kept) != 2 {
		t.Fatalf("kept %d findings, want 2", len(kept))
	}
}

func TestWorstTierHelpers(t *testing.T) {
	if HasContraindicatedInteractions([]InteractionFinding{{Severity: InteractionMajor}}) {
		t.Error("major is not the worst interaction tier")
	}
	if !HasContraindicatedInteractions([]InteractionFinding{{Severity: InteractionContraindicated}}) {
		t.Error("contraindicated finding not detected")
	}
	if !HasLifeThreateningAllergies([]AllergyFinding{{Severity: AllergyLifeThreatening}}) {
		t.Error("life threatening allergy not detected")
	}
	if HasLifeThreateningAllergies([]AllergyFinding{{Severity: AllergySevere}}) {
		t.Error("severe is not the worst allergy tier")
	}
	if !HasAbsoluteContraindications([]ContraindicationFinding{{Severity: ContraindicationAbsolute}}) {
		t.Error("absolute contraindication not detected")
	}
	if HasAbsoluteContraindications(nil) {
		t.Error("empty findings must not flag")
	}
}
