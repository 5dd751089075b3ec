package lifecycle

import (
	"errors"
	"testing"

	"github.com/careloop/rx-engine/internal/domain/prescription"
)

func intp(v int) *int { return &v }

func flaggedPrescription() *prescription.Prescription {
	return &prescription.Prescription{
		ID:     "rx-1",
		Status: prescription.StatusInReview,
		Items: []prescription.Item{
			{
				ID:                  "item-1",
				MedicationName:      "Amoxicillin",
				Dosage:              "500mg",
				Frequency:           "twice daily",
				NameConfidence:      intp(65),
				DosageConfidence:    intp(95),
				FrequencyConfidence: intp(72),
			},
			{
				ID:               "item-2",
				MedicationName:   "Ibuprofen",
				Dosage:           "400mg",
				Frequency:        "once daily",
				NameConfidence:   intp(92),
				DosageConfidence: intp(90),
			},
		},
	}
}

func TestGatePassesUnflaggedPrescription(t *testing.T) {
	g := NewGate(80, nil)
	p := &prescription.Prescription{
		Status: prescription.StatusInReview,
		Items: []prescription.Item{
			{ID: "item-1", MedicationName: "Ibuprofen", NameConfidence: intp(95)},
		},
	}

	items, records, err := g.Enforce(p, false, nil, "ph-1")
	if err != nil {
		t.Fatalf("unflagged prescription must pass: %v", err)
	}
	if len(items) != 0 || len(records) != 0 {
		t.Error("no corrections supplied, nothing should be touched")
	}
}

func TestGateRequiresVerificationFlag(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	_, _, err := g.Enforce(p, false, nil, "ph-1")
	e, ok := AsError(err)
	if !ok || e.Code != CodeLowConfidenceVerificationRequired {
		t.Fatalf("got %v, want LOW_CONFIDENCE_VERIFICATION_REQUIRED", err)
	}
	flagged, ok := e.Details.([]MissingVerification)
	if !ok || len(flagged) != 1 {
		t.Fatalf("details = %#v, want one flagged item", e.Details)
	}
	if flagged[0].ItemID != "item-1" || len(flagged[0].MissingFields) != 2 {
		t.Errorf("flagged = %+v", flagged[0])
	}
}

func TestGateRequiresCorrectionRecords(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	_, _, err := g.Enforce(p, true, nil, "ph-1")
	e, ok := AsError(err)
	if !ok || e.Code != CodeFieldCorrectionsRequired {
		t.Fatalf("got %v, want FIELD_CORRECTIONS_REQUIRED", err)
	}
}

func TestGateIdentifiesExactMissingFields(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	// item-1 has two flagged fields; only one is covered
	corrections := []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName, WasCorrected: false},
	}
	_, _, err := g.Enforce(p, true, corrections, "ph-1")
	e, ok := AsError(err)
	if !ok || e.Code != CodeIncompleteFieldVerification {
		t.Fatalf("got %v, want INCOMPLETE_FIELD_VERIFICATION", err)
	}
	missing, ok := e.Details.([]MissingVerification)
	if !ok || len(missing) != 1 {
		t.Fatalf("details = %#v", e.Details)
	}
	if missing[0].ItemID != "item-1" {
		t.Errorf("missing item = %s", missing[0].ItemID)
	}
	if len(missing[0].MissingFields) != 1 || missing[0].MissingFields[0] != prescription.FieldFrequency {
		t.Errorf("missing fields = %v, want [frequency]", missing[0].MissingFields)
	}
}

func TestGateAppliesCorrectionsAndRecordsAudit(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	corrections := []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName, WasCorrected: true, CorrectedValue: "Amoxicillin-Clavulanate"},
		{ItemID: "item-1", FieldName: prescription.FieldFrequency, WasCorrected: false},
	}
	items, records, err := g.Enforce(p, true, corrections, "ph-1")
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if len(items) != 1 || items[0].ID != "item-1" {
		t.Fatalf("touched items = %+v", items)
	}
	if items[0].MedicationName != "Amoxicillin-Clavulanate" {
		t.Errorf("correction not applied: %s", items[0].MedicationName)
	}
	if !items[0].PharmacistCorrected {
		t.Error("corrected item must be flagged pharmacist_corrected")
	}
	if len(items[0].OriginalAIValue) == 0 {
		t.Error("original AI value snapshot missing")
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	byField := map[string]prescription.FieldCorrection{}
	for _, r := range records {
		byField[r.FieldName] = r
	}
	corr := byField[prescription.FieldMedicationName]
	if corr.Type != prescription.CorrectionTypeCorrection {
		t.Errorf("changed value must record type correction, got %s", corr.Type)
	}
	if corr.OriginalValue != "Amoxicillin" || corr.CorrectedValue != "Amoxicillin-Clavulanate" {
		t.Errorf("record values = %+v", corr)
	}
	ver := byField[prescription.FieldFrequency]
	if ver.Type != prescription.CorrectionTypeVerification {
		t.Errorf("confirmed value must record type verification, got %s", ver.Type)
	}
	if ver.OriginalValue != ver.CorrectedValue {
		t.Error("verification record must carry the unchanged value on both sides")
	}
	for _, r := range records {
		if r.CorrectedBy != "ph-1" {
			t.Errorf("record attributed to %s", r.CorrectedBy)
		}
	}
}

func TestGateRejectsDuplicateCorrection(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	corrections := []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName},
		{ItemID: "item-1", FieldName: prescription.FieldFrequency},
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName},
	}
	_, _, err := g.Enforce(p, true, corrections, "ph-1")
	e, ok := AsError(err)
	if !ok || e.Code != CodeInvalidCorrection {
		t.Fatalf("got %v, want INVALID_CORRECTION", err)
	}
}

func TestGateRejectsUnknownItemAndField(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	_, _, err := g.Enforce(p, true, []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName},
		{ItemID: "item-1", FieldName: prescription.FieldFrequency},
		{ItemID: "nope", FieldName: prescription.FieldDosage},
	}, "ph-1")
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidCorrection {
		t.Fatalf("unknown item: got %v", err)
	}

	p = flaggedPrescription()
	_, _, err = g.Enforce(p, true, []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName},
		{ItemID: "item-1", FieldName: prescription.FieldFrequency},
		{ItemID: "item-2", FieldName: "quantity"},
	}, "ph-1")
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidCorrection {
		t.Fatalf("unknown field: got %v", err)
	}
}

func TestGateAllowsExtraCorrectionsOnPassingFields(t *testing.T) {
	g := NewGate(80, nil)
	p := flaggedPrescription()

	// Corrections beyond the flagged set are legitimate pharmacist edits
	corrections := []CorrectionInput{
		{ItemID: "item-1", FieldName: prescription.FieldMedicationName},
		{ItemID: "item-1", FieldName: prescription.FieldFrequency},
		{ItemID: "item-2", FieldName: prescription.FieldDosage, WasCorrected: true, CorrectedValue: "600mg"},
	}
	items, records, err := g.Enforce(p, true, corrections, "ph-1")
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	var found bool
	for _, it := range items {
		if it.ID == "item-2" && it.Dosage == "600mg" {
			found = true
		}
	}
	if !found {
		t.Error("item-2 dosage correction not applied")
	}
}

func TestErrorIsMatchesOnCode(t *testing.T) {
	err := StateError(CodeReasonTooShort, "too short")
	if !errors.Is(err, &Error{Code: CodeReasonTooShort}) {
		t.Error("errors.Is must match on code")
	}
	if errors.Is(err, &Error{Code: CodeNoItems}) {
		t.Error("different codes must not match")
	}
}
