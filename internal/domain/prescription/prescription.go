// Package prescription implements the prescription aggregate and its
// lifecycle state machine.
package prescription

import (
	"encoding/json"
	"time"

	"github.com/careloop/rx-engine/internal/safety"
)

// Prescription is the central aggregate: one uploaded prescription with its
// medication lines, validation findings and lifecycle metadata.
type Prescription struct {
	ID           string `json:"id"`
	PharmacyID   string `json:"pharmacy_id"`
	PatientID    string `json:"patient_id"`
	DoctorID     *string `json:"doctor_id,omitempty"`
	PharmacistID *string `json:"pharmacist_id,omitempty"`

	ImageURL string `json:"image_url,omitempty"`

	Status            Status `json:"status"`
	AIConfidenceScore *int   `json:"ai_confidence_score,omitempty"`

	// Findings from the last validation run. Nil until validation runs.
	DrugInteractions  []safety.InteractionFinding      `json:"drug_interactions,omitempty"`
	AllergyWarnings   []safety.AllergyFinding          `json:"allergy_warnings,omitempty"`
	Contraindications []safety.ContraindicationFinding `json:"contraindications,omitempty"`
	ValidatedAt       *time.Time                       `json:"validated_at,omitempty"`

	// Rejection and clarification carry distinct fields. The reason text is
	// never reused to store clarification notes.
	RejectionReason   string `json:"rejection_reason,omitempty"`
	ClarificationNote string `json:"clarification_note,omitempty"`

	ExpiryDate             *time.Time `json:"expiry_date,omitempty"`
	ApprovedAt             *time.Time `json:"approved_at,omitempty"`
	ApprovedByPharmacistID *string    `json:"approved_by_pharmacist_id,omitempty"`
	RejectedAt             *time.Time `json:"rejected_at,omitempty"`

	TreatmentPlanID *string `json:"treatment_plan_id,omitempty"`

	Items []Item `json:"items"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one prescribed medication line.
type Item struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"prescription_id"`

	MedicationName string  `json:"medication_name"`
	Dosage         string  `json:"dosage"`
	Frequency      string  `json:"frequency"`
	Duration       string  `json:"duration,omitempty"`
	Quantity       *int    `json:"quantity,omitempty"`

	// Extraction confidence per field, 0-100, nil when the extractor gave
	// no score for the field.
	NameConfidence      *int `json:"name_confidence,omitempty"`
	DosageConfidence    *int `json:"dosage_confidence,omitempty"`
	FrequencyConfidence *int `json:"frequency_confidence,omitempty"`

	PharmacistCorrected bool            `json:"pharmacist_corrected"`
	OriginalAIValue     json.RawMessage `json:"original_ai_value,omitempty"`
}

// Correctable field names on an item.
const (
	FieldMedicationName = "medication_name"
	FieldDosage         = "dosage"
	FieldFrequency      = "frequency"
)

// fieldConfidence returns the confidence attached to a named field.
func (it *Item) fieldConfidence(field string) *int {
	switch field {
	case FieldMedicationName:
		return it.NameConfidence
	case FieldDosage:
		return it.DosageConfidence
	case FieldFrequency:
		return it.FrequencyConfidence
	}
	return nil
}

// LowConfidenceFields returns the names of fields whose confidence is below
// threshold. A nil confidence is treated as passing.
func (it *Item) LowConfidenceFields(threshold int) []string {
	var fields []string
	for _, f := range []string{FieldMedicationName, FieldDosage, FieldFrequency} {
		if c := it.fieldConfidence(f); c != nil && *c < threshold {
			fields = append(fields, f)
		}
	}
	return fields
}

// RequiresVerification reports whether any field confidence falls below
// threshold.
func (it *Item) RequiresVerification(threshold int) bool {
	return len(it.LowConfidenceFields(threshold)) > 0
}

// SetField overwrites a named field value. Returns false for unknown fields.
func (it *Item) SetField(field, value string) bool {
	switch field {
	case FieldMedicationName:
		it.MedicationName = value
	case FieldDosage:
		it.Dosage = value
	case FieldFrequency:
		it.Frequency = value
	default:
		return false
	}
	return true
}

// FieldValue returns the current value of a named field.
func (it *Item) FieldValue(field string) string {
	switch field {
	case FieldMedicationName:
		return it.MedicationName
	case FieldDosage:
		return it.Dosage
	case FieldFrequency:
		return it.Frequency
	}
	return ""
}

// CorrectionType distinguishes a changed value from a confirmed one.
type CorrectionType string

const (
	CorrectionTypeCorrection   CorrectionType = "correction"
	CorrectionTypeVerification CorrectionType = "verification"
)

// FieldCorrection is an append-only audit record: one row per (item, field)
// reviewed during approval. Never updated or deleted after creation.
type FieldCorrection struct {
	ID                 string         `json:"id"`
	PrescriptionItemID string         `json:"prescription_item_id"`
	FieldName          string         `json:"field_name"`
	OriginalValue      string         `json:"original_value"`
	CorrectedValue     string         `json:"corrected_value"`
	OriginalConfidence *int           `json:"original_confidence,omitempty"`
	Type               CorrectionType `json:"type"`
	Note               string         `json:"note,omitempty"`
	CorrectedBy        string         `json:"corrected_by"`
	CreatedAt          time.Time      `json:"created_at"`
}

// ClarificationStatus tracks a clarification request's lifecycle.
type ClarificationStatus string

const (
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationAnswered ClarificationStatus = "answered"
)

// Clarification is a pharmacist question routed to the prescribing doctor.
type Clarification struct {
	ID             string              `json:"id"`
	PrescriptionID string              `json:"prescription_id"`
	PharmacistID   string              `json:"pharmacist_id"`
	DoctorID       string              `json:"doctor_id"`
	Question       string              `json:"question"`
	Category       string              `json:"category,omitempty"`
	Status         ClarificationStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
}

// HasCriticalFindings reports whether any stored finding carries its domain's
// worst severity tier. This is the approval-time safety backstop and is
// independent of the verdict computed at validation time.
func (p *Prescription) HasCriticalFindings() bool {
	return safety.HasContraindicatedInteractions(p.DrugInteractions) ||
		safety.HasLifeThreateningAllergies(p.AllergyWarnings) ||
		safety.HasAbsoluteContraindications(p.Contraindications)
}

// MedicationNames returns the medication name of every item, in order.
func (p *Prescription) MedicationNames() []string {
	names := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		names = append(names, it.MedicationName)
	}
	return names
}

// ItemByID returns a pointer into Items, or nil.
func (p *Prescription) ItemByID(id string) *Item {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i]
		}
	}
	return nil
}
