package safety

import "context"

// InteractionSource supplies raw drug-drug interaction knowledge. Implemented
// by the HTTP client in internal/knowledge; failures there surface as errors
// here and are absorbed by the checker.
type InteractionSource interface {
	Interactions(ctx context.Context, medications []string) ([]InteractionFinding, error)
}

// PatientAllergy is one allergy record from the patient data service.
type PatientAllergy struct {
	Allergen     string `json:"allergen"`
	ReactionType string `json:"reaction_type"`
	Severity     string `json:"severity"`
	Verified     bool   `json:"verified"`
}

// PatientCondition is one condition record from the patient data service.
type PatientCondition struct {
	Condition string `json:"condition"`
	Chronic   bool   `json:"chronic"`
	Active    bool   `json:"active"`
}

// PatientDataSource supplies patient allergy and condition records. A missing
// patient yields empty lists, not an error.
type PatientDataSource interface {
	Allergies(ctx context.Context, patientID string) ([]PatientAllergy, error)
	Conditions(ctx context.Context, patientID string) ([]PatientCondition, error)
}
