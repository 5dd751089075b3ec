package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AllergyChecker matches prescribed medications against the patient's allergy
// records. Matching is permissive: substring and drug-class matches both
// flag, favoring false positives over false negatives.
type AllergyChecker struct {
	patients PatientDataSource
	logger   *zap.Logger
}

// NewAllergyChecker creates a checker over the patient data source.
func NewAllergyChecker(patients PatientDataSource, logger *zap.Logger) *AllergyChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllergyChecker{patients: patients, logger: logger}
}

// Check returns severity-sorted allergy warnings for the medication list.
// An unreachable patient data service degrades to an empty result.
func (c *AllergyChecker) Check(ctx context.Context, medications []string, patientID string) AllergyResult {
	result := AllergyResult{CheckedAt: time.Now().UTC()}

	if c.patients == nil {
		result.Degraded = true
		result.DegradedReason = "patient data source not configured"
		c.logger.Warn("allergy check skipped", zap.String("reason", result.DegradedReason))
		return result
	}

	allergies, err := c.patients.Allergies(ctx, patientID)
	if err != nil {
		result.Degraded = true
		result.DegradedReason = err.Error()
		c.logger.Warn("allergy check degraded",
			zap.String("patient_id", patientID),
			zap.Error(err))
		return result
	}

	var findings []AllergyFinding
	for _, med := range medications {
		for _, allergy := range allergies {
			if !matchesSubstance(med, allergy.Allergen) {
				continue
			}
			severity := parseAllergySeverity(allergy.Severity)
			findings = append(findings, AllergyFinding{
				Medication:     med,
				Allergen:       allergy.Allergen,
				ReactionType:   allergy.ReactionType,
				Severity:       severity,
				Description:    fmt.Sprintf("%s matches documented allergy to %s", med, allergy.Allergen),
				Recommendation: allergyRecommendation(severity),
			})
		}
	}

	SortAllergiesBySeverity(findings)
	result.Findings = findings
	return result
}

// parseAllergySeverity maps a patient-record severity string onto the closed
// enum. Unknown values land on moderate rather than being dropped.
func parseAllergySeverity(s string) AllergySeverity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mild":
		return AllergyMild
	case "moderate":
		return AllergyModerate
	case "severe":
		return AllergySevere
	case "life_threatening", "life-threatening", "anaphylaxis", "anaphylactic":
		return AllergyLifeThreatening
	}
	return AllergyModerate
}

func allergyRecommendation(s AllergySeverity) string {
	if s == AllergyLifeThreatening {
		return "Do not dispense. Contact the prescribing doctor for an alternative."
	}
	return "Review with the patient before dispensing; consider an alternative."
}
