// Package safety implements medication safety validation: severity-ranked
// interaction, allergy and contraindication findings and the checkers that
// produce them.
package safety

import (
	"sort"
	"time"
)

// InteractionSeverity ranks drug-drug interaction findings.
type InteractionSeverity string

const (
	InteractionMinor           InteractionSeverity = "minor"
	InteractionModerate        InteractionSeverity = "moderate"
	InteractionMajor           InteractionSeverity = "major"
	InteractionContraindicated InteractionSeverity = "contraindicated"
)

// AllergySeverity ranks allergy warning findings.
type AllergySeverity string

const (
	AllergyMild            AllergySeverity = "mild"
	AllergyModerate        AllergySeverity = "moderate"
	AllergySevere          AllergySeverity = "severe"
	AllergyLifeThreatening AllergySeverity = "life_threatening"
)

// ContraindicationSeverity ranks condition contraindication findings.
type ContraindicationSeverity string

const (
	ContraindicationPrecaution ContraindicationSeverity = "precaution"
	ContraindicationRelative   ContraindicationSeverity = "relative"
	ContraindicationAbsolute   ContraindicationSeverity = "absolute"
)

// Rank returns the ordinal of an interaction severity. Unknown values rank
// below every defined tier so they never trip the worst-tier gate.
func (s InteractionSeverity) Rank() int {
	switch s {
	case InteractionMinor:
		return 1
	case InteractionModerate:
		return 2
	case InteractionMajor:
		return 3
	case InteractionContraindicated:
		return 4
	}
	return 0
}

// Rank returns the ordinal of an allergy severity.
func (s AllergySeverity) Rank() int {
	switch s {
	case AllergyMild:
		return 1
	case AllergyModerate:
		return 2
	case AllergySevere:
		return 3
	case AllergyLifeThreatening:
		return 4
	}
	return 0
}

// Rank returns the ordinal of a contraindication severity.
func (s ContraindicationSeverity) Rank() int {
	switch s {
	case ContraindicationPrecaution:
		return 1
	case ContraindicationRelative:
		return 2
	case ContraindicationAbsolute:
		return 3
	}
	return 0
}

// InteractionFinding is one drug-drug interaction flag.
type InteractionFinding struct {
	MedicationA    string              `json:"medication_a"`
	MedicationB    string              `json:"medication_b"`
	Severity       InteractionSeverity `json:"severity"`
	Description    string              `json:"description"`
	Recommendation string              `json:"recommendation"`
}

// AllergyFinding is one allergy warning flag.
type AllergyFinding struct {
	Medication     string          `json:"medication"`
	Allergen       string          `json:"allergen"`
	ReactionType   string          `json:"reaction_type,omitempty"`
	Severity       AllergySeverity `json:"severity"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation"`
}

// ContraindicationFinding is one condition contraindication flag.
type ContraindicationFinding struct {
	Medication     string                   `json:"medication"`
	Condition      string                   `json:"condition"`
	Severity       ContraindicationSeverity `json:"severity"`
	Description    string                   `json:"description"`
	Recommendation string                   `json:"recommendation"`
}

// SortInteractionsBySeverity orders findings most severe first, stable
// otherwise.
func SortInteractionsBySeverity(findings []InteractionFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}

// SortAllergiesBySeverity orders findings most severe first, stable otherwise.
func SortAllergiesBySeverity(findings []AllergyFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}

// SortContraindicationsBySeverity orders findings most severe first, stable
// otherwise.
func SortContraindicationsBySeverity(findings []ContraindicationFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() > findings[j].Severity.Rank()
	})
}

// FilterInteractionsBySeverity keeps findings at or above min.
func FilterInteractionsBySeverity(findings []InteractionFinding, min InteractionSeverity) []InteractionFinding {
	var out []InteractionFinding
	for _, f := range findings {
		if f.Severity.Rank() >= min.Rank() {
			out = append(out, f)
		}
	}
	return out
}

// FilterAllergiesBySeverity keeps findings at or above min.
func FilterAllergiesBySeverity(findings []AllergyFinding, min AllergySeverity) []AllergyFinding {
	var out []AllergyFinding
	for _, f := range findings {
		if f.Severity.Rank() >= min.Rank() {
			out = append(out, f)
		}
	}
	return out
}

// FilterContraindicationsBySeverity keeps findings at or above min.
func FilterContraindicationsBySeverity(findings []ContraindicationFinding, min ContraindicationSeverity) []ContraindicationFinding {
	var out []ContraindicationFinding
	for _, f := range findings {
		if f.Severity.Rank() >= min.Rank() {
			out = append(out, f)
		}
	}
	return out
}

// HasContraindicatedInteractions reports whether any finding carries the
// worst interaction tier.
func HasContraindicatedInteractions(findings []InteractionFinding) bool {
	for _, f := range findings {
		if f.Severity == InteractionContraindicated {
			return true
		}
	}
	return false
}

// HasLifeThreateningAllergies reports whether any finding carries the worst
// allergy tier.
func HasLifeThreateningAllergies(findings []AllergyFinding) bool {
	for _, f := range findings {
		if f.Severity == AllergyLifeThreatening {
			return true
		}
	}
	return false
}

// HasAbsoluteContraindications reports whether any finding carries the worst
// contraindication tier.
func HasAbsoluteContraindications(findings []ContraindicationFinding) bool {
	for _, f := range findings {
		if f.Severity == ContraindicationAbsolute {
			return true
		}
	}
	return false
}

// InteractionResult is the outcome of an interaction check.
type InteractionResult struct {
	Findings  []InteractionFinding `json:"findings"`
	CheckedAt time.Time            `json:"checked_at"`
	// Degraded is set when the upstream knowledge source was unavailable
	// and the empty result is a deliberate fallback, not a clean pass.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// HasFindings reports whether the check produced any findings.
func (r InteractionResult) HasFindings() bool { return len(r.Findings) > 0 }

// AllergyResult is the outcome of an allergy check.
type AllergyResult struct {
	Findings       []AllergyFinding `json:"findings"`
	CheckedAt      time.Time        `json:"checked_at"`
	Degraded       bool             `json:"degraded,omitempty"`
	DegradedReason string           `json:"degraded_reason,omitempty"`
}

// HasFindings reports whether the check produced any findings.
func (r AllergyResult) HasFindings() bool { return len(r.Findings) > 0 }

// ContraindicationResult is the outcome of a contraindication check.
type ContraindicationResult struct {
	Findings       []ContraindicationFinding `json:"findings"`
	CheckedAt      time.Time                 `json:"checked_at"`
	Degraded       bool                      `json:"degraded,omitempty"`
	DegradedReason string                    `json:"degraded_reason,omitempty"`
}

// HasFindings reports whether the check produced any findings.
func (r ContraindicationResult) HasFindings() bool { return len(r.Findings) > 0 }
