package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// contraindicationRule ties a medication (or class keyword) to a patient
// condition it is contraindicated for.
type contraindicationRule struct {
	substance      string
	condition      string
	severity       ContraindicationSeverity
	description    string
	recommendation string
}

// Built-in rule set. Condition matching is case-insensitive substring, same
// permissive posture as allergy matching.
var contraindicationRules = []contraindicationRule{
	{"nsaid", "peptic ulcer", ContraindicationRelative,
		"NSAIDs can aggravate peptic ulcer disease",
		"Prefer acetaminophen; add gastroprotection if NSAID is unavoidable"},
	{"nsaid", "chronic kidney disease", ContraindicationRelative,
		"NSAIDs reduce renal perfusion in chronic kidney disease",
		"Avoid NSAIDs; confirm renal function with the prescriber"},
	{"metformin", "renal failure", ContraindicationAbsolute,
		"Metformin is contraindicated in renal failure due to lactic acidosis risk",
		"Do not dispense; contact the prescriber for an alternative"},
	{"ace inhibitor", "pregnancy", ContraindicationAbsolute,
		"ACE inhibitors are fetotoxic",
		"Do not dispense; contact the prescriber immediately"},
	{"ace inhibitor", "angioedema", ContraindicationAbsolute,
		"History of angioedema contraindicates ACE inhibitors",
		"Do not dispense; contact the prescriber for an alternative"},
	{"warfarin", "pregnancy", ContraindicationAbsolute,
		"Warfarin crosses the placenta and is teratogenic",
		"Do not dispense; contact the prescriber immediately"},
	{"beta blocker", "asthma", ContraindicationRelative,
		"Non-selective beta blockers can provoke bronchospasm",
		"Confirm cardioselective agent or alternative with the prescriber"},
	{"metoprolol", "asthma", ContraindicationPrecaution,
		"Cardioselective beta blockers still warrant caution in asthma",
		"Counsel the patient; verify with the prescriber if severe asthma"},
	{"statin", "liver disease", ContraindicationRelative,
		"Statins require hepatic monitoring in active liver disease",
		"Confirm liver function testing with the prescriber"},
	{"opioid", "respiratory depression", ContraindicationAbsolute,
		"Opioids are contraindicated with existing respiratory depression",
		"Do not dispense; contact the prescriber immediately"},
	{"fluoroquinolone", "myasthenia gravis", ContraindicationRelative,
		"Fluoroquinolones can exacerbate myasthenia gravis",
		"Confirm an alternative antibiotic with the prescriber"},
	{"aspirin", "bleeding disorder", ContraindicationRelative,
		"Aspirin impairs platelet function",
		"Review bleeding history with the prescriber"},
}

// ContraindicationChecker matches prescribed medications against the
// patient's active conditions using the built-in rule set.
type ContraindicationChecker struct {
	patients PatientDataSource
	logger   *zap.Logger
}

// NewContraindicationChecker creates a checker over the patient data source.
func NewContraindicationChecker(patients PatientDataSource, logger *zap.Logger) *ContraindicationChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContraindicationChecker{patients: patients, logger: logger}
}

// Check returns severity-sorted contraindication findings. An unreachable
// patient data service degrades to an empty result.
func (c *ContraindicationChecker) Check(ctx context.Context, medications []string, patientID string) ContraindicationResult {
	result := ContraindicationResult{CheckedAt: time.Now().UTC()}

	if c.patients == nil {
		result.Degraded = true
		result.DegradedReason = "patient data source not configured"
		c.logger.Warn("contraindication check skipped", zap.String("reason", result.DegradedReason))
		return result
	}

	conditions, err := c.patients.Conditions(ctx, patientID)
	if err != nil {
		result.Degraded = true
		result.DegradedReason = err.Error()
		c.logger.Warn("contraindication check degraded",
			zap.String("patient_id", patientID),
			zap.Error(err))
		return result
	}

	var findings []ContraindicationFinding
	for _, med := range medications {
		for _, cond := range conditions {
			if !cond.Active {
				continue
			}
			for _, rule := range contraindicationRules {
				if !matchesSubstance(med, rule.substance) {
					continue
				}
				if !matchesCondition(cond.Condition, rule.condition) {
					continue
				}
				findings = append(findings, ContraindicationFinding{
					Medication:     med,
					Condition:      cond.Condition,
					Severity:       rule.severity,
					Description:    fmt.Sprintf("%s: %s", med, rule.description),
					Recommendation: rule.recommendation,
				})
			}
		}
	}

	SortContraindicationsBySeverity(findings)
	result.Findings = findings
	return result
}

func matchesCondition(recorded, ruleCondition string) bool {
	a := strings.ToLower(strings.TrimSpace(recorded))
	b := strings.ToLower(strings.TrimSpace(ruleCondition))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
