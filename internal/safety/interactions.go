package safety

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InteractionChecker queries drug-drug interaction knowledge for a medication
// list. It never fails the caller: an unreachable source degrades to an
// empty result, because the pharmacist review gate is the safety backstop,
// not the lookup.
type InteractionChecker struct {
	source InteractionSource
	logger *zap.Logger
}

// NewInteractionChecker creates a checker over the given knowledge source.
func NewInteractionChecker(source InteractionSource, logger *zap.Logger) *InteractionChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InteractionChecker{source: source, logger: logger}
}

// Check returns severity-sorted interaction findings for the medication list.
func (c *InteractionChecker) Check(ctx context.Context, medications []string) InteractionResult {
	result := InteractionResult{CheckedAt: time.Now().UTC()}

	if len(medications) < 2 {
		return result
	}
	if c.source == nil {
		result.Degraded = true
		result.DegradedReason = "interaction knowledge source not configured"
		c.logger.Warn("interaction check skipped", zap.String("reason", result.DegradedReason))
		return result
	}

	findings, err := c.source.Interactions(ctx, medications)
	if err != nil {
		result.Degraded = true
		result.DegradedReason = err.Error()
		c.logger.Warn("interaction check degraded",
			zap.Int("medications", len(medications)),
			zap.Error(err))
		return result
	}

	SortInteractionsBySeverity(findings)
	result.Findings = findings
	return result
}
