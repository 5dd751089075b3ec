package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/domain/prescription"
)

// CorrectionInput is one reviewed field supplied by the approver.
type CorrectionInput struct {
	ItemID         string `json:"itemId"`
	FieldName      string `json:"fieldName"`
	CorrectedValue string `json:"correctedValue"`
	WasCorrected   bool   `json:"wasCorrected"`
	Note           string `json:"note,omitempty"`
}

// MissingVerification identifies the fields of one item that still need
// review. Carried in error details so the client can resolve the gap without
// re-querying.
type MissingVerification struct {
	ItemID         string   `json:"itemId"`
	MedicationName string   `json:"medicationName"`
	MissingFields  []string `json:"missingFields"`
}

// Gate is the low-confidence verification gate applied at approval time.
// Every AI-extracted field below the threshold must be explicitly confirmed
// or corrected by the approving pharmacist.
type Gate struct {
	threshold int
	logger    *zap.Logger
}

// NewGate creates a gate with the given confidence threshold.
func NewGate(threshold int, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{threshold: threshold, logger: logger}
}

// Enforce checks coverage and applies the supplied corrections to the
// prescription's items in memory. It returns the touched items and the
// append-only FieldCorrection records to persist. Partial coverage fails
// with the specific missing item and fields identified.
func (g *Gate) Enforce(p *prescription.Prescription, verified bool, corrections []CorrectionInput, approverID string) ([]prescription.Item, []prescription.FieldCorrection, error) {
	flagged := g.flaggedItems(p)

	if len(flagged) > 0 {
		if !verified {
			return nil, nil, StateErrorWithDetails(
				CodeLowConfidenceVerificationRequired,
				"prescription has low-confidence fields that must be verified before approval",
				flagged,
			)
		}
		if len(corrections) == 0 {
			return nil, nil, StateErrorWithDetails(
				CodeFieldCorrectionsRequired,
				"low-confidence verification requires a correction record for every flagged field",
				flagged,
			)
		}
		if missing := uncovered(flagged, corrections); len(missing) > 0 {
			return nil, nil, StateErrorWithDetails(
				CodeIncompleteFieldVerification,
				"some low-confidence fields have no correction record",
				missing,
			)
		}
	}

	return g.apply(p, corrections, approverID)
}

// flaggedItems collects every item with a field confidence below the
// threshold.
func (g *Gate) flaggedItems(p *prescription.Prescription) []MissingVerification {
	var flagged []MissingVerification
	for i := range p.Items {
		it := &p.Items[i]
		if fields := it.LowConfidenceFields(g.threshold); len(fields) > 0 {
			flagged = append(flagged, MissingVerification{
				ItemID:         it.ID,
				MedicationName: it.MedicationName,
				MissingFields:  fields,
			})
		}
	}
	return flagged
}

// uncovered returns the flagged fields with no matching correction.
func uncovered(flagged []MissingVerification, corrections []CorrectionInput) []MissingVerification {
	covered := make(map[string]bool, len(corrections))
	for _, c := range corrections {
		covered[c.ItemID+"/"+c.FieldName] = true
	}

	var missing []MissingVerification
	for _, f := range flagged {
		var fields []string
		for _, field := range f.MissingFields {
			if !covered[f.ItemID+"/"+field] {
				fields = append(fields, field)
			}
		}
		if len(fields) > 0 {
			missing = append(missing, MissingVerification{
				ItemID:         f.ItemID,
				MedicationName: f.MedicationName,
				MissingFields:  fields,
			})
		}
	}
	return missing
}

// apply mutates items per the corrections and builds the audit records.
// Exactly one record per (item, field): correction when the value changed,
// verification when it was confirmed unchanged.
func (g *Gate) apply(p *prescription.Prescription, corrections []CorrectionInput, approverID string) ([]prescription.Item, []prescription.FieldCorrection, error) {
	touched := make(map[string]*prescription.Item)
	records := make([]prescription.FieldCorrection, 0, len(corrections))
	seen := make(map[string]bool, len(corrections))

	for _, c := range corrections {
		key := c.ItemID + "/" + c.FieldName
		if seen[key] {
			return nil, nil, StateError(CodeInvalidCorrection,
				fmt.Sprintf("duplicate correction for item %s field %s", c.ItemID, c.FieldName))
		}
		seen[key] = true

		it := p.ItemByID(c.ItemID)
		if it == nil {
			return nil, nil, StateError(CodeInvalidCorrection,
				fmt.Sprintf("correction references unknown item %s", c.ItemID))
		}

		original := it.FieldValue(c.FieldName)
		originalConf := fieldConfidence(it, c.FieldName)
		if c.FieldName != prescription.FieldMedicationName &&
			c.FieldName != prescription.FieldDosage &&
			c.FieldName != prescription.FieldFrequency {
			return nil, nil, StateError(CodeInvalidCorrection,
				fmt.Sprintf("correction references unknown field %s", c.FieldName))
		}

		correctionType := prescription.CorrectionTypeVerification
		correctedValue := original
		if c.WasCorrected {
			correctionType = prescription.CorrectionTypeCorrection
			correctedValue = c.CorrectedValue
			if err := snapshotOriginal(it, c.FieldName, original, originalConf); err != nil {
				return nil, nil, InternalError("snapshot original AI value", err)
			}
			it.SetField(c.FieldName, c.CorrectedValue)
			it.PharmacistCorrected = true
			g.logger.Info("field corrected",
				zap.String("item_id", it.ID),
				zap.String("field", c.FieldName))
		}
		touched[it.ID] = it

		records = append(records, prescription.FieldCorrection{
			ID:                 uuid.New().String(),
			PrescriptionItemID: it.ID,
			FieldName:          c.FieldName,
			OriginalValue:      original,
			CorrectedValue:     correctedValue,
			OriginalConfidence: originalConf,
			Type:               correctionType,
			Note:               c.Note,
			CorrectedBy:        approverID,
			CreatedAt:          time.Now().UTC(),
		})
	}

	items := make([]prescription.Item, 0, len(touched))
	for _, it := range touched {
		items = append(items, *it)
	}
	return items, records, nil
}

func fieldConfidence(it *prescription.Item, field string) *int {
	switch field {
	case prescription.FieldMedicationName:
		return it.NameConfidence
	case prescription.FieldDosage:
		return it.DosageConfidence
	case prescription.FieldFrequency:
		return it.FrequencyConfidence
	}
	return nil
}

// snapshotOriginal records the pre-correction AI value and confidence on the
// item, merging with any earlier snapshots.
func snapshotOriginal(it *prescription.Item, field, value string, conf *int) error {
	snapshot := map[string]map[string]interface{}{}
	if len(it.OriginalAIValue) > 0 {
		if err := json.Unmarshal(it.OriginalAIValue, &snapshot); err != nil {
			return err
		}
	}
	entry := map[string]interface{}{"value": value}
	if conf != nil {
		entry["confidence"] = *conf
	}
	snapshot[field] = entry

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	it.OriginalAIValue = raw
	return nil
}
