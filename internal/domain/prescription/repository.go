package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a prescription does not exist.
var ErrNotFound = errors.New("prescription not found")

// ErrStaleState is returned when a state-guarded update matched no row:
// another request changed the status first.
var ErrStaleState = errors.New("prescription status changed concurrently")

// Repository persists prescriptions, items, corrections and clarifications.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Pool exposes the underlying pool for callers that compose transactions
// across repositories (treatment plans, outbox entries).
func (r *Repository) Pool() *pgxpool.Pool { return r.pool }

// Create inserts a prescription and its items.
func (r *Repository) Create(ctx context.Context, p *Prescription) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions
		(id, pharmacy_id, patient_id, doctor_id, image_url, status, ai_confidence_score, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		p.ID, p.PharmacyID, p.PatientID, p.DoctorID, p.ImageURL,
		p.Status, p.AIConfidenceScore, p.ExpiryDate,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i := range p.Items {
		if err := insertItem(ctx, tx, &p.Items[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertItem(ctx context.Context, tx pgx.Tx, it *Item) error {
	query := `
		INSERT INTO prescription_items
		(id, prescription_id, medication_name, dosage, frequency, duration, quantity,
		 name_confidence, dosage_confidence, frequency_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Exec(ctx, query,
		it.ID, it.PrescriptionID, it.MedicationName, it.Dosage, it.Frequency,
		it.Duration, it.Quantity,
		it.NameConfidence, it.DosageConfidence, it.FrequencyConfidence,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetWithItems loads a prescription and all of its items.
func (r *Repository) GetWithItems(ctx context.Context, id string) (*Prescription, error) {
	query := `
		SELECT id, pharmacy_id, patient_id, doctor_id, pharmacist_id, image_url,
		       status, ai_confidence_score,
		       drug_interactions, allergy_warnings, contraindications, validated_at,
		       rejection_reason, clarification_note,
		       expiry_date, approved_at, approved_by_pharmacist_id, rejected_at,
		       treatment_plan_id, created_at, updated_at
		FROM prescriptions
		WHERE id = $1
	`

	p := &Prescription{}
	var interactions, allergies, contraindications []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.PharmacyID, &p.PatientID, &p.DoctorID, &p.PharmacistID, &p.ImageURL,
		&p.Status, &p.AIConfidenceScore,
		&interactions, &allergies, &contraindications, &p.ValidatedAt,
		&p.RejectionReason, &p.ClarificationNote,
		&p.ExpiryDate, &p.ApprovedAt, &p.ApprovedByPharmacistID, &p.RejectedAt,
		&p.TreatmentPlanID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load prescription: %w", err)
	}

	if err := unmarshalFindings(interactions, &p.DrugInteractions); err != nil {
		return nil, err
	}
	if err := unmarshalFindings(allergies, &p.AllergyWarnings); err != nil {
		return nil, err
	}
	if err := unmarshalFindings(contraindications, &p.Contraindications); err != nil {
		return nil, err
	}

	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Items = items
	return p, nil
}

func unmarshalFindings(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode findings: %w", err)
	}
	return nil
}

func (r *Repository) getItems(ctx context.Context, prescriptionID string) ([]Item, error) {
	query := `
		SELECT id, prescription_id, medication_name, dosage, frequency, duration, quantity,
		       name_confidence, dosage_confidence, frequency_confidence,
		       pharmacist_corrected, original_ai_value
		FROM prescription_items
		WHERE prescription_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		err := rows.Scan(
			&it.ID, &it.PrescriptionID, &it.MedicationName, &it.Dosage, &it.Frequency,
			&it.Duration, &it.Quantity,
			&it.NameConfidence, &it.DosageConfidence, &it.FrequencyConfidence,
			&it.PharmacistCorrected, &it.OriginalAIValue,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SaveValidation writes the findings of a validation run and the (possibly
// advanced) status back onto the row.
func (r *Repository) SaveValidation(ctx context.Context, p *Prescription) error {
	interactions, err := json.Marshal(p.DrugInteractions)
	if err != nil {
		return fmt.Errorf("encode interactions: %w", err)
	}
	allergies, err := json.Marshal(p.AllergyWarnings)
	if err != nil {
		return fmt.Errorf("encode allergies: %w", err)
	}
	contraindications, err := json.Marshal(p.Contraindications)
	if err != nil {
		return fmt.Errorf("encode contraindications: %w", err)
	}

	query := `
		UPDATE prescriptions
		SET status = $1, drug_interactions = $2, allergy_warnings = $3,
		    contraindications = $4, validated_at = $5, updated_at = NOW()
		WHERE id = $6
	`
	tag, err := r.pool.Exec(ctx, query,
		p.Status, interactions, allergies, contraindications, p.ValidatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("save validation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTransition persists a status transition guarded by the status the
// caller observed. A concurrent transition makes the guard miss and the
// caller gets ErrStaleState instead of silently clobbering the row.
func (r *Repository) SaveTransition(ctx context.Context, p *Prescription, expected Status) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveTransition(ctx, tx, p, expected); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveApproval persists the approval transition, the corrected items and
// their audit rows in one transaction.
func (r *Repository) SaveApproval(ctx context.Context, p *Prescription, expected Status, items []Item, corrections []FieldCorrection) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveTransition(ctx, tx, p, expected); err != nil {
		return err
	}
	if err := saveItemCorrections(ctx, tx, items, corrections); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveClarification persists the clarification transition and the
// clarification row in one transaction.
func (r *Repository) SaveClarification(ctx context.Context, p *Prescription, expected Status, c *Clarification) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveTransition(ctx, tx, p, expected); err != nil {
		return err
	}
	if err := insertClarification(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func saveTransition(ctx context.Context, tx pgx.Tx, p *Prescription, expected Status) error {
	query := `
		UPDATE prescriptions
		SET status = $1, pharmacist_id = $2,
		    rejection_reason = $3, clarification_note = $4,
		    approved_at = $5, approved_by_pharmacist_id = $6, rejected_at = $7,
		    updated_at = NOW()
		WHERE id = $8 AND status = $9
	`
	tag, err := tx.Exec(ctx, query,
		p.Status, p.PharmacistID,
		p.RejectionReason, p.ClarificationNote,
		p.ApprovedAt, p.ApprovedByPharmacistID, p.RejectedAt,
		p.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("save transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleState
	}
	return nil
}

// saveItemCorrections updates corrected items and appends their audit rows in
// the given transaction.
func saveItemCorrections(ctx context.Context, tx pgx.Tx, items []Item, corrections []FieldCorrection) error {
	for i := range items {
		it := &items[i]
		query := `
			UPDATE prescription_items
			SET medication_name = $1, dosage = $2, frequency = $3,
			    pharmacist_corrected = $4, original_ai_value = $5, updated_at = NOW()
			WHERE id = $6
		`
		_, err := tx.Exec(ctx, query,
			it.MedicationName, it.Dosage, it.Frequency,
			it.PharmacistCorrected, it.OriginalAIValue, it.ID,
		)
		if err != nil {
			return fmt.Errorf("update item %s: %w", it.ID, err)
		}
	}

	for _, c := range corrections {
		query := `
			INSERT INTO field_corrections
			(id, prescription_item_id, field_name, original_value, corrected_value,
			 original_confidence, correction_type, note, corrected_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.Exec(ctx, query,
			c.ID, c.PrescriptionItemID, c.FieldName, c.OriginalValue, c.CorrectedValue,
			c.OriginalConfidence, c.Type, c.Note, c.CorrectedBy,
		)
		if err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
	}
	return nil
}

// insertClarification appends a clarification row in the given transaction.
func insertClarification(ctx context.Context, tx pgx.Tx, c *Clarification) error {
	query := `
		INSERT INTO clarifications
		(id, prescription_id, pharmacist_id, doctor_id, question, category, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query,
		c.ID, c.PrescriptionID, c.PharmacistID, c.DoctorID, c.Question, c.Category, c.Status,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert clarification: %w", err)
	}
	return nil
}

// LinkTreatmentPlan records the one-to-one plan reference. Set once: a second
// link attempt leaves the stored id unchanged.
func (r *Repository) LinkTreatmentPlan(ctx context.Context, prescriptionID, planID string) error {
	query := `
		UPDATE prescriptions
		SET treatment_plan_id = $1, updated_at = NOW()
		WHERE id = $2 AND treatment_plan_id IS NULL
	`
	if _, err := r.pool.Exec(ctx, query, planID, prescriptionID); err != nil {
		return fmt.Errorf("link treatment plan: %w", err)
	}
	return nil
}

// ListCorrections returns the audit trail for an item, oldest first.
func (r *Repository) ListCorrections(ctx context.Context, itemID string) ([]FieldCorrection, error) {
	query := `
		SELECT id, prescription_item_id, field_name, original_value, corrected_value,
		       original_confidence, correction_type, note, corrected_by, created_at
		FROM field_corrections
		WHERE prescription_item_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []FieldCorrection
	for rows.Next() {
		var c FieldCorrection
		err := rows.Scan(
			&c.ID, &c.PrescriptionItemID, &c.FieldName, &c.OriginalValue, &c.CorrectedValue,
			&c.OriginalConfidence, &c.Type, &c.Note, &c.CorrectedBy, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
