package treatmentplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a treatment plan does not exist.
var ErrNotFound = errors.New("treatment plan not found")

// Repository persists treatment plans. Schedules are stored as a JSONB
// document alongside the plan row.
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

// Create inserts a treatment plan.
func (r *Repository) Create(ctx context.Context, p *Plan) error {
	schedules, err := json.Marshal(p.Schedules)
	if err != nil {
		return fmt.Errorf("encode schedules: %w", err)
	}

	query := `
		INSERT INTO treatment_plans
		(id, prescription_id, patient_id, start_date, end_date, schedules,
		 total_doses, doses_taken, refill_due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		p.ID, p.PrescriptionID, p.PatientID, p.StartDate, p.EndDate, schedules,
		p.TotalDoses, p.DosesTaken, p.RefillDueDate, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert treatment plan: %w", err)
	}
	return nil
}

// Get loads a treatment plan by id.
func (r *Repository) Get(ctx context.Context, id string) (*Plan, error) {
	query := `
		SELECT id, prescription_id, patient_id, start_date, end_date, schedules,
		       total_doses, doses_taken, refill_due_date, status, created_at, updated_at
		FROM treatment_plans
		WHERE id = $1
	`
	return r.scanPlan(r.pool.QueryRow(ctx, query, id))
}

// GetByPrescription loads the plan linked to a prescription.
func (r *Repository) GetByPrescription(ctx context.Context, prescriptionID string) (*Plan, error) {
	query := `
		SELECT id, prescription_id, patient_id, start_date, end_date, schedules,
		       total_doses, doses_taken, refill_due_date, status, created_at, updated_at
		FROM treatment_plans
		WHERE prescription_id = $1
	`
	return r.scanPlan(r.pool.QueryRow(ctx, query, prescriptionID))
}

func (r *Repository) scanPlan(row pgx.Row) (*Plan, error) {
	p := &Plan{}
	var schedules []byte
	err := row.Scan(
		&p.ID, &p.PrescriptionID, &p.PatientID, &p.StartDate, &p.EndDate, &schedules,
		&p.TotalDoses, &p.DosesTaken, &p.RefillDueDate, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load treatment plan: %w", err)
	}
	if len(schedules) > 0 {
		if err := json.Unmarshal(schedules, &p.Schedules); err != nil {
			return nil, fmt.Errorf("decode schedules: %w", err)
		}
	}
	return p, nil
}

// Update writes the mutable plan fields back onto the row.
func (r *Repository) Update(ctx context.Context, p *Plan) error {
	query := `
		UPDATE treatment_plans
		SET end_date = $1, doses_taken = $2, status = $3, updated_at = NOW()
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, p.EndDate, p.DosesTaken, p.Status, p.ID)
	if err != nil {
		return fmt.Errorf("update treatment plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
