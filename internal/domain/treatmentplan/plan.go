// Package treatmentplan derives dosing schedules and refill horizons from
// approved prescriptions.
package treatmentplan

import (
	"errors"
	"time"
)

// Status tracks a treatment plan's lifecycle. Completed and discontinued are
// terminal; both fix the end date.
type Status string

const (
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusDiscontinued Status = "discontinued"
)

var (
	// ErrPlanNotActive is returned when mutating a terminal plan.
	ErrPlanNotActive = errors.New("treatment plan is not active")
	// ErrNotApproved is returned when generating a plan from a prescription
	// that is not approved.
	ErrNotApproved = errors.New("prescription is not approved")
	// ErrNoItems is returned when generating a plan from a prescription with
	// no items.
	ErrNoItems = errors.New("prescription has no items")
)

// MedicationSchedule is the derived dosing schedule for one medication.
type MedicationSchedule struct {
	MedicationName string   `json:"medication_name"`
	Dosage         string   `json:"dosage"`
	TimesPerDay    int      `json:"times_per_day"`
	ClockTimes     []string `json:"clock_times"`
	DurationDays   int      `json:"duration_days"`
	PlannedDoses   int      `json:"planned_doses"`
}

// Plan is the treatment plan created once per approved prescription.
type Plan struct {
	ID             string               `json:"id"`
	PrescriptionID string               `json:"prescription_id"`
	PatientID      string               `json:"patient_id"`
	StartDate      time.Time            `json:"start_date"`
	EndDate        time.Time            `json:"end_date"`
	Schedules      []MedicationSchedule `json:"schedules"`
	TotalDoses     int                  `json:"total_doses"`
	DosesTaken     int                  `json:"doses_taken"`
	RefillDueDate  time.Time            `json:"refill_due_date"`
	Status         Status               `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// AdherenceRate is the percentage of planned doses taken, 0 when the plan
// has no planned doses.
func (p *Plan) AdherenceRate() float64 {
	if p.TotalDoses == 0 {
		return 0
	}
	return float64(p.DosesTaken) / float64(p.TotalDoses) * 100
}

// RecordDose increments the doses-taken counter, capped at the planned
// total.
func (p *Plan) RecordDose() error {
	if p.Status != StatusActive {
		return ErrPlanNotActive
	}
	if p.DosesTaken < p.TotalDoses {
		p.DosesTaken++
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete marks the plan finished at now.
func (p *Plan) Complete() error {
	if p.Status != StatusActive {
		return ErrPlanNotActive
	}
	now := time.Now().UTC()
	p.Status = StatusCompleted
	p.EndDate = now
	p.UpdatedAt = now
	return nil
}

// Discontinue stops the plan early at now.
func (p *Plan) Discontinue() error {
	if p.Status != StatusActive {
		return ErrPlanNotActive
	}
	now := time.Now().UTC()
	p.Status = StatusDiscontinued
	p.EndDate = now
	p.UpdatedAt = now
	return nil
}
