package prescription

import (
	"errors"
	"fmt"
	"time"
)

// Status represents prescription lifecycle status.
type Status string

const (
	StatusPending             Status = "pending"
	StatusInReview            Status = "in_review"
	StatusClarificationNeeded Status = "clarification_needed"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusExpired             Status = "expired"
)

// ErrImmutableState is returned when a transition is attempted out of a
// terminal state. Approved, rejected and expired prescriptions must never be
// mutated again; the sole sanctioned exit is approved -> expired.
var ErrImmutableState = errors.New("prescription is in an immutable state")

// ErrInvalidTransition is returned for transitions the state machine does not
// allow between two non-terminal states.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full allowed-transition table. No state transitions to
// itself: every permitted transition changes status.
var transitions = map[Status][]Status{
	StatusPending:             {StatusInReview},
	StatusInReview:            {StatusApproved, StatusRejected, StatusClarificationNeeded},
	StatusClarificationNeeded: {StatusInReview},
	StatusApproved:            {StatusExpired},
	StatusRejected:            {},
	StatusExpired:             {},
}

// Terminal reports whether a status admits no further mutation of the
// prescription. Approved is terminal for mutation purposes even though the
// machine still allows the approved -> expired bookkeeping transition.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns nil when from -> to is allowed. Terminal source
// states fail with ErrImmutableState; everything else disallowed fails with
// ErrInvalidTransition.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrImmutableState, from, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Editable reports whether the prescription may still be modified.
func (p *Prescription) Editable() bool {
	return !p.Status.Terminal()
}

// CanApprove reports whether approval is currently permitted: the
// prescription must be in review and must not be past its expiry date.
func (p *Prescription) CanApprove(now time.Time) bool {
	if p.Status != StatusInReview {
		return false
	}
	if p.ExpiryDate != nil && p.ExpiryDate.Before(now) {
		return false
	}
	return true
}

// Expired reports whether the expiry date has passed.
func (p *Prescription) Expired(now time.Time) bool {
	return p.ExpiryDate != nil && p.ExpiryDate.Before(now)
}

// CanReject reports whether rejection is currently permitted.
func (p *Prescription) CanReject() bool {
	return p.Status == StatusInReview
}

// CanRequestClarification reports whether a clarification request is
// currently permitted: in review and a prescribing doctor on record.
func (p *Prescription) CanRequestClarification() bool {
	return p.Status == StatusInReview && p.DoctorID != nil && *p.DoctorID != ""
}

// ToInReview moves a pending or clarification_needed prescription into
// review.
func (p *Prescription) ToInReview() error {
	if err := ValidateTransition(p.Status, StatusInReview); err != nil {
		return err
	}
	p.Status = StatusInReview
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ToApproved validates and performs the approval transition, recording the
// approving pharmacist and timestamp as one in-memory step. Persistence is
// the caller's responsibility.
func (p *Prescription) ToApproved(pharmacistID string) error {
	if err := ValidateTransition(p.Status, StatusApproved); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.Status = StatusApproved
	p.ApprovedAt = &now
	p.ApprovedByPharmacistID = &pharmacistID
	p.PharmacistID = &pharmacistID
	p.UpdatedAt = now
	return nil
}

// ToRejected validates and performs the rejection transition with the
// mandatory reason.
func (p *Prescription) ToRejected(pharmacistID, reason string) error {
	if err := ValidateTransition(p.Status, StatusRejected); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.Status = StatusRejected
	p.RejectionReason = reason
	p.RejectedAt = &now
	p.PharmacistID = &pharmacistID
	p.UpdatedAt = now
	return nil
}

// ToClarificationNeeded validates and performs the clarification transition,
// storing the question as the clarification note. The rejection reason field
// is left untouched.
func (p *Prescription) ToClarificationNeeded(note string) error {
	if err := ValidateTransition(p.Status, StatusClarificationNeeded); err != nil {
		return err
	}
	p.Status = StatusClarificationNeeded
	p.ClarificationNote = note
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ToExpired validates and performs the expiry transition.
func (p *Prescription) ToExpired() error {
	if err := ValidateTransition(p.Status, StatusExpired); err != nil {
		return err
	}
	p.Status = StatusExpired
	p.UpdatedAt = time.Now().UTC()
	return nil
}
