// Package lifecycle implements the prescription lifecycle engine: the
// validation orchestrator, the low-confidence verification gate and the
// approve/reject/clarification operations.
package lifecycle

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code carried to the API boundary.
type Code string

const (
	CodePrescriptionNotFound Code = "PRESCRIPTION_NOT_FOUND"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeNoItems              Code = "NO_ITEMS"
	CodeValidationFailed     Code = "VALIDATION_FAILED"

	CodeInvalidStateForApproval  Code = "INVALID_STATE_FOR_APPROVAL"
	CodeInvalidStateForRejection Code = "INVALID_STATE_FOR_REJECTION"
	CodeInvalidStateForClarify   Code = "INVALID_STATE_FOR_CLARIFICATION"
	CodePrescriptionExpired      Code = "PRESCRIPTION_EXPIRED"
	CodeCriticalSafetyIssues     Code = "CRITICAL_SAFETY_ISSUES"

	CodeLowConfidenceVerificationRequired Code = "LOW_CONFIDENCE_VERIFICATION_REQUIRED"
	CodeFieldCorrectionsRequired          Code = "FIELD_CORRECTIONS_REQUIRED"
	CodeIncompleteFieldVerification       Code = "INCOMPLETE_FIELD_VERIFICATION"
	CodeInvalidCorrection                 Code = "INVALID_CORRECTION"

	CodeReasonTooShort       Code = "REASON_TOO_SHORT"
	CodeQuestionTooShort     Code = "QUESTION_TOO_SHORT"
	CodeNoPrescribingDoctor  Code = "NO_PRESCRIBING_DOCTOR"
	CodeApproverRequired     Code = "APPROVER_REQUIRED"
	CodeNotApproved          Code = "NOT_APPROVED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is the engine's boundary error: a code, an HTTP-equivalent status and
// optional structured details a client can act on without re-querying.
type Error struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"-"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against sentinel constructors.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NotFoundError builds the 404-equivalent error.
func NotFoundError(id string) *Error {
	return &Error{
		Code:    CodePrescriptionNotFound,
		Message: fmt.Sprintf("prescription %s not found", id),
		Status:  http.StatusNotFound,
	}
}

// StateError builds a 400-equivalent business-rule violation.
func StateError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusBadRequest}
}

// StateErrorWithDetails builds a 400-equivalent violation carrying structured
// details.
func StateErrorWithDetails(code Code, message string, details interface{}) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusBadRequest, Details: details}
}

// InternalError wraps an unexpected failure with the generic 500 code. The
// original message rides along for diagnostics.
func InternalError(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, cause: cause}
}

// AsError extracts a boundary *Error if err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
