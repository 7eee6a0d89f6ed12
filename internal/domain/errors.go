// Package domain defines core types, interfaces, and errors for the
// remediation audit and rollback subsystem.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Stable error codes reported by the HTTP API and CLI JSON output.
const (
	CodeNotFound                   = "NOT_FOUND"
	CodeValidation                 = "VALIDATION"
	CodeConflict                   = "CONFLICT"
	CodePlannerUnavailable         = "PLANNER_UNAVAILABLE"
	CodePlanGenerationFailed       = "PLAN_GENERATION_FAILED"
	CodeRollbackWindowExpired      = "ROLLBACK_WINDOW_EXPIRED"
	CodeInvalidTransition          = "INVALID_TRANSITION"
	CodeExecutorFailure            = "EXECUTOR_FAILURE"
	CodeRiskAcknowledgementMissing = "RISK_ACKNOWLEDGEMENT_REQUIRED"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// Code returns the stable error code.
func (e *NotFoundError) Code() string { return CodeNotFound }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Code returns the stable error code.
func (e *ValidationError) Code() string { return CodeValidation }

// ConflictError indicates a conflict (e.g., duplicate resource or an
// operation already in progress).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Code returns the stable error code.
func (e *ConflictError) Code() string { return CodeConflict }

// PlannerUnavailableError means the planner could not be reached.
type PlannerUnavailableError struct {
	Message string
	Cause   error
}

func (e *PlannerUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("planner unavailable: %s: %v", e.Message, e.Cause)
	}
	return "planner unavailable: " + e.Message
}

func (e *PlannerUnavailableError) Unwrap() error { return e.Cause }

// Code returns the stable error code.
func (e *PlannerUnavailableError) Code() string { return CodePlannerUnavailable }

// PlanGenerationFailedError means the planner answered but could not build a plan.
type PlanGenerationFailedError struct {
	AuditID string
	Reason  string
}

func (e *PlanGenerationFailedError) Error() string {
	return fmt.Sprintf("rollback plan generation failed for %s: %s", e.AuditID, e.Reason)
}

// Code returns the stable error code.
func (e *PlanGenerationFailedError) Code() string { return CodePlanGenerationFailed }

// RollbackWindowExpiredError means the entry is too old to roll back.
type RollbackWindowExpiredError struct {
	AuditID   string
	AppliedAt time.Time
	ClosedAt  time.Time
}

func (e *RollbackWindowExpiredError) Error() string {
	return fmt.Sprintf("rollback window for %s closed at %s (applied %s)",
		e.AuditID, e.ClosedAt.UTC().Format(time.RFC3339), e.AppliedAt.UTC().Format(time.RFC3339))
}

// Code returns the stable error code.
func (e *RollbackWindowExpiredError) Code() string { return CodeRollbackWindowExpired }

// InvalidTransitionError means the status state machine forbids the change.
type InvalidTransitionError struct {
	AuditID string
	From    ExecutionStatus
	To      ExecutionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("audit entry %s cannot move from %s to %s", e.AuditID, e.From, e.To)
}

// Code returns the stable error code.
func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

// ExecutorFailureError means the executor was reached but the reversal failed.
// The audit entry keeps its previous status.
type ExecutorFailureError struct {
	AuditID string
	Detail  string
	Cause   error
}

func (e *ExecutorFailureError) Error() string {
	msg := fmt.Sprintf("rollback of %s failed: %s", e.AuditID, e.Detail)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExecutorFailureError) Unwrap() error { return e.Cause }

// Code returns the stable error code.
func (e *ExecutorFailureError) Code() string { return CodeExecutorFailure }

// RiskAcknowledgementRequiredError blocks a HIGH-risk rollback that was
// confirmed without the explicit high-risk acknowledgement.
type RiskAcknowledgementRequiredError struct {
	AuditID string
	Risk    RiskLevel
}

func (e *RiskAcknowledgementRequiredError) Error() string {
	return fmt.Sprintf("rollback of %s is %s risk and requires explicit acknowledgement", e.AuditID, e.Risk)
}

// Code returns the stable error code.
func (e *RiskAcknowledgementRequiredError) Code() string { return CodeRiskAcknowledgementMissing }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidTransition creates an InvalidTransitionError.
func ErrInvalidTransition(auditID string, from, to ExecutionStatus) *InvalidTransitionError {
	return &InvalidTransitionError{AuditID: auditID, From: from, To: to}
}

// ErrorCode returns the stable code of err, or "INTERNAL" for untyped errors.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "INTERNAL"
}

// IsRetryable reports whether the operator may simply retry the operation.
// Planner errors are transient; everything else needs a different input.
func IsRetryable(err error) bool {
	var unavailable *PlannerUnavailableError
	var failed *PlanGenerationFailedError
	return errors.As(err, &unavailable) || errors.As(err, &failed)
}
