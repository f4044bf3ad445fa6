package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// RuntimeError represents a pass-level error detected by the engine.
//
// Runtime errors include:
//   - Lease lost: the claim was reaped or taken over mid-dispatch
//   - Store unavailable: the ledger could not be read or written
//   - Invalid transition: a write would break the prospect state machine
//   - Quota exhausted: the identity has no free slot in its window
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ProspectID identifies the affected prospect, if any.
	ProspectID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeLeaseLost indicates the caller no longer holds the claim.
	ErrCodeLeaseLost RuntimeErrorCode = "LEASE_LOST"

	// ErrCodeStoreUnavailable indicates a store read or write failed.
	ErrCodeStoreUnavailable RuntimeErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeInvalidTransition indicates an illegal state machine edge.
	ErrCodeInvalidTransition RuntimeErrorCode = "INVALID_TRANSITION"

	// ErrCodeQuotaExhausted indicates the identity's window is full.
	ErrCodeQuotaExhausted RuntimeErrorCode = "QUOTA_EXHAUSTED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ProspectID != "" {
		msg += fmt.Sprintf(" (prospect=%s)", e.ProspectID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func isRuntimeCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsLeaseLostError returns true if the claim was lost.
// Uses errors.As to handle wrapped errors; also matches store.ErrLeaseLost.
func IsLeaseLostError(err error) bool {
	return isRuntimeCode(err, ErrCodeLeaseLost) || errors.Is(err, store.ErrLeaseLost)
}

// IsStoreError returns true if the error is a store failure.
func IsStoreError(err error) bool {
	return isRuntimeCode(err, ErrCodeStoreUnavailable)
}

// IsTransitionError returns true if the error is an illegal state change.
// Matches both RuntimeError with ErrCodeInvalidTransition and
// model.TransitionError.
func IsTransitionError(err error) bool {
	if isRuntimeCode(err, ErrCodeInvalidTransition) {
		return true
	}
	var te *model.TransitionError
	return errors.As(err, &te)
}

// IsQuotaError returns true if the identity's quota is exhausted.
func IsQuotaError(err error) bool {
	return isRuntimeCode(err, ErrCodeQuotaExhausted) || errors.Is(err, store.ErrQuotaExhausted)
}

// NewStoreError wraps a store failure.
func NewStoreError(op string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStoreUnavailable,
		Message: op,
		Err:     err,
	}
}

// NewLeaseLostError reports a claim that is no longer held.
func NewLeaseLostError(prospectID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeLeaseLost,
		Message:    "claim lease no longer held",
		ProspectID: prospectID,
		Err:        err,
	}
}

// NewTransitionError reports an illegal state change.
func NewTransitionError(prospectID string, from, to model.Status) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("%s -> %s", from, to),
		ProspectID: prospectID,
		Err:        &model.TransitionError{From: from, To: to},
	}
}

// ErrorClass is the engine's classification of a per-prospect failure.
type ErrorClass string

const (
	// ClassValidation means required data is missing; the prospect goes
	// to enrichment.
	ClassValidation ErrorClass = "validation"

	// ClassQuota means the identity is out of quota; the prospect is
	// deferred, which is not an error.
	ClassQuota ErrorClass = "quota"

	// ClassRetryable means a transient failure; the step is retried with
	// exponential backoff up to the campaign's MaxRetries.
	ClassRetryable ErrorClass = "retryable"

	// ClassFatal means the step can never succeed; the prospect fails.
	ClassFatal ErrorClass = "fatal"
)

// DispatchError is a classified per-prospect failure.
type DispatchError struct {
	Class  ErrorClass
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Reason)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of a DispatchError, or "" for other errors.
func ClassOf(err error) ErrorClass {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Class
	}
	return ""
}
