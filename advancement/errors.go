/*
errors.go - Error types for the advancement engine

ERROR CATEGORIES:
  1. Classification - score below the advancement threshold
  2. Computation - invalid employee snapshot, employee skipped in a batch
  3. Workflow - invalid or incomplete operator transition
  4. Store - persistence failures, fatal for a whole batch

USAGE:
  if errors.Is(err, advancement.ErrInsufficientScore) { ... }

  var terr *advancement.TransitionError
  if errors.As(err, &terr) { ... terr.From, terr.To ... }
*/
package advancement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientScore is returned by ClassifyDuration when the score is
	// below the minimum advancement score.
	ErrInsufficientScore = errors.New("insufficient evaluation score")

	// ErrInvalidEmployee is returned when a snapshot cannot be evaluated.
	ErrInvalidEmployee = errors.New("invalid employee snapshot")

	// ErrRecordNotFound is returned when a record id is unknown.
	ErrRecordNotFound = errors.New("advancement record not found")

	// ErrEmployeeNotFound is returned when an employee id is unknown.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrInvalidTransition is returned when the state machine forbids a move.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrActorRequired is returned when an operator action has no actor.
	ErrActorRequired = errors.New("actor is required")

	// ErrReasonRequired is returned when a suspension has no reason.
	ErrReasonRequired = errors.New("suspension reason is required")

	// ErrInvalidDecision is returned for an unknown decision type.
	ErrInvalidDecision = errors.New("invalid decision type")

	// ErrPersistence wraps store failures during a detection run.
	ErrPersistence = errors.New("advancement store failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientScoreError carries the rejected score.
type InsufficientScoreError struct {
	Score   decimal.Decimal
	Minimum decimal.Decimal
}

func (e *InsufficientScoreError) Error() string {
	return fmt.Sprintf("insufficient evaluation score: %s (minimum %s)", e.Score, e.Minimum)
}

func (e *InsufficientScoreError) Unwrap() error {
	return ErrInsufficientScore
}

// ComputationError describes why one employee was skipped.
type ComputationError struct {
	EmployeeID string
	Reason     string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("employee %q: %s", e.EmployeeID, e.Reason)
}

func (e *ComputationError) Unwrap() error {
	return ErrInvalidEmployee
}

// TransitionError describes a rejected status transition.
type TransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: cannot move from %s to %s", e.RecordID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEmployee) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrInvalidDecision)
}

// IsConflict returns true if the request is valid but the record state forbids it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
