/*
Package advancement computes echelon advancement eligibility for university staff.

PURPOSE:
  Every active employee sits on an echelon (pay step 1..12) inside a grade.
  After a number of months in the echelon, determined by the most recent
  evaluation score, the employee becomes eligible to move to the next one.
  This package turns employee snapshots into advancement records and drives
  the operator workflow (promotion, suspension) on top of them.

KEY CONCEPTS IN THIS FILE (types.go):
  - EmployeeSnapshot: Input owned by the caller, never mutated
  - Record: One advancement record per employee per detection run
  - Seniority: Elapsed time in the current echelon (30-day months)
  - Status: pending | eligible | processed | suspended | blocked
  - StatusChange: Audit entry for every operator transition

PIPELINE:
  EmployeeSnapshot
       │
       ├──▶ ClassifyDuration   (score → 30/36/42 months)
       ├──▶ ComputeSeniority   (appointment → months/days/totalDays)
       ├──▶ ProjectEligibility (appointment + N calendar months)
       └──▶ ResolveStatus      (first matching rule wins)
                 │
                 ▼
             Record ──▶ Engine.Detect ──▶ RecordStore.ReplaceBatch

SEE ALSO:
  - duration.go: Duration tiers
  - seniority.go: Seniority and eligibility date arithmetic
  - status.go: Status resolution and the transition table
  - engine.go: Batch detection and operator transitions
*/
package advancement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEE SNAPSHOT - Input to the engine
// =============================================================================

type EmploymentType string

const (
	EmploymentTeaching       EmploymentType = "teaching"
	EmploymentAdministrative EmploymentType = "administrative"
)

type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "active"
	ActivityInactive  ActivityStatus = "inactive"
	ActivitySuspended ActivityStatus = "suspended"
)

// Echelon bounds.
const (
	MinEchelon = 1
	MaxEchelon = 12
)

// EmployeeSnapshot is the engine's view of an employee at calculation time.
type EmployeeSnapshot struct {
	ID              string
	Name            string
	EmploymentType  EmploymentType
	Grade           string
	CurrentEchelon  int
	AppointmentDate time.Time // entry into the current echelon
	EvaluationScore decimal.Decimal
	EvaluationYear  int // 0 = year of the calculation
	ActivityStatus  ActivityStatus
}

// IsActive reports whether the employee takes part in detection runs.
func (e EmployeeSnapshot) IsActive() bool {
	return e.ActivityStatus == ActivityActive
}

// =============================================================================
// ADVANCEMENT RECORD
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusEligible  Status = "eligible"
	StatusProcessed Status = "processed"
	StatusSuspended Status = "suspended"
	StatusBlocked   Status = "blocked"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusEligible, StatusProcessed, StatusSuspended, StatusBlocked}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

type DecisionType string

const (
	DecisionAutomatic   DecisionType = "automatic"
	DecisionManual      DecisionType = "manual"
	DecisionExceptional DecisionType = "exceptional"
)

func (d DecisionType) Valid() bool {
	switch d {
	case DecisionAutomatic, DecisionManual, DecisionExceptional:
		return true
	}
	return false
}

// Seniority is the time spent in the current echelon.
// Months and Days use a 30-day month; TotalDays is exact.
type Seniority struct {
	Months    int
	Days      int
	TotalDays int
}

// Evaluation is the snapshot of the evaluation that drove the calculation.
// RequiredDuration is zero when the score was insufficient.
type Evaluation struct {
	Score            decimal.Decimal
	Year             int
	RequiredDuration DurationTier
}

// Record is the result of one calculation for one employee.
type Record struct {
	ID           string
	EmployeeID   string
	EmployeeName string

	CurrentEchelon int
	TargetEchelon  int

	AppointmentDate time.Time
	EligibilityDate time.Time // zero when the score is insufficient
	Seniority       Seniority
	Evaluation      Evaluation

	Status           Status
	SuspensionReason string
	ProcessedAt      *time.Time
	ProcessedBy      string
	DecisionType     DecisionType

	ComputedAt time.Time
}

// IsFinal reports whether the record accepts no further operator transition.
func (r Record) IsFinal() bool {
	return r.Status == StatusProcessed || r.Status == StatusBlocked
}

// =============================================================================
// AUDIT
// =============================================================================

// StatusChange records an explicit status transition on a record.
type StatusChange struct {
	ID         string
	RecordID   string
	EmployeeID string
	From       Status
	To         Status
	Reason     string
	Actor      string
	At         time.Time
}
