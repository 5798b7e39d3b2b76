/*
status.go - Status resolution and the record state machine

RESOLUTION ORDER (first match wins):
  1. score < 12                         → suspended
  2. echelon >= 12                      → blocked
  3. totalDays >= required*30           → eligible
  4. totalDays >= 90% of required*30    → pending (approaching)
  5. otherwise                          → pending

  Rules 4 and 5 yield the same status today. Rule 4 is where an
  "approaching eligibility" status will go; keep both branches.

STATE MACHINE:
  pending   ──▶ eligible   (time passes, next detection run)
  eligible  ──▶ processed  (operator: Engine.Process)
  pending   ──▶ suspended  (operator: Engine.Suspend)
  eligible  ──▶ suspended  (operator: Engine.Suspend)
  any       ──▶ blocked    (echelon ceiling, detection run)
  processed, blocked: final for this engine
*/
package advancement

import (
	"github.com/shopspring/decimal"
)

// approachingPercent is the share of the required days after which an
// employee is considered close to eligibility.
const approachingPercent = 90

// ResolveStatus derives the lifecycle status of a freshly computed record.
func ResolveStatus(seniority Seniority, requiredMonths int, currentEchelon int, score decimal.Decimal) Status {
	requiredDays := requiredMonths * daysPerMonth

	switch {
	case score.LessThan(MinimumScore):
		return StatusSuspended
	case currentEchelon >= MaxEchelon:
		return StatusBlocked
	case seniority.TotalDays >= requiredDays:
		return StatusEligible
	case seniority.TotalDays*100 >= requiredDays*approachingPercent:
		return StatusPending
	default:
		return StatusPending
	}
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusEligible, StatusSuspended, StatusBlocked},
	StatusEligible:  {StatusProcessed, StatusSuspended, StatusBlocked},
	StatusSuspended: {StatusBlocked},
	StatusProcessed: nil,
	StatusBlocked:   nil,
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
