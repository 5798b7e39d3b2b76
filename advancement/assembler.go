package advancement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Assemble computes the advancement record of one employee at now.
//
// An insufficient evaluation score is not an error: the record is returned
// as suspended with a suspension reason, so callers always get one record
// per valid employee. Invalid snapshots return a *ComputationError.
func Assemble(emp EmployeeSnapshot, now time.Time) (Record, error) {
	if err := validateSnapshot(emp, now); err != nil {
		return Record{}, err
	}

	year := emp.EvaluationYear
	if year == 0 {
		year = now.Year()
	}

	rec := Record{
		ID:              uuid.NewString(),
		EmployeeID:      emp.ID,
		EmployeeName:    emp.Name,
		CurrentEchelon:  emp.CurrentEchelon,
		TargetEchelon:   emp.CurrentEchelon + 1,
		AppointmentDate: emp.AppointmentDate,
		Seniority:       ComputeSeniority(emp.AppointmentDate, now),
		Evaluation: Evaluation{
			Score: emp.EvaluationScore,
			Year:  year,
		},
		ComputedAt: now,
	}

	tier, err := ClassifyDuration(emp.EvaluationScore)
	if err != nil {
		var scoreErr *InsufficientScoreError
		if !errors.As(err, &scoreErr) {
			return Record{}, err
		}
		rec.Status = StatusSuspended
		rec.SuspensionReason = fmt.Sprintf("evaluation score %s is below the minimum of %s",
			scoreErr.Score.String(), scoreErr.Minimum.String())
		return rec, nil
	}

	rec.Evaluation.RequiredDuration = tier
	rec.EligibilityDate = ProjectEligibility(emp.AppointmentDate, tier.Months())
	rec.Status = ResolveStatus(rec.Seniority, tier.Months(), emp.CurrentEchelon, emp.EvaluationScore)
	return rec, nil
}

func validateSnapshot(emp EmployeeSnapshot, now time.Time) error {
	fail := func(format string, args ...any) error {
		return &ComputationError{EmployeeID: emp.ID, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case emp.ID == "":
		return fail("missing employee id")
	case emp.CurrentEchelon < MinEchelon || emp.CurrentEchelon > MaxEchelon:
		return fail("echelon %d outside [%d, %d]", emp.CurrentEchelon, MinEchelon, MaxEchelon)
	case emp.AppointmentDate.IsZero():
		return fail("missing appointment date")
	case emp.AppointmentDate.After(now):
		return fail("appointment date %s is after %s",
			emp.AppointmentDate.Format(time.DateOnly), now.Format(time.DateOnly))
	case emp.EvaluationScore.IsNegative() || emp.EvaluationScore.GreaterThan(MaximumScore):
		return fail("evaluation score %s outside [0, %s]", emp.EvaluationScore, MaximumScore)
	}
	return nil
}

// ScoreFromFloat converts a float evaluation score to a decimal.
func ScoreFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
