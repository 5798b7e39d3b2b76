package advancement

import (
	"math"
	"time"
)

// =============================================================================
// DATE ARITHMETIC
// =============================================================================
// Seniority uses a 30-day month while eligibility dates use calendar months.
// Both conventions are relied upon by existing records; keep them apart.

const daysPerMonth = 30

// Date returns midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole 24h days from from to to, floored.
func DaysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}

// ComputeSeniority returns the time elapsed since the appointment date.
func ComputeSeniority(appointment, now time.Time) Seniority {
	total := DaysBetween(appointment, now)
	return Seniority{
		Months:    total / daysPerMonth,
		Days:      total % daysPerMonth,
		TotalDays: total,
	}
}

// ProjectEligibility adds the required number of calendar months to the
// appointment date. Day-of-month overflow rolls into the following month.
func ProjectEligibility(appointment time.Time, months int) time.Time {
	return appointment.AddDate(0, months, 0)
}
