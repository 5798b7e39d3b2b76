package advancement

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DURATION TIERS - Months required in an echelon before advancement
// =============================================================================

// DurationTier is a required advancement duration in months.
type DurationTier int

const (
	DurationFast   DurationTier = 30
	DurationNormal DurationTier = 36
	DurationSlow   DurationTier = 42
)

func (d DurationTier) Months() int { return int(d) }

// Days is the tier length under the 30-day month convention used for seniority.
func (d DurationTier) Days() int { return int(d) * daysPerMonth }

func (d DurationTier) Label() string {
	switch d {
	case DurationFast:
		return "Fast"
	case DurationNormal:
		return "Normal"
	case DurationSlow:
		return "Slow"
	}
	return ""
}

// Score thresholds, 0-20 scale.
var (
	ScoreFast    = decimal.NewFromInt(18)
	ScoreNormal  = decimal.NewFromInt(14)
	MinimumScore = decimal.NewFromInt(12)
	MaximumScore = decimal.NewFromInt(20)
)

// ClassifyDuration maps an evaluation score to its duration tier.
// Tiers are checked from the highest threshold down; scores below
// MinimumScore are rejected with *InsufficientScoreError.
func ClassifyDuration(score decimal.Decimal) (DurationTier, error) {
	switch {
	case score.GreaterThanOrEqual(ScoreFast):
		return DurationFast, nil
	case score.GreaterThanOrEqual(ScoreNormal):
		return DurationNormal, nil
	case score.GreaterThanOrEqual(MinimumScore):
		return DurationSlow, nil
	}
	return 0, &InsufficientScoreError{Score: score, Minimum: MinimumScore}
}
