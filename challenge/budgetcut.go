package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUDGET CUT - Spend less on dining than the recent baseline
// =============================================================================

// BudgetCut asks the user to keep matched spend under a reduced baseline.
//
// Seeding reads the matched spend over the LookBack period before
// admission. If that query fails or finds nothing, FallbackBaseline is
// used instead and Join still succeeds.
//
//	target  = round(baseline * CutRatio)
//	current = matched spend in [start, end]
//
// Lower is better: success iff current <= target (inclusive).
type BudgetCut struct {
	Pattern          CategoryPattern
	Duration         time.Duration
	LookBack         time.Duration
	FallbackBaseline decimal.Decimal
	CutRatio         decimal.Decimal

	// OnFallback is called when FallbackBaseline replaces the ledger value.
	// err is nil when the ledger answered with no matching spend.
	OnFallback func(userID string, err error)
}

// NewBudgetCut returns the standard 30-day dining BudgetCut strategy.
func NewBudgetCut() *BudgetCut {
	return &BudgetCut{
		Pattern:          DiningPattern,
		Duration:         30 * Day,
		LookBack:         30 * Day,
		FallbackBaseline: decimal.NewFromInt(5000),
		CutRatio:         decimal.RequireFromString("0.8"),
	}
}

func (s *BudgetCut) Type() Type { return TypeBudgetCut }

func (s *BudgetCut) Template() Template {
	cut := decimal.NewFromInt(1).Sub(s.CutRatio).Shift(2)
	return Template{
		Title:       "Dining Budget Cut",
		Description: fmt.Sprintf("Spend %s%% less on food and dining than over the previous %d days.", cut, int(s.LookBack/Day)),
		Duration:    s.Duration,
	}
}

func (s *BudgetCut) Seed(ctx context.Context, ledger Ledger, userID string, now time.Time) (Seed, error) {
	// The look-back stops the day before admission. Spend dated on the
	// join day belongs to the challenge window only.
	baseline, err := ledger.SumExpenses(ctx, userID, s.Pattern, now.Add(-s.LookBack), now.Add(-Day))
	fallback := err != nil || !baseline.IsPositive()
	if fallback {
		if s.OnFallback != nil {
			s.OnFallback(userID, err)
		}
		baseline = s.FallbackBaseline
	}

	return Seed{
		TargetValue: baseline.Mul(s.CutRatio).Round(0),
		Metadata:    BudgetCutMeta{Baseline: baseline, FallbackUsed: fallback},
	}, nil
}

func (s *BudgetCut) Evaluate(ctx context.Context, ledger Ledger, c Challenge, _ time.Time) (decimal.Decimal, error) {
	spent, err := ledger.SumExpenses(ctx, c.UserID, s.Pattern, c.StartDate, c.EndDate)
	if err != nil {
		return decimal.Zero, &LedgerUnavailableError{Op: "SumExpenses", Err: err}
	}
	return spent, nil
}

// IsSuccessful: stayed at or under the cut budget.
func (s *BudgetCut) IsSuccessful(c Challenge) bool {
	return c.CurrentValue.LessThanOrEqual(c.TargetValue)
}
